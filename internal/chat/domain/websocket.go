package domain

// Action websocket request action
type Action string

const (
	// ListConversations websocket action list_conversations
	ListConversations Action = "list_conversations"
	// OpenConversation websocket action open_conversation (subscribe + history)
	OpenConversation Action = "open_conversation"
	// CloseConversation websocket action close_conversation (unsubscribe)
	CloseConversation Action = "close_conversation"
	// CreateConversation websocket action create_conversation
	CreateConversation Action = "create_conversation"
	// StartDirect websocket action start_direct
	StartDirect Action = "start_direct"

	// SendMessage websocket action send_message
	SendMessage Action = "send_message"
	// ResendMessage websocket action resend_message
	ResendMessage Action = "resend_message"
	// ReadMessage websocket action mark_read
	ReadMessage Action = "mark_read"

	// EnterRoom websocket action enter_room
	EnterRoom Action = "enter_room"
	// LeaveRoom websocket action leave_room
	LeaveRoom Action = "leave_room"

	// NotifyConversations server push, conversation list changed
	NotifyConversations Action = "conversations_updated"
	// NotifyMessages server push, messages of one conversation changed
	NotifyMessages Action = "messages_updated"
)

// WSRequest websocket Request
type WSRequest struct {
	Action         string   `json:"action"`
	ConversationID string   `json:"conversation_id"`
	RoomID         string   `json:"room_id"`
	TopicID        string   `json:"topic_id"`
	Members        []string `json:"members"`
	IsGroup        bool     `json:"is_group"`
	PeerID         string   `json:"peer_id"`
	Content        string   `json:"content"`
	MessageID      string   `json:"message_id"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action  string                 `json:"action"`
	Success bool                   `json:"success"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}
