package domain

// ChannelKind logical topic of a realtime channel
type ChannelKind int

const (
	// PerConversation events of a single conversation
	PerConversation ChannelKind = iota + 1
	// GlobalUpdates conversation and message changes across all conversations
	GlobalUpdates
)

const (
	conversationChannelPrefix = "conv-"
	// GlobalChannelName name of the always-on update channel
	GlobalChannelName = "chat-updates"
)

// ChannelKey identifies a logical channel. Comparable, used as registry key.
type ChannelKey struct {
	Kind           ChannelKind
	ConversationID string
}

// ConversationChannel key of the per conversation channel
func ConversationChannel(conversationID string) ChannelKey {
	return ChannelKey{Kind: PerConversation, ConversationID: conversationID}
}

// GlobalUpdatesChannel key of the global update channel
func GlobalUpdatesChannel() ChannelKey {
	return ChannelKey{Kind: GlobalUpdates}
}

// Name transport channel name
func (k ChannelKey) Name() string {
	switch k.Kind {
	case PerConversation:
		return conversationChannelPrefix + k.ConversationID
	case GlobalUpdates:
		return GlobalChannelName
	}
	return ""
}

// Valid report whether the key can be opened
func (k ChannelKey) Valid() bool {
	switch k.Kind {
	case PerConversation:
		return k.ConversationID != ""
	case GlobalUpdates:
		return k.ConversationID == ""
	}
	return false
}

func (k ChannelKey) String() string {
	return k.Name()
}

// EventType realtime row change type
type EventType string

const (
	// MessageInserted new message row
	MessageInserted EventType = "message_inserted"
	// MessageUpdated message row changed (read flag)
	MessageUpdated EventType = "message_updated"
	// ConversationInserted new conversation row
	ConversationInserted EventType = "conversation_inserted"
	// ConversationUpdated conversation row changed (updated_at bump)
	ConversationUpdated EventType = "conversation_updated"
)

// RealtimeEvent JSON-shaped row change delivered on a channel
type RealtimeEvent struct {
	Type           EventType     `json:"type"`
	ConversationID string        `json:"conversation_id"`
	Message        *Message      `json:"message,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
}

// EventFilter restricts a callback to one conversation, empty matches all
type EventFilter struct {
	ConversationID string
}

// Match check event passes the filter
func (f EventFilter) Match(ev RealtimeEvent) bool {
	return f.ConversationID == "" || f.ConversationID == ev.ConversationID
}

// EventHandlers callbacks attached to a channel, one per event type
type EventHandlers map[EventType]func(RealtimeEvent)
