package domain

import (
	"time"

	"chat_sync_service/pkg"
)

// Profile user profile row, also the source of simulated participants
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

// Conversation a thread of messages among a fixed participant set
type Conversation struct {
	ID             string    `json:"id"`
	IsGroup        bool      `json:"is_group"`
	ParticipantIDs []string  `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// derived on read, never persisted
	LatestMessage *Message `json:"latest_message,omitempty"`
	UnreadCount   int      `json:"unread_count"`
	DisplayName   string   `json:"display_name"`
	DisplayAvatar string   `json:"display_avatar,omitempty"`
}

// Membership conversation membership row
type Membership struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	JoinedAt       time.Time `json:"joined_at"`
}

// LocalUser read-only context supplied by auth
type LocalUser struct {
	ID          string
	DisplayName string
	Avatar      string
}

// OtherParticipants participant ids excluding userID
func (c *Conversation) OtherParticipants(userID string) []string {
	others := make([]string, 0, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// HasParticipant check userID belongs to conversation
func (c *Conversation) HasParticipant(userID string) bool {
	return pkg.Contains(c.ParticipantIDs, userID)
}
