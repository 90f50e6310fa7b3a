package domain

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// MessageID is either a client generated temporary id or a server assigned id.
// The zero value is invalid.
type MessageID struct {
	temp      uint64
	persisted string
}

// TemporaryID create a local optimistic id, n must be > 0
func TemporaryID(n uint64) MessageID {
	return MessageID{temp: n}
}

// PersistedID create a server assigned id
func PersistedID(id string) MessageID {
	return MessageID{persisted: id}
}

// IsTemporary report whether the id was generated locally
func (id MessageID) IsTemporary() bool {
	return id.temp != 0
}

// IsPersisted report whether the id was assigned by the server
func (id MessageID) IsPersisted() bool {
	return id.temp == 0 && id.persisted != ""
}

// IsZero report whether the id is unset
func (id MessageID) IsZero() bool {
	return id.temp == 0 && id.persisted == ""
}

// Temporary returns the local sequence, ok is false for persisted ids
func (id MessageID) Temporary() (uint64, bool) {
	return id.temp, id.temp != 0
}

// Persisted returns the server id, ok is false for temporary ids
func (id MessageID) Persisted() (string, bool) {
	return id.persisted, id.IsPersisted()
}

func (id MessageID) String() string {
	if id.temp != 0 {
		return "temp-" + strconv.FormatUint(id.temp, 10)
	}
	return id.persisted
}

// ParseTemporaryID parse the display form temp-<n> sent back by the UI
func ParseTemporaryID(s string) (MessageID, bool) {
	const prefix = "temp-"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return MessageID{}, false
	}
	n, err := strconv.ParseUint(s[len(prefix):], 10, 64)
	if err != nil || n == 0 {
		return MessageID{}, false
	}
	return TemporaryID(n), true
}

// MarshalJSON render temporary ids as temp-<n> for display only
func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON ids coming over the wire are always server ids
func (id *MessageID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return errors.New("empty message id")
	}
	*id = PersistedID(s)
	return nil
}

// MessageStatus local delivery state, never persisted
type MessageStatus string

const (
	// MessageSent confirmed by the server or received from the channel
	MessageSent MessageStatus = "sent"
	// MessagePending optimistic, waiting for the server
	MessagePending MessageStatus = "pending"
	// MessageFailed optimistic, the server rejected it
	MessageFailed MessageStatus = "failed"
)

// Message 表示一則聊天訊息
type Message struct {
	ID             MessageID     `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	Read           bool          `json:"read"`
	Status         MessageStatus `json:"status,omitempty"`

	// Sender is resolved through the batched profile lookup, nil if unknown
	Sender *Profile `json:"sender,omitempty"`
}

// NewMessage is the payload submitted to the data access layer
type NewMessage struct {
	ConversationID string
	SenderID       string
	Content        string
}
