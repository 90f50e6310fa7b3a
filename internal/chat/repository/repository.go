package repository

import (
	"context"
	"errors"
	"time"

	"chat_sync_service/internal/chat/domain"
)

// ErrNotFound row does not exist
var ErrNotFound = errors.New("not found")

// ConversationRepository definition conversation and membership rows
type ConversationRepository interface {
	// ListConversationIDsForUser conversation ids the user is a member of
	ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	// FindConversations rows for ids, ordered by updated_at desc
	FindConversations(ctx context.Context, ids []string) ([]domain.Conversation, error)
	FindConversation(ctx context.Context, id string) (*domain.Conversation, error)
	// CreateConversation insert a row, id and timestamps are server assigned
	CreateConversation(ctx context.Context, isGroup bool) (*domain.Conversation, error)
	// InsertMemberships insert all membership rows in one batch
	InsertMemberships(ctx context.Context, conversationID string, userIDs []string) error
	ListMemberIDs(ctx context.Context, conversationID string) ([]string, error)
	// TouchConversation bump updated_at, never moves it backwards
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
}

// MessageRepository definition message rows
type MessageRepository interface {
	// ListMessages all messages of a conversation ordered by created_at asc
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	// InsertMessage insert and return the server message (final id, canonical created_at)
	InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error)
	// LatestMessage most recent message, nil when the conversation is empty
	LatestMessage(ctx context.Context, conversationID string) (*domain.Message, error)
	// CountUnread messages not sent by userID and not read
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	// MarkConversationRead flip read for every unread message not sent by readerID
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error)
	MarkMessageRead(ctx context.Context, conversationID, messageID string) error
}

// ProfileRepository definition user profile rows
type ProfileRepository interface {
	// FindProfilesByIDs batched lookup, one round trip for all ids
	FindProfilesByIDs(ctx context.Context, ids []string) ([]domain.Profile, error)
	// ListProfiles up to limit profiles, source of simulated participants
	ListProfiles(ctx context.Context, limit int) ([]domain.Profile, error)
}

// Publisher publish a row change on a channel
type Publisher interface {
	Publish(ctx context.Context, channel string, ev domain.RealtimeEvent) error
}

// RealtimeTransport pub/sub channels keyed by name
type RealtimeTransport interface {
	OpenChannel(ctx context.Context, name string) (ChannelSubscription, error)
	CloseChannel(sub ChannelSubscription) error
}

// ChannelSubscription a live channel; callbacks run on the transport goroutine
type ChannelSubscription interface {
	Name() string
	On(eventType domain.EventType, filter domain.EventFilter, cb func(domain.RealtimeEvent))
}

// ProfilePoolCache cached pool of profiles bots are drawn from
type ProfilePoolCache interface {
	Get(ctx context.Context) ([]domain.Profile, bool)
	Set(ctx context.Context, profiles []domain.Profile, ttl time.Duration) error
}
