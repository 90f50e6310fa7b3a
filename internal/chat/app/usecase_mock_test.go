package app

import (
	"context"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"

	"github.com/stretchr/testify/mock"
)

// MockConversationRepository Mock ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

// ListConversationIDsForUser mock list membership conversation ids
func (m *MockConversationRepository) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindConversations mock find conversation rows
func (m *MockConversationRepository) FindConversations(ctx context.Context, ids []string) ([]domain.Conversation, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindConversation mock find one conversation
func (m *MockConversationRepository) FindConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// CreateConversation mock create conversation row
func (m *MockConversationRepository) CreateConversation(ctx context.Context, isGroup bool) (*domain.Conversation, error) {
	args := m.Called(ctx, isGroup)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// InsertMemberships mock batch insert memberships
func (m *MockConversationRepository) InsertMemberships(ctx context.Context, conversationID string, userIDs []string) error {
	args := m.Called(ctx, conversationID, userIDs)
	return args.Error(0)
}

// ListMemberIDs mock list members
func (m *MockConversationRepository) ListMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// TouchConversation mock bump updated_at
func (m *MockConversationRepository) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	args := m.Called(ctx, conversationID, at)
	return args.Error(0)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// ListMessages mock list history
func (m *MockMessageRepository) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// InsertMessage mock insert msg
func (m *MockMessageRepository) InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// LatestMessage mock latest msg
func (m *MockMessageRepository) LatestMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// CountUnread mock count unread
func (m *MockMessageRepository) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

// MarkConversationRead mock mark all read
func (m *MockMessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error) {
	args := m.Called(ctx, conversationID, readerID)
	return args.Int(0), args.Error(1)
}

// MarkMessageRead mock mark one read
func (m *MockMessageRepository) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	args := m.Called(ctx, conversationID, messageID)
	return args.Error(0)
}

// MockProfileRepository Mock ProfileRepository
type MockProfileRepository struct {
	mock.Mock
}

// FindProfilesByIDs mock batched profile lookup
func (m *MockProfileRepository) FindProfilesByIDs(ctx context.Context, ids []string) ([]domain.Profile, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

// ListProfiles mock profile pool source
func (m *MockProfileRepository) ListProfiles(ctx context.Context, limit int) ([]domain.Profile, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Profile), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRealtimeTransport Mock RealtimeTransport, OpenChannel returns a fakeChannel
// unless the expectation returns an error
type MockRealtimeTransport struct {
	mock.Mock

	mu     sync.Mutex
	opened []*fakeChannel
}

// OpenChannel mock open channel
func (m *MockRealtimeTransport) OpenChannel(ctx context.Context, name string) (repository.ChannelSubscription, error) {
	args := m.Called(ctx, name)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	c := &fakeChannel{name: name}
	m.mu.Lock()
	m.opened = append(m.opened, c)
	m.mu.Unlock()
	return c, nil
}

// CloseChannel mock close channel
func (m *MockRealtimeTransport) CloseChannel(sub repository.ChannelSubscription) error {
	args := m.Called(sub.Name())
	return args.Error(0)
}

// Emit deliver ev to every channel opened with name
func (m *MockRealtimeTransport) Emit(name string, ev domain.RealtimeEvent) {
	m.mu.Lock()
	var targets []*fakeChannel
	for _, c := range m.opened {
		if c.name == name {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()
	for _, c := range targets {
		c.emit(ev)
	}
}

type fakeListener struct {
	eventType domain.EventType
	filter    domain.EventFilter
	cb        func(domain.RealtimeEvent)
}

type fakeChannel struct {
	name      string
	mu        sync.Mutex
	listeners []fakeListener
}

func (c *fakeChannel) Name() string {
	return c.name
}

func (c *fakeChannel) On(eventType domain.EventType, filter domain.EventFilter, cb func(domain.RealtimeEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fakeListener{eventType: eventType, filter: filter, cb: cb})
}

func (c *fakeChannel) emit(ev domain.RealtimeEvent) {
	c.mu.Lock()
	listeners := append([]fakeListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range listeners {
		if l.eventType == ev.Type && l.filter.Match(ev) {
			l.cb(ev)
		}
	}
}

// fakeRefresher counts refreshes instead of hitting repositories
type fakeRefresher struct {
	mu       sync.Mutex
	triggers []string
	err      error
}

func (f *fakeRefresher) Refresh(_ context.Context, trigger string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return f.err
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}
