package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetNewNop()
}

type published struct {
	channel string
	ev      domain.RealtimeEvent
}

// recordingPublisher keeps every event, fails when err is set
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, ev domain.RealtimeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{channel: channel, ev: ev})
	return nil
}

func (p *recordingPublisher) take() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.events
	p.events = nil
	return out
}

func TestNotifyingConversationRepository_PublishesOnGlobalChannel(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	repo := NewNotifyingConversationRepository(NewMemoryStore(), pub)

	c, err := repo.CreateConversation(ctx, true)
	require.NoError(t, err)
	events := pub.take()
	require.Len(t, events, 1)
	assert.Equal(t, domain.GlobalChannelName, events[0].channel)
	assert.Equal(t, domain.ConversationInserted, events[0].ev.Type)
	assert.Equal(t, c.ID, events[0].ev.ConversationID)
	require.NotNil(t, events[0].ev.Conversation)
	assert.True(t, events[0].ev.Conversation.IsGroup)

	require.NoError(t, repo.InsertMemberships(ctx, c.ID, []string{"u1", "u2"}))
	require.NoError(t, repo.TouchConversation(ctx, c.ID, c.UpdatedAt))
	events = pub.take()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, domain.GlobalChannelName, e.channel)
		assert.Equal(t, domain.ConversationUpdated, e.ev.Type)
		assert.Equal(t, c.ID, e.ev.ConversationID)
	}

	// failed writes publish nothing
	assert.Error(t, repo.InsertMemberships(ctx, "missing", []string{"u1"}))
	assert.Error(t, repo.TouchConversation(ctx, "missing", c.UpdatedAt))
	assert.Empty(t, pub.take())

	// reads pass through
	ids, err := repo.ListMemberIDs(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)
}

func TestNotifyingMessageRepository_PublishesRowChanges(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryStore()
	c, err := db.CreateConversation(ctx, false)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	repo := NewNotifyingMessageRepository(db, pub)

	m, err := repo.InsertMessage(ctx, domain.NewMessage{ConversationID: c.ID, SenderID: "u2", Content: "hi"})
	require.NoError(t, err)
	events := pub.take()
	require.Len(t, events, 2)
	assert.Equal(t, domain.ConversationChannel(c.ID).Name(), events[0].channel)
	assert.Equal(t, domain.GlobalChannelName, events[1].channel)
	for _, e := range events {
		assert.Equal(t, domain.MessageInserted, e.ev.Type)
		require.NotNil(t, e.ev.Message)
		assert.Equal(t, m.ID, e.ev.Message.ID)
	}
	assert.NotSame(t, events[0].ev.Message, events[1].ev.Message)

	// nothing flipped, nothing published
	n, err := repo.MarkConversationRead(ctx, c.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, pub.take())

	n, err = repo.MarkConversationRead(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	events = pub.take()
	require.Len(t, events, 1)
	assert.Equal(t, domain.ConversationChannel(c.ID).Name(), events[0].channel)
	assert.Equal(t, domain.MessageUpdated, events[0].ev.Type)

	id, _ := m.ID.Persisted()
	require.NoError(t, repo.MarkMessageRead(ctx, c.ID, id))
	assert.Len(t, pub.take(), 1)
	assert.Error(t, repo.MarkMessageRead(ctx, c.ID, "missing"))
	assert.Empty(t, pub.take())
}

func TestNotifyingRepository_PublishFailureKeepsWrite(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryStore()
	pub := &recordingPublisher{err: errors.New("broker down")}

	c, err := NewNotifyingConversationRepository(db, pub).CreateConversation(ctx, false)
	require.NoError(t, err)
	m, err := NewNotifyingMessageRepository(db, pub).InsertMessage(ctx, domain.NewMessage{ConversationID: c.ID, SenderID: "u1", Content: "kept"})
	require.NoError(t, err)

	rows, err := db.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, m.ID, rows[0].ID)
}
