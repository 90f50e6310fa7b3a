package app

import (
	"context"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBackend struct {
	db     *repository.MemoryStore
	pubsub *repository.MemoryPubSub
	deps   Dependencies
}

func newMemoryBackend() memoryBackend {
	db := repository.NewMemoryStore()
	pubsub := repository.NewMemoryPubSub()
	return memoryBackend{
		db:     db,
		pubsub: pubsub,
		deps: Dependencies{
			Conversations: repository.NewNotifyingConversationRepository(db, pubsub),
			Messages:      repository.NewNotifyingMessageRepository(db, pubsub),
			Profiles:      db,
			Transport:     pubsub,
			Config: config.ChatSync{
				Bots: config.BotConfig{
					InitialDelay: 100 * time.Millisecond,
					MinInterval:  time.Hour,
					MaxInterval:  time.Hour,
				},
			},
		},
	}
}

func findConversation(list []domain.Conversation, id string) (domain.Conversation, bool) {
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Conversation{}, false
}

func TestChatSession_DirectConversationEndToEnd(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	b.db.AddProfile(domain.Profile{ID: "u1", DisplayName: "Ann"})
	b.db.AddProfile(domain.Profile{ID: "u2", DisplayName: "Bob"})

	s1 := NewChatSession(b.deps, domain.LocalUser{ID: "u1", DisplayName: "Ann"})
	s2 := NewChatSession(b.deps, domain.LocalUser{ID: "u2", DisplayName: "Bob"})
	defer s2.Unmount()

	list, err := s1.Mount(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = s2.Mount(ctx)
	require.NoError(t, err)

	c, err := s1.Conversations.StartDirectConversation(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "Bob", c.DisplayName)

	// u2 learns about the conversation through the global channel
	peerView, ok := findConversation(s2.Store.ListConversations(), c.ID)
	require.True(t, ok)
	assert.Equal(t, "Ann", peerView.DisplayName)

	_, err = s1.OpenConversation(ctx, c.ID)
	require.NoError(t, err)

	sent, err := s1.Messages.SendMessage(ctx, c.ID, "hi")
	require.NoError(t, err)
	assert.True(t, sent.ID.IsPersisted())

	// exactly one "hi" even though the echo arrived before the insert returned
	msgs := s1.Store.Messages(c.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, sent.ID, msgs[0].ID)

	mine, ok := findConversation(s1.Store.ListConversations(), c.ID)
	require.True(t, ok)
	require.NotNil(t, mine.LatestMessage)
	assert.Equal(t, "hi", mine.LatestMessage.Content)
	assert.Equal(t, 0, mine.UnreadCount)

	theirs, ok := findConversation(s2.Store.ListConversations(), c.ID)
	require.True(t, ok)
	require.NotNil(t, theirs.LatestMessage)
	assert.Equal(t, "hi", theirs.LatestMessage.Content)
	assert.Equal(t, 1, theirs.UnreadCount)

	require.NoError(t, s2.Conversations.MarkConversationRead(ctx, c.ID))
	theirs, _ = findConversation(s2.Store.ListConversations(), c.ID)
	assert.Equal(t, 0, theirs.UnreadCount)

	list, err = s2.Conversations.FetchConversations(ctx)
	require.NoError(t, err)
	theirs, _ = findConversation(list, c.ID)
	assert.Equal(t, 0, theirs.UnreadCount)

	s1.Unmount()
	assert.Equal(t, 0, b.pubsub.LiveChannels(domain.ConversationChannel(c.ID).Name()))
	assert.Equal(t, 1, b.pubsub.LiveChannels(domain.GlobalChannelName))
}

func TestChatSession_PeerOpenConversationReadsLiveMessages(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	s1 := NewChatSession(b.deps, domain.LocalUser{ID: "u1"})
	s2 := NewChatSession(b.deps, domain.LocalUser{ID: "u2"})
	defer s1.Unmount()
	defer s2.Unmount()

	_, err := s1.Mount(ctx)
	require.NoError(t, err)
	_, err = s2.Mount(ctx)
	require.NoError(t, err)

	c, err := s1.Conversations.StartDirectConversation(ctx, "u2")
	require.NoError(t, err)
	_, err = s2.OpenConversation(ctx, c.ID)
	require.NoError(t, err)

	_, err = s1.Messages.SendMessage(ctx, c.ID, "are you there?")
	require.NoError(t, err)

	// an open conversation marks inbound messages read on arrival
	msgs := s2.Store.Messages(c.ID)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Read)
	theirs, _ := findConversation(s2.Store.ListConversations(), c.ID)
	assert.Equal(t, 0, theirs.UnreadCount)

	unread, err := b.db.CountUnread(ctx, c.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
}

func TestChatSession_RepeatedOpenCloseHoldsOneChannel(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	s := NewChatSession(b.deps, domain.LocalUser{ID: "u1"})
	defer s.Unmount()

	c, err := s.Conversations.StartDirectConversation(ctx, "u2")
	require.NoError(t, err)
	name := domain.ConversationChannel(c.ID).Name()

	for i := 0; i < 4; i++ {
		_, err := s.OpenConversation(ctx, c.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, b.pubsub.LiveChannels(name))
	for i := 0; i < 3; i++ {
		s.CloseConversation(c.ID)
	}
	// one open is still unmatched
	assert.Equal(t, 1, b.pubsub.LiveChannels(name))
	s.CloseConversation(c.ID)
	assert.Equal(t, 0, b.pubsub.LiveChannels(name))
	assert.Equal(t, 1, b.pubsub.OpenCount(name))
}

func TestChatSession_RoomWithBots(t *testing.T) {
	ctx := context.Background()
	b := newMemoryBackend()
	for _, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		b.db.AddProfile(domain.Profile{ID: id, DisplayName: "Name " + id})
	}
	s := NewChatSession(b.deps, domain.LocalUser{ID: "p1"})
	defer s.Unmount()

	_, err := s.EnterRoom(ctx, "", "")
	assert.Error(t, err)

	bots, err := s.EnterRoom(ctx, "room-1", "employment")
	require.NoError(t, err)
	require.NotEmpty(t, bots)
	for _, bot := range bots {
		assert.NotEqual(t, domain.BotIDFor("p1"), bot.ID)
	}
	assert.Equal(t, Subscribed, s.Sync.State("room-1"))
	assert.True(t, s.Bots.Running("room-1"))

	// force everyone online so the first tick always has a speaker
	s.Bots.mu.Lock()
	for _, bot := range s.Bots.rooms["room-1"].bots {
		bot.Online = true
	}
	s.Bots.mu.Unlock()

	assert.Eventually(t, func() bool {
		for _, m := range s.Store.Messages("room-1") {
			if domain.IsBotID(m.SenderID) {
				return m.Read
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	s.LeaveRoom("room-1")
	assert.False(t, s.Bots.Running("room-1"))
	assert.Equal(t, Unsubscribed, s.Sync.State("room-1"))
	assert.Equal(t, 0, b.pubsub.LiveChannels(domain.ConversationChannel("room-1").Name()))
}
