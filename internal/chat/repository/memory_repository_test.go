package repository

import (
	"context"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frozenClock(s *MemoryStore, at time.Time) {
	s.now = func() time.Time { return at }
}

func TestMemoryStore_ConversationsAndMembers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a, err := s.CreateConversation(ctx, false)
	require.NoError(t, err)
	b, err := s.CreateConversation(ctx, true)
	require.NoError(t, err)
	assert.True(t, b.IsGroup)
	assert.True(t, b.CreatedAt.After(a.CreatedAt), "server clock is strictly increasing")

	require.NoError(t, s.InsertMemberships(ctx, a.ID, []string{"u1", "u2"}))
	require.NoError(t, s.InsertMemberships(ctx, b.ID, []string{"u1", "u3", "u4"}))
	assert.ErrorIs(t, s.InsertMemberships(ctx, "missing", []string{"u1"}), ErrNotFound)

	ids, err := s.ListConversationIDsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	ids, err = s.ListConversationIDsForUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)

	members, err := s.ListMemberIDs(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u3", "u4"}, members)

	// touching a moves it ahead of b
	require.NoError(t, s.TouchConversation(ctx, a.ID, b.UpdatedAt.Add(time.Minute)))
	list, err := s.FindConversations(ctx, []string{b.ID, a.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)

	// updated_at never moves backwards
	require.NoError(t, s.TouchConversation(ctx, a.ID, b.UpdatedAt.Add(-time.Hour)))
	found, err := s.FindConversation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, found.UpdatedAt.Equal(b.UpdatedAt.Add(time.Minute)))

	assert.ErrorIs(t, s.TouchConversation(ctx, "missing", time.Now()), ErrNotFound)
	_, err = s.FindConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_MessagesAndReadState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	frozenClock(s, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	c, err := s.CreateConversation(ctx, false)
	require.NoError(t, err)

	latest, err := s.LatestMessage(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	var inserted []*domain.Message
	for _, m := range []domain.NewMessage{
		{ConversationID: c.ID, SenderID: "u2", Content: "one"},
		{ConversationID: c.ID, SenderID: "u1", Content: "two"},
		{ConversationID: c.ID, SenderID: "u2", Content: "three"},
	} {
		row, err := s.InsertMessage(ctx, m)
		require.NoError(t, err)
		assert.True(t, row.ID.IsPersisted())
		assert.Equal(t, domain.MessageSent, row.Status)
		inserted = append(inserted, row)
	}
	// a frozen clock still yields distinct ascending timestamps
	assert.True(t, inserted[1].CreatedAt.After(inserted[0].CreatedAt))
	assert.True(t, inserted[2].CreatedAt.After(inserted[1].CreatedAt))

	_, err = s.InsertMessage(ctx, domain.NewMessage{ConversationID: "missing", SenderID: "u1", Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	rows[0].Content = "mutated"
	again, _ := s.ListMessages(ctx, c.ID)
	assert.Equal(t, "one", again[0].Content)

	latest, err = s.LatestMessage(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "three", latest.Content)

	unread, err := s.CountUnread(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	firstID, _ := inserted[0].ID.Persisted()
	require.NoError(t, s.MarkMessageRead(ctx, c.ID, firstID))
	assert.ErrorIs(t, s.MarkMessageRead(ctx, c.ID, "missing"), ErrNotFound)

	n, err := s.MarkConversationRead(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.MarkConversationRead(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	unread, err = s.CountUnread(ctx, c.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)
	// u1's own message is still unread for u2
	unread, err = s.CountUnread(ctx, c.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestMemoryStore_Profiles(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.AddProfile(domain.Profile{ID: "p1", DisplayName: "One"})
	s.AddProfile(domain.Profile{ID: "p2", DisplayName: "Two"})
	s.AddProfile(domain.Profile{ID: "p3", DisplayName: "Three"})
	s.AddProfile(domain.Profile{ID: "p1", DisplayName: "Uno"})

	found, err := s.FindProfilesByIDs(ctx, []string{"p3", "p1", "p9"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Profile{{ID: "p3", DisplayName: "Three"}, {ID: "p1", DisplayName: "Uno"}}, found)

	list, err := s.ListProfiles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "p1", list[0].ID)
	assert.Equal(t, "p2", list[1].ID)

	list, err = s.ListProfiles(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
