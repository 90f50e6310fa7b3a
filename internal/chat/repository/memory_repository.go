package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/google/uuid"
)

// MemoryStore in process ConversationRepository, MessageRepository and
// ProfileRepository, used for storage.driver=memory and tests
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	members       map[string][]domain.Membership
	messages      map[string][]domain.Message
	profiles      map[string]domain.Profile
	profileOrder  []string

	now  func() time.Time
	last time.Time
}

// NewMemoryStore create MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*domain.Conversation),
		members:       make(map[string][]domain.Membership),
		messages:      make(map[string][]domain.Message),
		profiles:      make(map[string]domain.Profile),
		now:           time.Now,
	}
}

// tick strictly increasing server clock, caller holds mu
func (s *MemoryStore) tick() time.Time {
	now := s.now().UTC().Truncate(time.Millisecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Millisecond)
	}
	s.last = now
	return now
}

// AddProfile seed a profile row
func (s *MemoryStore) AddProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		s.profileOrder = append(s.profileOrder, p.ID)
	}
	s.profiles[p.ID] = p
}

func (s *MemoryStore) ListConversationIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	for convID, rows := range s.members {
		for _, m := range rows {
			if m.UserID == userID {
				ids = append(ids, convID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) FindConversations(_ context.Context, ids []string) ([]domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.conversations[id]; ok {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) FindConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, isGroup bool) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	c := &domain.Conversation{ID: uuid.NewString(), IsGroup: isGroup, CreatedAt: now, UpdatedAt: now}
	s.conversations[c.ID] = c
	out := *c
	return &out, nil
}

func (s *MemoryStore) InsertMemberships(_ context.Context, conversationID string, userIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	now := s.tick()
	for _, id := range userIDs {
		s.members[conversationID] = append(s.members[conversationID], domain.Membership{
			ConversationID: conversationID,
			UserID:         id,
			JoinedAt:       now,
		})
	}
	return nil
}

func (s *MemoryStore) ListMemberIDs(_ context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.members[conversationID]))
	for _, m := range s.members[conversationID] {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

func (s *MemoryStore) TouchConversation(_ context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if at.After(c.UpdatedAt) {
		c.UpdatedAt = at.UTC()
	}
	return nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message{}, s.messages[conversationID]...), nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, msg domain.NewMessage) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[msg.ConversationID]; !ok {
		return nil, ErrNotFound
	}
	m := domain.Message{
		ID:             domain.PersistedID(uuid.NewString()),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		CreatedAt:      s.tick(),
		Status:         domain.MessageSent,
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], m)
	return &m, nil
}

func (s *MemoryStore) LatestMessage(_ context.Context, conversationID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.messages[conversationID]
	if len(rows) == 0 {
		return nil, nil
	}
	m := rows[len(rows)-1]
	return &m, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, conversationID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages[conversationID] {
		if !m.Read && m.SenderID != userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkConversationRead(_ context.Context, conversationID, readerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	rows := s.messages[conversationID]
	for i := range rows {
		if !rows[i].Read && rows[i].SenderID != readerID {
			rows[i].Read = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkMessageRead(_ context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.messages[conversationID]
	for i := range rows {
		if id, _ := rows[i].ID.Persisted(); id == messageID {
			rows[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) FindProfilesByIDs(_ context.Context, ids []string) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListProfiles(_ context.Context, limit int) ([]domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Profile, 0, len(s.profileOrder))
	for _, id := range s.profileOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, s.profiles[id])
	}
	return out, nil
}
