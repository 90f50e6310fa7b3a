package app

import (
	"sort"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/metrics"
)

// ListKey loading / error key of the conversation list itself
const ListKey = ""

// MergeResult outcome of MergeInbound
type MergeResult struct {
	// Applied false when the message was a duplicate of a stored persisted id
	Applied bool
	// Reconciled the temporary id removed by the reconciliation pass, zero if none
	Reconciled domain.MessageID
}

// EntityStore normalized in-memory state of one client: conversations by id,
// ordered messages per conversation, loading and error flags. Reads return copies.
type EntityStore struct {
	mu            sync.RWMutex
	conversations map[string]domain.Conversation
	messages      map[string][]domain.Message
	loading       map[string]bool
	errs          map[string]error
	rooms         map[string]bool
	// persisted ids that already replaced a temporary message
	claimed map[string]map[string]struct{}

	listenerMu sync.RWMutex
	listeners  []func(conversationID string)
}

// NewEntityStore create EntityStore
func NewEntityStore() *EntityStore {
	return &EntityStore{
		conversations: make(map[string]domain.Conversation),
		messages:      make(map[string][]domain.Message),
		loading:       make(map[string]bool),
		errs:          make(map[string]error),
		rooms:         make(map[string]bool),
		claimed:       make(map[string]map[string]struct{}),
	}
}

// OnChange register a listener called after every mutation with the
// conversation id, ListKey for list level changes. Called without locks held.
func (s *EntityStore) OnChange(fn func(conversationID string)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *EntityStore) notify(conversationID string) {
	s.listenerMu.RLock()
	listeners := append([]func(string){}, s.listeners...)
	s.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(conversationID)
	}
}

// UpsertConversation insert or replace one conversation
func (s *EntityStore) UpsertConversation(c domain.Conversation) {
	s.mu.Lock()
	s.conversations[c.ID] = copyConversation(c)
	s.mu.Unlock()
	s.notify(ListKey)
}

// ReplaceConversations full refresh, conversations not in list are dropped
func (s *EntityStore) ReplaceConversations(list []domain.Conversation) {
	s.mu.Lock()
	s.conversations = make(map[string]domain.Conversation, len(list))
	for _, c := range list {
		s.conversations[c.ID] = copyConversation(c)
	}
	s.mu.Unlock()
	s.notify(ListKey)
}

// Conversation one conversation by id
func (s *EntityStore) Conversation(id string) (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, false
	}
	return copyConversation(c), true
}

// ListConversations ordered by UpdatedAt desc, ties by id
func (s *EntityStore) ListConversations() []domain.Conversation {
	s.mu.RLock()
	out := make([]domain.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, copyConversation(c))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// UpsertMessages merge by id: a stored entry with the same id is replaced,
// anything else is inserted in CreatedAt order
func (s *EntityStore) UpsertMessages(conversationID string, msgs []domain.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	list := s.messages[conversationID]
	for _, m := range msgs {
		m.ConversationID = conversationID
		if m.Status == "" {
			m.Status = domain.MessageSent
		}
		if i := indexOf(list, m.ID); i >= 0 {
			list = append(list[:i], list[i+1:]...)
		}
		list = insertOrdered(list, m)
	}
	s.messages[conversationID] = list
	s.mu.Unlock()
	s.notify(conversationID)
}

// Messages ordered copy of a conversation's messages
func (s *EntityStore) Messages(conversationID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message{}, s.messages[conversationID]...)
}

// Message one stored message
func (s *EntityStore) Message(conversationID string, id domain.MessageID) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[conversationID]
	if i := indexOf(list, id); i >= 0 {
		return list[i], true
	}
	return domain.Message{}, false
}

// InsertOptimistic add a local message carrying a temporary id
func (s *EntityStore) InsertOptimistic(m domain.Message) bool {
	if !m.ID.IsTemporary() {
		return false
	}
	s.mu.Lock()
	list := s.messages[m.ConversationID]
	if indexOf(list, m.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.messages[m.ConversationID] = insertOrdered(list, m)
	s.mu.Unlock()
	s.notify(m.ConversationID)
	return true
}

// MergeInbound merge a server or simulated message. A stored entry with the
// same persisted id makes it a duplicate. Otherwise it is inserted in order.
// Either way, the first time a persisted id is merged, the oldest pending
// temporary message from the same sender with the same content and a
// CreatedAt within window is removed; a history fetch may have stored the
// server row before its echo arrived.
func (s *EntityStore) MergeInbound(m domain.Message, window time.Duration) MergeResult {
	if !m.ID.IsPersisted() {
		return MergeResult{}
	}
	if m.Status == "" {
		m.Status = domain.MessageSent
	}

	s.mu.Lock()
	list := s.messages[m.ConversationID]
	duplicate := indexOf(list, m.ID) >= 0

	var res MergeResult
	if !s.isClaimed(m.ConversationID, m.ID) {
		if oldest := oldestPendingMatch(list, m, window); oldest >= 0 {
			res.Reconciled = list[oldest].ID
			if m.Sender == nil {
				m.Sender = list[oldest].Sender
			}
			list = append(list[:oldest], list[oldest+1:]...)
			s.claim(m.ConversationID, m.ID)
		}
	}
	if !duplicate {
		res.Applied = true
		list = insertOrdered(list, m)
	}
	s.messages[m.ConversationID] = list
	s.mu.Unlock()

	if res.Applied {
		metrics.MessagesMerged.WithLabelValues("applied").Inc()
	} else {
		metrics.MessagesMerged.WithLabelValues("duplicate").Inc()
	}
	if !res.Reconciled.IsZero() {
		metrics.Reconciliations.Inc()
	}
	if res.Applied || !res.Reconciled.IsZero() {
		s.notify(m.ConversationID)
	}
	return res
}

// oldestPendingMatch index of the oldest pending temporary message m confirms, -1 if none
func oldestPendingMatch(list []domain.Message, m domain.Message, window time.Duration) int {
	oldest := -1
	for i, cur := range list {
		if !cur.ID.IsTemporary() || cur.Status != domain.MessagePending {
			continue
		}
		if cur.SenderID != m.SenderID || cur.Content != m.Content {
			continue
		}
		if absDuration(m.CreatedAt.Sub(cur.CreatedAt)) > window {
			continue
		}
		if oldest < 0 || cur.CreatedAt.Before(list[oldest].CreatedAt) {
			oldest = i
		}
	}
	return oldest
}

// caller holds mu
func (s *EntityStore) isClaimed(conversationID string, id domain.MessageID) bool {
	_, ok := s.claimed[conversationID][id.String()]
	return ok
}

// caller holds mu
func (s *EntityStore) claim(conversationID string, id domain.MessageID) {
	if s.claimed[conversationID] == nil {
		s.claimed[conversationID] = make(map[string]struct{})
	}
	s.claimed[conversationID][id.String()] = struct{}{}
}

// MarkFailed flag an optimistic message as failed
func (s *EntityStore) MarkFailed(conversationID string, id domain.MessageID) bool {
	s.mu.Lock()
	list := s.messages[conversationID]
	i := indexOf(list, id)
	if i < 0 || !id.IsTemporary() {
		s.mu.Unlock()
		return false
	}
	list[i].Status = domain.MessageFailed
	s.mu.Unlock()
	s.notify(conversationID)
	return true
}

// RemoveMessage drop a message, returns the removed entry
func (s *EntityStore) RemoveMessage(conversationID string, id domain.MessageID) (domain.Message, bool) {
	s.mu.Lock()
	list := s.messages[conversationID]
	i := indexOf(list, id)
	if i < 0 {
		s.mu.Unlock()
		return domain.Message{}, false
	}
	removed := list[i]
	s.messages[conversationID] = append(list[:i], list[i+1:]...)
	s.mu.Unlock()
	s.notify(conversationID)
	return removed, true
}

// MarkMessagesRead set read on every message not sent by localUserID
func (s *EntityStore) MarkMessagesRead(conversationID, localUserID string) int {
	s.mu.Lock()
	n := 0
	for i, m := range s.messages[conversationID] {
		if !m.Read && m.SenderID != localUserID {
			s.messages[conversationID][i].Read = true
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.notify(conversationID)
	}
	return n
}

// MarkMessageRead set read on a single message
func (s *EntityStore) MarkMessageRead(conversationID string, id domain.MessageID) bool {
	s.mu.Lock()
	list := s.messages[conversationID]
	i := indexOf(list, id)
	if i < 0 || list[i].Read {
		s.mu.Unlock()
		return false
	}
	list[i].Read = true
	s.mu.Unlock()
	s.notify(conversationID)
	return true
}

// SetUnread overwrite the derived unread count of a conversation
func (s *EntityStore) SetUnread(conversationID string, n int) {
	s.mu.Lock()
	c, ok := s.conversations[conversationID]
	if ok {
		c.UnreadCount = n
		s.conversations[conversationID] = c
	}
	s.mu.Unlock()
	if ok {
		s.notify(ListKey)
	}
}

// SetLoading set loading flag, ListKey for the conversation list
func (s *EntityStore) SetLoading(conversationID string, loading bool) {
	s.mu.Lock()
	if loading {
		s.loading[conversationID] = true
	} else {
		delete(s.loading, conversationID)
	}
	s.mu.Unlock()
	s.notify(conversationID)
}

// Loading loading flag
func (s *EntityStore) Loading(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading[conversationID]
}

// SetError store the last failure, nil clears it
func (s *EntityStore) SetError(conversationID string, err error) {
	s.mu.Lock()
	prev := s.errs[conversationID]
	if err == nil {
		delete(s.errs, conversationID)
	} else {
		s.errs[conversationID] = err
	}
	s.mu.Unlock()
	if prev != nil || err != nil {
		s.notify(conversationID)
	}
}

// Error last failure of a conversation, nil if none
func (s *EntityStore) Error(conversationID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errs[conversationID]
}

// MarkRoom flag a conversation as a room (shorter content limit, bots)
func (s *EntityStore) MarkRoom(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[conversationID] = true
}

// IsRoom report whether the conversation was entered as a room
func (s *EntityStore) IsRoom(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[conversationID]
}

func indexOf(list []domain.Message, id domain.MessageID) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// insertOrdered keeps CreatedAt ascending, equal timestamps keep arrival order
func insertOrdered(list []domain.Message, m domain.Message) []domain.Message {
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(m.CreatedAt)
	})
	list = append(list, domain.Message{})
	copy(list[i+1:], list[i:])
	list[i] = m
	return list
}

func copyConversation(c domain.Conversation) domain.Conversation {
	c.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	if c.LatestMessage != nil {
		m := *c.LatestMessage
		c.LatestMessage = &m
	}
	return c
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
