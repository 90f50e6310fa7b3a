package app

import (
	"context"
	"strings"
	"sync"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const fetchConcurrency = 8

// ConversationService 負責對話列表的讀取與建立
type ConversationService struct {
	user          domain.LocalUser
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	profiles      repository.ProfileRepository
	store         *EntityStore

	// refreshes may overlap, only the most recently started one is applied
	seqMu   sync.Mutex
	started uint64
	applied uint64
}

// NewConversationService create ConversationService
func NewConversationService(
	user domain.LocalUser,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	profiles repository.ProfileRepository,
	store *EntityStore,
) *ConversationService {
	return &ConversationService{
		user:          user,
		conversations: conversations,
		messages:      messages,
		profiles:      profiles,
		store:         store,
	}
}

// FetchConversations rebuild the conversation list of the local user
func (s *ConversationService) FetchConversations(ctx context.Context) ([]domain.Conversation, error) {
	if err := s.Refresh(ctx, "fetch"); err != nil {
		return nil, err
	}
	return s.store.ListConversations(), nil
}

// Refresh full recompute of the list. trigger only labels metrics.
func (s *ConversationService) Refresh(ctx context.Context, trigger string) error {
	metrics.ConversationRefreshes.WithLabelValues(trigger).Inc()
	seq := s.begin()

	s.store.SetLoading(ListKey, true)
	defer s.store.SetLoading(ListKey, false)

	list, err := s.load(ctx)
	if err != nil {
		f := errprocess.Wrap(domain.ErrTransport, "fetch conversations", err)
		s.store.SetError(ListKey, f)
		return f
	}

	if !s.commit(seq) {
		logger.Log.Debug("stale conversation refresh dropped", zap.String("user", s.user.ID))
		return nil
	}
	s.store.ReplaceConversations(list)
	s.store.SetError(ListKey, nil)
	return nil
}

func (s *ConversationService) begin() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.started++
	return s.started
}

func (s *ConversationService) commit(seq uint64) bool {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	if seq < s.applied {
		return false
	}
	s.applied = seq
	return true
}

func (s *ConversationService) load(ctx context.Context) ([]domain.Conversation, error) {
	ids, err := s.conversations.ListConversationIDsForUser(ctx, s.user.ID)
	if err != nil {
		return nil, err
	}
	rows, err := s.conversations.FindConversations(ctx, ids)
	if err != nil {
		return nil, err
	}

	// 每個對話並行取最新訊息、未讀數與成員，結果依原本順序寫回
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := range rows {
		c := &rows[i]
		g.Go(func() error {
			latest, err := s.messages.LatestMessage(gctx, c.ID)
			if err != nil {
				return err
			}
			unread, err := s.messages.CountUnread(gctx, c.ID, s.user.ID)
			if err != nil {
				return err
			}
			members, err := s.conversations.ListMemberIDs(gctx, c.ID)
			if err != nil {
				return err
			}
			c.LatestMessage = latest
			c.UnreadCount = unread
			c.ParticipantIDs = members
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var others []string
	for i := range rows {
		others = append(others, rows[i].OtherParticipants(s.user.ID)...)
	}
	profiles, err := s.lookupProfiles(ctx, pkg.Unique(others))
	if err != nil {
		return nil, err
	}
	for i := range rows {
		decorate(&rows[i], s.user.ID, profiles)
	}
	return rows, nil
}

func (s *ConversationService) lookupProfiles(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	out := make(map[string]domain.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	profiles, err := s.profiles.FindProfilesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.ID] = p
	}
	return out, nil
}

// decorate derive display name and avatar from the other participants
func decorate(c *domain.Conversation, userID string, profiles map[string]domain.Profile) {
	others := c.OtherParticipants(userID)
	if !c.IsGroup {
		if len(others) == 1 {
			if p, ok := profiles[others[0]]; ok {
				c.DisplayName = p.DisplayName
				c.DisplayAvatar = p.Avatar
				return
			}
		}
		c.DisplayName = "Unknown user"
		return
	}

	names := make([]string, 0, len(others))
	for _, id := range others {
		if p, ok := profiles[id]; ok && p.DisplayName != "" {
			names = append(names, p.DisplayName)
		}
	}
	if len(names) == 0 {
		c.DisplayName = "Group chat"
		return
	}
	c.DisplayName = strings.Join(names, ", ")
}

// CreateConversation create a conversation and insert every membership in one
// batch. When the membership write fails the created conversation is returned
// together with a PartialWriteFailure; nothing is rolled back.
func (s *ConversationService) CreateConversation(ctx context.Context, memberIDs []string, isGroup bool) (*domain.Conversation, error) {
	var others []string
	for _, id := range pkg.Unique(memberIDs) {
		if id != s.user.ID {
			others = append(others, id)
		}
	}
	if s.user.ID == "" {
		return nil, errprocess.New(domain.ErrValidation, "create conversation", "missing local user")
	}
	if !isGroup && len(others) != 1 {
		return nil, errprocess.New(domain.ErrValidation, "create conversation", "direct conversation needs exactly one peer")
	}
	if isGroup && len(others) == 0 {
		return nil, errprocess.New(domain.ErrValidation, "create conversation", "group conversation needs members")
	}

	c, err := s.conversations.CreateConversation(ctx, isGroup)
	if err != nil {
		return nil, errprocess.Wrap(domain.ErrTransport, "create conversation", err)
	}

	participants := append(others, s.user.ID)
	if err := s.conversations.InsertMemberships(ctx, c.ID, participants); err != nil {
		return c, errprocess.Wrapf(domain.ErrPartialWrite, "create conversation", err, "conversation %s has no memberships", c.ID)
	}
	c.ParticipantIDs = participants

	profiles, err := s.lookupProfiles(ctx, others)
	if err != nil {
		logger.Log.Warn("profile lookup failed", zap.String("conversation", c.ID), zap.Error(err))
		profiles = map[string]domain.Profile{}
	}
	decorate(c, s.user.ID, profiles)
	s.store.UpsertConversation(*c)
	return c, nil
}

// StartDirectConversation reuse the direct conversation with peerID or create one
func (s *ConversationService) StartDirectConversation(ctx context.Context, peerID string) (*domain.Conversation, error) {
	if peerID == "" || peerID == s.user.ID {
		return nil, errprocess.New(domain.ErrValidation, "start direct conversation", "invalid peer")
	}
	for _, c := range s.store.ListConversations() {
		if !c.IsGroup && c.HasParticipant(peerID) && c.HasParticipant(s.user.ID) {
			found := c
			return &found, nil
		}
	}
	return s.CreateConversation(ctx, []string{peerID}, false)
}

// MarkConversationRead zero the unread count locally, then persist. A failed
// write is kept on the conversation error state.
func (s *ConversationService) MarkConversationRead(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errprocess.New(domain.ErrValidation, "mark conversation read", "missing conversation id")
	}
	s.store.SetUnread(conversationID, 0)
	s.store.MarkMessagesRead(conversationID, s.user.ID)

	if _, err := s.messages.MarkConversationRead(ctx, conversationID, s.user.ID); err != nil {
		f := errprocess.Wrap(domain.ErrTransport, "mark conversation read", err)
		s.store.SetError(conversationID, f)
		return f
	}
	return nil
}
