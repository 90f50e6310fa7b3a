package app

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg"
	"chat_sync_service/pkg/config"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/metrics"

	"go.uber.org/zap"
)

// conversationReader marks a whole conversation read, implemented by ConversationService
type conversationReader interface {
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// MessageService 負責處理聊天訊息: 歷史紀錄, 樂觀發送
type MessageService struct {
	user          domain.LocalUser
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	profiles      repository.ProfileRepository
	store         *EntityStore
	reader        conversationReader

	limits config.LimitsConfig
	window time.Duration

	tempSeq uint64
	now     func() time.Time
}

// NewMessageService create MessageService
func NewMessageService(
	user domain.LocalUser,
	messages repository.MessageRepository,
	conversations repository.ConversationRepository,
	profiles repository.ProfileRepository,
	store *EntityStore,
	reader conversationReader,
	limits config.LimitsConfig,
	window time.Duration,
) *MessageService {
	return &MessageService{
		user:          user,
		messages:      messages,
		conversations: conversations,
		profiles:      profiles,
		store:         store,
		reader:        reader,
		limits:        limits,
		window:        window,
		now:           time.Now,
	}
}

// FetchHistory load every message of a conversation in ascending order, resolve
// senders with one batched lookup, then mark the conversation read
func (s *MessageService) FetchHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if conversationID == "" {
		return nil, errprocess.New(domain.ErrValidation, "fetch history", "missing conversation id")
	}

	s.store.SetLoading(conversationID, true)
	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err == nil {
		err = s.attachSenders(ctx, msgs)
	}
	if err != nil {
		s.store.SetLoading(conversationID, false)
		f := errprocess.Wrap(domain.ErrTransport, "fetch history", err)
		s.store.SetError(conversationID, f)
		return nil, f
	}
	s.store.UpsertMessages(conversationID, msgs)
	s.store.SetError(conversationID, nil)
	s.store.SetLoading(conversationID, false)

	// failure is kept on the conversation error state
	_ = s.reader.MarkConversationRead(ctx, conversationID)
	return s.store.Messages(conversationID), nil
}

func (s *MessageService) attachSenders(ctx context.Context, msgs []domain.Message) error {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.SenderID)
	}
	ids = pkg.Unique(ids)
	if len(ids) == 0 {
		return nil
	}
	profiles, err := s.profiles.FindProfilesByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[string]domain.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}
	for i := range msgs {
		if p, ok := byID[msgs[i].SenderID]; ok {
			p := p
			msgs[i].Sender = &p
		}
	}
	return nil
}

func (s *MessageService) maxLength(conversationID string) int {
	if s.store.IsRoom(conversationID) {
		return s.limits.RoomMaxLength
	}
	return s.limits.DirectMaxLength
}

// SendMessage optimistic send. The local message is visible immediately with a
// temporary id; the confirmed message goes through MergeInbound so it collapses
// with the realtime echo whichever lands first. On failure the local message is
// marked failed and a TransportFailure is returned.
func (s *MessageService) SendMessage(ctx context.Context, conversationID, content string) (domain.Message, error) {
	text := strings.TrimSpace(content)
	switch {
	case conversationID == "":
		return domain.Message{}, errprocess.New(domain.ErrValidation, "send message", "missing conversation id")
	case s.user.ID == "":
		return domain.Message{}, errprocess.New(domain.ErrValidation, "send message", "missing local user")
	case text == "":
		return domain.Message{}, errprocess.New(domain.ErrValidation, "send message", "empty content")
	case utf8.RuneCountInString(text) > s.maxLength(conversationID):
		return domain.Message{}, errprocess.New(domain.ErrValidation, "send message", "content too long")
	}

	local := domain.Message{
		ID:             domain.TemporaryID(atomic.AddUint64(&s.tempSeq, 1)),
		ConversationID: conversationID,
		SenderID:       s.user.ID,
		Content:        text,
		CreatedAt:      s.now().UTC(),
		Read:           true,
		Status:         domain.MessagePending,
		Sender:         &domain.Profile{ID: s.user.ID, DisplayName: s.user.DisplayName, Avatar: s.user.Avatar},
	}
	s.store.InsertOptimistic(local)

	confirmed, err := s.messages.InsertMessage(ctx, domain.NewMessage{
		ConversationID: conversationID,
		SenderID:       s.user.ID,
		Content:        text,
	})
	if err != nil {
		metrics.SendFailures.Inc()
		s.store.MarkFailed(conversationID, local.ID)
		f := errprocess.Wrap(domain.ErrTransport, "send message", err)
		s.store.SetError(conversationID, f)
		local.Status = domain.MessageFailed
		return local, f
	}

	if err := s.conversations.TouchConversation(ctx, conversationID, confirmed.CreatedAt); err != nil {
		logger.Log.Warn("conversation updated_at bump failed", zap.String("conversation", conversationID), zap.Error(err))
	}

	if confirmed.Sender == nil {
		confirmed.Sender = local.Sender
	}
	s.store.MergeInbound(*confirmed, s.window)
	s.store.SetError(conversationID, nil)
	return *confirmed, nil
}

// ResendFailed remove a failed local message and send its content again
func (s *MessageService) ResendFailed(ctx context.Context, conversationID string, id domain.MessageID) (domain.Message, error) {
	content, err := s.DiscardFailed(conversationID, id)
	if err != nil {
		return domain.Message{}, err
	}
	return s.SendMessage(ctx, conversationID, content)
}

// DiscardFailed remove a failed local message, returns its content
func (s *MessageService) DiscardFailed(conversationID string, id domain.MessageID) (string, error) {
	m, ok := s.store.Message(conversationID, id)
	if !ok || !m.ID.IsTemporary() || m.Status != domain.MessageFailed {
		return "", errprocess.New(domain.ErrValidation, "discard failed message", "no failed message "+id.String())
	}
	s.store.RemoveMessage(conversationID, id)
	return m.Content, nil
}
