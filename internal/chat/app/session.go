package app

import (
	"context"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/pkg/config"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Dependencies shared collaborators every session is built from
type Dependencies struct {
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Profiles      repository.ProfileRepository
	Transport     repository.RealtimeTransport
	ProfilePool   repository.ProfilePoolCache
	Config        config.ChatSync
}

// ChatSession the sync core of one connected user
type ChatSession struct {
	User          domain.LocalUser
	Store         *EntityStore
	Registry      *ChannelRegistry
	Conversations *ConversationService
	Messages      *MessageService
	Sync          *RealtimeSyncController
	Bots          *BotConversationEngine

	ctx    context.Context
	cancel context.CancelFunc
}

// NewChatSession wire every component for user
func NewChatSession(deps Dependencies, user domain.LocalUser) *ChatSession {
	cfg := deps.Config
	cfg.Normalize()

	ctx, cancel := context.WithCancel(context.Background())
	store := NewEntityStore()
	registry := NewChannelRegistry(deps.Transport)
	conversations := NewConversationService(user, deps.Conversations, deps.Messages, deps.Profiles, store)
	messages := NewMessageService(user, deps.Messages, deps.Conversations, deps.Profiles, store, conversations,
		cfg.Limits, cfg.Realtime.ReconcileWindow)
	controller := NewRealtimeSyncController(ctx, user, registry, store, deps.Messages, conversations, cfg.Realtime.ReconcileWindow)

	pool := deps.ProfilePool
	if pool == nil {
		pool = repository.NewMemoryProfilePool()
	}
	bots := NewBotConversationEngine(cfg.Bots, deps.Profiles, pool, store)

	return &ChatSession{
		User:          user,
		Store:         store,
		Registry:      registry,
		Conversations: conversations,
		Messages:      messages,
		Sync:          controller,
		Bots:          bots,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Mount hold the global update channel and load the conversation list
func (s *ChatSession) Mount(ctx context.Context) ([]domain.Conversation, error) {
	if err := s.Sync.MountGlobal(ctx); err != nil {
		// the list still loads, it just will not live-update
		logger.Log.Warn("global channel unavailable", zap.String("user", s.User.ID), zap.Error(err))
	}
	return s.Conversations.FetchConversations(ctx)
}

// OpenConversation subscribe and load history
func (s *ChatSession) OpenConversation(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if err := s.Sync.Subscribe(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.Messages.FetchHistory(ctx, conversationID)
}

// CloseConversation stop receiving a conversation's messages
func (s *ChatSession) CloseConversation(conversationID string) {
	s.Sync.Unsubscribe(conversationID)
}

// EnterRoom open a room and start its simulated participants
func (s *ChatSession) EnterRoom(ctx context.Context, roomID, topicID string) ([]domain.BotParticipant, error) {
	if roomID == "" {
		return nil, errprocess.New(domain.ErrValidation, "enter room", "missing room id")
	}
	s.Store.MarkRoom(roomID)
	if _, err := s.OpenConversation(ctx, roomID); err != nil {
		return nil, err
	}

	bots, err := s.Bots.InitializeRoomBots(ctx, roomID, topicID, s.User.ID)
	if err != nil {
		return nil, err
	}
	if err := s.Bots.StartBotActivity(roomID, topicID, func(m domain.Message) {
		s.Sync.HandleInbound(s.ctx, m)
	}); err != nil {
		return nil, err
	}
	return bots, nil
}

// LeaveRoom stop the room's bots and unsubscribe
func (s *ChatSession) LeaveRoom(roomID string) {
	s.Bots.TeardownRoom(roomID)
	s.Sync.Unsubscribe(roomID)
}

// Unmount release every channel and stop every bot task
func (s *ChatSession) Unmount() {
	s.Bots.StopAll()
	s.Sync.Close()
	if err := s.Registry.ReleaseAll(); err != nil {
		logger.Log.Warn("channel release on unmount", zap.String("user", s.User.ID), zap.Error(err))
	}
	s.cancel()
	logger.Log.Info("chat session unmounted", zap.String("user", s.User.ID))
}
