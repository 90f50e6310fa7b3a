package repository

import (
	"context"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Write decorators that publish row changes after a successful write, the
// way database change feeds would. Publish errors are logged only: the row
// is already committed.

type notifyingConversationRepository struct {
	ConversationRepository
	pub Publisher
}

// NewNotifyingConversationRepository publish conversation changes on the global channel
func NewNotifyingConversationRepository(inner ConversationRepository, pub Publisher) ConversationRepository {
	return &notifyingConversationRepository{ConversationRepository: inner, pub: pub}
}

func (r *notifyingConversationRepository) CreateConversation(ctx context.Context, isGroup bool) (*domain.Conversation, error) {
	c, err := r.ConversationRepository.CreateConversation(ctx, isGroup)
	if err != nil {
		return nil, err
	}
	snapshot := *c
	publish(ctx, r.pub, domain.GlobalChannelName, domain.RealtimeEvent{
		Type:           domain.ConversationInserted,
		ConversationID: c.ID,
		Conversation:   &snapshot,
	})
	return c, nil
}

// InsertMemberships new members learn about the conversation from this update
func (r *notifyingConversationRepository) InsertMemberships(ctx context.Context, conversationID string, userIDs []string) error {
	if err := r.ConversationRepository.InsertMemberships(ctx, conversationID, userIDs); err != nil {
		return err
	}
	publish(ctx, r.pub, domain.GlobalChannelName, domain.RealtimeEvent{
		Type:           domain.ConversationUpdated,
		ConversationID: conversationID,
	})
	return nil
}

func (r *notifyingConversationRepository) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	if err := r.ConversationRepository.TouchConversation(ctx, conversationID, at); err != nil {
		return err
	}
	publish(ctx, r.pub, domain.GlobalChannelName, domain.RealtimeEvent{
		Type:           domain.ConversationUpdated,
		ConversationID: conversationID,
	})
	return nil
}

type notifyingMessageRepository struct {
	MessageRepository
	pub Publisher
}

// NewNotifyingMessageRepository publish message changes on the conversation and global channels
func NewNotifyingMessageRepository(inner MessageRepository, pub Publisher) MessageRepository {
	return &notifyingMessageRepository{MessageRepository: inner, pub: pub}
}

func (r *notifyingMessageRepository) InsertMessage(ctx context.Context, msg domain.NewMessage) (*domain.Message, error) {
	m, err := r.MessageRepository.InsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	ev := domain.RealtimeEvent{Type: domain.MessageInserted, ConversationID: m.ConversationID}
	for _, channel := range []string{domain.ConversationChannel(m.ConversationID).Name(), domain.GlobalChannelName} {
		snapshot := *m
		ev.Message = &snapshot
		publish(ctx, r.pub, channel, ev)
	}
	return m, nil
}

func (r *notifyingMessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error) {
	n, err := r.MessageRepository.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		publish(ctx, r.pub, domain.ConversationChannel(conversationID).Name(), domain.RealtimeEvent{
			Type:           domain.MessageUpdated,
			ConversationID: conversationID,
		})
	}
	return n, nil
}

func (r *notifyingMessageRepository) MarkMessageRead(ctx context.Context, conversationID, messageID string) error {
	if err := r.MessageRepository.MarkMessageRead(ctx, conversationID, messageID); err != nil {
		return err
	}
	publish(ctx, r.pub, domain.ConversationChannel(conversationID).Name(), domain.RealtimeEvent{
		Type:           domain.MessageUpdated,
		ConversationID: conversationID,
	})
	return nil
}

func publish(ctx context.Context, pub Publisher, channel string, ev domain.RealtimeEvent) {
	if err := pub.Publish(ctx, channel, ev); err != nil {
		logger.Log.Warn("publish realtime event failed",
			zap.String("channel", channel),
			zap.String("type", string(ev.Type)),
			zap.Error(err))
	}
}
