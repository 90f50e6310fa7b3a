package app

import (
	"context"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// SubscriptionState per conversation subscription state
type SubscriptionState int

const (
	// Unsubscribed no channel held
	Unsubscribed SubscriptionState = iota
	// Subscribing channel acquire in flight
	Subscribing
	// Subscribed channel held, inbound messages are merged
	Subscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	}
	return "unsubscribed"
}

// conversationRefresher full conversation list recompute, implemented by ConversationService
type conversationRefresher interface {
	Refresh(ctx context.Context, trigger string) error
}

type conversationSubscription struct {
	state SubscriptionState
	lease *ChannelLease
	// refs Subscribe calls not yet matched by Unsubscribe
	refs int
}

// RealtimeSyncController subscribes the client to conversation channels and the
// global update channel and turns inbound events into store merges and refreshes
type RealtimeSyncController struct {
	user      domain.LocalUser
	registry  *ChannelRegistry
	store     *EntityStore
	messages  repository.MessageRepository
	refresher conversationRefresher
	window    time.Duration

	// ctx scopes I/O started from transport callbacks
	ctx context.Context

	mu     sync.Mutex
	subs   map[string]*conversationSubscription
	global *ChannelLease
}

// NewRealtimeSyncController create RealtimeSyncController
func NewRealtimeSyncController(
	ctx context.Context,
	user domain.LocalUser,
	registry *ChannelRegistry,
	store *EntityStore,
	messages repository.MessageRepository,
	refresher conversationRefresher,
	window time.Duration,
) *RealtimeSyncController {
	return &RealtimeSyncController{
		user:      user,
		registry:  registry,
		store:     store,
		messages:  messages,
		refresher: refresher,
		window:    window,
		ctx:       ctx,
		subs:      make(map[string]*conversationSubscription),
	}
}

// Subscribe acquire the conversation channel. Calling it again while
// subscribing or subscribed only adds a reference, each one is dropped by an
// Unsubscribe. A failed acquire leaves the conversation unsubscribed with a
// TransportFailure on its error state.
func (c *RealtimeSyncController) Subscribe(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errprocess.New(domain.ErrValidation, "subscribe", "missing conversation id")
	}

	c.mu.Lock()
	if sub, ok := c.subs[conversationID]; ok {
		sub.refs++
		c.mu.Unlock()
		return nil
	}
	sub := &conversationSubscription{state: Subscribing, refs: 1}
	c.subs[conversationID] = sub
	c.mu.Unlock()

	lease, err := c.registry.Acquire(ctx, domain.ConversationChannel(conversationID), domain.EventHandlers{
		domain.MessageInserted: c.onConversationMessage,
	})

	c.mu.Lock()
	if err != nil {
		if c.subs[conversationID] == sub {
			delete(c.subs, conversationID)
		}
		c.mu.Unlock()
		c.store.SetError(conversationID, err)
		return err
	}
	if c.subs[conversationID] != sub {
		// unsubscribed while the channel was opening
		c.mu.Unlock()
		c.releaseLease(lease)
		return nil
	}
	sub.state = Subscribed
	sub.lease = lease
	c.mu.Unlock()

	logger.Log.Debug("conversation subscribed", zap.String("user", c.user.ID), zap.String("conversation", conversationID))
	return nil
}

// Unsubscribe drop one reference, the channel is released with the last one.
// No-op when not subscribed.
func (c *RealtimeSyncController) Unsubscribe(conversationID string) {
	c.mu.Lock()
	sub, ok := c.subs[conversationID]
	if ok {
		sub.refs--
		if sub.refs > 0 {
			c.mu.Unlock()
			return
		}
		delete(c.subs, conversationID)
	}
	c.mu.Unlock()

	if ok && sub.lease != nil {
		c.releaseLease(sub.lease)
	}
}

// drop release the conversation channel whatever the reference count
func (c *RealtimeSyncController) drop(conversationID string) {
	c.mu.Lock()
	sub, ok := c.subs[conversationID]
	if ok {
		delete(c.subs, conversationID)
	}
	c.mu.Unlock()

	if ok && sub.lease != nil {
		c.releaseLease(sub.lease)
	}
}

// State subscription state of a conversation
func (c *RealtimeSyncController) State(conversationID string) SubscriptionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[conversationID]; ok {
		return sub.state
	}
	return Unsubscribed
}

// MountGlobal hold the global update channel, every conversation change or
// message insert triggers a full conversation list refresh
func (c *RealtimeSyncController) MountGlobal(ctx context.Context) error {
	c.mu.Lock()
	if c.global != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	lease, err := c.registry.Acquire(ctx, domain.GlobalUpdatesChannel(), domain.EventHandlers{
		domain.ConversationInserted: c.onGlobalEvent,
		domain.ConversationUpdated:  c.onGlobalEvent,
		domain.MessageInserted:      c.onGlobalEvent,
	})
	if err != nil {
		c.store.SetError(ListKey, err)
		return err
	}

	c.mu.Lock()
	if c.global != nil {
		c.mu.Unlock()
		c.releaseLease(lease)
		return nil
	}
	c.global = lease
	c.mu.Unlock()
	return nil
}

// UnmountGlobal release the global update channel
func (c *RealtimeSyncController) UnmountGlobal() {
	c.mu.Lock()
	lease := c.global
	c.global = nil
	c.mu.Unlock()
	if lease != nil {
		c.releaseLease(lease)
	}
}

// Close release the global channel and every conversation channel
func (c *RealtimeSyncController) Close() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.drop(id)
	}
	c.UnmountGlobal()
}

func (c *RealtimeSyncController) releaseLease(lease *ChannelLease) {
	// teardown failures are already logged and counted
	_ = c.registry.Release(lease)
}

func (c *RealtimeSyncController) onConversationMessage(ev domain.RealtimeEvent) {
	if ev.Message == nil {
		return
	}
	c.HandleInbound(c.ctx, *ev.Message)
}

func (c *RealtimeSyncController) onGlobalEvent(ev domain.RealtimeEvent) {
	c.refresh(c.ctx, "global:"+string(ev.Type))
}

// HandleInbound merge a message received from the channel or emitted by a bot.
// Messages from other senders are marked read, then the list is refreshed.
func (c *RealtimeSyncController) HandleInbound(ctx context.Context, msg domain.Message) MergeResult {
	res := c.store.MergeInbound(msg, c.window)
	if !res.Applied {
		return res
	}

	if msg.SenderID != c.user.ID {
		c.store.MarkMessageRead(msg.ConversationID, msg.ID)
		if id, ok := msg.ID.Persisted(); ok && !domain.IsBotID(msg.SenderID) {
			if err := c.messages.MarkMessageRead(ctx, msg.ConversationID, id); err != nil {
				logger.Log.Warn("mark message read failed",
					zap.String("conversation", msg.ConversationID),
					zap.String("message", id),
					zap.Error(err))
			}
		}
	}

	c.refresh(ctx, "inbound")
	return res
}

func (c *RealtimeSyncController) refresh(ctx context.Context, trigger string) {
	if err := c.refresher.Refresh(ctx, trigger); err != nil {
		logger.Log.Warn("conversation refresh failed", zap.String("trigger", trigger), zap.Error(err))
	}
}
