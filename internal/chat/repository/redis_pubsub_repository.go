package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPubSub definition redis pub/sub, serves as Publisher and RealtimeTransport
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish 將 event 序列化後，發布到指定 channel
func (r *RedisPubSub) Publish(ctx context.Context, channel string, ev domain.RealtimeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// OpenChannel subscribe and wait for the subscription confirmation
func (r *RedisPubSub) OpenChannel(ctx context.Context, name string) (ChannelSubscription, error) {
	sub := r.client.Subscribe(ctx, name)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	c := &redisChannel{
		name:   name,
		sub:    sub,
		cancel: cancel,
	}
	go c.listen(listenCtx)
	return c, nil
}

// CloseChannel stop the reader goroutine and unsubscribe
func (r *RedisPubSub) CloseChannel(s ChannelSubscription) error {
	c, ok := s.(*redisChannel)
	if !ok {
		return errors.New("not a redis channel")
	}
	// callbacks may still be running, CloseChannel can be called from one of them
	c.cancel()
	return c.sub.Close()
}

type channelListener struct {
	eventType domain.EventType
	filter    domain.EventFilter
	cb        func(domain.RealtimeEvent)
}

type redisChannel struct {
	name   string
	sub    *redis.PubSub
	cancel context.CancelFunc

	mu        sync.RWMutex
	listeners []channelListener
}

func (c *redisChannel) Name() string {
	return c.name
}

func (c *redisChannel) On(eventType domain.EventType, filter domain.EventFilter, cb func(domain.RealtimeEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, channelListener{eventType: eventType, filter: filter, cb: cb})
}

func (c *redisChannel) listen(ctx context.Context) {
	ch := c.sub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.RealtimeEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				logger.Log.Error("realtime event decode failed", zap.String("channel", c.name), zap.Error(err))
				continue
			}
			dispatch(c.snapshot(), ev)
		case <-ctx.Done():
			logger.Log.Debug("channel closed", zap.String("channel", c.name))
			return
		}
	}
}

func (c *redisChannel) snapshot() []channelListener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]channelListener(nil), c.listeners...)
}

func dispatch(listeners []channelListener, ev domain.RealtimeEvent) {
	for _, l := range listeners {
		if l.eventType == ev.Type && l.filter.Match(ev) {
			l.cb(ev)
		}
	}
}
