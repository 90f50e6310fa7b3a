package repository

import (
	"context"
	"errors"
	"sync"

	"chat_sync_service/internal/chat/domain"
)

// MemoryPubSub in process Publisher and RealtimeTransport. Publish delivers
// synchronously on the caller goroutine.
type MemoryPubSub struct {
	mu       sync.Mutex
	channels map[string]map[*memoryChannel]struct{}
	opened   map[string]int
}

// NewMemoryPubSub create MemoryPubSub
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{
		channels: make(map[string]map[*memoryChannel]struct{}),
		opened:   make(map[string]int),
	}
}

func (p *MemoryPubSub) Publish(_ context.Context, channel string, ev domain.RealtimeEvent) error {
	p.mu.Lock()
	targets := make([]*memoryChannel, 0, len(p.channels[channel]))
	for c := range p.channels[channel] {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	for _, c := range targets {
		dispatch(c.snapshot(), copyEvent(ev))
	}
	return nil
}

func (p *MemoryPubSub) OpenChannel(ctx context.Context, name string) (ChannelSubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &memoryChannel{name: name}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channels[name] == nil {
		p.channels[name] = make(map[*memoryChannel]struct{})
	}
	p.channels[name][c] = struct{}{}
	p.opened[name]++
	return c, nil
}

func (p *MemoryPubSub) CloseChannel(s ChannelSubscription) error {
	c, ok := s.(*memoryChannel)
	if !ok {
		return errors.New("not a memory channel")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.channels[c.name]
	if _, ok := set[c]; !ok {
		return errors.New("channel already closed")
	}
	delete(set, c)
	if len(set) == 0 {
		delete(p.channels, c.name)
	}
	return nil
}

// LiveChannels number of open subscriptions on name
func (p *MemoryPubSub) LiveChannels(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels[name])
}

// OpenCount how many times name was opened
func (p *MemoryPubSub) OpenCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened[name]
}

type memoryChannel struct {
	name string

	mu        sync.RWMutex
	listeners []channelListener
}

func (c *memoryChannel) Name() string {
	return c.name
}

func (c *memoryChannel) On(eventType domain.EventType, filter domain.EventFilter, cb func(domain.RealtimeEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, channelListener{eventType: eventType, filter: filter, cb: cb})
}

func (c *memoryChannel) snapshot() []channelListener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]channelListener(nil), c.listeners...)
}

// receivers must not share pointers with the publisher
func copyEvent(ev domain.RealtimeEvent) domain.RealtimeEvent {
	if ev.Message != nil {
		m := *ev.Message
		ev.Message = &m
	}
	if ev.Conversation != nil {
		c := *ev.Conversation
		c.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
		ev.Conversation = &c
	}
	return ev
}
