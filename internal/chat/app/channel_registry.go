package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	errprocess "chat_sync_service/pkg/err"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/metrics"

	"go.uber.org/zap"
)

var allEventTypes = []domain.EventType{
	domain.MessageInserted,
	domain.MessageUpdated,
	domain.ConversationInserted,
	domain.ConversationUpdated,
}

// ChannelLease one acquirer's hold on a shared channel
type ChannelLease struct {
	id       uint64
	key      domain.ChannelKey
	registry *ChannelRegistry
	released int32
}

// Key channel key of the lease
func (l *ChannelLease) Key() domain.ChannelKey {
	return l.key
}

// Release shortcut for registry.Release(l)
func (l *ChannelLease) Release() error {
	return l.registry.Release(l)
}

type channelEntry struct {
	key    domain.ChannelKey
	sub    repository.ChannelSubscription
	err    error
	ready  chan struct{}
	leases map[uint64]domain.EventHandlers
	holder map[uint64]*ChannelLease
}

// ChannelRegistry owns every realtime channel of one client: at most one live
// transport channel per key, reference counted, events fanned out to every lease.
type ChannelRegistry struct {
	transport repository.RealtimeTransport

	mu      sync.Mutex
	entries map[domain.ChannelKey]*channelEntry
	nextID  uint64
}

// NewChannelRegistry create ChannelRegistry
func NewChannelRegistry(transport repository.RealtimeTransport) *ChannelRegistry {
	return &ChannelRegistry{
		transport: transport,
		entries:   make(map[domain.ChannelKey]*channelEntry),
	}
}

// Acquire reuse the live channel of key or open one. handlers receive every
// event of the channel for as long as the lease is held.
func (r *ChannelRegistry) Acquire(ctx context.Context, key domain.ChannelKey, handlers domain.EventHandlers) (*ChannelLease, error) {
	if !key.Valid() {
		return nil, errprocess.New(domain.ErrValidation, "acquire channel", "invalid channel key")
	}

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &channelEntry{
			key:    key,
			ready:  make(chan struct{}),
			leases: make(map[uint64]domain.EventHandlers),
			holder: make(map[uint64]*ChannelLease),
		}
		r.entries[key] = e
	}
	r.nextID++
	lease := &ChannelLease{id: r.nextID, key: key, registry: r}
	e.leases[lease.id] = copyHandlers(handlers)
	e.holder[lease.id] = lease
	r.mu.Unlock()

	if !ok {
		r.open(ctx, e)
	}

	// a channel that is already open wins over a cancelled ctx
	select {
	case <-e.ready:
	default:
		select {
		case <-e.ready:
		case <-ctx.Done():
			_ = r.Release(lease)
			return nil, errprocess.Wrap(domain.ErrTransport, "acquire channel "+key.Name(), ctx.Err())
		}
	}
	if e.err != nil {
		return nil, errprocess.Wrap(domain.ErrTransport, "acquire channel "+key.Name(), e.err)
	}
	return lease, nil
}

func (r *ChannelRegistry) open(ctx context.Context, e *channelEntry) {
	sub, err := r.transport.OpenChannel(ctx, e.key.Name())

	r.mu.Lock()
	if err != nil {
		metrics.ChannelOpens.WithLabelValues("error").Inc()
		if r.entries[e.key] == e {
			delete(r.entries, e.key)
		}
		e.err = err
		e.leases = map[uint64]domain.EventHandlers{}
		e.holder = map[uint64]*ChannelLease{}
		close(e.ready)
		r.mu.Unlock()
		return
	}
	metrics.ChannelOpens.WithLabelValues("ok").Inc()
	metrics.ChannelsActive.Inc()

	filter := domain.EventFilter{ConversationID: e.key.ConversationID}
	for _, t := range allEventTypes {
		sub.On(t, filter, func(ev domain.RealtimeEvent) {
			r.dispatch(e, ev)
		})
	}
	e.sub = sub

	// every acquirer gave up while the channel was opening
	orphan := len(e.leases) == 0
	if orphan && r.entries[e.key] == e {
		delete(r.entries, e.key)
	}
	close(e.ready)
	r.mu.Unlock()

	if orphan {
		r.teardown(e)
	}
}

func (r *ChannelRegistry) dispatch(e *channelEntry, ev domain.RealtimeEvent) {
	r.mu.Lock()
	ids := make([]uint64, 0, len(e.leases))
	for id := range e.leases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	callbacks := make([]func(domain.RealtimeEvent), 0, len(ids))
	for _, id := range ids {
		if cb, ok := e.leases[id][ev.Type]; ok && cb != nil {
			callbacks = append(callbacks, cb)
		}
	}
	r.mu.Unlock()

	for _, cb := range callbacks {
		cb(ev)
	}
}

// Release drop a lease, idempotent. The last lease closes the transport channel;
// the entry is removed even when close fails and the failure is not retried.
func (r *ChannelRegistry) Release(lease *ChannelLease) error {
	if lease == nil || !atomic.CompareAndSwapInt32(&lease.released, 0, 1) {
		return nil
	}

	r.mu.Lock()
	e, ok := r.entries[lease.key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(e.leases, lease.id)
	delete(e.holder, lease.id)
	// still opening, open() tears it down if nobody is left
	if len(e.leases) > 0 || e.sub == nil {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, lease.key)
	r.mu.Unlock()

	return r.teardown(e)
}

func (r *ChannelRegistry) teardown(e *channelEntry) error {
	metrics.ChannelsActive.Dec()
	if err := r.transport.CloseChannel(e.sub); err != nil {
		metrics.ChannelTeardownFailures.Inc()
		return errprocess.Wrap(domain.ErrChannelTeardown, "release channel "+e.key.Name(), err)
	}
	logger.Log.Debug("channel released", zap.String("channel", e.key.Name()))
	return nil
}

// ReleaseAll drop every lease held through the registry
func (r *ChannelRegistry) ReleaseAll() error {
	r.mu.Lock()
	var leases []*ChannelLease
	for _, e := range r.entries {
		for _, l := range e.holder {
			leases = append(leases, l)
		}
	}
	r.mu.Unlock()

	var errs []error
	for _, l := range leases {
		if err := r.Release(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Live keys of the open channels
func (r *ChannelRegistry) Live() []domain.ChannelKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]domain.ChannelKey, 0, len(r.entries))
	for k, e := range r.entries {
		if e.sub != nil {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name() < keys[j].Name() })
	return keys
}

// LiveCount number of open channels
func (r *ChannelRegistry) LiveCount() int {
	return len(r.Live())
}

// RefCount leases held on key
func (r *ChannelRegistry) RefCount(key domain.ChannelKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return len(e.leases)
	}
	return 0
}

func copyHandlers(h domain.EventHandlers) domain.EventHandlers {
	out := make(domain.EventHandlers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
