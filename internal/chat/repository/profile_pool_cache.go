package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/database"
	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

const profilePoolKey = "chat:bot:profile_pool"

type redisProfilePool struct {
	repo database.RedisRepository[[]domain.Profile]
}

// NewRedisProfilePool profile pool shared by every instance through redis
func NewRedisProfilePool(repo database.RedisRepository[[]domain.Profile]) ProfilePoolCache {
	return &redisProfilePool{repo: repo}
}

func (p *redisProfilePool) Get(ctx context.Context) ([]domain.Profile, bool) {
	profiles, err := p.repo.Get(ctx, profilePoolKey)
	if err != nil {
		if !errors.Is(err, database.ErrRedisNil) {
			logger.Log.Warn("profile pool read failed", zap.Error(err))
		}
		return nil, false
	}
	return profiles, len(profiles) > 0
}

func (p *redisProfilePool) Set(ctx context.Context, profiles []domain.Profile, ttl time.Duration) error {
	return p.repo.Set(ctx, profilePoolKey, profiles, ttl)
}

// MemoryProfilePool process local profile pool
type MemoryProfilePool struct {
	mu       sync.Mutex
	profiles []domain.Profile
	expires  time.Time
	now      func() time.Time
}

// NewMemoryProfilePool create MemoryProfilePool
func NewMemoryProfilePool() *MemoryProfilePool {
	return &MemoryProfilePool{now: time.Now}
}

func (p *MemoryProfilePool) Get(_ context.Context) ([]domain.Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.profiles) == 0 || !p.now().Before(p.expires) {
		return nil, false
	}
	out := make([]domain.Profile, len(p.profiles))
	copy(out, p.profiles)
	return out, true
}

func (p *MemoryProfilePool) Set(_ context.Context, profiles []domain.Profile, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles = append([]domain.Profile(nil), profiles...)
	p.expires = p.now().Add(ttl)
	return nil
}
