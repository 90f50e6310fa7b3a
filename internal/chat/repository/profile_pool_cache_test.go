package repository

import (
	"context"
	"testing"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProfilePool_Expires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewMemoryProfilePool()
	p.now = func() time.Time { return now }

	_, ok := p.Get(ctx)
	assert.False(t, ok)

	profiles := []domain.Profile{{ID: "p1"}, {ID: "p2"}}
	require.NoError(t, p.Set(ctx, profiles, 5*time.Minute))
	profiles[0].ID = "mutated"

	got, ok := p.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, []domain.Profile{{ID: "p1"}, {ID: "p2"}}, got)
	got[1].ID = "mutated"

	now = now.Add(4 * time.Minute)
	got, ok = p.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "p2", got[1].ID)

	now = now.Add(time.Minute)
	_, ok = p.Get(ctx)
	assert.False(t, ok)
}

func TestMemoryProfilePool_EmptyIsMiss(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProfilePool()
	require.NoError(t, p.Set(ctx, nil, time.Minute))
	_, ok := p.Get(ctx)
	assert.False(t, ok)
}
