package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLocalViewCacheExpires(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLocalViewCache(30*time.Second, clock.Now)

	require.NoError(t, c.Set(ctx, "prov-1", seededView("prov-1")))

	view, ok, err := c.Get(ctx, "prov-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, view.Progress.CurrentStep)

	clock.Advance(30 * time.Second)
	_, ok, _ = c.Get(ctx, "prov-1")
	assert.False(t, ok)
}

func TestLocalViewCacheGenerationGuard(t *testing.T) {
	ctx := context.Background()
	c := NewLocalViewCache(time.Minute, nil)

	gen, err := c.Generation(ctx, "prov-1")
	require.NoError(t, err)

	// 读取过程中发生失效，旧结果不能写入
	_, err = c.Invalidate(ctx, "prov-1")
	require.NoError(t, err)

	stored, err := c.SetIfGeneration(ctx, "prov-1", seededView("prov-1"), gen)
	require.NoError(t, err)
	assert.False(t, stored)
	_, ok, _ := c.Get(ctx, "prov-1")
	assert.False(t, ok)

	gen, _ = c.Generation(ctx, "prov-1")
	stored, err = c.SetIfGeneration(ctx, "prov-1", seededView("prov-1"), gen)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestLocalViewCacheSnapshotRestoreAbsent(t *testing.T) {
	ctx := context.Background()
	c := NewLocalViewCache(time.Minute, nil)

	snap, err := c.Snapshot(ctx, "prov-1")
	require.NoError(t, err)
	assert.False(t, snap.Present)

	require.NoError(t, c.Set(ctx, "prov-1", seededView("prov-1")))
	restored, err := c.Restore(ctx, snap)
	require.NoError(t, err)
	assert.True(t, restored)

	_, ok := c.Raw("prov-1")
	assert.False(t, ok)
}

func TestSnapshotView(t *testing.T) {
	ctx := context.Background()
	c := NewLocalViewCache(time.Minute, nil)
	require.NoError(t, c.Set(ctx, "prov-1", seededView("prov-1")))

	snap, err := c.Snapshot(ctx, "prov-1")
	require.NoError(t, err)
	view, err := snap.View()
	require.NoError(t, err)
	assert.True(t, view.Progress.StepsCompleted[2])

	empty, err := Snapshot{}.View()
	assert.NoError(t, err)
	assert.Nil(t, empty)
}
