package cache

import (
	"context"
	"sync"
	"time"

	"verifyflow/internal/model"
)

type localEntry struct {
	raw     []byte
	expires time.Time
}

// LocalViewCache 进程内实现，单实例部署和测试使用；同样以字节存储，保证回滚后逐字节一致
type LocalViewCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	views map[string]localEntry
	gens  map[string]int64
}

var _ ViewCache = (*LocalViewCache)(nil)

// NewLocalViewCache now 为空时使用 time.Now
func NewLocalViewCache(ttl time.Duration, now func() time.Time) *LocalViewCache {
	if ttl <= 0 {
		ttl = defaultViewTTL
	}
	if now == nil {
		now = time.Now
	}
	return &LocalViewCache{
		ttl:   ttl,
		now:   now,
		views: map[string]localEntry{},
		gens:  map[string]int64{},
	}
}

// lookup 调用方需持有锁；过期条目顺手清理
func (c *LocalViewCache) lookup(providerID string) (localEntry, bool) {
	e, ok := c.views[providerID]
	if !ok {
		return localEntry{}, false
	}
	if !c.now().Before(e.expires) {
		delete(c.views, providerID)
		return localEntry{}, false
	}
	return e, true
}

func (c *LocalViewCache) Get(ctx context.Context, providerID string) (*model.CachedProgressView, bool, error) {
	c.mu.Lock()
	e, ok := c.lookup(providerID)
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	view, err := decodeView(e.raw)
	if err != nil {
		c.mu.Lock()
		delete(c.views, providerID)
		c.mu.Unlock()
		return nil, false, nil
	}
	return view, true, nil
}

func (c *LocalViewCache) Set(ctx context.Context, providerID string, view *model.CachedProgressView) error {
	raw, err := encodeView(view)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[providerID] = localEntry{raw: raw, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *LocalViewCache) SetIfGeneration(ctx context.Context, providerID string, view *model.CachedProgressView, generation int64) (bool, error) {
	raw, err := encodeView(view)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[providerID] != generation {
		return false, nil
	}
	c.views[providerID] = localEntry{raw: raw, expires: c.now().Add(c.ttl)}
	return true, nil
}

func (c *LocalViewCache) Invalidate(ctx context.Context, providerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, providerID)
	c.gens[providerID]++
	return c.gens[providerID], nil
}

func (c *LocalViewCache) Generation(ctx context.Context, providerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[providerID], nil
}

func (c *LocalViewCache) Snapshot(ctx context.Context, providerID string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{ProviderID: providerID, Generation: c.gens[providerID]}
	e, ok := c.lookup(providerID)
	if !ok {
		return snap, nil
	}
	snap.Raw = append([]byte(nil), e.raw...)
	snap.Present = true
	snap.TTL = e.expires.Sub(c.now())
	return snap, nil
}

func (c *LocalViewCache) Restore(ctx context.Context, snap Snapshot) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[snap.ProviderID] != snap.Generation {
		return false, nil
	}
	if !snap.Present {
		delete(c.views, snap.ProviderID)
		return true, nil
	}
	ttl := snap.TTL
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.views[snap.ProviderID] = localEntry{
		raw:     append([]byte(nil), snap.Raw...),
		expires: c.now().Add(ttl),
	}
	return true, nil
}

// Raw 返回当前存储的原始字节，测试用来做逐字节比较
func (c *LocalViewCache) Raw(providerID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(providerID)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.raw...), true
}
