package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"verifyflow/internal/model"
)

// ViewCache 进度视图缓存，只是副本，随时可以丢弃
type ViewCache interface {
	// Get 未命中或已过期时 ok 为 false
	Get(ctx context.Context, providerID string) (view *model.CachedProgressView, ok bool, err error)
	Set(ctx context.Context, providerID string, view *model.CachedProgressView) error
	// SetIfGeneration 仅当代数未变化时写入，防止过期的读取结果覆盖新数据
	SetIfGeneration(ctx context.Context, providerID string, view *model.CachedProgressView, generation int64) (bool, error)
	// Invalidate 删除视图并递增代数，返回新的代数
	Invalidate(ctx context.Context, providerID string) (int64, error)
	Generation(ctx context.Context, providerID string) (int64, error)
	// Snapshot 取出原始字节和当时的代数
	Snapshot(ctx context.Context, providerID string) (Snapshot, error)
	// Restore 代数未变化时原样写回；快照之后被失效过则什么都不做，restored 为 false
	Restore(ctx context.Context, snap Snapshot) (restored bool, err error)
}

// Snapshot 某个服务商缓存条目的原始内容
type Snapshot struct {
	ProviderID string
	Raw        []byte
	Present    bool
	// TTL 快照时剩余的有效期
	TTL time.Duration
	// Generation 快照时的代数
	Generation int64
}

// View 解码快照；不存在时返回 nil
func (s Snapshot) View() (*model.CachedProgressView, error) {
	if !s.Present {
		return nil, nil
	}
	return decodeView(s.Raw)
}

func encodeView(view *model.CachedProgressView) ([]byte, error) {
	raw, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal progress view: %w", err)
	}
	return raw, nil
}

func decodeView(raw []byte) (*model.CachedProgressView, error) {
	var view model.CachedProgressView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress view: %w", err)
	}
	return &view, nil
}
