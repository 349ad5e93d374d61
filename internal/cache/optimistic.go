package cache

import (
	"context"

	"verifyflow/internal/model"
)

// OptimisticOutcome 一次乐观更新的过程记录
type OptimisticOutcome struct {
	// Applied 乐观视图已写入缓存
	Applied    bool
	RolledBack bool
	// Superseded attempt 期间条目被失效过，回滚时保持失效状态
	Superseded bool
	// CacheErr 快照、回滚或失效时的缓存错误，不影响调用结果
	CacheErr error
}

// RunOptimistic 快照 -> 写入乐观视图 -> 执行 attempt -> 失败时原样恢复快照，成功时失效
//
// 缓存未命中时不写乐观视图，只在成功后失效。快照失败时无法保证回滚，
// 同样跳过乐观写入。快照之后收到过失效的条目不会被恢复。回滚和失效不受 ctx 取消影响。
func RunOptimistic[T any](
	ctx context.Context,
	c ViewCache,
	providerID string,
	apply func(view *model.CachedProgressView) *model.CachedProgressView,
	attempt func(ctx context.Context) (T, error),
) (T, OptimisticOutcome, error) {
	var out OptimisticOutcome
	detached := context.WithoutCancel(ctx)

	snap, err := c.Snapshot(ctx, providerID)
	if err != nil {
		out.CacheErr = err
	} else if snap.Present && apply != nil {
		current, decodeErr := snap.View()
		if decodeErr == nil && current != nil {
			if patched := apply(current.Clone()); patched != nil {
				if setErr := c.Set(ctx, providerID, patched); setErr != nil {
					out.CacheErr = setErr
				} else {
					out.Applied = true
				}
			}
		}
	}

	result, err := attempt(ctx)
	if err != nil {
		if out.Applied {
			restored, restoreErr := c.Restore(detached, snap)
			switch {
			case restoreErr != nil:
				// 恢复不了就删掉，不能留下乐观视图
				out.CacheErr = restoreErr
				_, _ = c.Invalidate(detached, providerID)
			case restored:
				out.RolledBack = true
			default:
				out.Superseded = true
			}
		}
		return result, out, err
	}

	if _, invErr := c.Invalidate(detached, providerID); invErr != nil {
		out.CacheErr = invErr
	}
	return result, out, nil
}
