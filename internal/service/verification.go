package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"verifyflow/internal/cache"
	"verifyflow/internal/model"
	"verifyflow/internal/queue"
	"verifyflow/internal/repository"
	"verifyflow/internal/verification"
	pkgerrors "verifyflow/pkg/errors"
	"verifyflow/pkg/logger"
	"verifyflow/pkg/metrics"
)

// 合并后的读取不受单个调用方取消的影响，但必须有上限
const loadTimeout = 10 * time.Second

// Deps VerificationService 的全部依赖，由 cmd 显式组装
type Deps struct {
	Store     repository.ProgressStore
	Cache     cache.ViewCache
	Publisher queue.Publisher
	Evaluator *verification.Evaluator
	Conflicts *verification.ConflictDetector
	Retry     RetryPolicy
	Clock     func() time.Time
	Logger    *zap.Logger
	Metrics   *metrics.VerificationMetrics
	// AbandonAfter 进行中的会话多久未更新视为中断
	AbandonAfter time.Duration
}

// VerificationService 认证流程的同步层：缓存读、乐观写、回滚与失效
type VerificationService struct {
	store     repository.ProgressStore
	cache     cache.ViewCache
	publisher queue.Publisher
	evaluator *verification.Evaluator
	navigator *verification.Navigator
	conflicts *verification.ConflictDetector
	retry     RetryPolicy
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.VerificationMetrics

	abandonAfter time.Duration

	locks *cache.KeyedMutex
	group singleflight.Group
}

func NewVerificationService(d Deps) (*VerificationService, error) {
	if d.Store == nil || d.Cache == nil {
		return nil, fmt.Errorf("verification service requires a store and a cache")
	}
	if d.Evaluator == nil {
		d.Evaluator = verification.NewEvaluator(verification.DefaultRegistry())
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Logger == nil {
		d.Logger = logger.Named("verification")
	}
	if d.Retry.MaxAttempts == 0 {
		d.Retry = DefaultRetryPolicy()
	}
	if d.AbandonAfter <= 0 {
		d.AbandonAfter = verification.DefaultAbandonAfter
	}

	return &VerificationService{
		store:        d.Store,
		cache:        d.Cache,
		publisher:    d.Publisher,
		evaluator:    d.Evaluator,
		navigator:    verification.NewNavigator(d.Evaluator),
		conflicts:    d.Conflicts,
		retry:        d.Retry,
		now:          d.Clock,
		log:          d.Logger,
		metrics:      d.Metrics,
		abandonAfter: d.AbandonAfter,
		locks:        cache.NewKeyedMutex(),
	}, nil
}

// Registry 当前使用的步骤注册表
func (s *VerificationService) Registry() *verification.Registry {
	return s.evaluator.Registry()
}

// Navigator 导航解析器
func (s *VerificationService) Navigator() *verification.Navigator {
	return s.navigator
}

// RequireProvider 没有已认证的服务商时返回 Unauthorized
func RequireProvider(providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		return pkgerrors.Unauthorized
	}
	return nil
}

// GetVerificationData 读取进度视图，优先缓存
//
// 未命中时同一服务商的并发读取合并为一次；读取期间缓存被失效过则结果不写回缓存。
// 调用方取消后直接返回，合并的读取继续完成。
func (s *VerificationService) GetVerificationData(ctx context.Context, providerID string) (*model.CachedProgressView, error) {
	if err := RequireProvider(providerID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	view, ok, err := s.cache.Get(ctx, providerID)
	if err != nil {
		s.log.Warn("Progress cache read failed, falling back to store",
			zap.String("provider_id", providerID),
			zap.Error(err),
		)
	} else if ok {
		s.metrics.RecordCacheLookup(ctx, true)
		return view, nil
	}
	s.metrics.RecordCacheLookup(ctx, false)

	ch := s.group.DoChan(providerID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.loadView(loadCtx, providerID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.CachedProgressView).Clone(), nil
	}
}

// loadView 从存储重建视图并尝试写入缓存
func (s *VerificationService) loadView(ctx context.Context, providerID string) (*model.CachedProgressView, error) {
	gen, genErr := s.cache.Generation(ctx, providerID)

	var (
		progress *model.VerificationProgress
		data     model.StepData
		fresh    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.store.ReadProgress(gctx, providerID)
		if stderrors.Is(err, pkgerrors.ProgressNotFound) {
			fresh = true
			return nil
		}
		progress = p
		return err
	})
	g.Go(func() error {
		d, err := s.store.ReadAllStepData(gctx, providerID)
		data = d
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if fresh {
		progress = s.createDefault(ctx, providerID)
	}

	if res := s.evaluator.ReconcileFlags(progress, data); res.Changed() {
		if updated, err := s.persistReconcile(ctx, providerID, progress, res, "read"); err == nil {
			progress = updated
		} else {
			// 写回失败时视图仍以实际数据为准
			progress = progress.Clone()
			progress.StepsCompleted = res.Flags
			progress.CurrentStep = res.CurrentStep
		}
	}

	view := &model.CachedProgressView{
		Progress:   progress,
		StepData:   data,
		FetchedAt:  s.now(),
		Generation: gen,
	}

	if genErr != nil {
		return view, nil
	}
	stored, err := s.cache.SetIfGeneration(ctx, providerID, view, gen)
	if err != nil {
		s.log.Warn("Failed to fill progress cache",
			zap.String("provider_id", providerID),
			zap.Error(err),
		)
	} else if !stored {
		s.log.Debug("Progress changed during fetch, skipping cache fill",
			zap.String("provider_id", providerID),
			zap.Int64("generation", gen),
		)
	}
	return view, nil
}

// createDefault 首次读取时惰性创建默认进度，写入失败只影响持久化
func (s *VerificationService) createDefault(ctx context.Context, providerID string) *model.VerificationProgress {
	p, err := s.store.UpsertProgress(ctx, providerID, repository.ProgressPatch{})
	if err != nil {
		s.log.Warn("Failed to persist default progress",
			zap.String("provider_id", providerID),
			zap.Error(err),
		)
		return model.NewDefaultProgress(providerID, s.Registry().Count(), s.now())
	}
	s.log.Info("Created verification progress",
		zap.String("provider_id", providerID),
	)
	return p
}

// publish 广播变更；失败只记录日志，本地缓存已经失效
func (s *VerificationService) publish(ctx context.Context, providerID string, tables ...string) {
	if s.publisher == nil {
		return
	}
	for _, table := range tables {
		if err := s.publisher.PublishProgressChanged(ctx, providerID, table); err != nil {
			s.log.Warn("Failed to publish progress change",
				zap.String("provider_id", providerID),
				zap.String("table", table),
				zap.Error(err),
			)
			continue
		}
		s.metrics.RecordInvalidation(ctx, "published", table)
	}
}

// HandleInvalidation 变更通知只会让缓存失效，从不直接写状态
func (s *VerificationService) HandleInvalidation(ctx context.Context, msg model.InvalidationMessage) error {
	if msg.ProviderID == "" {
		return nil
	}
	gen, err := s.cache.Invalidate(ctx, msg.ProviderID)
	if err != nil {
		return fmt.Errorf("invalidate progress cache: %w", err)
	}
	s.metrics.RecordInvalidation(ctx, "consumed", msg.Table)
	s.log.Debug("Progress cache invalidated",
		zap.String("provider_id", msg.ProviderID),
		zap.String("table", msg.Table),
		zap.String("message_id", msg.MessageID),
		zap.Int64("generation", gen),
	)
	return nil
}
