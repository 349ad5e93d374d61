package schedule

// 对账调度器：定期扫描仍在流程中的进度，修正完成标记与实际数据的偏差，
// 同时报告长时间未更新的中断会话

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"verifyflow/internal/cache"
	"verifyflow/internal/service"
)

const (
	sweepLockKey     = "schedule:reconcile"
	abandonedLockKey = "schedule:abandoned"
)

// ReconcileScheduler 同一进程内同一任务不重入；配置了 redis 时多副本之间也只有一个实例执行
type ReconcileScheduler struct {
	svc    *service.VerificationService
	redis  goredis.UniversalClient
	logger *zap.Logger
	batch  int

	mu      sync.Mutex
	running map[string]bool

	lastSweep service.SweepResult
}

func NewReconcileScheduler(svc *service.VerificationService, redis goredis.UniversalClient, batch int, logger *zap.Logger) *ReconcileScheduler {
	if batch <= 0 {
		batch = 200
	}
	return &ReconcileScheduler{
		svc:     svc,
		redis:   redis,
		logger:  logger,
		batch:   batch,
		running: map[string]bool{},
	}
}

// begin 标记任务开始；已在运行或锁被其他实例持有时返回 false
func (s *ReconcileScheduler) begin(ctx context.Context, job string, ttl time.Duration) (func(), bool) {
	s.mu.Lock()
	if s.running[job] {
		s.mu.Unlock()
		s.logger.Info("Job already running, skipping", zap.String("job", job))
		return nil, false
	}
	s.running[job] = true
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.running, job)
		s.mu.Unlock()
	}

	if s.redis == nil {
		return release, true
	}

	lock, err := cache.TryLock(ctx, s.redis, job, ttl)
	if err != nil || lock == nil {
		if err != nil {
			s.logger.Warn("Failed to acquire scheduler lock", zap.String("job", job), zap.Error(err))
		} else {
			s.logger.Debug("Scheduler lock held by another instance", zap.String("job", job))
		}
		release()
		return nil, false
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			s.logger.Warn("Failed to release scheduler lock", zap.String("job", job), zap.Error(err))
		}
		release()
	}, true
}

// RunSweep 执行一轮对账
func (s *ReconcileScheduler) RunSweep(ctx context.Context, timeout time.Duration) (service.SweepResult, bool) {
	done, ok := s.begin(ctx, sweepLockKey, timeout)
	if !ok {
		return service.SweepResult{}, false
	}
	defer done()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := s.svc.SweepReconcile(runCtx, s.batch)
	if err != nil {
		s.logger.Error("Reconcile sweep failed", zap.Error(err))
	}

	s.mu.Lock()
	s.lastSweep = res
	s.mu.Unlock()

	s.logger.Info("Reconcile sweep finished",
		zap.Int("scanned", res.Scanned),
		zap.Int("corrected", res.Corrected),
		zap.Int("failed", res.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, true
}

// RunAbandonedScan 报告中断会话，只记录不修改
func (s *ReconcileScheduler) RunAbandonedScan(ctx context.Context, timeout time.Duration) ([]service.AbandonedSession, bool) {
	done, ok := s.begin(ctx, abandonedLockKey, timeout)
	if !ok {
		return nil, false
	}
	defer done()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sessions, err := s.svc.ScanAbandoned(runCtx, s.batch)
	if err != nil {
		s.logger.Error("Abandoned session scan failed", zap.Error(err))
	}
	for _, a := range sessions {
		s.logger.Info("Abandoned verification session",
			zap.String("provider_id", a.ProviderID),
			zap.Duration("idle", a.Recovery.Idle),
			zap.Int("resume_step", a.Recovery.ResumeStep),
			zap.String("resume_route", string(a.Recovery.ResumeRoute)),
		)
	}
	return sessions, true
}

// LastSweep 最近一轮对账的结果
func (s *ReconcileScheduler) LastSweep() service.SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

// Loop 按固定间隔执行，直到 ctx 取消
func (s *ReconcileScheduler) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunSweep(ctx, interval)
			s.RunAbandonedScan(ctx, interval)
		}
	}
}
