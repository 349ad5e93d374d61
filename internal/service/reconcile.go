package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"verifyflow/internal/model"
	"verifyflow/internal/repository"
	"verifyflow/internal/verification"
	pkgerrors "verifyflow/pkg/errors"
)

// errStaleReconcile 对账期间进度被其他请求修改，本次结果作废
var errStaleReconcile = stderrors.New("progress changed during reconciliation")

// sweepConcurrency 定时对账时同一页内的并发数
const sweepConcurrency = 4

// ReconcileReport 一次对账的结果
type ReconcileReport struct {
	ProviderID  string                        `json:"provider_id"`
	Corrections []verification.FlagCorrection `json:"corrections"`
	CurrentStep int                           `json:"current_step"`
	StepMoved   bool                          `json:"step_moved"`
	Persisted   bool                          `json:"persisted"`
}

// Reconcile 以实际步骤数据为准修正完成标记
//
// 直接读存储，不经过缓存。没有进度行时什么都不做。
func (s *VerificationService) Reconcile(ctx context.Context, providerID string) (*ReconcileReport, error) {
	if err := RequireProvider(providerID); err != nil {
		return nil, err
	}

	report := &ReconcileReport{ProviderID: providerID}
	progress, err := s.store.ReadProgress(ctx, providerID)
	if stderrors.Is(err, pkgerrors.ProgressNotFound) {
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	data, err := s.store.ReadAllStepData(ctx, providerID)
	if err != nil {
		return nil, err
	}

	res := s.evaluator.ReconcileFlags(progress, data)
	report.Corrections = res.Corrections
	report.CurrentStep = res.CurrentStep
	report.StepMoved = res.StepMoved
	if !res.Changed() {
		return report, nil
	}

	if _, err := s.persistReconcile(ctx, providerID, progress, res, "manual"); err != nil {
		return report, err
	}
	report.Persisted = true

	if _, err := s.cache.Invalidate(ctx, providerID); err != nil {
		s.log.Warn("Failed to invalidate progress cache after reconciliation",
			zap.String("provider_id", providerID),
			zap.Error(err),
		)
	}
	s.publish(ctx, providerID, model.TableProgress)
	return report, nil
}

// persistReconcile 写回修正后的完成表；行在读取后被改过则放弃
func (s *VerificationService) persistReconcile(
	ctx context.Context,
	providerID string,
	read *model.VerificationProgress,
	res verification.ReconcileResult,
	trigger string,
) (*model.VerificationProgress, error) {
	s.log.Warn("InconsistencyWarning: step completion flags disagree with step data",
		zap.String("provider_id", providerID),
		zap.String("trigger", trigger),
		zap.Any("corrections", res.Corrections),
		zap.Int("stored_current_step", read.CurrentStep),
		zap.Int("current_step", res.CurrentStep),
	)
	s.metrics.RecordReconcileCorrections(ctx, trigger, len(res.Corrections))

	expected := read.UpdatedAt
	currentStep := res.CurrentStep
	patch := repository.ProgressPatch{
		Steps:        res.Flags,
		ReplaceSteps: true,
		CurrentStep:  &currentStep,
		Finalize: func(p *model.VerificationProgress, _ time.Time) error {
			if !sameRevision(p.UpdatedAt, expected) {
				return errStaleReconcile
			}
			return nil
		},
	}

	p, err := withRetry(ctx, s, "upsert_progress", providerID, func(ctx context.Context) (*model.VerificationProgress, error) {
		return s.store.UpsertProgress(ctx, providerID, patch)
	})
	if err != nil {
		if stderrors.Is(err, errStaleReconcile) {
			s.log.Info("Skipping reconciliation, progress changed concurrently",
				zap.String("provider_id", providerID),
			)
		} else {
			s.log.Error("Failed to persist reconciled flags",
				zap.String("provider_id", providerID),
				zap.Error(err),
			)
		}
		return nil, err
	}
	return p, nil
}

// sameRevision 按数据库的微秒精度比较 updated_at
func sameRevision(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// SweepResult 一轮定时对账的统计
type SweepResult struct {
	Scanned   int
	Corrected int
	Failed    int
}

// SweepReconcile 分页扫描仍在流程中的进度并逐个对账；单个失败只记录日志
func (s *VerificationService) SweepReconcile(ctx context.Context, batch int) (SweepResult, error) {
	var (
		result    SweepResult
		corrected atomic.Int64
		failed    atomic.Int64
	)

	filter := repository.ListFilter{
		Statuses: []model.VerificationStatus{model.StatusPending, model.StatusInProgress, model.StatusRejected},
		Limit:    batch,
	}
	for {
		page, err := s.store.ListProgress(ctx, filter)
		if err != nil {
			return result, fmt.Errorf("list progress: %w", err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(sweepConcurrency)
		for i := range page {
			providerID := page[i].ProviderID
			g.Go(func() error {
				report, err := s.Reconcile(gctx, providerID)
				if err != nil {
					failed.Add(1)
					return nil
				}
				if report.Persisted {
					corrected.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		result.Scanned += len(page)
		filter.AfterProviderID = page[len(page)-1].ProviderID
		if err := ctx.Err(); err != nil {
			break
		}
		if filter.Limit > 0 && len(page) < filter.Limit {
			break
		}
	}

	result.Corrected = int(corrected.Load())
	result.Failed = int(failed.Load())
	return result, ctx.Err()
}

// AbandonedSession 长时间未更新的进行中会话
type AbandonedSession struct {
	ProviderID string
	Recovery   verification.SessionRecovery
}

// ScanAbandoned 找出进行中且超过 AbandonAfter 未更新的会话
func (s *VerificationService) ScanAbandoned(ctx context.Context, batch int) ([]AbandonedSession, error) {
	now := s.now()
	filter := repository.ListFilter{
		Statuses:      []model.VerificationStatus{model.StatusInProgress},
		UpdatedBefore: now.Add(-s.abandonAfter),
		Limit:         batch,
	}

	var out []AbandonedSession
	for {
		page, err := s.store.ListProgress(ctx, filter)
		if err != nil {
			return out, fmt.Errorf("list progress: %w", err)
		}
		for i := range page {
			p := &page[i]
			data, err := s.store.ReadAllStepData(ctx, p.ProviderID)
			if err != nil {
				s.log.Warn("Failed to read step data for abandoned session",
					zap.String("provider_id", p.ProviderID),
					zap.Error(err),
				)
				continue
			}
			rec := s.navigator.CheckIncompleteSession(p, data, now, s.abandonAfter)
			if rec.Abandoned {
				out = append(out, AbandonedSession{ProviderID: p.ProviderID, Recovery: rec})
			}
		}
		if len(page) == 0 || (filter.Limit > 0 && len(page) < filter.Limit) {
			break
		}
		filter.AfterProviderID = page[len(page)-1].ProviderID
	}
	return out, nil
}
