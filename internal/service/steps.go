package service

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"verifyflow/internal/cache"
	"verifyflow/internal/model"
	"verifyflow/internal/repository"
	"verifyflow/internal/verification"
	pkgerrors "verifyflow/pkg/errors"
)

// StepResult 一次步骤提交的结果
type StepResult struct {
	Progress  *model.VerificationProgress `json:"progress"`
	NextRoute verification.Route          `json:"next_route"`
	// Tables 本次写入涉及的表
	Tables []string `json:"tables"`

	Outcome cache.OptimisticOutcome `json:"-"`
}

type stepWrite struct {
	progress *model.VerificationProgress
	tables   []string
}

// CompleteStep 提交某一步
//
// 本地校验失败直接返回 ValidationError；同一服务商的提交串行执行。
// 步骤数据与进度在同一个事务里提交，失败时缓存原样恢复到提交前。
func (s *VerificationService) CompleteStep(
	ctx context.Context,
	providerID string,
	step int,
	completed bool,
	payload *model.StepPayload,
) (*StepResult, error) {
	start := s.now()
	if err := RequireProvider(providerID); err != nil {
		return nil, err
	}
	reg := s.Registry()
	if !reg.Valid(step) {
		return nil, &verification.InvalidStepError{Step: step, Count: reg.Count()}
	}
	// 格式检查不需要任何远端数据
	if err := s.evaluator.ValidatePayload(step, model.StepData{}, payload, false); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, providerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	progress, data, err := s.stepState(ctx, providerID, step)
	if err != nil {
		return nil, err
	}
	if completed {
		if err := s.evaluator.ValidatePayload(step, data, payload, true); err != nil {
			return nil, err
		}
	}
	if err := editable(progress.VerificationStatus); err != nil {
		return nil, err
	}

	w, out, err := cache.RunOptimistic(ctx, s.cache, providerID,
		s.optimisticStep(step, completed, payload),
		func(ctx context.Context) (stepWrite, error) {
			return s.persistStep(ctx, providerID, step, completed, payload)
		},
	)
	if out.CacheErr != nil {
		s.log.Warn("Progress cache unavailable during step completion",
			zap.String("provider_id", providerID),
			zap.Int("step", step),
			zap.Error(out.CacheErr),
		)
	}
	if err != nil {
		if out.RolledBack {
			s.metrics.RecordRollback(ctx, step)
		}
		s.metrics.RecordStepCompletion(ctx, step, "failed", s.now().Sub(start).Seconds())
		s.log.Error("Failed to complete verification step",
			zap.String("provider_id", providerID),
			zap.Int("step", step),
			zap.Bool("rolled_back", out.RolledBack),
			zap.Bool("superseded", out.Superseded),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordStepCompletion(ctx, step, "ok", s.now().Sub(start).Seconds())
	if progress.VerificationStatus != w.progress.VerificationStatus {
		s.metrics.RecordStatusTransition(ctx, string(progress.VerificationStatus), string(w.progress.VerificationStatus))
	}
	s.publish(ctx, providerID, append(w.tables, model.TableProgress)...)

	s.log.Info("Verification step completed",
		zap.String("provider_id", providerID),
		zap.Int("step", step),
		zap.Bool("completed", completed),
		zap.Int("current_step", w.progress.CurrentStep),
		zap.String("status", string(w.progress.VerificationStatus)),
	)

	return &StepResult{
		Progress:  w.progress,
		NextRoute: s.nextRoute(step, completed, w.progress),
		Tables:    w.tables,
		Outcome:   out,
	}, nil
}

// stepState 提交前的进度与该步数据，缓存命中时不访问存储
func (s *VerificationService) stepState(ctx context.Context, providerID string, step int) (*model.VerificationProgress, model.StepData, error) {
	if view, ok, err := s.cache.Get(ctx, providerID); err == nil && ok && view.Progress != nil {
		return view.Progress, view.StepData, nil
	}

	progress, err := s.store.ReadProgress(ctx, providerID)
	if stderrors.Is(err, pkgerrors.ProgressNotFound) {
		progress, err = model.NewDefaultProgress(providerID, s.Registry().Count(), s.now()), nil
	}
	if err != nil {
		return nil, model.StepData{}, err
	}

	data, err := s.store.ReadStepData(ctx, providerID, step)
	if err != nil {
		return nil, model.StepData{}, err
	}
	return progress, data, nil
}

// editable 已提交、审核中或已通过的进度不能再修改步骤；被拒后需要先重新提交
func editable(status model.VerificationStatus) error {
	switch status {
	case model.StatusPending, model.StatusInProgress:
		return nil
	case model.StatusRejected:
		return pkgerrors.StatusTransitionInvalid.WithMessage("verification was rejected, resubmit before editing steps")
	default:
		return pkgerrors.StatusTransitionInvalid.WithMessage("verification is %s, steps can no longer be changed", status)
	}
}

// optimisticStep 乐观视图：只改完成标记、当前步骤和该步数据
func (s *VerificationService) optimisticStep(step int, completed bool, payload *model.StepPayload) func(*model.CachedProgressView) *model.CachedProgressView {
	count := s.Registry().Count()
	return func(v *model.CachedProgressView) *model.CachedProgressView {
		if v.Progress == nil {
			return nil
		}
		v.Progress.StepsCompleted = v.Progress.StepsCompleted.Normalize(count)
		v.Progress.StepsCompleted[step] = completed
		v.Progress.CurrentStep = advance(v.Progress.CurrentStep, step, completed, count)
		v.StepData = v.StepData.Apply(payload)
		return v
	}
}

// advance 完成第 n 步后前进到 n+1，最后一步保持不动；取消完成时不超过该步
func advance(current, step int, completed bool, count int) int {
	if completed {
		if step < count {
			return step + 1
		}
		return current
	}
	if current > step {
		return step
	}
	return current
}

// persistStep 步骤数据和进度一起提交，失败时两者都不会落库
func (s *VerificationService) persistStep(
	ctx context.Context,
	providerID string,
	step int,
	completed bool,
	payload *model.StepPayload,
) (stepWrite, error) {
	patch := s.stepPatch(step, completed)
	return withRetry(ctx, s, "commit_step", providerID, func(ctx context.Context) (stepWrite, error) {
		tables, p, err := s.store.CommitStep(ctx, providerID, step, payload, patch)
		if err != nil {
			return stepWrite{}, err
		}
		return stepWrite{progress: p, tables: tables}, nil
	})
}

// stepPatch 状态迁移在行锁内根据最新的行决定
func (s *VerificationService) stepPatch(step int, completed bool) repository.ProgressPatch {
	count := s.Registry().Count()
	return repository.ProgressPatch{
		Steps: model.StepsCompleted{step: completed},
		Finalize: func(p *model.VerificationProgress, now time.Time) error {
			if err := editable(p.VerificationStatus); err != nil {
				return err
			}
			p.CurrentStep = advance(p.CurrentStep, step, completed, count)
			if !completed {
				return nil
			}
			if p.VerificationStatus == model.StatusPending {
				if err := verification.Transition(p, model.StatusInProgress, now, ""); err != nil {
					return err
				}
			}
			if step == count && allComplete(p.StepsCompleted, count) {
				return verification.Transition(p, model.StatusSubmitted, now, "")
			}
			return nil
		},
	}
}

func allComplete(m model.StepsCompleted, count int) bool {
	for n := 1; n <= count; n++ {
		if !m[n] {
			return false
		}
	}
	return true
}

func (s *VerificationService) nextRoute(step int, completed bool, p *model.VerificationProgress) verification.Route {
	if verification.AwaitingReview(p.VerificationStatus) {
		return verification.RouteAwaitingReview
	}
	route, err := s.Registry().RouteForStep(step)
	if err != nil || !completed {
		return route
	}
	next, err := s.navigator.NavigateNext(route)
	if err != nil {
		return route
	}
	return next
}
