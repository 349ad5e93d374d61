package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"verifyflow/internal/cache"
	"verifyflow/internal/model"
	"verifyflow/internal/repository"
	"verifyflow/internal/verification"
	pkgerrors "verifyflow/pkg/errors"
)

// Resubmit 被拒后重新进入流程
func (s *VerificationService) Resubmit(ctx context.Context, providerID string) (*model.VerificationProgress, error) {
	return s.transition(ctx, providerID, model.StatusInProgress, "")
}

// StartReview 审核人员开始审核已提交的资料
func (s *VerificationService) StartReview(ctx context.Context, providerID string) (*model.VerificationProgress, error) {
	return s.transition(ctx, providerID, model.StatusInReview, "")
}

func (s *VerificationService) Approve(ctx context.Context, providerID string) (*model.VerificationProgress, error) {
	return s.transition(ctx, providerID, model.StatusApproved, "")
}

// Reject 必须给出原因
func (s *VerificationService) Reject(ctx context.Context, providerID, reason string) (*model.VerificationProgress, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &pkgerrors.ValidationError{Fields: map[string]string{"reason": "required"}}
	}
	return s.transition(ctx, providerID, model.StatusRejected, reason)
}

// transition 状态迁移走与步骤提交相同的写路径，不做乐观更新
func (s *VerificationService) transition(ctx context.Context, providerID string, to model.VerificationStatus, reason string) (*model.VerificationProgress, error) {
	if err := RequireProvider(providerID); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, providerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var from model.VerificationStatus
	patch := repository.ProgressPatch{
		Finalize: func(p *model.VerificationProgress, now time.Time) error {
			from = p.VerificationStatus
			if from == to {
				return nil
			}
			return verification.Transition(p, to, now, reason)
		},
	}

	p, out, err := cache.RunOptimistic(ctx, s.cache, providerID, nil, func(ctx context.Context) (*model.VerificationProgress, error) {
		return withRetry(ctx, s, "upsert_progress", providerID, func(ctx context.Context) (*model.VerificationProgress, error) {
			return s.store.UpsertProgress(ctx, providerID, patch)
		})
	})
	if out.CacheErr != nil {
		s.log.Warn("Progress cache unavailable during status transition",
			zap.String("provider_id", providerID),
			zap.Error(out.CacheErr),
		)
	}
	if err != nil {
		s.log.Warn("Verification status transition failed",
			zap.String("provider_id", providerID),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return nil, err
	}

	if from != to {
		s.metrics.RecordStatusTransition(ctx, string(from), string(to))
		s.log.Info("Verification status changed",
			zap.String("provider_id", providerID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int("attempt", p.Attempt),
		)
	}
	s.publish(ctx, providerID, model.TableProgress)
	return p, nil
}

// ResumeResult 登录后恢复流程所需的信息
type ResumeResult struct {
	Route    verification.Route           `json:"route"`
	Session  verification.SessionRecovery `json:"session"`
	Conflict verification.Conflict        `json:"conflict"`
	View     *model.CachedProgressView    `json:"view"`
}

// Resume 决定服务商回到流程的哪个位置，并检查会话中断与跨设备冲突
func (s *VerificationService) Resume(ctx context.Context, providerID, deviceSessionID string) (*ResumeResult, error) {
	view, err := s.GetVerificationData(ctx, providerID)
	if err != nil {
		return nil, err
	}

	res := &ResumeResult{
		Route:    s.navigator.ResolveResumeRoute(view),
		Session:  s.navigator.CheckIncompleteSession(view.Progress, view.StepData, s.now(), s.abandonAfter),
		Conflict: s.conflicts.Detect(view.Progress, deviceSessionID),
		View:     view,
	}

	// 没有冲突时记录当前设备，供下次比较
	if s.conflicts.Enabled() && !res.Conflict.Detected && deviceSessionID != "" && !sameDevice(view.Progress, deviceSessionID) {
		if err := s.recordDevice(ctx, providerID, deviceSessionID); err != nil {
			s.log.Warn("Failed to record device session",
				zap.String("provider_id", providerID),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

// ResolveConflict 按用户选择处理跨设备冲突，返回最终生效的设备会话
func (s *VerificationService) ResolveConflict(ctx context.Context, providerID, deviceSessionID string, choice verification.ConflictResolution) (string, error) {
	if choice != verification.KeepLocal && choice != verification.UseServer {
		return "", &pkgerrors.ValidationError{Fields: map[string]string{"choice": "must be keep_local or use_server"}}
	}
	view, err := s.GetVerificationData(ctx, providerID)
	if err != nil {
		return "", err
	}

	c := s.conflicts.Detect(view.Progress, deviceSessionID)
	device := s.conflicts.Resolve(c, choice)
	if device == "" || sameDevice(view.Progress, device) {
		return device, nil
	}
	if err := s.recordDevice(ctx, providerID, device); err != nil {
		return "", err
	}
	return device, nil
}

func (s *VerificationService) recordDevice(ctx context.Context, providerID, deviceSessionID string) error {
	unlock, err := s.locks.Lock(ctx, providerID)
	if err != nil {
		return err
	}
	defer unlock()

	_, _, err = cache.RunOptimistic(ctx, s.cache, providerID, nil, func(ctx context.Context) (*model.VerificationProgress, error) {
		return withRetry(ctx, s, "upsert_progress", providerID, func(ctx context.Context) (*model.VerificationProgress, error) {
			return s.store.UpsertProgress(ctx, providerID, repository.ProgressPatch{DeviceSessionID: &deviceSessionID})
		})
	})
	return err
}

func sameDevice(p *model.VerificationProgress, deviceSessionID string) bool {
	return p != nil && p.DeviceSessionID != nil && *p.DeviceSessionID == deviceSessionID
}
