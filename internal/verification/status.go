package verification

import (
	"time"

	"verifyflow/internal/model"
	pkgerrors "verifyflow/pkg/errors"
)

// 允许的状态迁移；rejected -> in_progress（重新提交）是唯一的回退
var transitions = map[model.VerificationStatus][]model.VerificationStatus{
	model.StatusPending:    {model.StatusInProgress},
	model.StatusInProgress: {model.StatusSubmitted},
	model.StatusSubmitted:  {model.StatusInReview},
	model.StatusInReview:   {model.StatusApproved, model.StatusRejected},
	model.StatusRejected:   {model.StatusInProgress},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to model.VerificationStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal approved 与 rejected 为终态（rejected 可以重新进入）
func IsTerminal(s model.VerificationStatus) bool {
	return s == model.StatusApproved || s == model.StatusRejected
}

// UnlocksProduct 只有 approved 能进入完整产品
func UnlocksProduct(s model.VerificationStatus) bool {
	return s == model.StatusApproved
}

// AwaitingReview 已提交、等待人工审核
func AwaitingReview(s model.VerificationStatus) bool {
	return s == model.StatusSubmitted || s == model.StatusInReview
}

// Transition 在进度上执行状态迁移，每一轮提交中对应时间戳只写一次
//
// 被拒后重新提交开始新的一轮：清空上一轮的 completed_at、rejected_at 与拒绝原因。
func Transition(p *model.VerificationProgress, to model.VerificationStatus, now time.Time, reason string) error {
	from := p.VerificationStatus
	if !CanTransition(from, to) {
		return pkgerrors.StatusTransitionInvalid.WithMessage("cannot move verification from %s to %s", from, to)
	}

	switch to {
	case model.StatusInProgress:
		if from == model.StatusRejected {
			p.Attempt++
			p.ResubmittedAt = stamp(now)
			p.CompletedAt = nil
			p.RejectedAt = nil
			p.RejectionReason = nil
		}
	case model.StatusSubmitted:
		if p.CompletedAt == nil {
			p.CompletedAt = stamp(now)
		}
	case model.StatusApproved:
		if p.ApprovedAt == nil {
			p.ApprovedAt = stamp(now)
		}
	case model.StatusRejected:
		if p.RejectedAt == nil {
			p.RejectedAt = stamp(now)
		}
		if reason != "" && p.RejectionReason == nil {
			r := reason
			p.RejectionReason = &r
		}
	}

	p.VerificationStatus = to
	p.UpdatedAt = now
	return nil
}

func stamp(t time.Time) *time.Time {
	v := t
	return &v
}
