package dto

import (
	"time"

	"verifyflow/internal/model"
	"verifyflow/internal/verification"
)

// ========== 认证流程 DTO ==========

// StepStatus 单个步骤的展示状态
type StepStatus struct {
	Number    int                `json:"number"`
	Key       string             `json:"key"`
	Title     string             `json:"title"`
	Route     verification.Route `json:"route"`
	Completed bool               `json:"completed"`
}

// ProgressResponse GET /v1/verification/progress
type ProgressResponse struct {
	Progress     *model.VerificationProgress `json:"progress"`
	StepData     model.StepData              `json:"step_data"`
	Steps        []StepStatus                `json:"steps"`
	ResumeRoute  verification.Route          `json:"resume_route"`
	FetchedAt    time.Time                   `json:"fetched_at"`
	TotalSteps   int                         `json:"total_steps"`
	UnlocksApp   bool                        `json:"unlocks_app"`
	AwaitsReview bool                        `json:"awaits_review"`
}

// CompleteStepRequest completed 省略时视为 true
type CompleteStepRequest struct {
	Completed *bool              `json:"completed"`
	Payload   *model.StepPayload `json:"payload"`
}

// IsCompleted 默认 true
func (r CompleteStepRequest) IsCompleted() bool {
	return r.Completed == nil || *r.Completed
}

// CompleteStepResponse 提交结果
type CompleteStepResponse struct {
	Progress  *model.VerificationProgress `json:"progress"`
	NextRoute verification.Route          `json:"next_route"`
}

// NavigationResponse 导航结果
type NavigationResponse struct {
	Route verification.Route `json:"route"`
}

// ResumeResponse GET /v1/verification/resume
type ResumeResponse struct {
	Route           verification.Route           `json:"route"`
	Session         verification.SessionRecovery `json:"session"`
	Conflict        verification.Conflict        `json:"conflict"`
	DeviceSessionID string                       `json:"device_session_id"`
	Status          model.VerificationStatus     `json:"status"`
}

// ResolveConflictRequest 冲突处理
type ResolveConflictRequest struct {
	DeviceSessionID string                          `json:"device_session_id"`
	Choice          verification.ConflictResolution `json:"choice"`
}

// ResolveConflictResponse 最终生效的设备会话
type ResolveConflictResponse struct {
	DeviceSessionID string `json:"device_session_id"`
}

// ========== 审核 DTO ==========

// RejectRequest 驳回需要原因
type RejectRequest struct {
	Reason string `json:"reason"`
}

// StatusResponse 状态变更结果
type StatusResponse struct {
	ProviderID      string                   `json:"provider_id"`
	Status          model.VerificationStatus `json:"status"`
	Attempt         int                      `json:"attempt"`
	RejectionReason *string                  `json:"rejection_reason,omitempty"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// NewStatusResponse 从进度生成
func NewStatusResponse(p *model.VerificationProgress) StatusResponse {
	return StatusResponse{
		ProviderID:      p.ProviderID,
		Status:          p.VerificationStatus,
		Attempt:         p.Attempt,
		RejectionReason: p.RejectionReason,
		UpdatedAt:       p.UpdatedAt,
	}
}
