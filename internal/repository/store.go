package repository

import (
	"context"
	"time"

	"verifyflow/internal/model"
	"verifyflow/internal/verification"
)

// ProgressStore 认证进度的远端存储，进度表是唯一的事实来源
type ProgressStore interface {
	// ReadProgress 不存在时返回 errors.ProgressNotFound
	ReadProgress(ctx context.Context, providerID string) (*model.VerificationProgress, error)
	// UpsertProgress 单个事务内锁行、合并并写回，返回写入后的进度
	UpsertProgress(ctx context.Context, providerID string, patch ProgressPatch) (*model.VerificationProgress, error)
	// ReadStepData 只读取某一步相关的数据
	ReadStepData(ctx context.Context, providerID string, step int) (model.StepData, error)
	ReadAllStepData(ctx context.Context, providerID string) (model.StepData, error)
	// WriteStepData 写入某一步自己的表，返回被修改的表名
	WriteStepData(ctx context.Context, providerID string, step int, payload *model.StepPayload) ([]string, error)
	// CommitStep 步骤数据与进度在同一个事务里写入，任一失败两者都不生效
	CommitStep(ctx context.Context, providerID string, step int, payload *model.StepPayload, patch ProgressPatch) ([]string, *model.VerificationProgress, error)
	// ListProgress 供定时任务分页扫描
	ListProgress(ctx context.Context, filter ListFilter) ([]model.VerificationProgress, error)
}

// ListFilter 按 provider_id 做 keyset 分页
type ListFilter struct {
	Statuses        []model.VerificationStatus
	UpdatedBefore   time.Time
	AfterProviderID string
	Limit           int
}

// ProgressPatch 进度的部分更新，在行锁内应用到最新的行上
type ProgressPatch struct {
	CurrentStep *int
	// Steps 与已有完成表合并；ReplaceSteps 为 true 时整体覆盖
	Steps        model.StepsCompleted
	ReplaceSteps bool
	// Status 与当前状态不同时按状态机迁移
	Status          *model.VerificationStatus
	RejectionReason string
	DeviceSessionID *string
	// Finalize 在合并之后、写回之前执行，可根据最新的行决定状态
	Finalize func(p *model.VerificationProgress, now time.Time) error
}

// Apply 把补丁应用到进度上
func (pp ProgressPatch) Apply(p *model.VerificationProgress, reg *verification.Registry, now time.Time) error {
	count := reg.Count()

	if pp.ReplaceSteps {
		p.StepsCompleted = pp.Steps.Normalize(count)
	} else {
		merged := p.StepsCompleted.Normalize(count)
		for k, v := range pp.Steps {
			if !reg.Valid(k) {
				return &verification.InvalidStepError{Step: k, Count: count}
			}
			merged[k] = v
		}
		p.StepsCompleted = merged
	}

	if pp.CurrentStep != nil {
		if !reg.Valid(*pp.CurrentStep) {
			return &verification.InvalidStepError{Step: *pp.CurrentStep, Count: count}
		}
		p.CurrentStep = *pp.CurrentStep
	}

	if pp.Status != nil && *pp.Status != p.VerificationStatus {
		if err := verification.Transition(p, *pp.Status, now, pp.RejectionReason); err != nil {
			return err
		}
	}

	if pp.DeviceSessionID != nil {
		id := *pp.DeviceSessionID
		p.DeviceSessionID = &id
	}

	if pp.Finalize != nil {
		if err := pp.Finalize(p, now); err != nil {
			return err
		}
	}

	p.UpdatedAt = now
	return nil
}

// TablesForPayload 写入内容涉及的表
func TablesForPayload(p *model.StepPayload) []string {
	if p == nil {
		return nil
	}
	var tables []string
	if p.Documents != nil {
		tables = append(tables, model.TableDocuments)
	}
	if p.SelfieURL != nil || p.BusinessInfo != nil || p.Category != nil || p.Bio != nil {
		tables = append(tables, model.TableProfiles)
	}
	if p.Services != nil {
		tables = append(tables, model.TableServices)
	}
	if p.Portfolio != nil {
		tables = append(tables, model.TablePortfolio)
	}
	if p.Terms != nil {
		tables = append(tables, model.TableTerms)
	}
	return tables
}

// ProjectStep 只保留某一步相关的数据
func ProjectStep(data model.StepData, key string) model.StepData {
	var out model.StepData
	switch key {
	case verification.StepKeyDocuments:
		out.Documents = data.Documents
	case verification.StepKeySelfie:
		out.SelfieURL = data.SelfieURL
	case verification.StepKeyBusinessInfo:
		out.BusinessInfo = data.BusinessInfo
	case verification.StepKeyCategory:
		out.Category = data.Category
	case verification.StepKeyServices:
		out.Services = data.Services
	case verification.StepKeyPortfolio:
		out.Portfolio = data.Portfolio
	case verification.StepKeyBio:
		out.Bio = data.Bio
	case verification.StepKeyTerms:
		out.Terms = data.Terms
	}
	return out.Clone()
}
