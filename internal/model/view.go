package model

import "time"

// CachedProgressView 同步层持有的本地副本：进度 + 反范式化的步骤数据
// 只是缓存，任何时候都以进度表为准
type CachedProgressView struct {
	Progress   *VerificationProgress `json:"progress"`
	StepData   StepData              `json:"step_data"`
	FetchedAt  time.Time             `json:"fetched_at"`
	Generation int64                 `json:"generation"`
}

// Clone 深拷贝
func (v *CachedProgressView) Clone() *CachedProgressView {
	if v == nil {
		return nil
	}
	return &CachedProgressView{
		Progress:   v.Progress.Clone(),
		StepData:   v.StepData.Clone(),
		FetchedAt:  v.FetchedAt,
		Generation: v.Generation,
	}
}
