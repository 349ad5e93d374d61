package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// VerificationStatus 服务商认证整体状态
type VerificationStatus string

const (
	StatusPending    VerificationStatus = "pending"
	StatusInProgress VerificationStatus = "in_progress"
	StatusSubmitted  VerificationStatus = "submitted"
	StatusInReview   VerificationStatus = "in_review"
	StatusApproved   VerificationStatus = "approved"
	StatusRejected   VerificationStatus = "rejected"
)

// Valid 判断状态值是否合法
func (s VerificationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSubmitted, StatusInReview, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// StepsCompleted 步骤号 -> 是否完成，落库为 JSONB，键为 "1".."N"
type StepsCompleted map[int]bool

// NewStepsCompleted 创建全部为 false 的完成表
func NewStepsCompleted(count int) StepsCompleted {
	m := make(StepsCompleted, count)
	for i := 1; i <= count; i++ {
		m[i] = false
	}
	return m
}

// Normalize 补齐缺失的键并去掉越界的键
func (m StepsCompleted) Normalize(count int) StepsCompleted {
	out := NewStepsCompleted(count)
	for k, v := range m {
		if k >= 1 && k <= count {
			out[k] = v
		}
	}
	return out
}

// Clone 深拷贝
func (m StepsCompleted) Clone() StepsCompleted {
	if m == nil {
		return nil
	}
	out := make(StepsCompleted, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m StepsCompleted) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[int]bool(m))
}

func (m *StepsCompleted) Scan(value interface{}) error {
	if value == nil {
		*m = StepsCompleted{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to unmarshal steps_completed value")
	}

	decoded := map[int]bool{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*m = decoded
	return nil
}

// VerificationProgress 服务商认证进度，每个服务商一行
type VerificationProgress struct {
	ProviderID         string             `gorm:"primaryKey;type:varchar(64)" json:"provider_id"`
	CurrentStep        int                `gorm:"not null;default:1" json:"current_step"`
	StepsCompleted     StepsCompleted     `gorm:"type:jsonb;not null;default:'{}'" json:"steps_completed"`
	VerificationStatus VerificationStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_progress_status" json:"verification_status"`

	StartedAt       time.Time  `gorm:"type:timestamptz;not null;default:now()" json:"started_at"`
	CompletedAt     *time.Time `gorm:"type:timestamptz" json:"completed_at,omitempty"`
	ApprovedAt      *time.Time `gorm:"type:timestamptz" json:"approved_at,omitempty"`
	RejectedAt      *time.Time `gorm:"type:timestamptz" json:"rejected_at,omitempty"`
	RejectionReason *string    `gorm:"type:text" json:"rejection_reason,omitempty"`
	ResubmittedAt   *time.Time `gorm:"type:timestamptz" json:"resubmitted_at,omitempty"`
	Attempt         int        `gorm:"not null;default:1" json:"attempt"`

	// 发起本次认证的设备会话，跨设备冲突检测使用
	DeviceSessionID *string `gorm:"type:varchar(64)" json:"device_session_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index:idx_progress_updated" json:"updated_at"`
}

// TableName 指定表名
func (VerificationProgress) TableName() string {
	return "provider_onboarding_progress"
}

// NewDefaultProgress 首次读取时惰性创建的默认进度
func NewDefaultProgress(providerID string, stepCount int, now time.Time) *VerificationProgress {
	return &VerificationProgress{
		ProviderID:         providerID,
		CurrentStep:        1,
		StepsCompleted:     NewStepsCompleted(stepCount),
		VerificationStatus: StatusPending,
		StartedAt:          now,
		Attempt:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Clone 深拷贝，缓存快照与内存存储使用
func (p *VerificationProgress) Clone() *VerificationProgress {
	if p == nil {
		return nil
	}
	out := *p
	out.StepsCompleted = p.StepsCompleted.Clone()
	out.CompletedAt = cloneTime(p.CompletedAt)
	out.ApprovedAt = cloneTime(p.ApprovedAt)
	out.RejectedAt = cloneTime(p.RejectedAt)
	out.ResubmittedAt = cloneTime(p.ResubmittedAt)
	out.RejectionReason = cloneString(p.RejectionReason)
	out.DeviceSessionID = cloneString(p.DeviceSessionID)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
