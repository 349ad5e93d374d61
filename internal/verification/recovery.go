package verification

import (
	"time"

	"github.com/google/uuid"

	"verifyflow/internal/model"
)

// DefaultAbandonAfter 超过该时长未更新的 in_progress 会话视为中断
const DefaultAbandonAfter = 24 * time.Hour

// ConflictResolution 跨设备冲突时用户的选择
type ConflictResolution string

const (
	KeepLocal ConflictResolution = "keep_local"
	UseServer ConflictResolution = "use_server"
)

// Conflict 冲突检测结果
type Conflict struct {
	Detected     bool    `json:"detected"`
	LocalDevice  string  `json:"local_device,omitempty"`
	ServerDevice *string `json:"server_device,omitempty"`
}

// NoConflict 关闭检测时的固定结果
var NoConflict = Conflict{}

// ConflictDetector 检测同一服务商是否在另一台设备上进行认证
type ConflictDetector struct {
	enabled bool
}

// NewConflictDetector enabled 为 false 时永远返回 NoConflict
func NewConflictDetector(enabled bool) *ConflictDetector {
	return &ConflictDetector{enabled: enabled}
}

// Enabled 是否启用
func (d *ConflictDetector) Enabled() bool {
	return d != nil && d.enabled
}

// NewDeviceSessionID 为一次设备会话生成标识
func NewDeviceSessionID() string {
	return uuid.NewString()
}

// Detect 比较进度上记录的设备会话与当前设备
func (d *ConflictDetector) Detect(p *model.VerificationProgress, deviceSessionID string) Conflict {
	if !d.Enabled() || p == nil || deviceSessionID == "" {
		return NoConflict
	}
	if p.DeviceSessionID == nil || *p.DeviceSessionID == "" || *p.DeviceSessionID == deviceSessionID {
		return NoConflict
	}
	// 只有流程进行中才有意义
	if p.VerificationStatus != model.StatusInProgress && p.VerificationStatus != model.StatusPending {
		return NoConflict
	}
	server := *p.DeviceSessionID
	return Conflict{Detected: true, LocalDevice: deviceSessionID, ServerDevice: &server}
}

// Resolve 按用户选择返回应记录在进度上的设备会话；UseServer 时保持原值
func (d *ConflictDetector) Resolve(c Conflict, choice ConflictResolution) string {
	if !c.Detected || choice == KeepLocal || c.ServerDevice == nil {
		return c.LocalDevice
	}
	return *c.ServerDevice
}

// SessionRecovery 中断会话的恢复建议
type SessionRecovery struct {
	Abandoned   bool          `json:"abandoned"`
	Idle        time.Duration `json:"idle"`
	ResumeStep  int           `json:"resume_step"`
	ResumeRoute Route         `json:"resume_route"`
}

// CheckIncompleteSession 判断会话是否中断并给出恢复位置；恢复位置总是第一个未完成步骤
func (n *Navigator) CheckIncompleteSession(p *model.VerificationProgress, data model.StepData, now time.Time, threshold time.Duration) SessionRecovery {
	if threshold <= 0 {
		threshold = DefaultAbandonAfter
	}

	step := n.evaluator.FirstIncompleteStep(data)
	out := SessionRecovery{ResumeStep: step}
	if step == n.registry.CompleteMarker() {
		out.ResumeRoute = RouteFlowComplete
	} else {
		out.ResumeRoute, _ = n.registry.RouteForStep(step)
	}

	if p == nil || p.VerificationStatus != model.StatusInProgress {
		return out
	}
	out.Idle = now.Sub(p.UpdatedAt)
	out.Abandoned = out.Idle >= threshold
	return out
}
