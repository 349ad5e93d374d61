package verification

import (
	"sort"

	"verifyflow/internal/model"
)

// FlagCorrection 存储标记与实际数据不一致的一步
type FlagCorrection struct {
	Step      int  `json:"step"`
	Stored    bool `json:"stored"`
	Evaluated bool `json:"evaluated"`
}

// ReconcileResult 对账结果，Flags 为应写回的完成表
type ReconcileResult struct {
	Flags       model.StepsCompleted `json:"steps_completed"`
	CurrentStep int                  `json:"current_step"`
	Corrections []FlagCorrection     `json:"corrections"`
	// StepMoved current_step 超过了第一个未完成步骤，被拉回
	StepMoved bool `json:"step_moved"`
}

// Changed 是否需要写回存储
func (r ReconcileResult) Changed() bool {
	return len(r.Corrections) > 0 || r.StepMoved
}

// ReconcileFlags 以实际数据为准重新计算完成表
//
// current_step 只会被拉回到第一个未完成步骤，不会被推前。
func (e *Evaluator) ReconcileFlags(p *model.VerificationProgress, data model.StepData) ReconcileResult {
	evaluated := e.Evaluate(data)
	count := e.registry.Count()

	var stored model.StepsCompleted
	current := 1
	if p != nil {
		stored = p.StepsCompleted
		current = p.CurrentStep
	}

	res := ReconcileResult{Flags: evaluated, CurrentStep: current}
	for n := 1; n <= count; n++ {
		if stored[n] != evaluated[n] {
			res.Corrections = append(res.Corrections, FlagCorrection{Step: n, Stored: stored[n], Evaluated: evaluated[n]})
		}
	}
	// 多余的键也视为不一致
	for k := range stored {
		if k < 1 || k > count {
			res.Corrections = append(res.Corrections, FlagCorrection{Step: k, Stored: stored[k]})
		}
	}
	sort.Slice(res.Corrections, func(i, j int) bool { return res.Corrections[i].Step < res.Corrections[j].Step })

	limit := FirstIncomplete(e.registry, evaluated)
	if limit > count {
		limit = count
	}
	// 已提交或已通过的进度不再移动 current_step
	frozen := AwaitingReview(statusOf(p)) || UnlocksProduct(statusOf(p))
	if current < 1 || (!frozen && current > limit) {
		res.CurrentStep = limit
		res.StepMoved = true
	}
	return res
}

func statusOf(p *model.VerificationProgress) model.VerificationStatus {
	if p == nil {
		return model.StatusPending
	}
	return p.VerificationStatus
}
