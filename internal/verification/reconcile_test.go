package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"verifyflow/internal/model"
)

func TestReconcileFlagsCorrectsDrift(t *testing.T) {
	ev := NewEvaluator(DefaultRegistry())

	data := completeData()
	data.BusinessInfo.Address = ""

	p := model.NewDefaultProgress("prov-1", 8, time.Now())
	p.VerificationStatus = model.StatusInProgress
	p.CurrentStep = 5
	p.StepsCompleted = model.StepsCompleted{1: true, 2: true, 3: true, 4: true}

	res := ev.ReconcileFlags(p, data)

	assert.True(t, res.Changed())
	assert.False(t, res.Flags[3])
	assert.True(t, res.Flags[8])
	assert.Equal(t, 3, res.CurrentStep)
	assert.True(t, res.StepMoved)

	steps := make([]int, 0, len(res.Corrections))
	for _, c := range res.Corrections {
		steps = append(steps, c.Step)
	}
	assert.Equal(t, []int{3, 5, 6, 7, 8}, steps)
	assert.Equal(t, FlagCorrection{Step: 3, Stored: true, Evaluated: false}, res.Corrections[0])
}

func TestReconcileFlagsNoDrift(t *testing.T) {
	ev := NewEvaluator(DefaultRegistry())

	p := model.NewDefaultProgress("prov-1", 8, time.Now())
	res := ev.ReconcileFlags(p, model.StepData{})

	assert.False(t, res.Changed())
	assert.Equal(t, 1, res.CurrentStep)
}

func TestReconcileFlagsDoesNotAdvanceStep(t *testing.T) {
	ev := NewEvaluator(DefaultRegistry())

	p := model.NewDefaultProgress("prov-1", 8, time.Now())
	p.StepsCompleted = ev.Evaluate(completeData())
	p.CurrentStep = 2

	res := ev.ReconcileFlags(p, completeData())
	assert.False(t, res.Changed())
	assert.Equal(t, 2, res.CurrentStep)
}

func TestReconcileFlagsDropsUnknownKeys(t *testing.T) {
	ev := NewEvaluator(DefaultRegistry())

	p := model.NewDefaultProgress("prov-1", 8, time.Now())
	p.StepsCompleted[9] = true

	res := ev.ReconcileFlags(p, model.StepData{})
	assert.True(t, res.Changed())
	assert.NotContains(t, res.Flags, 9)
	assert.Len(t, res.Flags, 8)
}

func TestReconcileFlagsKeepsSubmittedStep(t *testing.T) {
	ev := NewEvaluator(DefaultRegistry())

	p := model.NewDefaultProgress("prov-1", 8, time.Now())
	p.VerificationStatus = model.StatusSubmitted
	p.CurrentStep = 8
	p.StepsCompleted = ev.Evaluate(completeData())

	data := completeData()
	data.Portfolio = nil

	res := ev.ReconcileFlags(p, data)
	assert.False(t, res.Flags[6])
	assert.Equal(t, 8, res.CurrentStep)
	assert.False(t, res.StepMoved)
}
