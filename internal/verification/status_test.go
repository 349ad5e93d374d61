package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifyflow/internal/model"
	pkgerrors "verifyflow/pkg/errors"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]model.VerificationStatus{
		{model.StatusPending, model.StatusInProgress},
		{model.StatusInProgress, model.StatusSubmitted},
		{model.StatusSubmitted, model.StatusInReview},
		{model.StatusInReview, model.StatusApproved},
		{model.StatusInReview, model.StatusRejected},
		{model.StatusRejected, model.StatusInProgress},
	}
	for _, pair := range allowed {
		assert.True(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]model.VerificationStatus{
		{model.StatusPending, model.StatusSubmitted},
		{model.StatusInProgress, model.StatusPending},
		{model.StatusSubmitted, model.StatusApproved},
		{model.StatusApproved, model.StatusInProgress},
		{model.StatusApproved, model.StatusRejected},
		{model.StatusRejected, model.StatusApproved},
		{model.StatusInReview, model.StatusInReview},
	}
	for _, pair := range denied {
		assert.False(t, CanTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestTransitionTimestampsPerAttempt(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := model.NewDefaultProgress("prov-1", 8, t0)

	require.NoError(t, Transition(p, model.StatusInProgress, t0.Add(time.Minute), ""))
	require.NoError(t, Transition(p, model.StatusSubmitted, t0.Add(2*time.Minute), ""))
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, t0.Add(2*time.Minute), *p.CompletedAt)

	require.NoError(t, Transition(p, model.StatusInReview, t0.Add(3*time.Minute), ""))
	require.NoError(t, Transition(p, model.StatusRejected, t0.Add(4*time.Minute), "blurry id"))
	require.NotNil(t, p.RejectedAt)
	require.NotNil(t, p.RejectionReason)
	assert.Equal(t, "blurry id", *p.RejectionReason)

	require.NoError(t, Transition(p, model.StatusInProgress, t0.Add(5*time.Minute), ""))
	assert.Equal(t, 2, p.Attempt)
	require.NotNil(t, p.ResubmittedAt)
	assert.Equal(t, t0.Add(5*time.Minute), *p.ResubmittedAt)
	// 新一轮开始，上一轮的结果清空
	assert.Nil(t, p.CompletedAt)
	assert.Nil(t, p.RejectedAt)
	assert.Nil(t, p.RejectionReason)

	require.NoError(t, Transition(p, model.StatusSubmitted, t0.Add(6*time.Minute), ""))
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, t0.Add(6*time.Minute), *p.CompletedAt)

	require.NoError(t, Transition(p, model.StatusInReview, t0.Add(7*time.Minute), ""))
	require.NoError(t, Transition(p, model.StatusApproved, t0.Add(8*time.Minute), ""))
	assert.Equal(t, model.StatusApproved, p.VerificationStatus)
	assert.Equal(t, t0.Add(8*time.Minute), *p.ApprovedAt)
	assert.Nil(t, p.RejectedAt)
	assert.Equal(t, 2, p.Attempt)
}

func TestTransitionSecondRejectionRecordsNewReason(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := model.NewDefaultProgress("prov-1", 8, t0)

	steps := []struct {
		to     model.VerificationStatus
		reason string
	}{
		{model.StatusInProgress, ""},
		{model.StatusSubmitted, ""},
		{model.StatusInReview, ""},
		{model.StatusRejected, "first reason"},
		{model.StatusInProgress, ""},
		{model.StatusSubmitted, ""},
		{model.StatusInReview, ""},
		{model.StatusRejected, "second reason"},
	}
	for i, st := range steps {
		require.NoError(t, Transition(p, st.to, t0.Add(time.Duration(i+1)*time.Hour), st.reason))
	}

	require.NotNil(t, p.RejectionReason)
	assert.Equal(t, "second reason", *p.RejectionReason)
	assert.Equal(t, t0.Add(8*time.Hour), *p.RejectedAt)
	assert.Equal(t, t0.Add(6*time.Hour), *p.CompletedAt)
	assert.Equal(t, 2, p.Attempt)
}

func TestTransitionRejectsInvalidMove(t *testing.T) {
	now := time.Now()
	p := model.NewDefaultProgress("prov-1", 8, now)

	err := Transition(p, model.StatusApproved, now, "")
	assert.ErrorIs(t, err, pkgerrors.StatusTransitionInvalid)
	assert.Equal(t, model.StatusPending, p.VerificationStatus)
	assert.Nil(t, p.ApprovedAt)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, UnlocksProduct(model.StatusApproved))
	for _, s := range []model.VerificationStatus{
		model.StatusPending, model.StatusInProgress, model.StatusSubmitted, model.StatusInReview, model.StatusRejected,
	} {
		assert.False(t, UnlocksProduct(s), string(s))
	}

	assert.True(t, IsTerminal(model.StatusApproved))
	assert.True(t, IsTerminal(model.StatusRejected))
	assert.False(t, IsTerminal(model.StatusSubmitted))

	assert.True(t, AwaitingReview(model.StatusSubmitted))
	assert.True(t, AwaitingReview(model.StatusInReview))
	assert.False(t, AwaitingReview(model.StatusInProgress))
}
