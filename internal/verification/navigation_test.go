package verification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifyflow/internal/model"
	pkgerrors "verifyflow/pkg/errors"
)

func newTestNavigator() *Navigator {
	return NewNavigator(NewEvaluator(DefaultRegistry()))
}

func TestNavigateNext(t *testing.T) {
	nav := newTestNavigator()

	route, err := nav.NavigateNext("/verification/business-info")
	require.NoError(t, err)
	assert.Equal(t, Route("/verification/category"), route)

	route, err = nav.NavigateNext("/verification/terms")
	require.NoError(t, err)
	assert.Equal(t, RouteFlowComplete, route)

	_, err = nav.NavigateNext("/verification/payment")
	assert.ErrorIs(t, err, pkgerrors.UnknownRoute)
}

func TestNavigateBack(t *testing.T) {
	nav := newTestNavigator()

	route, err := nav.NavigateBack("/verification/selfie")
	require.NoError(t, err)
	assert.Equal(t, Route("/verification/documents"), route)

	route, err = nav.NavigateBack("/verification/documents")
	require.NoError(t, err)
	assert.Equal(t, Route("/verification/documents"), route)
}

func TestNavigateToStep(t *testing.T) {
	nav := newTestNavigator()

	route, err := nav.NavigateToStep(7)
	require.NoError(t, err)
	assert.Equal(t, Route("/verification/bio"), route)

	_, err = nav.NavigateToStep(9)
	assert.ErrorIs(t, err, pkgerrors.InvalidStep)
}

func TestResolveResumeRouteUsesData(t *testing.T) {
	nav := newTestNavigator()

	data := completeData()
	data.BusinessInfo.Address = ""

	progress := model.NewDefaultProgress("prov-1", 8, time.Now())
	progress.VerificationStatus = model.StatusInProgress
	progress.StepsCompleted = model.StepsCompleted{1: true, 2: true, 3: false}

	view := &model.CachedProgressView{Progress: progress, StepData: data}
	assert.Equal(t, Route("/verification/business-info"), nav.ResolveResumeRoute(view))

	// 标记声称已完成也不影响结果
	progress.StepsCompleted[3] = true
	assert.Equal(t, Route("/verification/business-info"), nav.ResolveResumeRoute(view))
}

func TestResolveResumeRouteByStatus(t *testing.T) {
	nav := newTestNavigator()

	cases := []struct {
		status model.VerificationStatus
		data   model.StepData
		want   Route
	}{
		{model.StatusPending, model.StepData{}, "/verification/documents"},
		{model.StatusInProgress, completeData(), RouteFlowComplete},
		{model.StatusSubmitted, model.StepData{}, RouteAwaitingReview},
		{model.StatusInReview, model.StepData{}, RouteAwaitingReview},
		{model.StatusRejected, completeData(), RouteRejected},
		// approved 时数据为空也直接进入主应用
		{model.StatusApproved, model.StepData{}, RouteMainApp},
	}

	for _, tc := range cases {
		p := model.NewDefaultProgress("prov-1", 8, time.Now())
		p.VerificationStatus = tc.status
		got := nav.ResolveResumeRoute(&model.CachedProgressView{Progress: p, StepData: tc.data})
		assert.Equal(t, tc.want, got, string(tc.status))
	}
}

func TestResolveResumeRouteApprovedSkipsEvaluator(t *testing.T) {
	consulted := false
	ev := NewEvaluator(DefaultRegistry()).WithCheck(StepKeyDocuments, func(model.StepData) map[string]string {
		consulted = true
		return map[string]string{"documents": "required"}
	})
	nav := NewNavigator(ev)

	p := model.NewDefaultProgress("prov-1", 8, time.Now())
	p.VerificationStatus = model.StatusApproved

	assert.Equal(t, RouteMainApp, nav.ResolveResumeRoute(&model.CachedProgressView{Progress: p}))
	assert.False(t, consulted)
}

func TestResolveResumeRouteWithoutView(t *testing.T) {
	nav := newTestNavigator()
	assert.Equal(t, Route("/verification/documents"), nav.ResolveResumeRoute(nil))
}
