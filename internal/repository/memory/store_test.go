package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verifyflow/internal/model"
	"verifyflow/internal/repository"
	"verifyflow/internal/verification"
	pkgerrors "verifyflow/pkg/errors"
)

func TestReadProgressNotFound(t *testing.T) {
	s := NewStore(verification.DefaultRegistry())

	_, err := s.ReadProgress(context.Background(), "missing")
	assert.ErrorIs(t, err, pkgerrors.ProgressNotFound)
}

func TestUpsertCreatesDefaults(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(verification.DefaultRegistry()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	p, err := s.UpsertProgress(ctx, "prov-1", repository.ProgressPatch{Steps: model.StepsCompleted{1: true}})
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentStep)
	assert.Equal(t, model.StatusPending, p.VerificationStatus)
	assert.True(t, p.StepsCompleted[1])
	assert.Equal(t, now, p.StartedAt)

	got, err := s.ReadProgress(ctx, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	// 返回的是副本
	got.StepsCompleted[2] = true
	again, _ := s.ReadProgress(ctx, "prov-1")
	assert.False(t, again.StepsCompleted[2])
}

func TestUpsertFailedPatchLeavesRow(t *testing.T) {
	s := NewStore(verification.DefaultRegistry())
	ctx := context.Background()

	_, err := s.UpsertProgress(ctx, "prov-1", repository.ProgressPatch{Steps: model.StepsCompleted{1: true}})
	require.NoError(t, err)

	approved := model.StatusApproved
	_, err = s.UpsertProgress(ctx, "prov-1", repository.ProgressPatch{
		Steps:  model.StepsCompleted{2: true},
		Status: &approved,
	})
	assert.ErrorIs(t, err, pkgerrors.StatusTransitionInvalid)

	p, err := s.ReadProgress(ctx, "prov-1")
	require.NoError(t, err)
	assert.False(t, p.StepsCompleted[2])
	assert.Equal(t, model.StatusPending, p.VerificationStatus)
}

func TestFaultInjection(t *testing.T) {
	s := NewStore(verification.DefaultRegistry())
	ctx := context.Background()

	transient := pkgerrors.Transient("upsert", context.DeadlineExceeded)
	s.FailNext(OpUpsertProgress, transient, 2)

	_, err := s.UpsertProgress(ctx, "prov-1", repository.ProgressPatch{})
	assert.True(t, pkgerrors.IsTransient(err))
	_, err = s.UpsertProgress(ctx, "prov-1", repository.ProgressPatch{})
	assert.True(t, pkgerrors.IsTransient(err))
	_, err = s.UpsertProgress(ctx, "prov-1", repository.ProgressPatch{})
	assert.NoError(t, err)
	assert.Equal(t, 3, s.Calls(OpUpsertProgress))

	s.FailNext(OpReadProgress, transient, 0)
	for i := 0; i < 3; i++ {
		_, err = s.ReadProgress(ctx, "prov-1")
		assert.Error(t, err)
	}
	s.ClearFaults()
	_, err = s.ReadProgress(ctx, "prov-1")
	assert.NoError(t, err)
}

func TestStepDataWriteAndProject(t *testing.T) {
	s := NewStore(verification.DefaultRegistry())
	ctx := context.Background()

	tables, err := s.WriteStepData(ctx, "prov-1", 3, &model.StepPayload{
		BusinessInfo: &model.BusinessInfo{BusinessName: "Glow", PhoneNumber: "+1 555 010 0199", Address: "1 Main"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{model.TableProfiles}, tables)

	_, err = s.WriteStepData(ctx, "prov-1", 8, &model.StepPayload{Terms: &model.TermsAcceptance{TermsAccepted: true}})
	require.NoError(t, err)

	data, err := s.ReadStepData(ctx, "prov-1", 3)
	require.NoError(t, err)
	assert.Equal(t, "Glow", data.BusinessInfo.BusinessName)
	assert.False(t, data.Terms.TermsAccepted)

	all, err := s.ReadAllStepData(ctx, "prov-1")
	require.NoError(t, err)
	assert.True(t, all.Terms.TermsAccepted)
	assert.NotNil(t, all.Terms.AcceptedAt)

	_, err = s.ReadStepData(ctx, "prov-1", 42)
	assert.ErrorIs(t, err, pkgerrors.InvalidStep)
}

func TestListProgress(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStore(verification.DefaultRegistry())

	for i, id := range []string{"c", "a", "b", "d"} {
		p := model.NewDefaultProgress(id, 8, base)
		p.VerificationStatus = model.StatusInProgress
		p.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		s.Seed(p, model.StepData{})
	}
	approved := model.NewDefaultProgress("e", 8, base)
	approved.VerificationStatus = model.StatusApproved
	s.Seed(approved, model.StepData{})

	ctx := context.Background()
	rows, err := s.ListProgress(ctx, repository.ListFilter{
		Statuses: []model.VerificationStatus{model.StatusInProgress},
		Limit:    2,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ProviderID)
	assert.Equal(t, "b", rows[1].ProviderID)

	rows, err = s.ListProgress(ctx, repository.ListFilter{
		Statuses:        []model.VerificationStatus{model.StatusInProgress},
		AfterProviderID: "b",
		UpdatedBefore:   base.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0].ProviderID)
}

func TestConcurrentUpsertsKeepEveryStep(t *testing.T) {
	s := NewStore(verification.DefaultRegistry())
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 1; n <= 8; n++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			_, err := s.UpsertProgress(ctx, "prov-1", repository.ProgressPatch{Steps: model.StepsCompleted{step: true}})
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	p, err := s.ReadProgress(ctx, "prov-1")
	require.NoError(t, err)
	for n := 1; n <= 8; n++ {
		assert.True(t, p.StepsCompleted[n], "step %d", n)
	}
}

func TestCanceledContext(t *testing.T) {
	s := NewStore(verification.DefaultRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ReadProgress(ctx, "prov-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCommitStepIsAllOrNothing(t *testing.T) {
	s := NewStore(verification.DefaultRegistry())
	ctx := context.Background()
	payload := &model.StepPayload{
		BusinessInfo: &model.BusinessInfo{BusinessName: "Glow", PhoneNumber: "+1 555 010 0199", Address: "1 Main"},
	}

	// 进度补丁失败时步骤数据也不写入
	approved := model.StatusApproved
	_, _, err := s.CommitStep(ctx, "prov-1", 3, payload, repository.ProgressPatch{
		Steps:  model.StepsCompleted{3: true},
		Status: &approved,
	})
	assert.ErrorIs(t, err, pkgerrors.StatusTransitionInvalid)
	data, err := s.ReadAllStepData(ctx, "prov-1")
	require.NoError(t, err)
	assert.Empty(t, data.BusinessInfo.BusinessName)
	_, err = s.ReadProgress(ctx, "prov-1")
	assert.ErrorIs(t, err, pkgerrors.ProgressNotFound)

	// 进度写入失败同理
	s.FailNext(OpUpsertProgress, pkgerrors.Transient("upsert", context.DeadlineExceeded), 1)
	_, _, err = s.CommitStep(ctx, "prov-1", 3, payload, repository.ProgressPatch{Steps: model.StepsCompleted{3: true}})
	assert.True(t, pkgerrors.IsTransient(err))
	data, _ = s.ReadAllStepData(ctx, "prov-1")
	assert.Empty(t, data.BusinessInfo.BusinessName)

	tables, p, err := s.CommitStep(ctx, "prov-1", 3, payload, repository.ProgressPatch{Steps: model.StepsCompleted{3: true}})
	require.NoError(t, err)
	assert.Equal(t, []string{model.TableProfiles}, tables)
	assert.True(t, p.StepsCompleted[3])
	data, _ = s.ReadAllStepData(ctx, "prov-1")
	assert.Equal(t, "Glow", data.BusinessInfo.BusinessName)
	assert.Equal(t, 3, s.Calls(OpWriteStepData))
}
