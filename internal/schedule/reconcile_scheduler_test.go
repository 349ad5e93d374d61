package schedule

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"verifyflow/internal/cache"
	"verifyflow/internal/model"
	"verifyflow/internal/repository/memory"
	"verifyflow/internal/service"
	"verifyflow/internal/verification"
)

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T, now func() time.Time) (*service.VerificationService, *memory.Store) {
	t.Helper()
	reg := verification.DefaultRegistry()
	store := memory.NewStore(reg).WithClock(now)
	svc, err := service.NewVerificationService(service.Deps{
		Store: store,
		Cache: cache.NewLocalViewCache(time.Minute, now),
		Clock: now,
		Retry: service.RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)
	return svc, store
}

// seedDrifted 前三步标记完成，但商户地址为空
func seedDrifted(store *memory.Store, providerID string, updated time.Time) {
	p := model.NewDefaultProgress(providerID, 8, updated)
	for n := 1; n <= 3; n++ {
		p.StepsCompleted[n] = true
	}
	p.CurrentStep = 4
	p.VerificationStatus = model.StatusInProgress
	store.Seed(p, model.StepData{
		Documents: []model.DocumentRef{{Type: model.DocumentPassport, URL: "https://cdn.example.com/passport.jpg"}},
		SelfieURL: "https://cdn.example.com/selfie.jpg",
		BusinessInfo: model.BusinessInfo{
			BusinessName: "Glow Studio",
			PhoneNumber:  "+1 555 010 0199",
		},
	})
}

func TestRunSweepCorrectsDrift(t *testing.T) {
	svc, store := newService(t, func() time.Time { return base })
	seedDrifted(store, "prov-1", base)
	store.Seed(model.NewDefaultProgress("prov-2", 8, base), model.StepData{})

	s := NewReconcileScheduler(svc, nil, 10, zap.NewNop())
	res, ran := s.RunSweep(context.Background(), time.Minute)
	require.True(t, ran)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Corrected)
	assert.Zero(t, res.Failed)
	assert.Equal(t, res, s.LastSweep())

	p, err := store.ReadProgress(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.False(t, p.StepsCompleted[3])
	assert.Equal(t, 3, p.CurrentStep)
}

func TestRunSweepSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { _ = client.Close() })

	svc, store := newService(t, func() time.Time { return base })
	seedDrifted(store, "prov-1", base)

	ctx := context.Background()
	held, err := cache.TryLock(ctx, client, sweepLockKey, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)

	s := NewReconcileScheduler(svc, client, 10, zap.NewNop())
	_, ran := s.RunSweep(ctx, time.Minute)
	assert.False(t, ran)

	require.NoError(t, held.Unlock(ctx))
	res, ran := s.RunSweep(ctx, time.Minute)
	assert.True(t, ran)
	assert.Equal(t, 1, res.Corrected)

	// 执行完成后锁已释放
	for _, k := range mr.Keys() {
		assert.False(t, strings.Contains(k, sweepLockKey), k)
	}
}

func TestRunAbandonedScan(t *testing.T) {
	now := base.Add(48 * time.Hour)
	svc, store := newService(t, func() time.Time { return now })
	seedDrifted(store, "prov-stale", base)
	store.Seed(model.NewDefaultProgress("prov-pending", 8, base), model.StepData{})

	s := NewReconcileScheduler(svc, nil, 10, zap.NewNop())
	sessions, ran := s.RunAbandonedScan(context.Background(), time.Minute)
	require.True(t, ran)
	require.Len(t, sessions, 1)
	assert.Equal(t, "prov-stale", sessions[0].ProviderID)
	assert.Equal(t, 3, sessions[0].Recovery.ResumeStep)
}

func TestLoopStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc, _ := newService(t, time.Now)
	s := NewReconcileScheduler(svc, nil, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Loop(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
