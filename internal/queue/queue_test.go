package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"verifyflow/internal/model"
	"verifyflow/pkg/snowflake"
)

func TestNewInvalidationMessage(t *testing.T) {
	require.NoError(t, snowflake.Init(1, 1))
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	msg, err := NewInvalidationMessage("prov-1", model.TableProgress, now)
	require.NoError(t, err)
	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, "prov-1", msg.ProviderID)
	assert.Equal(t, model.TableProgress, msg.Table)
	assert.Equal(t, "2026-04-01T09:00:00Z", msg.OccurredAt)
}

func TestInvalidationMessageHandler(t *testing.T) {
	ctx := context.Background()

	var got []model.InvalidationMessage
	h := invalidationMessageHandler(func(_ context.Context, msg model.InvalidationMessage) error {
		got = append(got, msg)
		return nil
	})

	// 格式错误的消息直接确认
	assert.NoError(t, h(ctx, []byte("not json")))
	assert.NoError(t, h(ctx, []byte(`{"message_id":"m1"}`)))
	assert.Empty(t, got)

	require.NoError(t, h(ctx, []byte(`{"message_id":"m2","provider_id":"prov-1","table":"profiles"}`)))
	require.Len(t, got, 1)
	assert.Equal(t, "prov-1", got[0].ProviderID)

	failing := invalidationMessageHandler(func(context.Context, model.InvalidationMessage) error {
		return errors.New("cache down")
	})
	assert.Error(t, failing(ctx, []byte(`{"provider_id":"prov-1"}`)))
}

func TestLocalBusFanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	received := map[string]int{}
	for i := 0; i < 2; i++ {
		bus.Subscribe(ctx, func(_ context.Context, msg model.InvalidationMessage) error {
			mu.Lock()
			received[msg.ProviderID]++
			mu.Unlock()
			wg.Done()
			return nil
		})
	}

	require.NoError(t, bus.PublishProgressChanged(ctx, "prov-1", model.TableProgress))
	wg.Wait()
	bus.Close()

	assert.Equal(t, 2, received["prov-1"])
	// 关闭后发布不报错
	assert.NoError(t, bus.PublishProgressChanged(ctx, "prov-1", model.TableProgress))
}

func TestLocalBusStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	bus.Subscribe(ctx, func(context.Context, model.InvalidationMessage) error { return nil })

	cancel()
	bus.Close()
}
