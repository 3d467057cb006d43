package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	var mu sync.Mutex
	var got *Event
	done := make(chan struct{})

	_, err := b.Subscribe(SubjectAgentRequestHelp, func(ctx context.Context, e *Event) error {
		mu.Lock()
		got = e
		mu.Unlock()
		close(done)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), SubjectAgentRequestHelp, NewEvent("request_help", "test", map[string]interface{}{"agentId": "a1"})))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "request_help", got.Type)
	assert.Equal(t, "a1", got.Data["agentId"])
}

func TestMemoryBusQueueSubscribeLoadBalances(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	var mu sync.Mutex
	counts := map[int]int{}
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 2; i++ {
		id := i
		_, err := b.QueueSubscribe(SubjectSessionLifecycle, "workers", func(ctx context.Context, e *Event) error {
			mu.Lock()
			counts[id]++
			mu.Unlock()
			wg.Done()
			return nil
		})
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(context.Background(), SubjectSessionLifecycle, NewEvent("tick", "test", nil)))
	}

	waitOrTimeout(t, &wg, time.Second)

	mu.Lock()
	defer mu.Unlock()
	total := counts[0] + counts[1]
	assert.Equal(t, 3, total)
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBus(nil)
	defer b.Close()

	calls := 0
	var mu sync.Mutex
	sub, err := b.Subscribe(SubjectHookTrigger, func(ctx context.Context, e *Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), SubjectHookTrigger, NewEvent("trigger", "test", nil)))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for handlers")
	}
}
