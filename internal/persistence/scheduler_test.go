package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebounceBound(t *testing.T) {
	var calls int32
	var timestamps []time.Time
	var mu sync.Mutex

	sched := New(100*time.Millisecond, 500*time.Millisecond, func(ctx context.Context, name string) error {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		timestamps = append(timestamps, time.Now())
		mu.Unlock()
		return nil
	}, nil, nil)

	start := time.Now()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case <-ticker.C:
			sched.NotifyDirty("doc-1")
		case <-deadline:
			break loop
		}
	}

	// allow in-flight saves to land
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, timestamps, "expected at least one onStoreDocument invocation")
	firstGap := timestamps[0].Sub(start)
	assert.LessOrEqual(t, firstGap, 600*time.Millisecond, "first save must land within maxDebounce + slack")
	assert.GreaterOrEqual(t, len(timestamps), 2)
	assert.LessOrEqual(t, len(timestamps), 6)
}

func TestFlushForcesImmediateSave(t *testing.T) {
	saved := make(chan struct{}, 1)
	sched := New(time.Hour, time.Hour, func(ctx context.Context, name string) error {
		saved <- struct{}{}
		return nil
	}, nil, nil)

	sched.NotifyDirty("doc-1")
	require.True(t, sched.Pending("doc-1"))

	require.NoError(t, sched.Flush(context.Background(), "doc-1"))
	select {
	case <-saved:
	case <-time.After(time.Second):
		t.Fatal("flush did not invoke save synchronously")
	}
	assert.False(t, sched.Pending("doc-1"))
}

func TestCancelDropsWithoutSaving(t *testing.T) {
	var called int32
	sched := New(50*time.Millisecond, time.Second, func(ctx context.Context, name string) error {
		atomic.AddInt32(&called, 1)
		return nil
	}, nil, nil)

	sched.NotifyDirty("doc-1")
	sched.Cancel("doc-1")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&called))
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	s := NewMemoryStorage()
	_, ok, err := s.Load(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Store(context.Background(), "doc-1", []byte("hello")))
	data, ok, err := s.Load(context.Background(), "doc-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(data))
}
