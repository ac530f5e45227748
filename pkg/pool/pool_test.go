package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/go-link-harvester/pkg/types"
)

func taskFor(i int) types.DownloadTask {
	return types.DownloadTask{SourceURL: fmt.Sprintf("https://example.com/%d.zip", i), DestinationPath: fmt.Sprintf("/tmp/%d.zip", i)}
}

func TestNew_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New(0).Size())
	assert.Equal(t, DefaultSize, New(-3).Size())
	assert.Equal(t, 2, New(2).Size())
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	const size, total = 2, 8
	p := New(size)
	defer p.Shutdown(time.Second)

	var running, maxRunning int32
	futures := make([]*Future, 0, total)
	for i := 0; i < total; i++ {
		dt := taskFor(i)
		futures = append(futures, p.Submit(context.Background(), dt, func(ctx context.Context) types.DownloadOutcome {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return types.Succeeded(dt, 1, 0)
		}))
	}

	for i, f := range futures {
		outcome, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.True(t, outcome.Success)
		assert.Equal(t, taskFor(i), outcome.Task, "結果は投入したタスクに対応するべきです")
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(size))
	assert.Greater(t, atomic.LoadInt32(&maxRunning), int32(0))
}

func TestSubmit_DoesNotBlock(t *testing.T) {
	p := New(1)
	defer p.Shutdown(time.Second)

	release := make(chan struct{})
	start := time.Now()
	var futures []*Future
	for i := 0; i < 5; i++ {
		dt := taskFor(i)
		futures = append(futures, p.Submit(context.Background(), dt, func(ctx context.Context) types.DownloadOutcome {
			<-release
			return types.Succeeded(dt, 0, 0)
		}))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(release)
	for _, f := range futures {
		<-f.Done()
	}
}

func TestSubmit_PanicBecomesFailure(t *testing.T) {
	p := New(1)
	defer p.Shutdown(time.Second)

	dt := taskFor(1)
	outcome, err := p.Submit(context.Background(), dt, func(ctx context.Context) types.DownloadOutcome {
		panic("boom")
	}).Await(context.Background())

	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, dt, outcome.Task)
	assert.Contains(t, outcome.Err.Error(), "boom")

	// パニック後もスロットは解放されている
	outcome, err = p.Submit(context.Background(), dt, func(ctx context.Context) types.DownloadOutcome {
		return types.Succeeded(dt, 1, 0)
	}).Await(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestSubmit_AfterShutdown(t *testing.T) {
	p := New(1)
	require.NoError(t, p.Shutdown(time.Second))

	var called bool
	dt := taskFor(1)
	f := p.Submit(context.Background(), dt, func(ctx context.Context) types.DownloadOutcome {
		called = true
		return types.Succeeded(dt, 0, 0)
	})

	outcome, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, called)
	assert.False(t, outcome.Success)
	assert.True(t, errors.Is(outcome.Err, ErrClosed))

	assert.NoError(t, p.Shutdown(time.Second), "2回目の Shutdown は何もしないべきです")
}

func TestShutdown_WaitsForRunningTasks(t *testing.T) {
	p := New(2)

	var finished int32
	var futures []*Future
	for i := 0; i < 4; i++ {
		dt := taskFor(i)
		futures = append(futures, p.Submit(context.Background(), dt, func(ctx context.Context) types.DownloadOutcome {
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&finished, 1)
			return types.Succeeded(dt, 0, 0)
		}))
	}

	require.NoError(t, p.Shutdown(5*time.Second))
	assert.Equal(t, int32(4), atomic.LoadInt32(&finished))
	for _, f := range futures {
		select {
		case <-f.Done():
		default:
			t.Fatal("Shutdown 後に未確定の Future があります")
		}
	}
}

func TestShutdown_ForcedAfterGrace(t *testing.T) {
	p := New(1)

	var mu sync.Mutex
	var errs []error
	futures := make([]*Future, 0, 3)
	for i := 0; i < 3; i++ {
		dt := taskFor(i)
		futures = append(futures, p.Submit(context.Background(), dt, func(ctx context.Context) types.DownloadOutcome {
			<-ctx.Done()
			mu.Lock()
			errs = append(errs, ctx.Err())
			mu.Unlock()
			return types.Failed(dt, ctx.Err(), 0)
		}))
	}

	err := p.Shutdown(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrForcedShutdown)

	for _, f := range futures {
		outcome, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.False(t, outcome.Success)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, errs, "実行中のタスクはキャンセルされるべきです")
}

func TestSubmit_CallerContextCancelled(t *testing.T) {
	p := New(1)
	defer p.Shutdown(time.Second)

	block := make(chan struct{})
	started := make(chan struct{})
	first := p.Submit(context.Background(), taskFor(0), func(ctx context.Context) types.DownloadOutcome {
		close(started)
		<-block
		return types.Succeeded(taskFor(0), 0, 0)
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var called bool
	second := p.Submit(ctx, taskFor(1), func(ctx context.Context) types.DownloadOutcome {
		called = true
		return types.Succeeded(taskFor(1), 0, 0)
	})
	cancel()

	outcome, err := second.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.False(t, called)
	assert.ErrorIs(t, outcome.Err, ErrCanceledWhileWaiting)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
	var failure *types.Failure
	assert.False(t, errors.As(outcome.Err, &failure), "キャンセルは通信エラーとして分類しないべきです")

	close(block)
	outcome, err = first.Await(context.Background())
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}

func TestFuture_AwaitContextDone(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFuture_AwaitPrefersResolvedOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		f := newFuture()
		f.resolve(types.Succeeded(taskFor(i), 1, 0))

		outcome, err := f.Await(ctx)
		require.NoError(t, err, "確定済みの結果はキャンセル済みのコンテキストより優先されるべきです")
		require.True(t, outcome.Success)
	}
}
