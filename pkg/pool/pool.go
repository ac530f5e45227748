package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shouni/go-link-harvester/pkg/types"
)

const (
	// DefaultSize はプールの同時実行数のデフォルト値です。
	DefaultSize = 5
	// DefaultShutdownGrace は Shutdown が実行中のタスクを待つデフォルトの猶予時間です。
	DefaultShutdownGrace = 60 * time.Second
)

var (
	// ErrClosed は Shutdown 後に投入されたタスクの結果に設定されるエラーです。
	ErrClosed = errors.New("ワーカープールは停止済みです")
	// ErrCanceledWhileWaiting は実行枠を待つ間にタスクがキャンセルされたことを示します。
	// 元のコンテキストのエラーも errors.Is で判定できます。
	ErrCanceledWhileWaiting = errors.New("実行待ちの間にキャンセルされました")
	// ErrForcedShutdown は猶予時間内にタスクが終了せず、強制停止したことを示します。
	ErrForcedShutdown = errors.New("猶予時間内にタスクが終了しなかったため強制停止しました")
)

// Task はプール上で実行される1件の処理です。ctx はプールの停止でもキャンセルされます。
type Task func(ctx context.Context) types.DownloadOutcome

// Future は投入したタスクの結果を待つためのハンドルです。
type Future struct {
	done    chan struct{}
	outcome types.DownloadOutcome
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(o types.DownloadOutcome) {
	f.outcome = o
	close(f.done)
}

// Done は結果が確定すると閉じられるチャネルを返します。
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await は結果の確定を待ちます。ctx が先に終了した場合は ctx.Err() を返します。
// 確定済みの結果は ctx の状態にかかわらず返します。
func (f *Future) Await(ctx context.Context) (types.DownloadOutcome, error) {
	select {
	case <-f.done:
		return f.outcome, nil
	default:
	}
	select {
	case <-f.done:
		return f.outcome, nil
	case <-ctx.Done():
		return types.DownloadOutcome{}, ctx.Err()
	}
}

// Pool は同時実行数を制限してタスクを実行するワーカープールです。
// 複数のバッチから共有して利用できます。
type Pool struct {
	size int
	sem  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New は同時実行数 size のプールを生成します。size が 0 以下の場合は DefaultSize を使います。
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Size はプールの同時実行数を返します。
func (p *Pool) Size() int {
	return p.size
}

// Submit はタスクを投入し、結果を待つための Future を返します。ブロックしません。
// task の識別用に DownloadTask を受け取り、失敗時の結果にはこれが設定されます。
// 停止済みのプールに投入した場合は、ErrClosed を持つ失敗結果で確定済みの Future を返します。
func (p *Pool) Submit(ctx context.Context, dt types.DownloadTask, task Task) *Future {
	f := newFuture()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.resolve(types.Failed(dt, ErrClosed, 0))
		return f
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		f.resolve(p.run(ctx, dt, task))
	}()
	return f
}

func (p *Pool) run(ctx context.Context, dt types.DownloadTask, task Task) (outcome types.DownloadOutcome) {
	start := time.Now()

	// 呼び出し元とプールのどちらが終了してもキャンセルされるコンテキスト
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()

	if err := p.sem.Acquire(taskCtx, 1); err != nil {
		return types.Failed(dt, fmt.Errorf("%w: %w", ErrCanceledWhileWaiting, err), time.Since(start))
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			outcome = types.Failed(dt, fmt.Errorf("タスクの実行中に panic が発生しました: %v", r), time.Since(start))
		}
	}()
	return task(taskCtx)
}

// Shutdown は新しいタスクの受け付けを停止し、実行中と待機中のタスクの終了を grace まで待ちます。
// 猶予時間を過ぎた場合は残りのタスクをキャンセルし、それらの終了を待ってから ErrForcedShutdown を返します。
// 2回目以降の呼び出しは何もしません。
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		p.cancel()
		<-done
		return ErrForcedShutdown
	}
}
