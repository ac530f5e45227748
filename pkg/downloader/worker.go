package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shouni/go-link-harvester/pkg/fetcher"
	"github.com/shouni/go-link-harvester/pkg/types"
)

const (
	// DefaultBufferSize はレスポンスボディを書き込む際のチャンクサイズです (8KiB)。
	DefaultBufferSize = 8 * 1024

	dirPerm = 0o755
)

// Worker は1つのURLをダウンロードしてファイルに書き込みます。
// 状態を持たないため、複数のゴルーチンから同時に利用できます。
type Worker struct {
	client     fetcher.Getter
	bufferSize int
}

// Option は Worker の設定を行うための関数型です。
type Option func(*Worker)

// WithBufferSize は書き込みチャンクのサイズを設定します。0 以下は無視されます。
func WithBufferSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.bufferSize = n
		}
	}
}

// NewWorker は Worker を生成します。
func NewWorker(client fetcher.Getter, opts ...Option) (*Worker, error) {
	if client == nil {
		return nil, errors.New("downloader.NewWorker: Getter cannot be nil")
	}
	w := &Worker{client: client, bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Download は task.SourceURL を取得し、task.DestinationPath に書き込みます。
// 親ディレクトリがなければ作成します。本文は一時ファイルへチャンク単位で書き込んだ後に
// リネームするため、既存ファイルは途中の状態で壊れることなく置き換えられます。
// すべての失敗は DownloadOutcome で返します。
func (w *Worker) Download(ctx context.Context, task types.DownloadTask) types.DownloadOutcome {
	start := time.Now()
	written, err := w.download(ctx, task)
	if err != nil {
		return types.Failed(task, err, time.Since(start))
	}
	return types.Succeeded(task, written, time.Since(start))
}

func (w *Worker) download(ctx context.Context, task types.DownloadTask) (int64, error) {
	dir := filepath.Dir(task.DestinationPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return 0, types.NewFailure(types.Filesystem, fmt.Sprintf("ディレクトリ作成に失敗しました (%s)", dir), err)
	}

	resp, err := w.client.Get(ctx, task.SourceURL)
	if err != nil {
		return 0, types.AsFailure(err, types.Network)
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(task.DestinationPath)+".*.part")
	if err != nil {
		return 0, types.NewFailure(types.Filesystem, "一時ファイルの作成に失敗しました", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	written, err := w.copyChunks(tmp, resp.Body)
	if err != nil {
		return written, err
	}
	if err := tmp.Close(); err != nil {
		return written, types.NewFailure(types.Filesystem, "ファイルのクローズに失敗しました", err)
	}
	if err := os.Rename(tmpPath, task.DestinationPath); err != nil {
		os.Remove(tmpPath)
		committed = true // 一時ファイルは削除済み
		return written, types.NewFailure(types.Filesystem, fmt.Sprintf("ファイルの配置に失敗しました (%s)", task.DestinationPath), err)
	}
	committed = true
	return written, nil
}

// copyChunks は src を固定サイズのバッファで読み込み dst に書き込みます。
// 読み込みの失敗は Network、書き込みの失敗は Filesystem として返します。
func (w *Worker) copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, w.bufferSize)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			m, err := dst.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, types.NewFailure(types.Filesystem, "ファイルへの書き込みに失敗しました", err)
			}
			if m != n {
				return written, types.NewFailure(types.Filesystem, "ファイルへの書き込みに失敗しました", io.ErrShortWrite)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, types.AsFailure(readErr, types.Network)
		}
	}
}
