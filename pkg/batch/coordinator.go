package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shouni/go-link-harvester/pkg/extract"
	"github.com/shouni/go-link-harvester/pkg/pool"
	"github.com/shouni/go-link-harvester/pkg/types"
	"github.com/shouni/go-link-harvester/pkg/urlutil"
)

const (
	dirPerm = 0o755
	// cancelDrain は ctx のキャンセル後に、キャンセルを受けたタスクの結果を回収するため待つ上限です。
	cancelDrain = 5 * time.Second
)

// PageFetcher はバッチの起点となるページを取得します。*fetcher.PageFetcher がこれを満たします。
type PageFetcher interface {
	Fetch(ctx context.Context, url string) types.FetchResult
}

// Downloader は1件のダウンロードを実行します。*downloader.Worker がこれを満たします。
type Downloader interface {
	Download(ctx context.Context, task types.DownloadTask) types.DownloadOutcome
}

// Observer はバッチの進行を受け取ります。
// OnOutcome はプールが生成した失敗も含め、投入したすべてのタスクについて結果の回収時に1回ずつ呼ばれます。
// 複数のバッチが並行して通知することがあるため、実装はゴルーチンセーフである必要があります。
type Observer interface {
	OnBatchStart(batchID, pageURL string, total int)
	OnOutcome(batchID string, outcome types.DownloadOutcome)
}

// Observers は複数の Observer に順番に通知します。nil の要素は無視します。
type Observers []Observer

func (obs Observers) OnBatchStart(batchID, pageURL string, total int) {
	for _, o := range obs {
		if o != nil {
			o.OnBatchStart(batchID, pageURL, total)
		}
	}
}

func (obs Observers) OnOutcome(batchID string, outcome types.DownloadOutcome) {
	for _, o := range obs {
		if o != nil {
			o.OnOutcome(batchID, outcome)
		}
	}
}

// Coordinator はページ取得、リンク抽出、プールへのダウンロード投入、結果の集計を行います。
// 呼び出し間で状態を持たず、共有するのは Pool のみです。
type Coordinator struct {
	fetcher    PageFetcher
	extractor  extract.LinkExtractor
	downloader Downloader
	pool       *pool.Pool
	logger     logrus.FieldLogger
	observer   Observer
}

// Option は Coordinator の設定を行うための関数型です。
type Option func(*Coordinator)

// WithLogger はログ出力先を設定します。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver は進行状況の通知先を設定します。
func WithObserver(observer Observer) Option {
	return func(c *Coordinator) {
		c.observer = observer
	}
}

// NewCoordinator は Coordinator を生成します。
// Pool は呼び出し側が所有し、プロセス終了時に Shutdown する責任を持ちます。
func NewCoordinator(f PageFetcher, e extract.LinkExtractor, d Downloader, p *pool.Pool, opts ...Option) (*Coordinator, error) {
	if f == nil || e == nil || d == nil || p == nil {
		return nil, errors.New("batch.NewCoordinator: fetcher, extractor, downloader and pool are required")
	}
	c := &Coordinator{
		fetcher:    f,
		extractor:  e,
		downloader: d,
		pool:       p,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DownloadAllFromPage は pageURL から suffix を含むリンクを抽出し、downloadDir にすべてダウンロードします。
// 戻り値は成功した件数です。ページの取得とディレクトリの作成に失敗した場合のみ 0 を返して終了し、
// 個々のリンクの失敗はログに記録して集計を続けます。
func (c *Coordinator) DownloadAllFromPage(ctx context.Context, pageURL, suffix, downloadDir string) int {
	batchID := newBatchID()
	logger := c.logger.WithFields(logrus.Fields{"batch": batchID, "page": pageURL})

	result := c.fetcher.Fetch(ctx, pageURL)
	if !result.OK() {
		logger.WithError(result.Failure).Error("ページの取得に失敗しました")
		return 0
	}
	if result.Truncated {
		logger.Warn("ページ本文が上限を超えたため途中までを対象にします")
	}

	links := c.extractor.ExtractLinks(result.Content, suffix, pageURL)
	if len(links) == 0 {
		logger.WithField("suffix", suffix).Info("一致するリンクはありませんでした")
		return 0
	}

	if err := os.MkdirAll(downloadDir, dirPerm); err != nil {
		logger.WithError(err).WithField("dir", downloadDir).Error("ダウンロード先ディレクトリの作成に失敗しました")
		return 0
	}

	logger.WithField("links", len(links)).Info("ダウンロードを開始します")
	if c.observer != nil {
		c.observer.OnBatchStart(batchID, pageURL, len(links))
	}

	futures := make([]*pool.Future, 0, len(links))
	for _, link := range links {
		task := types.DownloadTask{
			SourceURL:       link,
			DestinationPath: filepath.Join(downloadDir, urlutil.FilenameOf(link)),
		}
		futures = append(futures, c.pool.Submit(ctx, task, func(ctx context.Context) types.DownloadOutcome {
			return c.downloader.Download(ctx, task)
		}))
	}

	start := time.Now()
	success := 0
	waitCtx := ctx
	draining := false
	for i, f := range futures {
		outcome, err := f.Await(waitCtx)
		if err != nil && !draining {
			// タスクの ctx は呼び出し元の ctx から派生するため、キャンセル後はすぐに終了する
			draining = true
			var stop context.CancelFunc
			waitCtx, stop = context.WithTimeout(context.WithoutCancel(ctx), cancelDrain)
			defer stop()
			outcome, err = f.Await(waitCtx)
		}
		if err != nil {
			logger.WithError(err).WithField("url", links[i]).Warn("ダウンロード結果の待機が中断されました")
			continue
		}
		if c.observer != nil {
			c.observer.OnOutcome(batchID, outcome)
		}
		if outcome.Success {
			success++
			continue
		}
		logger.WithFields(logrus.Fields{
			"url":  outcome.Task.SourceURL,
			"path": outcome.Task.DestinationPath,
		}).WithError(outcome.Err).Error("ダウンロードに失敗しました")
	}

	logger.WithFields(logrus.Fields{
		"success": success,
		"total":   len(links),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("ダウンロードが完了しました")
	return success
}

// DownloadFromPages は複数のページに対して順番に DownloadAllFromPage を実行し、成功件数の合計を返します。
func (c *Coordinator) DownloadFromPages(ctx context.Context, pageURLs []string, suffix, downloadDir string) int {
	total := 0
	for _, pageURL := range pageURLs {
		if ctx.Err() != nil {
			c.logger.WithError(ctx.Err()).Warn("残りのページの処理を中止します")
			break
		}
		total += c.DownloadAllFromPage(ctx, pageURL, suffix, downloadDir)
	}
	return total
}

// newBatchID は時刻順に並ぶ UUID v7 のバッチIDを返します。生成に失敗した場合は v4 を使います。
func newBatchID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
