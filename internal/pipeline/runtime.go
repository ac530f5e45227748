package pipeline

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shouni/go-link-harvester/internal/config"
	"github.com/shouni/go-link-harvester/pkg/batch"
	"github.com/shouni/go-link-harvester/pkg/downloader"
	"github.com/shouni/go-link-harvester/pkg/extract"
	"github.com/shouni/go-link-harvester/pkg/fetcher"
	"github.com/shouni/go-link-harvester/pkg/httpclient"
	"github.com/shouni/go-link-harvester/pkg/pool"
	"github.com/shouni/go-link-harvester/pkg/retry"
)

// Runtime はプロセス全体で共有する部品を保持します。
// Pool はここで一度だけ生成され、Close で一度だけ停止します。
type Runtime struct {
	Client     *httpclient.Client
	Fetcher    *fetcher.PageFetcher
	Downloader *downloader.Worker
	Pool       *pool.Pool

	logger logrus.FieldLogger
	grace  time.Duration
}

// New は設定から HTTP クライアント、ページ取得、ダウンロードワーカー、プールを組み立てます。
func New(cfg *config.Config, logger logrus.FieldLogger) (*Runtime, error) {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.MaxRetries
	retryCfg.Logger = logger

	client := httpclient.New(
		cfg.Timeout(),
		httpclient.WithUserAgent(cfg.UserAgent),
		httpclient.WithRetryConfig(retryCfg),
	)

	f, err := fetcher.New(client)
	if err != nil {
		return nil, fmt.Errorf("PageFetcherの初期化エラー: %w", err)
	}
	w, err := downloader.NewWorker(client, downloader.WithBufferSize(cfg.BufferSize))
	if err != nil {
		return nil, fmt.Errorf("Workerの初期化エラー: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"timeout":     cfg.Timeout(),
		"pool_size":   cfg.PoolSize,
		"max_retries": cfg.MaxRetries,
	}).Debug("ランタイムを初期化しました")

	return &Runtime{
		Client:     client,
		Fetcher:    f,
		Downloader: w,
		Pool:       pool.New(cfg.PoolSize),
		logger:     logger,
		grace:      cfg.ShutdownGrace,
	}, nil
}

// Coordinator は抽出方式と通知先を指定して、共有プールを使う Coordinator を生成します。
func (r *Runtime) Coordinator(mode extract.Mode, opts extract.Options, observer batch.Observer) (*batch.Coordinator, error) {
	e, err := extract.New(mode, opts)
	if err != nil {
		return nil, err
	}
	return batch.NewCoordinator(r.Fetcher, e, r.Downloader, r.Pool,
		batch.WithLogger(r.logger),
		batch.WithObserver(observer),
	)
}

// Close はプールを停止します。猶予時間内に終わらなかったタスクは中断されます。
func (r *Runtime) Close() error {
	if err := r.Pool.Shutdown(r.grace); err != nil {
		r.logger.WithError(err).WithField("grace", r.grace).Warn("ワーカープールを強制停止しました")
		return err
	}
	return nil
}
