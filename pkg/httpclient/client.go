package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/shouni/go-link-harvester/pkg/retry"
	"github.com/shouni/go-link-harvester/pkg/types"
)

const (
	// HTTPクライアント関連の定数
	DefaultTimeout = 30 * time.Second

	// エラー詳細に含めるレスポンスボディの最大長
	maxErrorBodySnippet = 1024

	// サイトからのブロックを避けるためのUser-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"
)

// Doer は、標準の *http.Client.Do() と互換性のあるHTTPクライアントのインターフェースを定義します。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client はGETリクエスト、接続/読み込みタイムアウト、指数バックオフを用いたリトライを管理します。
// 複数のゴルーチンから同時に利用できます。
type Client struct {
	httpClient  Doer
	userAgent   string
	timeout     time.Duration
	retryConfig retry.Config
}

// Option はClientの設定を行うための関数型です。
type Option func(*Client)

// WithHTTPClient はカスタムのDoerを設定します。
func WithHTTPClient(doer Doer) Option {
	return func(c *Client) {
		c.httpClient = doer
	}
}

// WithUserAgent は全リクエストに付与する User-Agent を設定します。
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithMaxRetries は最大リトライ回数を設定します。
func WithMaxRetries(max uint64) Option {
	return func(c *Client) {
		c.retryConfig.MaxRetries = max
	}
}

// WithRetryConfig はリトライ設定全体を置き換えます。
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) {
		c.retryConfig = cfg
	}
}

// WithLogger はリトライ時のログ出力先を設定します。
func WithLogger(logger log.FieldLogger) Option {
	return func(c *Client) {
		c.retryConfig.Logger = logger
	}
}

// New は新しいClientを生成します。
// timeout は接続タイムアウトと読み込みタイムアウトの両方に個別に適用され、リクエスト全体の上限にはなりません。
func New(timeout time.Duration, options ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		userAgent:   DefaultUserAgent,
		timeout:     timeout,
		retryConfig: retry.DefaultConfig(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: newTransport(timeout)}
	}
	return c
}

// newTransport は接続フェーズとレスポンスヘッダ待ちに timeout を設定したトランスポートを返します。
func newTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Timeout は設定済みのタイムアウトを返します。
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// UserAgent は設定済みの User-Agent を返します。
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Get はURLに対してGETリクエストを送り、ステータス 200 のレスポンスを返します。
// 返されたボディは読み込みごとに timeout のアイドルタイムアウトが適用され、呼び出し元が必ず Close する必要があります。
// 失敗時のエラーは *types.Failure (Network / HTTPStatus / MalformedURL) を含みます。
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	var resp *http.Response

	op := func() error {
		var getErr error
		resp, getErr = c.doGet(ctx, url)
		return getErr
	}

	err := retry.Do(
		ctx,
		c.retryConfig,
		fmt.Sprintf("URL(%s)のフェッチ", url),
		op,
		isRetryableError,
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// doGet は実際の一度のHTTP GETリクエストを実行します。
func (c *Client) doGet(parent context.Context, url string) (*http.Response, error) {
	ctx, cancel := context.WithCancel(parent)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, types.NewFailure(types.MalformedURL, fmt.Sprintf("GETリクエスト作成に失敗しました (%s)", url), err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, types.NewFailure(types.Network, "HTTPリクエストに失敗しました (ネットワーク/接続エラー)", err)
	}

	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	resp.Body = newIdleTimeoutBody(resp.Body, c.timeout, cancel)
	return resp, nil
}

// checkResponse はステータスコードを評価し、200 以外なら HTTPStatus の Failure を返します。
// ボディの先頭をエラー詳細として読み込みますが、閉じる責務は呼び出し元にあります。
func checkResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySnippet+1))
	detail := strings.TrimSpace(string(snippet))
	if len(detail) > maxErrorBodySnippet {
		detail = detail[:maxErrorBodySnippet] + "..."
	}
	return types.StatusFailure(resp.StatusCode, detail)
}

// IsRetryableStatus は、再試行で回復する可能性のあるステータスコードかどうかを返します。
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// isRetryableError はエラーがHTTPリトライ対象かどうかを判定します。
// この関数は retry.ShouldRetryFunc 型のシグネチャを満たします。
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var f *types.Failure
	if !errors.As(err, &f) {
		return true
	}
	switch f.Kind {
	case types.Network:
		return true
	case types.HTTPStatus:
		return IsRetryableStatus(f.StatusCode)
	default:
		return false
	}
}

// idleTimeoutBody は、1回の Read が timeout を超えてブロックした場合にリクエストを中断するボディです。
type idleTimeoutBody struct {
	body     io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	cancel   context.CancelFunc
	timedOut atomic.Bool
	once     sync.Once
}

func newIdleTimeoutBody(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutBody {
	b := &idleTimeoutBody{body: body, timeout: timeout, cancel: cancel}
	b.timer = time.AfterFunc(timeout, func() {
		b.timedOut.Store(true)
		cancel()
	})
	// 最初の Read までは計測しない
	b.timer.Stop()
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.timedOut.Load() {
		return 0, b.timeoutFailure(nil)
	}
	b.timer.Reset(b.timeout)
	n, err := b.body.Read(p)
	b.timer.Stop()

	if err != nil && err != io.EOF {
		if b.timedOut.Load() {
			return n, b.timeoutFailure(err)
		}
		return n, types.NewFailure(types.Network, "レスポンスボディの読み込みに失敗しました", err)
	}
	return n, err
}

func (b *idleTimeoutBody) timeoutFailure(cause error) error {
	return types.NewFailure(types.Network, fmt.Sprintf("読み込みタイムアウト (%s)", b.timeout), cause)
}

func (b *idleTimeoutBody) Close() error {
	var err error
	b.once.Do(func() {
		b.timer.Stop()
		err = b.body.Close()
		b.cancel()
	})
	return err
}
