package types

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind は、処理中に発生した失敗の分類です。
type FailureKind int

const (
	// MalformedURL は URL の解析・解決に失敗したことを示します。
	MalformedURL FailureKind = iota + 1
	// Network は接続、タイムアウト、読み込みなどの通信エラーを示します。
	Network
	// HTTPStatus は 200 以外のステータスコードが返されたことを示します。
	HTTPStatus
	// Filesystem はディレクトリ・ファイルの作成や書き込みの失敗を示します。
	Filesystem
)

func (k FailureKind) String() string {
	switch k {
	case MalformedURL:
		return "MalformedUrl"
	case Network:
		return "Network"
	case HTTPStatus:
		return "HttpStatus"
	case Filesystem:
		return "Filesystem"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Failure は分類付きのエラーです。errors.As で取り出して Kind を判定します。
type Failure struct {
	Kind       FailureKind
	StatusCode int    // Kind == HTTPStatus の場合のみ
	Detail     string // 人間向けの詳細
	Err        error  // 元のエラー (任意)
}

func (f *Failure) Error() string {
	if f.Kind == HTTPStatus {
		if f.Detail != "" {
			return fmt.Sprintf("%s: ステータスコード %d, %s", f.Kind, f.StatusCode, f.Detail)
		}
		return fmt.Sprintf("%s: ステータスコード %d", f.Kind, f.StatusCode)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure は Failure を生成します。
func NewFailure(kind FailureKind, detail string, err error) *Failure {
	return &Failure{Kind: kind, Detail: detail, Err: err}
}

// StatusFailure は HTTPStatus 種別の Failure を生成します。
func StatusFailure(code int, detail string) *Failure {
	return &Failure{Kind: HTTPStatus, StatusCode: code, Detail: detail}
}

// AsFailure は err のチェーンから *Failure を取り出します。
// 見つからない場合は fallback 種別で err を包んだ Failure を返します。
func AsFailure(err error, fallback FailureKind) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: fallback, Detail: err.Error(), Err: err}
}

// FetchResult はページ取得の結果です。Content か Failure のどちらか一方のみが有効です。
type FetchResult struct {
	Content   string
	Failure   *Failure
	Truncated bool // 本文が上限を超えたため Content が途中までであること
}

// OK は取得に成功したかどうかを返します。
func (r FetchResult) OK() bool {
	return r.Failure == nil
}

// LinkSet は抽出された絶対URLの列です。出現順を保持し、重複は除去しません。
type LinkSet []string

// DownloadTask は1リンク分のダウンロード指示です。生成後は変更しません。
type DownloadTask struct {
	SourceURL       string
	DestinationPath string
}

// DownloadOutcome は1つの DownloadTask に対する結果です。
// これは、Coordinator の集計と Observer (進捗表示・履歴) の入力として利用されます。
type DownloadOutcome struct {
	Task    DownloadTask
	Success bool
	Err     error         // 失敗時の詳細
	Bytes   int64         // 書き込んだバイト数
	Elapsed time.Duration // 処理時間
}

// Succeeded は成功した結果を生成します。
func Succeeded(task DownloadTask, written int64, elapsed time.Duration) DownloadOutcome {
	return DownloadOutcome{Task: task, Success: true, Bytes: written, Elapsed: elapsed}
}

// Failed は失敗した結果を生成します。
func Failed(task DownloadTask, err error, elapsed time.Duration) DownloadOutcome {
	return DownloadOutcome{Task: task, Success: false, Err: err, Elapsed: elapsed}
}

// CountSuccess は成功した結果の件数を数えます。
func CountSuccess(outcomes []DownloadOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Success {
			n++
		}
	}
	return n
}
