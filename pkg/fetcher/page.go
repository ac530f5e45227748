package fetcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/shouni/go-link-harvester/pkg/types"
)

// MaxPageSize はページ本文として読み込む最大バイト数のデフォルト値です (10MB)。
const MaxPageSize = int64(10 * 1024 * 1024)

// sniffLen は文字コードの判定に使う先頭のバイト数です。
const sniffLen = 1024

// Getter は PageFetcher が依存するHTTP取得のインターフェースです。
// *httpclient.Client がこれを満たします。
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// PageFetcher は1ページ分のテキストを取得します。
type PageFetcher struct {
	client      Getter
	maxPageSize int64
}

// Option は PageFetcher の設定を行うための関数型です。
type Option func(*PageFetcher)

// WithMaxPageSize は読み込む本文の上限バイト数を設定します。0 以下の値は無視されます。
func WithMaxPageSize(n int64) Option {
	return func(f *PageFetcher) {
		if n > 0 {
			f.maxPageSize = n
		}
	}
}

// New は PageFetcher を生成します。
func New(client Getter, opts ...Option) (*PageFetcher, error) {
	if client == nil {
		return nil, errors.New("fetcher.New: Getter cannot be nil")
	}
	f := &PageFetcher{client: client, maxPageSize: MaxPageSize}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch は url にGETリクエストを送り、本文を行単位で読み込んで "\n" で連結したテキストを返します。
// Content-Type、BOM、meta タグで宣言された文字コードは UTF-8 に変換し、宣言がない場合はバイト列をそのまま扱います。
// 上限を超えた本文は切り詰め、FetchResult.Truncated を true にします。
// 失敗は FetchResult.Failure に格納され、panic や error は返しません。
func (f *PageFetcher) Fetch(ctx context.Context, url string) types.FetchResult {
	resp, err := f.client.Get(ctx, url)
	if err != nil {
		return types.FetchResult{Failure: types.AsFailure(err, types.Network)}
	}
	defer resp.Body.Close()

	reader := decodingReader(bufio.NewReaderSize(resp.Body, sniffLen), resp.Header.Get("Content-Type"))

	content, err := readLines(io.LimitReader(reader, f.maxPageSize))
	if err != nil {
		return types.FetchResult{Failure: types.AsFailure(err, types.Network)}
	}

	// 上限の直後にまだデータがあれば切り詰めたことになる
	var next [1]byte
	n, _ := io.ReadFull(reader, next[:])
	return types.FetchResult{Content: content, Truncated: n > 0}
}

// decodingReader は宣言された文字コードから UTF-8 に変換する Reader を返します。
// x/net/html/charset は宣言がない ASCII の先頭部分を windows-1252 と推測するため、
// 確定していない windows-1252 は採用せず、UTF-8 と同様に変換しません。
func decodingReader(br *bufio.Reader, contentType string) io.Reader {
	// Peek のエラーは短い本文や読み込みエラーで、後続の読み込みで扱う
	prefix, _ := br.Peek(sniffLen)

	enc, name, certain := charset.DetermineEncoding(prefix, contentType)
	if name == "utf-8" || (!certain && name == "windows-1252") {
		return br
	}
	return enc.NewDecoder().Reader(br)
}

// readLines は r を行単位で読み込み、改行コード (LF / CRLF) を除いて "\n" で連結します。
func readLines(r io.Reader) (string, error) {
	br := bufio.NewReader(r)
	var lines []string
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			lines = append(lines, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("ページ本文の読み込みに失敗しました: %w", err)
		}
	}
	return strings.Join(lines, "\n"), nil
}
