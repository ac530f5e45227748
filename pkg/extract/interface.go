package extract

import (
	"fmt"
	"strings"

	"github.com/shouni/go-link-harvester/pkg/types"
)

// ----------------------------------------------------------------------
// 依存性の定義 (DIP)
// ----------------------------------------------------------------------

// LinkExtractor は、取得済みのマークアップから suffix を含むリンクを抽出し、
// baseURL に対して解決した絶対URLを出現順に返す機能のインターフェースです。
// 一致しない場合は空の LinkSet を返し、エラーは返しません。
type LinkExtractor interface {
	ExtractLinks(markup, suffix, baseURL string) types.LinkSet
}

// Mode は抽出方式の名前です。
type Mode string

const (
	// ModePattern は href 属性を正規表現で走査します (デフォルト)。
	ModePattern Mode = "pattern"
	// ModeDocument は HTML をパースして href 属性を持つ要素を走査します。
	ModeDocument Mode = "document"
	// ModeFeed は RSS / Atom のアイテムリンクとエンクロージャを走査します。
	ModeFeed Mode = "feed"
)

// Options は抽出方式に共通の設定です。
type Options struct {
	// Strict が true の場合、URLのパスが suffix で終わるリンクのみを対象にします。
	// false の場合は属性値に suffix が含まれていれば対象です。
	Strict bool
}

// New は mode に対応する LinkExtractor を返します。空文字列は ModePattern として扱います。
func New(mode Mode, opts Options) (LinkExtractor, error) {
	switch Mode(strings.ToLower(string(mode))) {
	case "", ModePattern:
		return NewPatternExtractor(opts), nil
	case ModeDocument:
		return NewDocumentExtractor(opts), nil
	case ModeFeed:
		return NewFeedExtractor(opts), nil
	default:
		return nil, fmt.Errorf("未対応の抽出モードです: %q (pattern, document, feed のいずれかを指定してください)", mode)
	}
}
