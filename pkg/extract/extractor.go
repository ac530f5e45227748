package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shouni/go-link-harvester/pkg/feed"
	"github.com/shouni/go-link-harvester/pkg/types"
	"github.com/shouni/go-link-harvester/pkg/urlutil"
)

// ----------------------------------------------------------------------
// 正規表現による抽出 (デフォルト)
// ----------------------------------------------------------------------

// hrefPatternFormat は href="..." / href='...' の値のうち suffix を含むものを捕捉します。
// suffix は regexp.QuoteMeta でエスケープしてから埋め込みます。
const hrefPatternFormat = `(?i)href\s*=\s*['"]\s*([^'"]*%s[^'"]*)['"]`

// PatternExtractor は正規表現で href 属性を走査する LinkExtractor です。
type PatternExtractor struct {
	opts Options
}

// NewPatternExtractor は PatternExtractor を生成します。
func NewPatternExtractor(opts Options) *PatternExtractor {
	return &PatternExtractor{opts: opts}
}

// ExtractLinks は LinkExtractor インターフェースを実装します。
func (e *PatternExtractor) ExtractLinks(markup, suffix, baseURL string) types.LinkSet {
	re := regexp.MustCompile(fmt.Sprintf(hrefPatternFormat, regexp.QuoteMeta(suffix)))

	var values []string
	for _, match := range re.FindAllStringSubmatch(markup, -1) {
		if len(match) > 1 {
			values = append(values, match[1])
		}
	}
	return collect(values, suffix, baseURL, e.opts)
}

// ----------------------------------------------------------------------
// HTMLパーサーによる抽出
// ----------------------------------------------------------------------

// DocumentExtractor は goquery で HTML を解析し、href 属性を持つ全要素を文書順に走査します。
type DocumentExtractor struct {
	opts Options
}

// NewDocumentExtractor は DocumentExtractor を生成します。
func NewDocumentExtractor(opts Options) *DocumentExtractor {
	return &DocumentExtractor{opts: opts}
}

// ExtractLinks は LinkExtractor インターフェースを実装します。
func (e *DocumentExtractor) ExtractLinks(markup, suffix, baseURL string) types.LinkSet {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return types.LinkSet{}
	}

	var values []string
	doc.Find("[href]").Each(func(i int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			values = append(values, href)
		}
	})
	return collect(values, suffix, baseURL, e.opts)
}

// ----------------------------------------------------------------------
// フィードによる抽出
// ----------------------------------------------------------------------

// FeedExtractor は RSS / Atom / JSON Feed のリンクとエンクロージャを走査します。
type FeedExtractor struct {
	opts Options
}

// NewFeedExtractor は FeedExtractor を生成します。
func NewFeedExtractor(opts Options) *FeedExtractor {
	return &FeedExtractor{opts: opts}
}

// ExtractLinks は LinkExtractor インターフェースを実装します。フィードとして解析できない場合は空を返します。
func (e *FeedExtractor) ExtractLinks(markup, suffix, baseURL string) types.LinkSet {
	adapter, err := feed.Parse(markup)
	if err != nil {
		return types.LinkSet{}
	}
	return collect(feed.GetAllLinks(adapter), suffix, baseURL, e.opts)
}

// ----------------------------------------------------------------------
// ヘルパー関数
// ----------------------------------------------------------------------

// collect は suffix を含む値だけを出現順に残し、baseURL に対して解決します。重複は除去しません。
func collect(values []string, suffix, baseURL string, opts Options) types.LinkSet {
	links := make(types.LinkSet, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if !containsFold(v, suffix) {
			continue
		}
		resolved := urlutil.ResolveOrRaw(baseURL, v)
		if opts.Strict && !hasSuffixFold(resolved, suffix) {
			continue
		}
		links = append(links, resolved)
	}
	return links
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// hasSuffixFold はURLのパス部分 (クエリとフラグメントを除く) が suffix で終わるかを判定します。
func hasSuffixFold(rawURL, suffix string) bool {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.HasSuffix(strings.ToLower(p), strings.ToLower(suffix))
}
