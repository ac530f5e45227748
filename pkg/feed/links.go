package feed

import (
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"
)

// 汎用抽出のためのインターフェースとアダプター

// LinkSource は、リンクのリストを提供できる任意の型を表します。
type LinkSource interface {
	GetLinks() []string
}

// FeedAdapter は gofeed.Feed を LinkSource に適合させるためのアダプターです。
// 記事のリンクに加えてエンクロージャ (ポッドキャストの音声ファイルなど) のURLも返します。
type FeedAdapter struct {
	*gofeed.Feed
}

// NewFeedAdapter は gofeed.Feed から新しいアダプターを作成します。
func NewFeedAdapter(feed *gofeed.Feed) *FeedAdapter {
	return &FeedAdapter{Feed: feed}
}

// Parse はフィード文書 (RSS / Atom / JSON Feed) を解析してアダプターを返します。
func Parse(content string) (*FeedAdapter, error) {
	fp := gofeed.NewParser()
	parsed, err := fp.ParseString(content)
	if err != nil {
		return nil, fmt.Errorf("フィードのパース失敗: %w", err)
	}
	return NewFeedAdapter(parsed), nil
}

// GetLinks はフィード内の順序で、各アイテムのリンク・追加リンク・エンクロージャURLを返します。
// 空文字列は除外しますが、重複は除去しません。
func (a *FeedAdapter) GetLinks() []string {
	if a == nil || a.Feed == nil || len(a.Items) == 0 {
		return []string{}
	}

	urls := make([]string, 0, len(a.Items))
	for _, item := range a.Items {
		if item == nil {
			continue
		}
		if link := strings.TrimSpace(item.Link); link != "" {
			urls = append(urls, link)
		}
		for _, extra := range item.Links {
			// gofeed は Link を Links の先頭にも含めるため、同一のものは一度だけ数える
			if extra = strings.TrimSpace(extra); extra != "" && extra != strings.TrimSpace(item.Link) {
				urls = append(urls, extra)
			}
		}
		for _, enc := range item.Enclosures {
			if enc != nil && strings.TrimSpace(enc.URL) != "" {
				urls = append(urls, strings.TrimSpace(enc.URL))
			}
		}
	}
	return urls
}

// GetAllLinks は LinkSource インターフェースを満たすオブジェクトからリンクを抽出する汎用関数です。
func GetAllLinks(source LinkSource) []string {
	if source == nil {
		return []string{}
	}
	return source.GetLinks()
}
