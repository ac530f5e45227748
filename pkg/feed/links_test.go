package feed

import (
	"testing"

	"github.com/mmcdole/gofeed"
)

// MockLinkSource は LinkSource インターフェースを満たすテスト用のモックです。
type MockLinkSource struct {
	Links []string
}

// GetLinks は MockLinkSource のメソッドで、設定されたリンクを返します。
func (m *MockLinkSource) GetLinks() []string {
	return m.Links
}

func assertLinks(t *testing.T, expected, actual []string) {
	t.Helper()
	if len(actual) != len(expected) {
		t.Fatalf("抽出されたリンクの数が一致しません。\n期待値: %d (%v)\n実際: %d (%v)", len(expected), expected, len(actual), actual)
	}
	for i := range actual {
		if actual[i] != expected[i] {
			t.Errorf("リンク [%d] が一致しません。\n期待値: %s\n実際: %s", i, expected[i], actual[i])
		}
	}
}

// TestFeedAdapter_GetLinks は FeedAdapterが gofeed.Feedから正しくリンクを抽出できるかをテストします。
func TestFeedAdapter_GetLinks(t *testing.T) {
	tests := []struct {
		name     string
		feed     *gofeed.Feed
		expected []string
	}{
		{
			name: "正常ケース_リンクとエンクロージャ",
			feed: &gofeed.Feed{
				Items: []*gofeed.Item{
					{Link: "http://example.com/a", Enclosures: []*gofeed.Enclosure{{URL: "http://example.com/a.mp3"}}},
					{Link: ""}, // 空リンクは無視されるべき
					{Link: "http://example.com/b", Links: []string{"http://example.com/b", "http://example.com/b.pdf"}},
				},
			},
			expected: []string{
				"http://example.com/a",
				"http://example.com/a.mp3",
				"http://example.com/b",
				"http://example.com/b.pdf",
			},
		},
		{
			name: "正常ケース_重複は保持",
			feed: &gofeed.Feed{
				Items: []*gofeed.Item{
					{Link: "http://example.com/same.zip"},
					{Link: "http://example.com/same.zip"},
				},
			},
			expected: []string{"http://example.com/same.zip", "http://example.com/same.zip"},
		},
		{
			name:     "エッジケース_アイテムが空",
			feed:     &gofeed.Feed{Items: []*gofeed.Item{}},
			expected: []string{},
		},
		{
			name:     "エッジケース_フィードがnil",
			feed:     nil,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertLinks(t, tt.expected, NewFeedAdapter(tt.feed).GetLinks())
		})
	}
}

func TestParse(t *testing.T) {
	validRSS := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>http://example.com/</link>
    <item>
      <title>Episode 1</title>
      <link>http://example.com/ep1</link>
      <enclosure url="http://example.com/ep1.mp3" length="100" type="audio/mpeg"/>
    </item>
  </channel>
</rss>`

	t.Run("成功ケース_有効なRSS", func(t *testing.T) {
		adapter, err := Parse(validRSS)
		if err != nil {
			t.Fatalf("エラーを期待していませんでしたが、エラーが返されました: %v", err)
		}
		if adapter.Title != "Test Feed" {
			t.Errorf("フィードタイトルが一致しません: %s", adapter.Title)
		}
		assertLinks(t, []string{"http://example.com/ep1", "http://example.com/ep1.mp3"}, adapter.GetLinks())
	})

	t.Run("エラーケース_パース失敗", func(t *testing.T) {
		if _, err := Parse(`<invalid><tag>`); err == nil {
			t.Errorf("エラーを期待していましたが、nilが返されました。")
		}
	})
}

// TestGetAllLinks は GetAllLinks 汎用関数が LinkSource インターフェースを正しく利用できるかをテストします。
func TestGetAllLinks(t *testing.T) {
	expectedLinks := []string{"link1", "link2", "link3"}

	tests := []struct {
		name     string
		source   LinkSource
		expected []string
	}{
		{
			name:     "正常ケース_MockLinkSourceの利用",
			source:   &MockLinkSource{Links: expectedLinks},
			expected: expectedLinks,
		},
		{
			name:     "エッジケース_ソースがnil",
			source:   nil,
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertLinks(t, tt.expected, GetAllLinks(tt.source))
		})
	}
}
