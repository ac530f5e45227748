package cmd

import (
	"fmt"
	"net/url"
	"strings"
)

// normalizePageURL は前後の空白を除去し、スキームがない場合に https:// を補完します。
// http / https 以外のスキームとホストのないURLはエラーになります。
func normalizePageURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("URLが空です")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("URLのパースエラー: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("無効なURLスキームです。httpまたはhttpsを指定してください: %s", raw)
	}
	if parsedURL.Host == "" {
		return "", fmt.Errorf("URLにホストが含まれていません: %s", raw)
	}
	return raw, nil
}
