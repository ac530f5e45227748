package urlutil

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shouni/go-link-harvester/pkg/types"
)

// PlaceholderFilename は、URLからファイル名を導出できない場合に使用する名前です。
const PlaceholderFilename = "downloaded_file"

// Resolve は、相対参照 ref を base に対して RFC 3986 に従って解決し、絶対URLを返します。
// base または ref が解析できない場合は MalformedURL 種別の *types.Failure を返します。
func Resolve(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", types.NewFailure(types.MalformedURL, fmt.Sprintf("ベースURLの解析に失敗しました (%s)", base), err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", types.NewFailure(types.MalformedURL, fmt.Sprintf("相対URLの解析に失敗しました (%s)", ref), err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// ResolveOrRaw は Resolve を試み、失敗した場合は ref をそのまま返します。
// リンク抽出ではバッチを止めないため、こちらを利用します。
func ResolveOrRaw(base, ref string) string {
	resolved, err := Resolve(base, ref)
	if err != nil {
		return ref
	}
	return resolved
}

// FilenameOf は URL の最後のパスセグメントからファイルシステム上で安全なファイル名を導出します。
// セグメントが空・"."・".."、またはURLが解析できない場合は PlaceholderFilename を返します。
// この関数はエラーを返しません。
func FilenameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PlaceholderFilename
	}

	// エンコード済みの "/" (%2F) をセグメント区切りと見なさないよう、エスケープ済みパスで分割する
	segment := u.EscapedPath()
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}
	name, err := url.PathUnescape(segment)
	if err != nil {
		return PlaceholderFilename
	}
	name = sanitize(name)

	if name == "" || name == "." || name == ".." {
		return PlaceholderFilename
	}
	return name
}

// sanitize はパス区切りと制御文字を "_" に置き換えます。
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}
