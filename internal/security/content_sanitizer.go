// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー投稿（フォーラム投稿、コメント、チャット）と
// 取り込んだ書籍概要からマークアップを除去し、プレーンテキストとして保存できる形にする。
// 取り込み元フィードのHTMLはbluemondayの許可リストで整形用タグのみに制限する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はテキストサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// StripMarkup は全てのHTMLタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// エンティティはデコードされる。同一入力に対して常に同一出力を返す。
	StripMarkup(raw string) string

	// SanitizeHTML は書籍概要などのHTMLを許可タグのみに制限する。
	// 許可タグ: p, br, a, ul, ol, li, blockquote, strong, em, img（src/hrefはhttpsのみ）
	SanitizeHTML(rawHTML string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	strict *bluemonday.Policy
	rich   *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "strong", "em",
	)
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)
	rich.AllowAttrs("src", "alt").OnElements("img")
	rich.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &textSanitizer{
		strict: bluemonday.StrictPolicy(),
		rich:   rich,
	}
}

// StripMarkup は全てのHTMLタグを除去したプレーンテキストを返す。
func (s *textSanitizer) StripMarkup(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.strict.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// SanitizeHTML は許可タグのみを残したHTMLを返す。
func (s *textSanitizer) SanitizeHTML(rawHTML string) string {
	return s.rich.Sanitize(rawHTML)
}
