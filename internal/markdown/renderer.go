// Package markdown は記事本文のMarkdownを表示用HTMLに変換する。
package markdown

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/hitoshi/inkpost/internal/security"
)

// Renderer はMarkdownをGFM拡張付きでHTMLに変換し、サニタイズして返す。
// goldmarkのインスタンスは設定後に変更しないため、複数リクエストから共有できる。
type Renderer struct {
	md        goldmark.Markdown
	sanitizer security.ContentSanitizerService
}

// NewRenderer はRendererを生成する。
// 本文中の生HTMLはgoldmarkでは出力せず、さらにサニタイザで許可リスト外のタグを除去する。
func NewRenderer(sanitizer security.ContentSanitizerService) *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
	return &Renderer{md: md, sanitizer: sanitizer}
}

// Render はMarkdownをサニタイズ済みHTMLに変換する。空文字列には空文字列を返す。
func (r *Renderer) Render(source string) (string, error) {
	if source == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return r.sanitizer.Sanitize(buf.String()), nil
}
