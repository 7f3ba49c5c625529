package post

import (
	"regexp"
	"strings"
)

// ExcerptMaxLength は一覧に表示する抜粋の最大文字数。
const ExcerptMaxLength = 200

// excerptPass はMarkdown記法を取り除く置換処理の1段階。
type excerptPass struct {
	pattern     *regexp.Regexp
	replacement string
}

// excerptPasses は適用順に並べた置換処理。
// 太字(**)は斜体(*)より先に処理しないと、**を2組の*として消費してしまう。
var excerptPasses = []excerptPass{
	{regexp.MustCompile(`(?m)^#{1,6}\s+`), ""},            // 見出し
	{regexp.MustCompile(`\*\*([^*]+)\*\*`), "${1}"},       // 太字
	{regexp.MustCompile(`\*([^*]+)\*`), "${1}"},           // 斜体
	{regexp.MustCompile("`([^`]+)`"), "${1}"},             // インラインコード
	{regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`), "${1}"}, // リンク
	{regexp.MustCompile(`[\r\n]+`), " "},                  // 改行
}

// Excerpt はMarkdown本文から最大200文字のプレーンテキスト抜粋を生成する。
func Excerpt(markdown string) string {
	return ExcerptWithLimit(markdown, ExcerptMaxLength)
}

// ExcerptWithLimit はMarkdown本文から最大maxLen文字のプレーンテキスト抜粋を生成する。
// 単語境界には丸めず、maxLen文字で機械的に切り詰める。maxLenが0以下なら空文字列を返す。
func ExcerptWithLimit(markdown string, maxLen int) string {
	if markdown == "" || maxLen <= 0 {
		return ""
	}

	text := markdown
	for _, pass := range excerptPasses {
		text = pass.pattern.ReplaceAllString(text, pass.replacement)
	}
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return text
}
