// Package post は記事のドメインロジックを提供する。
// slug生成、公開状態の遷移、抜粋生成と、それらを使う記事サービスを含む。
package post

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// fallbackSlug は英数字を1文字も含まないタイトル（日本語のみ等）に使うslug。
const fallbackSlug = "post"

// 空白にはNBSPや全角スペースなどUnicodeの空白も含める。
var (
	slugInvalidChars = regexp.MustCompile(`[^\w\s\p{Z}\x{FEFF}-]`)
	slugSeparators   = regexp.MustCompile(`[\s\p{Z}\x{FEFF}_-]+`)
	slugEdgeHyphens  = regexp.MustCompile(`^-+|-+$`)
)

// GenerateSlug はタイトルからURLセーフなslugを生成する。
// 小文字化・前後空白除去の後、英数字・空白・ハイフン以外を除去し、
// 空白・アンダースコア・ハイフンの連続を1つのハイフンにまとめる。
// 結果が空の場合は "post" を使う。
// 同一タイトルでも一意になるよう、末尾に "-<UNIXミリ秒>" を必ず付与する。
func GenerateSlug(title string, now time.Time) string {
	slug := strings.TrimSpace(strings.ToLower(title))
	slug = slugInvalidChars.ReplaceAllString(slug, "")
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = slugEdgeHyphens.ReplaceAllString(slug, "")

	if slug == "" {
		slug = fallbackSlug
	}

	return slug + "-" + strconv.FormatInt(now.UnixMilli(), 10)
}
