package post

import (
	"regexp"
	"strconv"
	"testing"
	"time"
)

var urlSafeSlug = regexp.MustCompile(`^[a-z0-9-]+$`)

func TestGenerateSlug_TitleWithPunctuation(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	got := GenerateSlug("My First Post!!", now)

	want := "my-first-post-1700000000123"
	if got != want {
		t.Errorf("GenerateSlug = %q, want %q", got, want)
	}
	if !regexp.MustCompile(`^my-first-post-\d+$`).MatchString(got) {
		t.Errorf("slug %q does not match ^my-first-post-\\d+$", got)
	}
}

func TestGenerateSlug_FallbackForNonWordTitles(t *testing.T) {
	now := time.UnixMilli(42)

	tests := []string{
		"",
		"   ",
		"日本語のタイトル",
		"!!!???",
		"---",
		"___",
		"中文标题",
	}

	for _, title := range tests {
		got := GenerateSlug(title, now)
		if got != "post-42" {
			t.Errorf("GenerateSlug(%q) = %q, want %q", title, got, "post-42")
		}
	}
}

func TestGenerateSlug_CollapsesSeparators(t *testing.T) {
	now := time.UnixMilli(7)

	tests := []struct {
		title string
		want  string
	}{
		{"Hello   World", "hello-world-7"},
		{"snake_case_title", "snake-case-title-7"},
		{"  --Leading and trailing--  ", "leading-and-trailing-7"},
		{"a - b _ c", "a-b-c-7"},
		{"Go 1.25 リリース", "go-125-7"},
		{"Tabs\tand\nnewlines", "tabs-and-newlines-7"},
		{"Hello\u3000World", "hello-world-7"},
		{"hello\u00a0world", "hello-world-7"},
		{"go\u3000lang\u3000入門", "go-lang-7"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := GenerateSlug(tt.title, now); got != tt.want {
				t.Errorf("GenerateSlug(%q) = %q, want %q", tt.title, got, tt.want)
			}
		})
	}
}

// TestGenerateSlug_AlwaysURLSafe は任意の入力に対してslugがURLセーフで
// 数値サフィックスで終わることを検証する。
func TestGenerateSlug_AlwaysURLSafe(t *testing.T) {
	now := time.Now()
	suffix := "-" + strconv.FormatInt(now.UnixMilli(), 10)

	titles := []string{
		"Simple",
		"UPPER lower MiXeD",
		"<script>alert(1)</script>",
		"emoji 🎉 party",
		"Ünïcödé Çhàrs",
		"path/to/../file",
		"a b",
		"100%",
		"多言語 mixed タイトル 123",
	}

	for _, title := range titles {
		got := GenerateSlug(title, now)
		if got == "" {
			t.Errorf("GenerateSlug(%q) returned empty string", title)
		}
		if !urlSafeSlug.MatchString(got) {
			t.Errorf("GenerateSlug(%q) = %q, not URL-safe", title, got)
		}
		if len(got) <= len(suffix) || got[len(got)-len(suffix):] != suffix {
			t.Errorf("GenerateSlug(%q) = %q, want suffix %q", title, got, suffix)
		}
	}
}

func TestGenerateSlug_SameTitleDifferentTime(t *testing.T) {
	a := GenerateSlug("Same Title", time.UnixMilli(1000))
	b := GenerateSlug("Same Title", time.UnixMilli(1001))

	if a == b {
		t.Errorf("expected different slugs for different timestamps, both %q", a)
	}
}
