// Package model はドメインモデルを定義する。
package model

import "time"

// Post はMarkdownで書かれたブログ記事を表す。
type Post struct {
	ID          string
	UserID      string
	Title       string
	Content     string // Markdown
	Slug        string
	Status      PostStatus
	PublishedAt *time.Time // 初回公開時に1度だけ設定される
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ViewCount   int
}

// PostStatus は記事の公開状態を表す。
type PostStatus string

const (
	// PostStatusDraft は下書き状態。
	PostStatusDraft PostStatus = "draft"
	// PostStatusPublished は公開状態。
	PostStatusPublished PostStatus = "published"
)

// Valid は公開状態が定義済みの値かどうかを返す。
func (s PostStatus) Valid() bool {
	return s == PostStatusDraft || s == PostStatusPublished
}

// IsPublished は記事が公開済みかどうかを返す。
func (p *Post) IsPublished() bool {
	return p.Status == PostStatusPublished
}

// PostWithAuthor は記事と著者プロフィール、抜粋を結合したモデル。
// 著者プロフィールは別クエリで取得し、プロセス内でマージされる。
type PostWithAuthor struct {
	Post
	Author  *Profile // プロフィール未作成の場合はnil
	Excerpt string
}

// AuthorName は表示用の著者名を返す。
func (p *PostWithAuthor) AuthorName() string {
	if p.Author == nil {
		return ""
	}
	if p.Author.DisplayName != "" {
		return p.Author.DisplayName
	}
	return p.Author.Username
}

// PostPage はページネーションされた記事一覧を表す。
type PostPage struct {
	Posts       []*PostWithAuthor
	CurrentPage int
	TotalPages  int
	TotalCount  int
}

// HasNextPage は次のページが存在するかを返す。
func (p *PostPage) HasNextPage() bool {
	return p.CurrentPage < p.TotalPages
}

// HasPrevPage は前のページが存在するかを返す。
func (p *PostPage) HasPrevPage() bool {
	return p.CurrentPage > 1
}

// PostDetail は記事詳細ページ用のモデル。
type PostDetail struct {
	PostWithAuthor
	ContentHTML string // サニタイズ済みHTML
}
