package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/upstream"
)

const postsTable = "posts"

// RestStore は外部サービスの行ストレージAPIのうちリポジトリが使う操作。
// upstream.RestClientが実装する。
type RestStore interface {
	Select(ctx context.Context, table string, q upstream.Query, dest any) (int, error)
	Insert(ctx context.Context, table string, row any, dest any) error
	Upsert(ctx context.Context, table string, row any, onConflict string, dest any) error
	Update(ctx context.Context, table string, filters []upstream.Filter, patch any, dest any) error
	Delete(ctx context.Context, table string, filters []upstream.Filter) error
}

var _ RestStore = (*upstream.RestClient)(nil)

// postRow はpostsテーブルの行のJSON表現。
type postRow struct {
	ID          string     `json:"id,omitempty"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Slug        string     `json:"slug"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ViewCount   int        `json:"view_count"`
}

func newPostRow(p *model.Post) postRow {
	return postRow{
		ID:          p.ID,
		UserID:      p.UserID,
		Title:       p.Title,
		Content:     p.Content,
		Slug:        p.Slug,
		Status:      string(p.Status),
		PublishedAt: p.PublishedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		ViewCount:   p.ViewCount,
	}
}

func (r postRow) post() *model.Post {
	return &model.Post{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Content:     r.Content,
		Slug:        r.Slug,
		Status:      model.PostStatus(r.Status),
		PublishedAt: r.PublishedAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ViewCount:   r.ViewCount,
	}
}

// RestPostRepo は外部サービスの行ストレージを使用した記事リポジトリ。
type RestPostRepo struct {
	store RestStore
}

// NewRestPostRepo はRestPostRepoを生成する。
func NewRestPostRepo(store RestStore) *RestPostRepo {
	return &RestPostRepo{store: store}
}

// ListPublished は公開済み記事をpublished_at降順で取得する。
func (r *RestPostRepo) ListPublished(ctx context.Context, offset, limit int) ([]*model.Post, int, error) {
	var rows []postRow
	total, err := r.store.Select(ctx, postsTable, upstream.Query{
		Filters:    []upstream.Filter{upstream.Eq("status", string(model.PostStatusPublished))},
		OrderBy:    "published_at",
		Descending: true,
		Offset:     offset,
		Limit:      limit,
		Count:      true,
	}, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list published posts: %w", err)
	}

	posts := make([]*model.Post, 0, len(rows))
	for _, row := range rows {
		posts = append(posts, row.post())
	}
	return posts, total, nil
}

// FindBySlug はslugで記事を取得する。見つからない場合はnilを返す。
func (r *RestPostRepo) FindBySlug(ctx context.Context, slug string) (*model.Post, error) {
	var rows []postRow
	_, err := r.store.Select(ctx, postsTable, upstream.Query{
		Filters: []upstream.Filter{upstream.Eq("slug", slug)},
		Limit:   1,
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to find post by slug: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].post(), nil
}

// Create は記事を作成し、外部サービスが採番したIDをpost.IDに設定する。
func (r *RestPostRepo) Create(ctx context.Context, post *model.Post) error {
	var created []postRow
	if err := r.store.Insert(ctx, postsTable, newPostRow(post), &created); err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	if len(created) == 0 {
		return fmt.Errorf("failed to create post: no row returned")
	}
	post.ID = created[0].ID
	return nil
}

// Update は記事の編集可能な列を上書きする。
func (r *RestPostRepo) Update(ctx context.Context, post *model.Post) error {
	patch := map[string]any{
		"title":        post.Title,
		"content":      post.Content,
		"slug":         post.Slug,
		"status":       string(post.Status),
		"published_at": post.PublishedAt,
		"updated_at":   post.UpdatedAt,
	}
	if err := r.store.Update(ctx, postsTable, []upstream.Filter{upstream.Eq("id", post.ID)}, patch, nil); err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	return nil
}

// Delete は指定IDの記事を削除する。
func (r *RestPostRepo) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, postsTable, []upstream.Filter{upstream.Eq("id", id)}); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// SetViewCount は閲覧数を指定値で上書きする。
func (r *RestPostRepo) SetViewCount(ctx context.Context, id string, count int) error {
	patch := map[string]int{"view_count": count}
	if err := r.store.Update(ctx, postsTable, []upstream.Filter{upstream.Eq("id", id)}, patch, nil); err != nil {
		return fmt.Errorf("failed to set view count: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*RestPostRepo)(nil)
