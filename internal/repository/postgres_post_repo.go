package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/inkpost/internal/model"
)

const postColumns = `id, user_id, title, content, slug, status, published_at, created_at, updated_at, view_count`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresPostRepo はPostgreSQLを使用した記事リポジトリ。
// セルフホスト構成（RECORD_BACKEND=postgres）で使用する。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

func scanPost(row rowScanner) (*model.Post, error) {
	post := &model.Post{}
	var status string
	var publishedAt sql.NullTime
	err := row.Scan(
		&post.ID, &post.UserID, &post.Title, &post.Content, &post.Slug,
		&status, &publishedAt, &post.CreatedAt, &post.UpdatedAt, &post.ViewCount,
	)
	if err != nil {
		return nil, err
	}
	post.Status = model.PostStatus(status)
	if publishedAt.Valid {
		t := publishedAt.Time
		post.PublishedAt = &t
	}
	return post, nil
}

// ListPublished は公開済み記事をpublished_at降順で取得する。
func (r *PostgresPostRepo) ListPublished(ctx context.Context, offset, limit int) ([]*model.Post, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE status = 'published'`,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count published posts: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts
		 WHERE status = 'published'
		 ORDER BY published_at DESC NULLS LAST, created_at DESC
		 OFFSET $1 LIMIT $2`,
		offset, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list published posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return posts, total, nil
}

// FindBySlug はslugで記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindBySlug(ctx context.Context, slug string) (*model.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE slug = $1`,
		slug,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by slug: %w", err)
	}
	return post, nil
}

// Create は記事を作成する。IDが未設定の場合はUUIDを採番する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, user_id, title, content, slug, status, published_at, created_at, updated_at, view_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		post.ID, post.UserID, post.Title, post.Content, post.Slug,
		string(post.Status), nullTime(post.PublishedAt), post.CreatedAt, post.UpdatedAt, post.ViewCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// Update は記事の編集可能な列を上書きする。
func (r *PostgresPostRepo) Update(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts
		 SET title = $2, content = $3, slug = $4, status = $5, published_at = $6, updated_at = $7
		 WHERE id = $1`,
		post.ID, post.Title, post.Content, post.Slug,
		string(post.Status), nullTime(post.PublishedAt), post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	return nil
}

// Delete は指定IDの記事を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return nil
}

// SetViewCount は閲覧数を指定値で上書きする。
func (r *PostgresPostRepo) SetViewCount(ctx context.Context, id string, count int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET view_count = $2 WHERE id = $1`,
		id, count,
	)
	if err != nil {
		return fmt.Errorf("failed to set view count: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
