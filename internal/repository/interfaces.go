// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
)

// PostRepository は記事データの永続化インターフェース。
type PostRepository interface {
	// ListPublished は公開済み記事をpublished_at降順で取得する。
	// 2番目の戻り値は公開済み記事の総件数。
	ListPublished(ctx context.Context, offset, limit int) ([]*model.Post, int, error)

	// FindBySlug はslugで記事を取得する。見つからない場合はnilを返す。
	// 下書きも返すため、可視性の判定は呼び出し側で行う。
	FindBySlug(ctx context.Context, slug string) (*model.Post, error)

	// Create は記事を作成し、採番されたIDをpost.IDに設定する。
	Create(ctx context.Context, post *model.Post) error

	// Update は記事のタイトル・本文・slug・状態・公開日時・更新日時を上書きする。
	Update(ctx context.Context, post *model.Post) error

	// Delete は指定IDの記事を削除する。
	Delete(ctx context.Context, id string) error

	// SetViewCount は閲覧数を指定値で上書きする。
	SetViewCount(ctx context.Context, id string, count int) error
}

// ProfileRepository はユーザープロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByIDs は複数IDのプロフィールをまとめて取得する。
	// 存在しないIDは結果に含まれない。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Profile, error)

	// Upsert はプロフィールを作成する。既に存在する場合は上書きする。
	Upsert(ctx context.Context, profile *model.Profile) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Update はトークンとIdentityのスナップショットを更新する。
	Update(ctx context.Context, session *model.Session) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore以前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
