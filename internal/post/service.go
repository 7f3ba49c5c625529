package post

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/inkpost/internal/auth"
	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/repository"
)

// PageSize はトップページ1ページあたりの記事数。
const PageSize = 10

// TitleMaxLength はタイトルの最大文字数。postsテーブルのtitle列と揃える。
const TitleMaxLength = 200

// Renderer はMarkdownをサニタイズ済みHTMLに変換するインターフェース。
// markdown.Rendererが実装する。
type Renderer interface {
	Render(source string) (string, error)
}

// Recorder は記事閲覧とベストエフォート処理の失敗を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordPostView()
	RecordBestEffortFailure(operation string)
}

// Service は記事の一覧・閲覧・作成・編集・削除を提供する。
type Service struct {
	postRepo    repository.PostRepository
	profileRepo repository.ProfileRepository
	renderer    Renderer
	recorder    Recorder
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	postRepo repository.PostRepository,
	profileRepo repository.ProfileRepository,
	renderer Renderer,
) *Service {
	return &Service{
		postRepo:    postRepo,
		profileRepo: profileRepo,
		renderer:    renderer,
		now:         time.Now,
	}
}

// SetRecorder はメトリクスの記録先を設定する。
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// List は公開済み記事を公開日時の新しい順にページ単位で返す。
// pageが1未満の場合は1ページ目として扱う。
func (s *Service) List(ctx context.Context, page int) (*model.PostPage, error) {
	if page < 1 {
		page = 1
	}

	// 1. 記事と総件数を取得
	posts, total, err := s.postRepo.ListPublished(ctx, (page-1)*PageSize, PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	// 2. 著者プロフィールを結合し抜粋を生成
	items, err := s.withAuthors(ctx, posts)
	if err != nil {
		return nil, err
	}

	totalPages := (total + PageSize - 1) / PageSize
	if totalPages < 1 {
		totalPages = 1
	}

	return &model.PostPage{
		Posts:       items,
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalCount:  total,
	}, nil
}

// Latest はRSS配信用に最新の公開済み記事をlimit件返す。
func (s *Service) Latest(ctx context.Context, limit int) ([]*model.PostWithAuthor, error) {
	posts, _, err := s.postRepo.ListPublished(ctx, 0, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list latest posts: %w", err)
	}
	return s.withAuthors(ctx, posts)
}

// Get はslugで記事を取得し、本文をHTMLに変換して返す。
// 下書きは所有者にのみ表示し、それ以外には存在しない記事と同じエラーを返す。
// 閲覧数はベストエフォートで1加算する。
func (s *Service) Get(ctx context.Context, viewer *model.Identity, slug string) (*model.PostDetail, error) {
	p, err := s.postRepo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if p == nil || !visibleTo(p, viewer) {
		return nil, model.NewPostNotFoundError()
	}

	author, err := s.profileRepo.FindByID(ctx, p.UserID)
	if err != nil {
		// 著者が表示できなくても記事は表示する
		slog.Warn("failed to load author profile",
			slog.String("post_id", p.ID),
			slog.String("error", err.Error()),
		)
		author = nil
	}

	html, err := s.renderer.Render(p.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to render post: %w", err)
	}

	s.incrementViewCount(ctx, p)

	return &model.PostDetail{
		PostWithAuthor: model.PostWithAuthor{
			Post:    *p,
			Author:  author,
			Excerpt: Excerpt(p.Content),
		},
		ContentHTML: html,
	}, nil
}

// Create は記事を作成する。ログイン済みであれば誰でも作成できる。
func (s *Service) Create(ctx context.Context, viewer *model.Identity, edit Edit) (*model.Post, error) {
	if err := auth.RequireIdentity(viewer).Err(); err != nil {
		return nil, err
	}
	edit, err := normalizeEdit(edit)
	if err != nil {
		return nil, err
	}

	p := NewPost(viewer.ID, edit, s.now())
	if err := s.postRepo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}

	slog.Info("post created",
		slog.String("post_id", p.ID),
		slog.String("user_id", viewer.ID),
		slog.String("status", string(p.Status)),
	)
	return p, nil
}

// LoadForEdit は編集フォーム用に記事を取得する。所有者のみ取得できる。
func (s *Service) LoadForEdit(ctx context.Context, viewer *model.Identity, slug string) (*model.Post, error) {
	return s.findOwned(ctx, viewer, slug)
}

// Update は記事に編集内容を適用して保存する。所有者のみ更新できる。
func (s *Service) Update(ctx context.Context, viewer *model.Identity, slug string, edit Edit) (*model.Post, error) {
	old, err := s.findOwned(ctx, viewer, slug)
	if err != nil {
		return nil, err
	}
	edit, err = normalizeEdit(edit)
	if err != nil {
		return nil, err
	}

	next := ApplyEdit(old, edit, s.now())
	if err := s.postRepo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	slog.Info("post updated",
		slog.String("post_id", next.ID),
		slog.String("user_id", viewer.ID),
		slog.String("status", string(next.Status)),
	)
	return next, nil
}

// Delete は記事を削除する。所有者のみ削除できる。
func (s *Service) Delete(ctx context.Context, viewer *model.Identity, slug string) error {
	p, err := s.findOwned(ctx, viewer, slug)
	if err != nil {
		return err
	}
	if err := s.postRepo.Delete(ctx, p.ID); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	slog.Info("post deleted",
		slog.String("post_id", p.ID),
		slog.String("user_id", viewer.ID),
	)
	return nil
}

// findOwned は変更操作の対象記事を取得し、アクセスガードを適用する。
// 未ログイン、記事なし、所有者以外の順に判定する。
// 所有者以外には存在を隠さずForbiddenを返す。
func (s *Service) findOwned(ctx context.Context, viewer *model.Identity, slug string) (*model.Post, error) {
	if err := auth.RequireIdentity(viewer).Err(); err != nil {
		return nil, err
	}

	p, err := s.postRepo.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError()
	}

	decision := auth.AuthorizeMutation(viewer, p.UserID)
	if !decision.Allowed() {
		slog.Warn("post mutation denied",
			slog.String("post_id", p.ID),
			slog.String("user_id", viewer.ID),
			slog.String("outcome", decision.Outcome.String()),
		)
		return nil, decision.Err()
	}
	return p, nil
}

// withAuthors は記事に著者プロフィールと抜粋を結合する。
// プロフィールは記事とは別に一括取得し、ユーザーIDで突き合わせる。
func (s *Service) withAuthors(ctx context.Context, posts []*model.Post) ([]*model.PostWithAuthor, error) {
	if len(posts) == 0 {
		return []*model.PostWithAuthor{}, nil
	}

	seen := make(map[string]bool, len(posts))
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			ids = append(ids, p.UserID)
		}
	}

	profiles, err := s.profileRepo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load author profiles: %w", err)
	}
	byID := make(map[string]*model.Profile, len(profiles))
	for _, pr := range profiles {
		byID[pr.ID] = pr
	}

	items := make([]*model.PostWithAuthor, len(posts))
	for i, p := range posts {
		items[i] = &model.PostWithAuthor{
			Post:    *p,
			Author:  byID[p.UserID],
			Excerpt: Excerpt(p.Content),
		}
	}
	return items, nil
}

// incrementViewCount は閲覧数を読み取り値+1で上書きする。
// 同時閲覧で加算が失われることがあるが、閲覧数は概算値として扱う。
// メトリクスは保存の成否によらず閲覧ごとに記録する。
func (s *Service) incrementViewCount(ctx context.Context, p *model.Post) {
	if s.recorder != nil {
		s.recorder.RecordPostView()
	}
	if err := s.postRepo.SetViewCount(ctx, p.ID, p.ViewCount+1); err != nil {
		slog.Warn("best-effort operation failed",
			slog.String("operation", "view_count"),
			slog.String("post_id", p.ID),
			slog.String("error", err.Error()),
		)
		if s.recorder != nil {
			s.recorder.RecordBestEffortFailure("view_count")
		}
	}
}

// visibleTo は記事が閲覧者に表示可能かを返す。下書きは所有者のみ閲覧できる。
func visibleTo(p *model.Post, viewer *model.Identity) bool {
	if p.IsPublished() {
		return true
	}
	return viewer != nil && viewer.ID == p.UserID
}

// normalizeEdit は入力値の前後空白を除去し、タイトルと公開状態を検証する。
func normalizeEdit(edit Edit) (Edit, error) {
	edit.Title = strings.TrimSpace(edit.Title)
	if edit.Title == "" {
		return edit, model.NewValidationError("タイトルを入力してください。")
	}
	if utf8.RuneCountInString(edit.Title) > TitleMaxLength {
		return edit, model.NewValidationError(fmt.Sprintf("タイトルは%d文字以内で入力してください。", TitleMaxLength))
	}
	if edit.Status != "" && !edit.Status.Valid() {
		return edit, model.NewValidationError("公開状態の値が不正です。")
	}
	return edit, nil
}
