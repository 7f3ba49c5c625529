// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/post"
)

// PostServiceInterface は記事ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	List(ctx context.Context, page int) (*model.PostPage, error)
	Latest(ctx context.Context, limit int) ([]*model.PostWithAuthor, error)
	Get(ctx context.Context, viewer *model.Identity, slug string) (*model.PostDetail, error)
	Create(ctx context.Context, viewer *model.Identity, edit post.Edit) (*model.Post, error)
	LoadForEdit(ctx context.Context, viewer *model.Identity, slug string) (*model.Post, error)
	Update(ctx context.Context, viewer *model.Identity, slug string, edit post.Edit) (*model.Post, error)
	Delete(ctx context.Context, viewer *model.Identity, slug string) error
}

var _ PostServiceInterface = (*post.Service)(nil)

// PostHandler は記事関連のHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
	pages   *Pages
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface, pages *Pages) *PostHandler {
	return &PostHandler{service: service, pages: pages}
}

// Index は公開済み記事の一覧を表示する。
// GET /?page=N
func (h *PostHandler) Index(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	result, err := h.service.List(r.Context(), page)
	if err != nil {
		status, _ := classifyError(err)
		slog.Error("failed to list posts", slog.String("error", err.Error()))
		// 一覧の取得に失敗しても空の一覧としてページは表示する
		h.pages.render(w, r, status, pageIndex, &PageData{
			Page:      &model.PostPage{CurrentPage: 1, TotalPages: 1},
			FormError: "記事の読み込みに失敗しました。",
		})
		return
	}

	h.pages.render(w, r, http.StatusOK, pageIndex, &PageData{Page: result})
}

// Show は記事の詳細を表示する。
// GET /posts/{slug}
func (h *PostHandler) Show(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.ViewerFromContext(r.Context()).Identity()

	detail, err := h.service.Get(r.Context(), viewer, chi.URLParam(r, "slug"))
	if err != nil {
		h.pages.renderError(w, r, err)
		return
	}

	h.pages.render(w, r, http.StatusOK, pagePost, &PageData{
		Title:   detail.Title,
		Post:    detail,
		IsOwner: viewer != nil && viewer.ID == detail.UserID,
	})
}

// New は記事作成フォームを表示する。
// GET /posts/create/new
func (h *PostHandler) New(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, pagePostForm, &PageData{
		Title: "新しい記事",
		Form:  FormValues{Status: string(model.PostStatusPublished)},
	})
}

// Create は記事を作成し、記事ページへリダイレクトする。
// POST /posts/create/new
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.ViewerFromContext(r.Context()).Identity()
	form, err := parsePostForm(r)
	if err != nil {
		h.pages.renderError(w, r, err)
		return
	}

	if err := validateForm(form); err != nil {
		h.renderForm(w, r, "新しい記事", form.values(""), err)
		return
	}

	created, err := h.service.Create(r.Context(), viewer, form.edit())
	if err != nil {
		h.renderForm(w, r, "新しい記事", form.values(""), err)
		return
	}

	http.Redirect(w, r, "/posts/"+created.Slug, http.StatusSeeOther)
}

// Edit は記事編集フォームを表示する。所有者のみ。
// GET /posts/{slug}/edit
func (h *PostHandler) Edit(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.ViewerFromContext(r.Context()).Identity()

	p, err := h.service.LoadForEdit(r.Context(), viewer, chi.URLParam(r, "slug"))
	if err != nil {
		h.pages.renderError(w, r, err)
		return
	}

	h.pages.render(w, r, http.StatusOK, pagePostForm, &PageData{
		Title: "記事の編集",
		Form: FormValues{
			Slug:    p.Slug,
			Title:   p.Title,
			Content: p.Content,
			Status:  string(p.Status),
		},
	})
}

// Update は記事を更新し、記事ページへリダイレクトする。
// タイトルが変わった場合はslugも変わる。
// POST /posts/{slug}/edit
func (h *PostHandler) Update(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.ViewerFromContext(r.Context()).Identity()
	slug := chi.URLParam(r, "slug")
	form, err := parsePostForm(r)
	if err != nil {
		h.pages.renderError(w, r, err)
		return
	}

	if err := validateForm(form); err != nil {
		h.renderForm(w, r, "記事の編集", form.values(slug), err)
		return
	}

	updated, err := h.service.Update(r.Context(), viewer, slug, form.edit())
	if err != nil {
		h.renderForm(w, r, "記事の編集", form.values(slug), err)
		return
	}

	http.Redirect(w, r, "/posts/"+updated.Slug, http.StatusSeeOther)
}

// Delete は記事を削除し、トップページへリダイレクトする。
// POST /posts/{slug}/delete
func (h *PostHandler) Delete(w http.ResponseWriter, r *http.Request) {
	viewer := middleware.ViewerFromContext(r.Context()).Identity()

	if err := h.service.Delete(r.Context(), viewer, chi.URLParam(r, "slug")); err != nil {
		h.pages.renderError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// renderForm は入力値エラーと外部サービスの障害であれば入力値を保ったままフォームを再表示し、
// それ以外はエラーページを描画する。
func (h *PostHandler) renderForm(w http.ResponseWriter, r *http.Request, title string, values FormValues, err error) {
	status, apiErr := classifyError(err)

	var message string
	switch apiErr.Code {
	case model.ErrCodeValidationFailed:
		message = apiErr.Message
	case model.ErrCodeUpstreamFailed:
		slog.Error("failed to save post", slog.String("error", err.Error()))
		message = "記事の保存に失敗しました。もう一度お試しください。"
	default:
		h.pages.renderError(w, r, err)
		return
	}

	h.pages.render(w, r, status, pagePostForm, &PageData{
		Title:     title,
		Form:      values,
		FormError: message,
	})
}
