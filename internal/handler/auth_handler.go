package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/inkpost/internal/auth"
	"github.com/hitoshi/inkpost/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Register(ctx context.Context, in auth.RegisterInput) (*auth.RegisterResult, error)
	Logout(ctx context.Context, sessionID string) error
}

var _ AuthServiceInterface = (*auth.Service)(nil)

// SessionStore はブラウザのセッションCookieを読み書きするインターフェース。
// middleware.SessionManagerが実装する。
type SessionStore interface {
	SessionID(r *http.Request) string
	Save(w http.ResponseWriter, r *http.Request, sessionID string) error
	Clear(w http.ResponseWriter, r *http.Request) error
}

// AuthHandler はログイン・新規登録・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionStore
	pages    *Pages
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionStore, pages *Pages) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		pages:    pages,
	}
}

// LoginPage はログインフォームを表示する。
// GET /auth/login
func (h *AuthHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, pageLogin, &PageData{Title: "ログイン"})
}

// Login はメールアドレスとパスワードで認証し、セッションCookieを発行する。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	form, err := parseLoginForm(r)
	if err != nil {
		h.pages.renderError(w, r, err)
		return
	}
	values := FormValues{Email: form.Email}

	if err := validateForm(form); err != nil {
		h.renderForm(w, r, pageLogin, "ログイン", values, err)
		return
	}

	result, err := h.service.Login(r.Context(), form.Email, form.Password)
	if err != nil {
		h.renderForm(w, r, pageLogin, "ログイン", values, err)
		return
	}

	if err := h.sessions.Save(w, r, result.Session.ID); err != nil {
		h.pages.renderError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RegisterPage は新規登録フォームを表示する。
// GET /auth/register
func (h *AuthHandler) RegisterPage(w http.ResponseWriter, r *http.Request) {
	h.pages.render(w, r, http.StatusOK, pageRegister, &PageData{Title: "新規登録"})
}

// Register はアカウントを作成する。
// 即時ログインできる場合はセッションCookieを発行してトップページへ、
// メール確認が必要な場合は案内を表示する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	form, err := parseRegisterForm(r)
	if err != nil {
		h.pages.renderError(w, r, err)
		return
	}
	values := FormValues{Email: form.Email, Username: form.Username, DisplayName: form.DisplayName}

	if err := validateForm(form); err != nil {
		h.renderForm(w, r, pageRegister, "新規登録", values, err)
		return
	}

	result, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:       form.Email,
		Password:    form.Password,
		Username:    form.Username,
		DisplayName: form.DisplayName,
	})
	if err != nil {
		h.renderForm(w, r, pageRegister, "新規登録", values, err)
		return
	}

	if result.ConfirmationPending {
		h.pages.render(w, r, http.StatusOK, pageRegister, &PageData{
			Title:  "新規登録",
			Notice: "登録が完了しました。確認メールのリンクを開いて登録を完了してください。",
		})
		return
	}

	if err := h.sessions.Save(w, r, result.Session.ID); err != nil {
		h.pages.renderError(w, r, err)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout はセッションを破棄してトップページへリダイレクトする。
// サービス側の処理に失敗してもCookieは必ず削除する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := h.sessions.SessionID(r); sessionID != "" {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			slog.Error("failed to logout", slog.String("error", err.Error()))
		}
	}

	if err := h.sessions.Clear(w, r); err != nil {
		slog.Warn("failed to clear session cookie", slog.String("error", err.Error()))
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// renderForm は入力値・認証情報のエラーと外部サービスの障害であればフォームを再表示し、
// それ以外はエラーページを描画する。
func (h *AuthHandler) renderForm(w http.ResponseWriter, r *http.Request, page, title string, values FormValues, err error) {
	status, apiErr := classifyError(err)

	var message string
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidCredentials:
		message = apiErr.Message
	case model.ErrCodeUpstreamFailed:
		slog.Error("authentication request failed",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		message = "認証サービスに接続できませんでした。しばらく待ってから再度お試しください。"
	default:
		h.pages.renderError(w, r, err)
		return
	}

	h.pages.render(w, r, status, page, &PageData{
		Title:     title,
		Form:      values,
		FormError: message,
	})
}
