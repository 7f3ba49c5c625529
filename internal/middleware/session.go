// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/upstream"
)

const (
	sessionCookieName = "inkpost_session"
	sessionIDKey      = "session_id"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// viewerContextKey はリクエストコンテキストに閲覧者を格納するためのキー。
var viewerContextKey = contextKey("viewer")

// Viewer はリクエスト単位の閲覧者情報。
// 未ログインの場合もSessionID以外が空のViewerが格納される。
type Viewer struct {
	SessionID string
	Session   *model.Session // 解決できなかった場合はnil
}

// Identity はログイン中のIdentityを返す。未ログインの場合はnil。
func (v *Viewer) Identity() *model.Identity {
	if v == nil || v.Session == nil {
		return nil
	}
	return v.Session.Identity
}

// UserID はログイン中のユーザーIDを返す。未ログインの場合は空文字。
func (v *Viewer) UserID() string {
	if id := v.Identity(); id != nil {
		return id.ID
	}
	return ""
}

// IdentityResolver はセッションIDからセッションを解決するインターフェース。
// auth.Serviceが実装する。
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, sessionID string) (*model.Session, error)
}

// SessionConfig はセッションCookieの設定。
type SessionConfig struct {
	Secret       string
	MaxAge       int // 秒
	CookieSecure bool
	CookieDomain string
}

// SessionManager は署名付きCookieにセッションIDを保存・読み出しする。
// Cookieにはサーバー側セッションのIDのみを保存し、トークンは含めない。
type SessionManager struct {
	store sessions.Store
}

// NewSessionManager はSessionManagerを生成する。
func NewSessionManager(config SessionConfig) *SessionManager {
	store := sessions.NewCookieStore([]byte(config.Secret))
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   config.MaxAge,
		Secure:   config.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionManager{store: store}
}

// SessionID はCookieからセッションIDを読み出す。
// Cookieがない、または署名が不正な場合は空文字を返す。
func (m *SessionManager) SessionID(r *http.Request) string {
	session, err := m.store.Get(r, sessionCookieName)
	if err != nil {
		return ""
	}
	id, _ := session.Values[sessionIDKey].(string)
	return id
}

// Save はセッションIDをCookieに保存する。
func (m *SessionManager) Save(w http.ResponseWriter, r *http.Request, sessionID string) error {
	// 署名不正のCookieが残っていてもエラーにせず上書きする
	session, _ := m.store.Get(r, sessionCookieName)
	session.Values[sessionIDKey] = sessionID
	return session.Save(r, w)
}

// Clear はセッションCookieを削除する。
func (m *SessionManager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.store.Get(r, sessionCookieName)
	delete(session.Values, sessionIDKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// NewSessionMiddleware はCookieのセッションIDから閲覧者を解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 解決できなかった場合は未ログインとして扱い、リクエストは拒否しない。
// ログイン中の場合は外部サービスへの呼び出しにユーザーのトークンが使われるよう
// アクセストークンもコンテキストに注入する。
func NewSessionMiddleware(manager *SessionManager, resolver IdentityResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// 1. CookieからセッションIDを取得
			sessionID := manager.SessionID(r)
			viewer := viewerSlot(ctx)
			viewer.SessionID = sessionID

			// 2. セッションを解決
			if sessionID != "" {
				session, err := resolver.ResolveIdentity(ctx, sessionID)
				if err != nil {
					// 一時的な障害ではCookieを残し、このリクエストのみ未ログインとして扱う
					slog.Warn("failed to resolve session",
						slog.String("error", err.Error()),
					)
				}
				if session != nil {
					viewer.Session = session
					ctx = upstream.WithAccessToken(ctx, session.AccessToken)
				} else if err == nil {
					// 期限切れ・失効したセッションのCookieは削除する
					if err := manager.Clear(w, r); err != nil {
						slog.Warn("failed to clear session cookie",
							slog.String("error", err.Error()),
						)
					}
				}
			}

			// 3. 閲覧者をコンテキストに注入
			ctx = ContextWithViewer(ctx, viewer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth は未ログインのリクエストをログインページへリダイレクトするミドルウェア。
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ViewerFromContext(r.Context()).Identity() == nil {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RedirectIfAuthenticated はログイン済みのリクエストをトップページへリダイレクトするミドルウェア。
// ログイン・登録ページに使用する。
func RedirectIfAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ViewerFromContext(r.Context()).Identity() != nil {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ViewerFromContext はリクエストコンテキストから閲覧者を取得する。
// セッションミドルウェアを通過していない場合は空のViewerを返す。
func ViewerFromContext(ctx context.Context) *Viewer {
	if v, ok := ctx.Value(viewerContextKey).(*Viewer); ok && v != nil {
		return v
	}
	return &Viewer{}
}

// viewerSlot はロギングミドルウェアが用意した閲覧者があればそれを返し、なければ新しく作る。
func viewerSlot(ctx context.Context) *Viewer {
	if v, ok := ctx.Value(viewerContextKey).(*Viewer); ok && v != nil {
		return v
	}
	return &Viewer{}
}

// ContextWithViewer はコンテキストに閲覧者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithViewer(ctx context.Context, viewer *Viewer) context.Context {
	return context.WithValue(ctx, viewerContextKey, viewer)
}
