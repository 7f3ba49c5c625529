package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/html"

	"github.com/hitoshi/inkpost/internal/auth"
	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/post"
)

// --- モック定義 ---

// mockPostService はPostServiceInterfaceのモック実装。
type mockPostService struct {
	listFn        func(ctx context.Context, page int) (*model.PostPage, error)
	latestFn      func(ctx context.Context, limit int) ([]*model.PostWithAuthor, error)
	getFn         func(ctx context.Context, viewer *model.Identity, slug string) (*model.PostDetail, error)
	createFn      func(ctx context.Context, viewer *model.Identity, edit post.Edit) (*model.Post, error)
	loadForEditFn func(ctx context.Context, viewer *model.Identity, slug string) (*model.Post, error)
	updateFn      func(ctx context.Context, viewer *model.Identity, slug string, edit post.Edit) (*model.Post, error)
	deleteFn      func(ctx context.Context, viewer *model.Identity, slug string) error
}

func (m *mockPostService) List(ctx context.Context, page int) (*model.PostPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, page)
	}
	return &model.PostPage{CurrentPage: 1, TotalPages: 1}, nil
}

func (m *mockPostService) Latest(ctx context.Context, limit int) ([]*model.PostWithAuthor, error) {
	if m.latestFn != nil {
		return m.latestFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockPostService) Get(ctx context.Context, viewer *model.Identity, slug string) (*model.PostDetail, error) {
	if m.getFn != nil {
		return m.getFn(ctx, viewer, slug)
	}
	return nil, model.NewPostNotFoundError()
}

func (m *mockPostService) Create(ctx context.Context, viewer *model.Identity, edit post.Edit) (*model.Post, error) {
	if m.createFn != nil {
		return m.createFn(ctx, viewer, edit)
	}
	return &model.Post{Slug: "created-1"}, nil
}

func (m *mockPostService) LoadForEdit(ctx context.Context, viewer *model.Identity, slug string) (*model.Post, error) {
	if m.loadForEditFn != nil {
		return m.loadForEditFn(ctx, viewer, slug)
	}
	return nil, model.NewPostNotFoundError()
}

func (m *mockPostService) Update(ctx context.Context, viewer *model.Identity, slug string, edit post.Edit) (*model.Post, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, viewer, slug, edit)
	}
	return &model.Post{Slug: slug}, nil
}

func (m *mockPostService) Delete(ctx context.Context, viewer *model.Identity, slug string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, viewer, slug)
	}
	return nil
}

// mockAuthService はAuthServiceInterfaceとUserServiceInterfaceのモック実装。
type mockAuthService struct {
	loginFn       func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	registerFn    func(ctx context.Context, in auth.RegisterInput) (*auth.RegisterResult, error)
	logoutFn      func(ctx context.Context, sessionID string) error
	currentUserFn func(ctx context.Context, session *model.Session) (*auth.CurrentUser, error)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, model.NewInvalidCredentialsError("")
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*auth.RegisterResult, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) CurrentUser(ctx context.Context, session *model.Session) (*auth.CurrentUser, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, session)
	}
	return nil, nil
}

// mockSessionStore はSessionStoreのモック実装。
type mockSessionStore struct {
	sessionID string
	saved     string
	cleared   bool
	saveErr   error
}

func (m *mockSessionStore) SessionID(r *http.Request) string {
	return m.sessionID
}

func (m *mockSessionStore) Save(w http.ResponseWriter, r *http.Request, sessionID string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = sessionID
	return nil
}

func (m *mockSessionStore) Clear(w http.ResponseWriter, r *http.Request) error {
	m.cleared = true
	return nil
}

// --- ヘルパー ---

func newTestPages(t *testing.T, devMode bool) *Pages {
	t.Helper()
	templates, err := NewTemplates()
	if err != nil {
		t.Fatalf("NewTemplates がエラーを返した: %v", err)
	}
	return NewPages(templates, devMode)
}

func testIdentity(id string) *model.Identity {
	return &model.Identity{ID: id, Email: id + "@example.com"}
}

// withViewer はログイン済みの閲覧者とCSRFトークンをリクエストコンテキストに設定する。
func withViewer(r *http.Request, identity *model.Identity) *http.Request {
	ctx := middleware.ContextWithCSRFToken(r.Context(), "csrf-test-token")
	if identity != nil {
		ctx = middleware.ContextWithViewer(ctx, &middleware.Viewer{
			SessionID: "sess-" + identity.ID,
			Session: &model.Session{
				ID:          "sess-" + identity.ID,
				UserID:      identity.ID,
				AccessToken: "at-" + identity.ID,
				Identity:    identity,
			},
		})
	}
	return r.WithContext(ctx)
}

// withSlug はchiのURLパラメータslugをリクエストに設定する。
func withSlug(r *http.Request, slug string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("slug", slug)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// parseHTML はレスポンスボディをHTMLとして解析する。
func parseHTML(t *testing.T, body string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("HTMLの解析に失敗: %v", err)
	}
	return doc
}

// findAll は条件に一致する要素をすべて返す。
func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			found = append(found, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func hasClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func byTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Data == tag
	}
}

// textOf は要素配下のテキストを連結して返す。
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

// formError はページに表示されたフォームエラーを返す。表示されていない場合は空文字。
func formError(t *testing.T, body string) string {
	t.Helper()
	nodes := findAll(parseHTML(t, body), hasClass("error"))
	if len(nodes) == 0 {
		return ""
	}
	return textOf(nodes[0])
}

// inputValue はname属性で指定したinputのvalueを返す。
func inputValue(t *testing.T, body, name string) string {
	t.Helper()
	nodes := findAll(parseHTML(t, body), func(n *html.Node) bool {
		return n.Data == "input" && attr(n, "name") == name
	})
	if len(nodes) == 0 {
		t.Fatalf("input[name=%s] が見つからない", name)
	}
	return attr(nodes[0], "value")
}
