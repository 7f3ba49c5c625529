package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページテンプレート名。
const (
	pageIndex    = "index.html"
	pagePost     = "post.html"
	pagePostForm = "post_form.html"
	pageLogin    = "login.html"
	pageRegister = "register.html"
	pageError    = "error.html"
)

var pageNames = []string{pageIndex, pagePost, pagePostForm, pageLogin, pageRegister, pageError}

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	},
	// trustedHTML はサニタイズ済みの記事本文をエスケープせずに出力する。
	"trustedHTML": func(s string) template.HTML {
		return template.HTML(s)
	},
	"add": func(a, b int) int {
		return a + b
	},
}

// PageData はテンプレートに渡す値。
type PageData struct {
	Title     string
	Viewer    *model.Identity
	CSRFToken string

	// フォーム
	Form      FormValues
	FormError string
	Notice    string

	// 記事
	Page    *model.PostPage
	Post    *model.PostDetail
	IsOwner bool

	// エラーページ
	Error  *model.APIError
	Detail string // 開発環境のみ
}

// FormValues はフォームの再表示に使う入力値。
type FormValues struct {
	Slug        string // 編集時の対象記事
	Title       string
	Content     string
	Status      string
	Email       string
	Username    string
	DisplayName string
}

// Templates はレイアウトと各ページを組み合わせたテンプレートセット。
type Templates struct {
	pages map[string]*template.Template
}

// NewTemplates は埋め込みテンプレートを解析する。
func NewTemplates() (*Templates, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(templateFuncs).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Templates{pages: pages}, nil
}

// Render はページをバッファに描画してからレスポンスに書き込む。
// 描画に失敗した場合は途中までのHTMLを返さない。
func (t *Templates) Render(w http.ResponseWriter, status int, name string, data *PageData) error {
	tmpl, ok := t.pages[name]
	if !ok {
		return fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return fmt.Errorf("failed to render template %s: %w", name, err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
	return nil
}

// Pages はページ描画とエラーページ描画をまとめる。各ハンドラーが共有する。
type Pages struct {
	templates *Templates
	devMode   bool
}

// NewPages はPagesを生成する。devModeがtrueの場合はエラーページに詳細を表示する。
func NewPages(templates *Templates, devMode bool) *Pages {
	return &Pages{templates: templates, devMode: devMode}
}

// render はリクエストの閲覧者とCSRFトークンを設定してページを描画する。
func (p *Pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data *PageData) {
	if data == nil {
		data = &PageData{}
	}
	data.Viewer = middleware.ViewerFromContext(r.Context()).Identity()
	data.CSRFToken = middleware.CSRFTokenFromContext(r.Context())

	if err := p.templates.Render(w, status, name, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
