package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/upstream"
)

// statusForCode はエラーコードに対応するHTTPステータスを返す。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidCredentials:
		return http.StatusBadRequest
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodePostNotFound, model.ErrCodePageNotFound:
		return http.StatusNotFound
	case model.ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeUpstreamFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// classifyError はエラーをHTTPステータスと表示用のAPIErrorに変換する。
//   - *model.APIError はコードに対応するステータス
//   - 外部サービスのエラーは502
//   - それ以外は500
func classifyError(err error) (int, *model.APIError) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return statusForCode(apiErr.Code), apiErr
	}
	if upErr, ok := upstream.AsError(err); ok {
		return http.StatusBadGateway, model.NewUpstreamError(upErr.Error())
	}
	return http.StatusInternalServerError, middleware.InternalServerError()
}

// publicError は利用者に表示してよい形に変換したAPIErrorを返す。
// 外部サービスと内部エラーの詳細メッセージは伏せ、開発環境でのみdetailとして返す。
func (p *Pages) publicError(apiErr *model.APIError, cause error) (*model.APIError, string) {
	shown := *apiErr
	var detail string
	if apiErr.Code == model.ErrCodeUpstreamFailed || apiErr.Code == middleware.InternalServerError().Code {
		shown.Message = "サーバーでエラーが発生しました。"
		if p.devMode {
			detail = apiErr.Message
			if cause != nil {
				detail = cause.Error()
			}
		}
	}
	return &shown, detail
}

// renderError はエラーをエラーページとして描画する。
// 未ログインの場合はログインページへリダイレクトする。
func (p *Pages) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := classifyError(err)

	if apiErr.Code == model.ErrCodeUnauthenticated {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}

	shown, detail := p.publicError(apiErr, err)
	p.render(w, r, status, pageError, &PageData{Title: shown.Message, Error: shown, Detail: detail})
}

// RenderAPIError はミドルウェアが拒否したリクエストをエラーページで描画する。
// middleware.ErrorRendererとして渡す。
func (p *Pages) RenderAPIError(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError) {
	shown, detail := p.publicError(apiErr, nil)
	p.render(w, r, status, pageError, &PageData{Title: shown.Message, Error: shown, Detail: detail})
}

var _ middleware.ErrorRenderer = (*Pages)(nil).RenderAPIError

// NotFound は未定義ルートの404ページを描画する。
func (p *Pages) NotFound(w http.ResponseWriter, r *http.Request) {
	p.RenderAPIError(w, r, http.StatusNotFound, model.NewPageNotFoundError())
}

// MethodNotAllowed は405ページを描画する。
func (p *Pages) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	p.RenderAPIError(w, r, http.StatusMethodNotAllowed, &model.APIError{
		Code:     "METHOD_NOT_ALLOWED",
		Message:  "このメソッドは利用できません。",
		Category: "system",
		Action:   "URLを確認してください。",
	})
}
