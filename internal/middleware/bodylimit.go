package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/inkpost/internal/model"
)

// NewBodyLimitMiddleware はリクエストボディの上限を設定するミドルウェアを返す。
// Content-Lengthが上限を超える場合は読み込む前に413を返す。
// Content-Lengthがない場合は読み込み時にhttp.MaxBytesErrorとなり、フォーム解析側で413に変換する。
func NewBodyLimitMiddleware(limit int64, render ErrorRenderer) func(next http.Handler) http.Handler {
	render = orJSON(render)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				slog.Warn("request body too large",
					slog.String("path", r.URL.Path),
					slog.Int64("content_length", r.ContentLength),
					slog.Int64("limit", limit),
				)
				render(w, r, http.StatusRequestEntityTooLarge, model.NewPayloadTooLargeError(limit))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
