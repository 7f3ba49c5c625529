package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/inkpost/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ErrorRenderer はミドルウェアが拒否したリクエストへのエラーレスポンスを書き込む関数。
// HTMLページではhandlerがエラーページのテンプレートで描画する関数を渡す。
type ErrorRenderer func(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError)

// JSONErrorRenderer は統一エラーフォーマットのJSONで書き込むErrorRenderer。
func JSONErrorRenderer(w http.ResponseWriter, _ *http.Request, statusCode int, apiErr *model.APIError) {
	WriteErrorResponse(w, statusCode, apiErr)
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// InternalServerError は内部エラーの統一フォーマットを返す。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func InternalServerError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// PathRenderer はjsonPathsに一致するパスとその配下ではJSONErrorRendererを、それ以外ではpageを使う。
func PathRenderer(page ErrorRenderer, jsonPaths ...string) ErrorRenderer {
	page = orJSON(page)
	return func(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
		for _, p := range jsonPaths {
			if r.URL.Path == p || strings.HasPrefix(r.URL.Path, p+"/") {
				JSONErrorRenderer(w, r, statusCode, apiErr)
				return
			}
		}
		page(w, r, statusCode, apiErr)
	}
}

func orJSON(render ErrorRenderer) ErrorRenderer {
	if render == nil {
		return JSONErrorRenderer
	}
	return render
}
