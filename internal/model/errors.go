// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, post, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodePostNotFound       = "POST_NOT_FOUND"
	ErrCodeUnauthenticated    = "UNAUTHENTICATED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeUpstreamFailed     = "UPSTREAM_FAILED"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodePageNotFound       = "PAGE_NOT_FOUND"
)

// NewValidationError は入力値エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidCredentialsError は認証情報が誤っている場合のエラーを生成する。
// 外部認証サービスが返したメッセージをそのまま表示する。
func NewInvalidCredentialsError(message string) *APIError {
	if message == "" {
		message = "メールアドレスまたはパスワードが正しくありません。"
	}
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  message,
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewPostNotFoundError は記事未検出エラーを生成する。
// 削除済み・存在しない・他人の下書きを区別しない。
func NewPostNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  "記事が見つかりません。",
		Category: "post",
		Action:   "URLを確認してください。",
	}
}

// NewPageNotFoundError はルート未定義のページに対するエラーを生成する。
func NewPageNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodePageNotFound,
		Message:  "ページが見つかりません。",
		Category: "system",
		Action:   "URLを確認してください。",
	}
}

// NewUnauthenticatedError は未ログイン時のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は所有者以外による変更操作のエラーを生成する。
func NewForbiddenError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  message,
		Category: "auth",
		Action:   "自分の記事のみ編集・削除できます。",
	}
}

// NewUpstreamError は外部サービス呼び出し失敗のエラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewUpstreamError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  message,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPayloadTooLargeError はリクエストボディが上限を超えた場合のエラーを生成する。
func NewPayloadTooLargeError(limitBytes int64) *APIError {
	return &APIError{
		Code:     ErrCodePayloadTooLarge,
		Message:  fmt.Sprintf("記事の内容が大きすぎます。最大%dMBまで投稿できます。", limitBytes/(1<<20)),
		Category: "validation",
		Action:   "内容を減らすか、分割して投稿してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
