package upstream

import "context"

type contextKey string

var accessTokenContextKey = contextKey("access_token")

// WithAccessToken は行ストレージ呼び出しに使うエンドユーザーのアクセストークンを
// コンテキストに注入する。行レベルのアクセスポリシーはこのトークンで評価される。
func WithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, accessTokenContextKey, token)
}

// AccessTokenFromContext はコンテキストからアクセストークンを取得する。
// 未設定の場合は空文字を返す（匿名キーで呼び出す）。
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenContextKey).(string)
	return token
}
