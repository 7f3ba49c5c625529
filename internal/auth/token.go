package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiryLeeway は期限直前のトークンを期限切れとみなす猶予。
const tokenExpiryLeeway = 30 * time.Second

// accessTokenExpired はアクセストークン（JWT）のexpクレームを読み、期限切れかどうかを返す。
// 署名は検証しない。トークンの正当性は外部認証サービスのGetUserで確認する。
// JWTとして解釈できない場合やexpがない場合はfalseを返し、判定を外部サービスに委ねる。
func accessTokenExpired(token string, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Add(tokenExpiryLeeway).Before(claims.ExpiresAt.Time)
}
