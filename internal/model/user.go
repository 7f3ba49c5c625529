// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は外部認証サービス上のアカウントを表す。
// アクセストークンから解決される。
type Identity struct {
	ID       string
	Email    string
	Metadata IdentityMetadata
}

// IdentityMetadata はサインアップ時に外部認証サービスへ渡すユーザーメタデータ。
type IdentityMetadata struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Profile は公開用のユーザープロフィールを表す。
// IDは外部認証サービスのIdentity.IDと共有する。
type Profile struct {
	ID          string
	Username    string
	DisplayName string
}

// Session はサーバー側で保持するログインセッションを表す。
// ブラウザのCookieには不透明なIDのみを保存する。
type Session struct {
	ID           string
	UserID       string
	AccessToken  string
	RefreshToken string
	Identity     *Identity // 最後に解決したIdentityのスナップショット
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired はセッションの有効期限が切れているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
