package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
)

// AuthSession は認証APIが発行するトークンの組。
type AuthSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Identity     *model.Identity
}

// SignUpResult はサインアップの結果。
// メール確認が必要な設定ではSessionがnilになる。
type SignUpResult struct {
	Identity *model.Identity
	Session  *AuthSession
}

// AuthClient は認証API（/auth/v1）のクライアント。
type AuthClient struct {
	client *Client
	now    func() time.Time
}

// NewAuthClient はAuthClientを生成する。
func NewAuthClient(client *Client) *AuthClient {
	return &AuthClient{client: client, now: time.Now}
}

type userResponse struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata model.IdentityMetadata `json:"user_metadata"`
}

func (u *userResponse) identity() *model.Identity {
	if u == nil || u.ID == "" {
		return nil
	}
	return &model.Identity{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *userResponse `json:"user"`
}

func (r *tokenResponse) session(now time.Time) *AuthSession {
	s := &AuthSession{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Identity:     r.User.identity(),
	}
	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return s
}

// SignIn はメールアドレスとパスワードで認証する。
// 認証情報が不正な場合は4xxの*Errorを返す。
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*AuthSession, error) {
	var resp tokenResponse
	_, err := a.client.do(ctx, request{
		operation: "auth.sign_in",
		method:    http.MethodPost,
		path:      "/auth/v1/token",
		query:     url.Values{"grant_type": {"password"}},
		body:      map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("auth.sign_in response has no access token")
	}
	return resp.session(a.now()), nil
}

// Refresh はリフレッシュトークンで新しいトークンの組を取得する。
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*AuthSession, error) {
	var resp tokenResponse
	_, err := a.client.do(ctx, request{
		operation: "auth.refresh",
		method:    http.MethodPost,
		path:      "/auth/v1/token",
		query:     url.Values{"grant_type": {"refresh_token"}},
		body:      map[string]string{"refresh_token": refreshToken},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("auth.refresh response has no access token")
	}
	return resp.session(a.now()), nil
}

// GetUser はアクセストークンに対応するIdentityを取得する。
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	var resp userResponse
	_, err := a.client.do(ctx, request{
		operation: "auth.get_user",
		method:    http.MethodGet,
		path:      "/auth/v1/user",
		bearer:    accessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}
	identity := resp.identity()
	if identity == nil {
		return nil, fmt.Errorf("auth.get_user response has no user id")
	}
	return identity, nil
}

// SignOut はアクセストークンを失効させる。
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	_, err := a.client.do(ctx, request{
		operation: "auth.sign_out",
		method:    http.MethodPost,
		path:      "/auth/v1/logout",
		bearer:    accessToken,
	}, nil)
	return err
}

// Ping は認証APIのヘルスエンドポイントで外部サービスの疎通を確認する。
func (a *AuthClient) Ping(ctx context.Context) error {
	_, err := a.client.do(ctx, request{
		operation: "auth.health",
		method:    http.MethodGet,
		path:      "/auth/v1/health",
	}, nil)
	return err
}

// SignUp はメタデータ付きでアカウントを作成する。
// 即時ログインが有効な設定ではトークンの組も返る。
func (a *AuthClient) SignUp(ctx context.Context, email, password string, metadata model.IdentityMetadata) (*SignUpResult, error) {
	// セッションを返す場合とユーザーのみを返す場合でボディの形が異なる
	var resp struct {
		tokenResponse
		userResponse
	}
	_, err := a.client.do(ctx, request{
		operation: "auth.sign_up",
		method:    http.MethodPost,
		path:      "/auth/v1/signup",
		body: map[string]any{
			"email":    email,
			"password": password,
			"data":     metadata,
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.AccessToken != "" {
		session := resp.tokenResponse.session(a.now())
		return &SignUpResult{Identity: session.Identity, Session: session}, nil
	}
	identity := resp.userResponse.identity()
	if identity == nil {
		return nil, fmt.Errorf("auth.sign_up response has no user")
	}
	return &SignUpResult{Identity: identity}, nil
}
