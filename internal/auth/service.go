// Package auth は外部認証サービスを使ったログイン・登録・セッション管理と、
// 記事の変更操作に対するアクセスガードを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
	"github.com/hitoshi/inkpost/internal/repository"
	"github.com/hitoshi/inkpost/internal/upstream"
)

// ErrIdentityUnavailable は外部認証サービスの一時的な障害でIdentityを確認できなかったことを示す。
// セッションは有効なまま残っている。
var ErrIdentityUnavailable = errors.New("identity service unavailable")

// IdentityProvider は外部認証サービスのインターフェース。
// upstream.AuthClientが実装する。
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*upstream.AuthSession, error)
	Refresh(ctx context.Context, refreshToken string) (*upstream.AuthSession, error)
	GetUser(ctx context.Context, accessToken string) (*model.Identity, error)
	SignOut(ctx context.Context, accessToken string) error
	SignUp(ctx context.Context, email, password string, metadata model.IdentityMetadata) (*upstream.SignUpResult, error)
}

var _ IdentityProvider = (*upstream.AuthClient)(nil)

// FailureRecorder はベストエフォート処理の失敗を記録するインターフェース。
// metrics.Collectorが実装する。
type FailureRecorder interface {
	RecordBestEffortFailure(operation string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	idp         IdentityProvider
	profileRepo repository.ProfileRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
	recorder    FailureRecorder
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	idp IdentityProvider,
	profileRepo repository.ProfileRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	return &Service{
		idp:         idp,
		profileRepo: profileRepo,
		sessionRepo: sessionRepo,
		config:      config,
		now:         time.Now,
	}
}

// SetFailureRecorder はベストエフォート処理の失敗記録先を設定する。
func (s *Service) SetFailureRecorder(r FailureRecorder) {
	s.recorder = r
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Session  *model.Session
	Identity *model.Identity
}

// RegisterInput はアカウント登録の入力値。
type RegisterInput struct {
	Email       string
	Password    string
	Username    string
	DisplayName string
}

// RegisterResult はアカウント登録の結果。
// メール確認待ちの場合はSessionがnilでConfirmationPendingがtrueになる。
type RegisterResult struct {
	Session             *model.Session
	Identity            *model.Identity
	ConfirmationPending bool
}

// CurrentUser は/api/user/meで返すログイン中ユーザーの情報。
type CurrentUser struct {
	Identity *model.Identity
	Profile  *model.Profile // 未作成の場合はnil
}

// Login はメールアドレスとパスワードで認証し、サーバー側セッションを発行する。
// 認証後、プロフィールが未作成であればベストエフォートで作成する。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	// 1. 外部認証サービスで認証
	authSession, err := s.idp.SignIn(ctx, email, password)
	if err != nil {
		if upErr, ok := upstream.AsError(err); ok && upErr.IsClientError() {
			return nil, model.NewInvalidCredentialsError(upErr.Message)
		}
		return nil, model.NewUpstreamError(fmt.Sprintf("sign in failed: %v", err))
	}

	// 2. Identityがレスポンスに含まれない場合はトークンから取得
	identity := authSession.Identity
	if identity == nil {
		identity, err = s.idp.GetUser(ctx, authSession.AccessToken)
		if err != nil {
			return nil, model.NewUpstreamError(fmt.Sprintf("failed to get user after sign in: %v", err))
		}
	}

	// 3. セッションを発行
	session, err := s.createSession(ctx, identity, authSession)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 4. プロフィールのバックフィル（失敗してもログインは成功させる）
	s.bestEffort(ctx, "profile_backfill", identity.ID, func(ctx context.Context) error {
		return s.backfillProfile(upstream.WithAccessToken(ctx, authSession.AccessToken), identity)
	})

	slog.Info("user logged in", slog.String("user_id", identity.ID))
	return &LoginResult{Session: session, Identity: identity}, nil
}

// Register はアカウントを作成する。
// 外部サービスが即時にトークンを発行した場合はセッションを発行しプロフィールを作成する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = in.Username
	}
	metadata := model.IdentityMetadata{Username: in.Username, DisplayName: displayName}

	res, err := s.idp.SignUp(ctx, in.Email, in.Password, metadata)
	if err != nil {
		if upErr, ok := upstream.AsError(err); ok && upErr.IsClientError() {
			return nil, model.NewValidationError(upErr.Message)
		}
		return nil, model.NewUpstreamError(fmt.Sprintf("sign up failed: %v", err))
	}

	if res.Session == nil {
		slog.Info("user registered, confirmation pending", slog.String("user_id", res.Identity.ID))
		return &RegisterResult{Identity: res.Identity, ConfirmationPending: true}, nil
	}

	identity := res.Identity
	if identity == nil {
		identity, err = s.idp.GetUser(ctx, res.Session.AccessToken)
		if err != nil {
			return nil, model.NewUpstreamError(fmt.Sprintf("failed to get user after sign up: %v", err))
		}
	}
	session, err := s.createSession(ctx, identity, res.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	profile := &model.Profile{ID: identity.ID, Username: in.Username, DisplayName: displayName}
	s.bestEffort(ctx, "profile_create", identity.ID, func(ctx context.Context) error {
		return s.profileRepo.Upsert(upstream.WithAccessToken(ctx, res.Session.AccessToken), profile)
	})

	slog.Info("user registered", slog.String("user_id", identity.ID))
	return &RegisterResult{Session: session, Identity: identity}, nil
}

// Logout はセッションを破棄する。
// 外部サービスでのトークン失効に失敗してもセッションは必ず削除する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to load session on logout",
			slog.String("error", err.Error()),
		)
	}
	if session != nil && session.AccessToken != "" {
		s.bestEffort(ctx, "sign_out", session.UserID, func(ctx context.Context) error {
			return s.idp.SignOut(ctx, session.AccessToken)
		})
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// ResolveIdentity はセッションIDから現在のIdentityを解決する。
// アクセストークンが期限切れであればリフレッシュしてから外部サービスに問い合わせる。
// セッションが存在しない、またはトークンが拒否された場合はnil, nilを返す（未ログイン扱い）。
// トークンが拒否された場合はサーバー側セッションも削除する。
// 外部サービスの一時的な障害ではErrIdentityUnavailableを返し、セッションは残す。
func (s *Service) ResolveIdentity(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	// 1. サーバー側セッションを取得
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	// 2. アクセストークンが期限切れならリフレッシュ
	refreshed := false
	if accessTokenExpired(session.AccessToken, s.now()) {
		authSession, err := s.idp.Refresh(ctx, session.RefreshToken)
		if err != nil {
			return nil, s.dropSessionOnRejection(ctx, session, "refresh", err)
		}
		session.AccessToken = authSession.AccessToken
		if authSession.RefreshToken != "" {
			session.RefreshToken = authSession.RefreshToken
		}
		refreshed = true
	}

	// 3. トークンの正当性を外部サービスで確認
	identity, err := s.idp.GetUser(ctx, session.AccessToken)
	if err != nil {
		return nil, s.dropSessionOnRejection(ctx, session, "get_user", err)
	}

	// 4. トークンかIdentityが変わった場合はセッションを更新
	changed := refreshed || session.Identity == nil || *session.Identity != *identity
	session.Identity = identity
	if changed {
		if err := s.sessionRepo.Update(ctx, session); err != nil {
			slog.Warn("failed to update session",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return session, nil
}

// CurrentUser はセッションのIdentityとプロフィールを返す。
func (s *Service) CurrentUser(ctx context.Context, session *model.Session) (*CurrentUser, error) {
	if session == nil || session.Identity == nil {
		return nil, nil
	}
	profile, err := s.profileRepo.FindByID(upstream.WithAccessToken(ctx, session.AccessToken), session.Identity.ID)
	if err != nil {
		return nil, model.NewUpstreamError(fmt.Sprintf("failed to load profile: %v", err))
	}
	return &CurrentUser{Identity: session.Identity, Profile: profile}, nil
}

// dropSessionOnRejection はIdentity解決の失敗を処理する。
// 外部サービスがトークンを拒否した（4xx）場合はセッションを削除する。
// 一時的な障害の場合はセッションを残し、ErrIdentityUnavailableを返す。
func (s *Service) dropSessionOnRejection(ctx context.Context, session *model.Session, step string, cause error) error {
	if upErr, ok := upstream.AsError(cause); ok && upErr.IsClientError() {
		slog.Info("session token rejected, dropping session",
			slog.String("session_id", session.ID),
			slog.String("step", step),
			slog.Int("status", upErr.Status),
		)
		if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
			slog.Warn("failed to delete rejected session",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}

	slog.Warn("identity resolution failed",
		slog.String("session_id", session.ID),
		slog.String("step", step),
		slog.String("error", cause.Error()),
	)
	return fmt.Errorf("%w: %s: %w", ErrIdentityUnavailable, step, cause)
}

// backfillProfile はプロフィールが未作成の場合にIdentityのメタデータから作成する。
func (s *Service) backfillProfile(ctx context.Context, identity *model.Identity) error {
	existing, err := s.profileRepo.FindByID(ctx, identity.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	username := defaultUsername(identity)
	displayName := identity.Metadata.DisplayName
	if displayName == "" {
		displayName = username
	}
	return s.profileRepo.Upsert(ctx, &model.Profile{
		ID:          identity.ID,
		Username:    username,
		DisplayName: displayName,
	})
}

// defaultUsername はメタデータのusername、メールアドレスのローカル部、"user"の順で決定する。
func defaultUsername(identity *model.Identity) string {
	if identity.Metadata.Username != "" {
		return identity.Metadata.Username
	}
	if local, _, ok := strings.Cut(identity.Email, "@"); ok && local != "" {
		return local
	}
	return "user"
}

// bestEffort は主処理の成否に影響しない副次処理を実行する。
// 失敗はログとメトリクスにのみ記録する。
func (s *Service) bestEffort(ctx context.Context, operation, userID string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		slog.Warn("best-effort operation failed",
			slog.String("operation", operation),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		if s.recorder != nil {
			s.recorder.RecordBestEffortFailure(operation)
		}
	}
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, identity *model.Identity, authSession *upstream.AuthSession) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:           sessionID,
		UserID:       identity.ID,
		AccessToken:  authSession.AccessToken,
		RefreshToken: authSession.RefreshToken,
		Identity:     identity,
		ExpiresAt:    now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt:    now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
