package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/inkpost/internal/auth"
	"github.com/hitoshi/inkpost/internal/middleware"
	"github.com/hitoshi/inkpost/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	CurrentUser(ctx context.Context, session *model.Session) (*auth.CurrentUser, error)
}

var _ UserServiceInterface = (*auth.Service)(nil)

// UserHandler はログイン中ユーザーの情報を返すHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

type identityJSON struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata model.IdentityMetadata `json:"user_metadata"`
}

type profileJSON struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// meResponse は/api/user/meのレスポンス。未ログインの場合はuserがnull。
type meResponse struct {
	User    *identityJSON `json:"user"`
	Profile *profileJSON  `json:"profile,omitempty"`
}

// Me はログイン中ユーザーのIdentityとプロフィールを返す。
// 未ログインや取得失敗の場合も200で{"user": null}を返す。
// GET /api/user/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	var resp meResponse

	session := middleware.ViewerFromContext(r.Context()).Session
	current, err := h.service.CurrentUser(r.Context(), session)
	if err != nil {
		slog.Warn("failed to load current user", slog.String("error", err.Error()))
	}
	if err == nil && current != nil {
		resp.User = &identityJSON{
			ID:           current.Identity.ID,
			Email:        current.Identity.Email,
			UserMetadata: current.Identity.Metadata,
		}
		if current.Profile != nil {
			resp.Profile = &profileJSON{
				ID:          current.Profile.ID,
				Username:    current.Profile.Username,
				DisplayName: current.Profile.DisplayName,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}
