package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/inkpost/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type recordingObserver struct {
	mu    sync.Mutex
	ops   []string
	fails int
}

func (o *recordingObserver) ObserveUpstream(operation string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ops = append(o.ops, operation)
	if err != nil {
		o.fails++
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *recordingObserver, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	obs := &recordingObserver{}
	c := NewClient(Config{
		BaseURL:    server.URL + "/",
		APIKey:     "anon-key",
		HTTPClient: server.Client(),
		Logger:     newTestLogger(&buf),
		Observer:   obs,
	})
	return c, obs, &buf
}

// --- 認証API ---

func TestAuthClient_SignIn_Success(t *testing.T) {
	c, obs, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/v1/token" {
			t.Errorf("リクエスト = %s %s, want POST /auth/v1/token", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, want password", got)
		}
		if got := r.Header.Get("apikey"); got != "anon-key" {
			t.Errorf("apikey = %q, want anon-key", got)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@example.com" || body["password"] != "secret1" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_at":    1700003600,
			"user": map[string]any{
				"id":            "user-1",
				"email":         "a@example.com",
				"user_metadata": map[string]string{"username": "alice", "display_name": "Alice"},
			},
		})
	})

	s, err := NewAuthClient(c).SignIn(context.Background(), "a@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn がエラーを返した: %v", err)
	}
	if s.AccessToken != "at-1" || s.RefreshToken != "rt-1" {
		t.Errorf("トークン = %q/%q", s.AccessToken, s.RefreshToken)
	}
	if !s.ExpiresAt.Equal(time.Unix(1700003600, 0)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
	if s.Identity == nil || s.Identity.ID != "user-1" || s.Identity.Metadata.Username != "alice" {
		t.Errorf("Identity = %+v", s.Identity)
	}
	if len(obs.ops) != 1 || obs.ops[0] != "auth.sign_in" {
		t.Errorf("計測された操作 = %v", obs.ops)
	}
}

func TestAuthClient_SignIn_InvalidCredentials(t *testing.T) {
	c, obs, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`)
	})

	_, err := NewAuthClient(c).SignIn(context.Background(), "a@example.com", "wrong")
	upErr, ok := AsError(err)
	if !ok {
		t.Fatalf("エラー型 = %T, want *upstream.Error", err)
	}
	if !upErr.IsClientError() {
		t.Errorf("IsClientError() = false, want true")
	}
	if upErr.Code != "invalid_credentials" || upErr.Message != "Invalid login credentials" {
		t.Errorf("Code/Message = %q/%q", upErr.Code, upErr.Message)
	}
	if obs.fails != 1 {
		t.Errorf("失敗計測数 = %d, want 1", obs.fails)
	}
	if !strings.Contains(logs.String(), "upstream returned error status") {
		t.Errorf("エラーステータスのログが出力されていない: %s", logs.String())
	}
}

func TestAuthClient_SignIn_LegacyErrorBody(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid login credentials"}`)
	})

	_, err := NewAuthClient(c).SignIn(context.Background(), "a@example.com", "wrong")
	upErr, ok := AsError(err)
	if !ok {
		t.Fatalf("エラー型 = %T, want *upstream.Error", err)
	}
	if upErr.Code != "invalid_grant" || upErr.Message != "Invalid login credentials" {
		t.Errorf("Code/Message = %q/%q", upErr.Code, upErr.Message)
	}
}

func TestAuthClient_Refresh(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-2",
			"refresh_token": "rt-2",
			"expires_in":    3600,
		})
	})

	auth := NewAuthClient(c)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return fixed }

	s, err := auth.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("Refresh がエラーを返した: %v", err)
	}
	if s.AccessToken != "at-2" {
		t.Errorf("AccessToken = %q, want at-2", s.AccessToken)
	}
	if !s.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, fixed.Add(time.Hour))
	}
}

func TestAuthClient_GetUser_SendsBearerToken(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("Authorization = %q, want Bearer user-token", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "user-1", "email": "a@example.com"})
	})

	identity, err := NewAuthClient(c).GetUser(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("GetUser がエラーを返した: %v", err)
	}
	if identity.ID != "user-1" || identity.Email != "a@example.com" {
		t.Errorf("Identity = %+v", identity)
	}
}

func TestAuthClient_GetUser_Unauthorized(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"msg":"invalid JWT"}`)
	})

	_, err := NewAuthClient(c).GetUser(context.Background(), "expired")
	upErr, ok := AsError(err)
	if !ok || upErr.Status != http.StatusUnauthorized || !upErr.IsClientError() {
		t.Errorf("err = %v, want 401 upstream error", err)
	}
}

func TestAuthClient_SignUp_WithSession(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string                 `json:"email"`
			Data  model.IdentityMetadata `json:"data"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Data.Username != "alice" || body.Data.DisplayName != "Alice" {
			t.Errorf("data = %+v", body.Data)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
			"user":          map[string]any{"id": "user-1", "email": body.Email},
		})
	})

	res, err := NewAuthClient(c).SignUp(context.Background(), "a@example.com", "secret1",
		model.IdentityMetadata{Username: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("SignUp がエラーを返した: %v", err)
	}
	if res.Session == nil || res.Session.AccessToken != "at-1" {
		t.Errorf("Session = %+v, want access token at-1", res.Session)
	}
	if res.Identity == nil || res.Identity.ID != "user-1" {
		t.Errorf("Identity = %+v", res.Identity)
	}
}

func TestAuthClient_SignUp_ConfirmationPending(t *testing.T) {
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":                   "user-9",
			"email":                "new@example.com",
			"confirmation_sent_at": "2026-01-01T00:00:00Z",
		})
	})

	res, err := NewAuthClient(c).SignUp(context.Background(), "new@example.com", "secret1", model.IdentityMetadata{})
	if err != nil {
		t.Fatalf("SignUp がエラーを返した: %v", err)
	}
	if res.Session != nil {
		t.Errorf("Session = %+v, want nil", res.Session)
	}
	if res.Identity == nil || res.Identity.ID != "user-9" {
		t.Errorf("Identity = %+v", res.Identity)
	}
}

func TestAuthClient_SignOut(t *testing.T) {
	var called bool
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = r.URL.Path == "/auth/v1/logout" && r.Header.Get("Authorization") == "Bearer at-1"
		w.WriteHeader(http.StatusNoContent)
	})

	if err := NewAuthClient(c).SignOut(context.Background(), "at-1"); err != nil {
		t.Fatalf("SignOut がエラーを返した: %v", err)
	}
	if !called {
		t.Error("ログアウトエンドポイントがトークン付きで呼ばれていない")
	}
}

func TestAuthClient_Ping(t *testing.T) {
	healthy := true
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/auth/v1/health" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	a := NewAuthClient(c)

	if err := a.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	healthy = false
	err := a.Ping(context.Background())
	upErr, ok := AsError(err)
	if !ok || upErr.Status != http.StatusServiceUnavailable {
		t.Errorf("Ping() error = %v, want 503 upstream error", err)
	}
}

func TestClient_NetworkErrorIsNotUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	c := NewClient(Config{BaseURL: server.URL, APIKey: "k"})
	_, err := NewAuthClient(c).GetUser(context.Background(), "t")
	if err == nil {
		t.Fatal("停止したサーバーへの呼び出しでエラーが返らない")
	}
	if _, ok := AsError(err); ok {
		t.Errorf("ネットワークエラーが*upstream.Errorとして返された: %v", err)
	}
}

func TestParseError_NonJSONBody(t *testing.T) {
	e := parseError("op", http.StatusBadGateway, []byte("  "))
	if e.Message != http.StatusText(http.StatusBadGateway) {
		t.Errorf("Message = %q", e.Message)
	}
	e = parseError("op", http.StatusInternalServerError, []byte("<html>oops</html>"))
	if e.Message != "<html>oops</html>" {
		t.Errorf("Message = %q", e.Message)
	}
	var target *Error
	if !errors.As(error(e), &target) {
		t.Error("errors.As で*Errorを取り出せない")
	}
}

func TestAccessTokenContext(t *testing.T) {
	ctx := context.Background()
	if got := AccessTokenFromContext(ctx); got != "" {
		t.Errorf("未設定時 = %q, want empty", got)
	}
	if got := AccessTokenFromContext(WithAccessToken(ctx, "")); got != "" {
		t.Errorf("空トークン設定時 = %q, want empty", got)
	}
	if got := AccessTokenFromContext(WithAccessToken(ctx, "tok")); got != "tok" {
		t.Errorf("設定時 = %q, want tok", got)
	}
}
