package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	ok := HealthCheckFunc(func(ctx context.Context) error { return nil })
	down := HealthCheckFunc(func(ctx context.Context) error { return errors.New("dial tcp: connection refused") })

	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantBody   healthResponse
	}{
		{
			name:       "すべて正常",
			checks:     map[string]HealthChecker{"upstream": ok, "database": ok},
			wantStatus: http.StatusOK,
			wantBody:   healthResponse{Status: "ok", Checks: map[string]string{"upstream": "ok", "database": "ok"}},
		},
		{
			name:       "一部が停止",
			checks:     map[string]HealthChecker{"upstream": ok, "redis": down},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   healthResponse{Status: "degraded", Checks: map[string]string{"upstream": "ok", "redis": "unavailable"}},
		},
		{
			name:       "依存先なし",
			checks:     nil,
			wantStatus: http.StatusOK,
			wantBody:   healthResponse{Status: "ok", Checks: map[string]string{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks)
			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var got healthResponse
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got.Status != tt.wantBody.Status || len(got.Checks) != len(tt.wantBody.Checks) {
				t.Errorf("body = %+v, want %+v", got, tt.wantBody)
			}
			for name, want := range tt.wantBody.Checks {
				if got.Checks[name] != want {
					t.Errorf("checks[%s] = %q, want %q", name, got.Checks[name], want)
				}
			}
		})
	}
}

func TestHealthHandler_PassesDeadline(t *testing.T) {
	var hasDeadline bool
	h := NewHealthHandler(map[string]HealthChecker{
		"upstream": HealthCheckFunc(func(ctx context.Context) error {
			_, hasDeadline = ctx.Deadline()
			return nil
		}),
	})
	h.Health(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if !hasDeadline {
		t.Error("疎通確認にタイムアウトが設定されていない")
	}
}
