package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failureClass
	}{
		{"429", &Error{Status: http.StatusTooManyRequests}, failureBackoff},
		{"500", &Error{Status: http.StatusInternalServerError}, failureBackoff},
		{"503をラップ", fmt.Errorf("wrapped: %w", &Error{Status: http.StatusServiceUnavailable}), failureBackoff},
		{"400", &Error{Status: http.StatusBadRequest}, failureStop},
		{"401", &Error{Status: http.StatusUnauthorized}, failureStop},
		{"404", &Error{Status: http.StatusNotFound}, failureStop},
		{"接続失敗", fmt.Errorf("op request failed: %w: %w", errTransport, errors.New("connection refused")), failureBackoff},
		{"デコード失敗", errors.New("failed to decode response"), failureStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyFailure(tt.err); got != tt.want {
				t.Errorf("classifyFailure(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.failures); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestRestClient_Select_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	c, obs, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `[{"id":"p-1","title":"ok"}]`)
	})

	var rows []testRow
	if _, err := NewRestClient(c).Select(context.Background(), "posts", Query{}, &rows); err != nil {
		t.Fatalf("Select がエラーを返した: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("呼び出し回数 = %d, want 3", calls.Load())
	}
	if len(rows) != 1 || rows[0].ID != "p-1" {
		t.Errorf("rows = %+v", rows)
	}
	// 再試行を含めて1回の操作として計測する
	if len(obs.ops) != 1 || obs.fails != 0 {
		t.Errorf("計測 = %v (fails %d)", obs.ops, obs.fails)
	}
}

func TestRestClient_NoRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
		call   func(r *RestClient) error
	}{
		{
			name:   "Selectの4xx",
			status: http.StatusBadRequest,
			call: func(r *RestClient) error {
				_, err := r.Select(context.Background(), "posts", Query{}, &[]testRow{})
				return err
			},
		},
		{
			name:   "Insertの5xx",
			status: http.StatusServiceUnavailable,
			call: func(r *RestClient) error {
				return r.Insert(context.Background(), "posts", testRow{ID: "p-1"}, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})

			if err := tt.call(NewRestClient(c)); err == nil {
				t.Fatal("エラーが返らない")
			}
			if calls.Load() != 1 {
				t.Errorf("呼び出し回数 = %d, want 1", calls.Load())
			}
		})
	}
}

func TestRestClient_Select_StopsRetryingWhenContextEnds(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	c, _, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := NewRestClient(c).Select(ctx, "posts", Query{}, &[]testRow{})
	if err == nil {
		t.Fatal("エラーが返らない")
	}
	if calls.Load() != 1 {
		t.Errorf("呼び出し回数 = %d, want 1", calls.Load())
	}
}
