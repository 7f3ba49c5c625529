// Package upstream は外部のホスト型バックエンドサービス（認証・行ストレージ）の
// HTTPクライアントを提供する。
//
// 認証APIは /auth/v1、行ストレージのREST APIは /rest/v1 以下に公開されている前提で、
// どちらもプロジェクトのAPIキーを apikey ヘッダーで送信する。
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxErrorBodySize はエラーレスポンスとして読み取るボディの上限。
const maxErrorBodySize = 64 << 10

// Observer は外部サービス呼び出しの計測を受け取るインターフェース。
// metrics.Collectorが実装する。
type Observer interface {
	ObserveUpstream(operation string, duration time.Duration, err error)
}

// Config は外部サービスクライアントの設定。
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer // nilの場合は計測しない
}

// Client は外部サービスへのHTTP呼び出しの共通処理を提供する。
// AuthClientとRestClientはこれを共有する。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
}

// NewClient はClientを生成する。
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
		observer:   cfg.Observer,
	}
}

// request は1回の外部サービス呼び出しを表す。
type request struct {
	operation string
	method    string
	path      string
	query     url.Values
	header    http.Header
	bearer    string // 空の場合はAPIキーをBearerとして送る
	body      any
	retry     bool // 429/5xx/接続失敗時にバックオフして再試行する
}

// do はリクエストを送信し、2xxの場合はdestにJSONをデコードする。
// 2xx以外は*Errorを返す。レスポンスヘッダーは呼び出し元で参照できるよう返す。
// req.retryがtrueの場合、回復しうる失敗はmaxAttempts回まで試行する。
func (c *Client) do(ctx context.Context, req request, dest any) (http.Header, error) {
	start := time.Now()
	var header http.Header
	var err error
	for attempt := 1; ; attempt++ {
		header, err = c.send(ctx, req, dest)
		if err == nil || !req.retry || attempt >= maxAttempts || classifyFailure(err) != failureBackoff {
			break
		}
		delay := backoffDelay(attempt - 1)
		c.logger.Warn("retrying upstream request",
			slog.String("operation", req.operation),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if !waitBackoff(ctx, delay) {
			break
		}
	}
	if c.observer != nil {
		c.observer.ObserveUpstream(req.operation, time.Since(start), err)
	}
	return header, err
}

func (c *Client) send(ctx context.Context, req request, dest any) (http.Header, error) {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", req.operation, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", req.operation, err)
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("apikey", c.apiKey)
	bearer := req.bearer
	if bearer == "" {
		bearer = c.apiKey
	}
	httpReq.Header.Set("Authorization", "Bearer "+bearer)
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("upstream request failed",
			slog.String("operation", req.operation),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%s request failed: %w: %w", req.operation, errTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		upErr := parseError(req.operation, resp.StatusCode, raw)
		level := slog.LevelWarn
		if resp.StatusCode >= 500 {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "upstream returned error status",
			slog.String("operation", req.operation),
			slog.Int("http_status", resp.StatusCode),
			slog.String("code", upErr.Code),
		)
		return resp.Header, upErr
	}

	if dest == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return resp.Header, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil && err != io.EOF {
		return resp.Header, fmt.Errorf("failed to decode %s response: %w", req.operation, err)
	}
	return resp.Header, nil
}
