package upstream

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const (
	// maxAttempts は再試行可能なリクエストの最大試行回数（初回を含む）。
	maxAttempts = 3
	// initialBackoff は指数バックオフの初回遅延。
	initialBackoff = 100 * time.Millisecond
	// maxBackoff は指数バックオフの最大遅延。
	maxBackoff = time.Second
)

// errTransport は外部サービスに到達できなかったことを示す。
var errTransport = errors.New("upstream unreachable")

// failureClass は失敗したリクエストの分類。
type failureClass int

const (
	// failureStop は再試行しても結果が変わらない失敗（4xx、デコード失敗など）。
	failureStop failureClass = iota
	// failureBackoff は時間を置けば回復しうる失敗（429、5xx、接続失敗）。
	failureBackoff
)

// classifyFailure はエラーを再試行の要否で分類する。
func classifyFailure(err error) failureClass {
	if upErr, ok := AsError(err); ok {
		switch {
		case upErr.Status == http.StatusTooManyRequests:
			return failureBackoff
		case upErr.Status >= 500:
			return failureBackoff
		default:
			return failureStop
		}
	}
	if errors.Is(err, errTransport) {
		return failureBackoff
	}
	return failureStop
}

// backoffDelay は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回100ms、2倍ずつ増加、最大1秒。
func backoffDelay(failures int) time.Duration {
	delay := initialBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// waitBackoff はdelayだけ待つ。ctxが先に終了した場合はfalseを返す。
func waitBackoff(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
