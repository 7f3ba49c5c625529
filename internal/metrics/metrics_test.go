package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetricFamily はレジストリから指定名のメトリクスファミリーを取得する。
func findMetricFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestObserveUpstream_CountsOutcomeAndLatency は外部呼び出しの結果とレイテンシが記録されることを検証する。
func TestObserveUpstream_CountsOutcomeAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveUpstream("auth.sign_in", 100*time.Millisecond, nil)
	c.ObserveUpstream("auth.sign_in", 2*time.Second, errors.New("503"))
	c.ObserveUpstream("rest.select.posts", 50*time.Millisecond, nil)

	mf := findMetricFamily(t, reg, "inkpost_upstream_requests_total")
	if len(mf.GetMetric()) != 3 {
		t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		op, outcome := labelValue(m, "operation"), labelValue(m, "outcome")
		if got := m.GetCounter().GetValue(); got != 1 {
			t.Errorf("upstream_requests_total{%s,%s} = %v, want 1", op, outcome, got)
		}
		if op == "rest.select.posts" && outcome != "success" {
			t.Errorf("rest.select.posts outcome = %q, want success", outcome)
		}
	}

	latency := findMetricFamily(t, reg, "inkpost_upstream_latency_seconds")
	for _, m := range latency.GetMetric() {
		if labelValue(m, "operation") != "auth.sign_in" {
			continue
		}
		h := m.GetHistogram()
		if h.GetSampleCount() != 2 {
			t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
		}
		// 合計は0.1 + 2.0 = 2.1秒
		if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
			t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
		}
	}
}

// TestRecordBestEffortFailure_LabelsByOperation は副次処理の失敗が処理名ごとに数えられることを検証する。
func TestRecordBestEffortFailure_LabelsByOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBestEffortFailure("view_count")
	c.RecordBestEffortFailure("view_count")
	c.RecordBestEffortFailure("profile_backfill")

	mf := findMetricFamily(t, reg, "inkpost_best_effort_failures_total")
	want := map[string]float64{"view_count": 2, "profile_backfill": 1}
	if len(mf.GetMetric()) != len(want) {
		t.Fatalf("expected %d label combinations, got %d", len(want), len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		op := labelValue(m, "operation")
		if got := m.GetCounter().GetValue(); got != want[op] {
			t.Errorf("best_effort_failures_total{operation=%s} = %v, want %v", op, got, want[op])
		}
	}
}

// TestRecordPostViewAndSessionsCleaned はカウンタが加算されることを検証する。
func TestRecordPostViewAndSessionsCleaned(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPostView()
	c.RecordPostView()
	c.RecordSessionsCleaned(10)
	c.RecordSessionsCleaned(5)

	views := findMetricFamily(t, reg, "inkpost_post_views_total")
	if got := views.GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Errorf("post_views_total = %v, want 2", got)
	}
	cleaned := findMetricFamily(t, reg, "inkpost_sessions_cleaned_total")
	if got := cleaned.GetMetric()[0].GetCounter().GetValue(); got != 15 {
		t.Errorf("sessions_cleaned_total = %v, want 15", got)
	}
}

// TestMiddleware_RecordsResponseStatus はミドルウェアがレスポンスのステータスコードを記録することを検証する。
func TestMiddleware_RecordsResponseStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	handler := c.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/implicit":
			_, _ = w.Write([]byte("ok"))
		}
	}))

	for _, path := range []string{"/missing", "/implicit", "/empty"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	mf := findMetricFamily(t, reg, "inkpost_http_status_total")
	want := map[string]float64{"200": 2, "404": 1}
	if len(mf.GetMetric()) != len(want) {
		t.Fatalf("expected %d label combinations, got %d", len(want), len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		code := labelValue(m, "status_code")
		if got := m.GetCounter().GetValue(); got != want[code] {
			t.Errorf("http_status_total{status_code=%s} = %v, want %v", code, got, want[code])
		}
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveUpstream("auth.get_user", 500*time.Millisecond, nil)
	c.RecordBestEffortFailure("sign_out")
	c.RecordPostView()
	c.RecordSessionsCleaned(3)
	c.RecordHTTPStatus(200)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"inkpost_upstream_requests_total",
		"inkpost_upstream_latency_seconds",
		"inkpost_best_effort_failures_total",
		"inkpost_post_views_total",
		"inkpost_sessions_cleaned_total",
		"inkpost_http_status_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordPostView()
	c2.RecordPostView()
	c2.RecordPostView()

	val1 := findMetricFamily(t, reg1, "inkpost_post_views_total").GetMetric()[0].GetCounter().GetValue()
	val2 := findMetricFamily(t, reg2, "inkpost_post_views_total").GetMetric()[0].GetCounter().GetValue()

	if val1 != 1 {
		t.Errorf("reg1 post_views = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 post_views = %v, want 2", val2)
	}
}
