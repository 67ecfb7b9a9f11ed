package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestRecordAuthOperation_LabelsByResult は操作名と結果のラベルで集計されることを検証する。
func TestRecordAuthOperation_LabelsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthOperation("sign_in", true)
	c.RecordAuthOperation("sign_in", true)
	c.RecordAuthOperation("sign_in", false)

	ok := findMetric(t, reg, "hirescout_auth_operations_total", map[string]string{"operation": "sign_in", "result": "success"})
	if v := ok.GetCounter().GetValue(); v != 2 {
		t.Errorf("success = %v, want 2", v)
	}
	ng := findMetric(t, reg, "hirescout_auth_operations_total", map[string]string{"operation": "sign_in", "result": "failure"})
	if v := ng.GetCounter().GetValue(); v != 1 {
		t.Errorf("failure = %v, want 1", v)
	}
}

// TestRecordProfileFetch はプロフィール取得の結果が記録されることを検証する。
func TestRecordProfileFetch(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProfileFetch(false)

	m := findMetric(t, reg, "hirescout_profile_fetch_total", map[string]string{"result": "failure"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("profile_fetch failure = %v, want 1", v)
	}
}

// TestRecordAnalyticsFailure は利用ログの失敗がアクション別に記録されることを検証する。
func TestRecordAnalyticsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalyticsFailure("sign_up")

	m := findMetric(t, reg, "hirescout_analytics_failures_total", map[string]string{"action": "sign_up"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("analytics_failures = %v, want 1", v)
	}
}

// TestSetActiveControllers はゲージが最新の値を保持することを検証する。
func TestSetActiveControllers(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActiveControllers(3)
	c.SetActiveControllers(1)

	m := findMetric(t, reg, "hirescout_active_controllers", nil)
	if v := m.GetGauge().GetValue(); v != 1 {
		t.Errorf("active_controllers = %v, want 1", v)
	}
}

// TestRecordHTTPRequest はステータス別カウンタとレイテンシが記録されることを検証する。
func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPRequest(http.MethodPost, 429, 15*time.Millisecond)

	m := findMetric(t, reg, "hirescout_http_requests_total", map[string]string{"method": "POST", "status_code": "429"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("http_requests = %v, want 1", v)
	}
	h := findMetric(t, reg, "hirescout_http_request_duration_seconds", nil)
	if n := h.GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("sample count = %d, want 1", n)
	}
}

// TestNewCollector_DuplicateRegistrationPanics は同一レジストリへの二重登録でpanicすることを検証する。
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}

// TestHandler_ServesMetrics はハンドラーがテキスト形式でメトリクスを返すことを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAuthOperation("sign_out", true)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `hirescout_auth_operations_total{operation="sign_out",result="success"} 1`) {
		t.Errorf("unexpected body: %s", body)
	}
}
