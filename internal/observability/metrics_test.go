package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if out.Counter != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func TestNewMetrics_Registry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test_vault", reg)

	m.LedgerOperations.WithLabelValues("deposit", "ok").Inc()
	m.LedgerOperations.WithLabelValues("deposit", "ok").Inc()
	m.FundsReturned.WithLabelValues("expired").Add(29000)

	if got := value(t, m.LedgerOperations.WithLabelValues("deposit", "ok")); got != 2 {
		t.Errorf("deposit ops = %v, want 2", got)
	}
	if got := value(t, m.FundsReturned.WithLabelValues("expired")); got != 29000 {
		t.Errorf("funds returned = %v, want 29000", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if !strings.HasPrefix(f.GetName(), "test_vault_") {
			t.Errorf("metric %s missing namespace", f.GetName())
		}
	}
}

func TestRecordHelpers(t *testing.T) {
	before := value(t, DefaultMetrics.SecurityRejections.WithLabelValues("RateLimitExceeded"))
	RecordSecurityRejection("RateLimitExceeded")
	after := value(t, DefaultMetrics.SecurityRejections.WithLabelValues("RateLimitExceeded"))
	if after-before != 1 {
		t.Errorf("rejections delta = %v, want 1", after-before)
	}

	UpdateSessionGauges(3, 5)
	if got := value(t, DefaultMetrics.SessionsActive); got != 3 {
		t.Errorf("sessions active = %v, want 3", got)
	}
	if got := value(t, DefaultMetrics.TrackedVaults); got != 5 {
		t.Errorf("tracked vaults = %v, want 5", got)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.code); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	RecordSessionIssued()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ephemeral_vault_custody_sessions_issued_total") {
		t.Error("metrics output missing sessions_issued_total")
	}
}
