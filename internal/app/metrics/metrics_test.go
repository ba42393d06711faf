package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestInstrumentHandlerRecordsMetrics(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodGet, "/negotiations/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	if !metricCounterGreaterOrEqual(t, "service_layer_http_requests_total", map[string]string{
		"method": "GET",
		"path":   "/negotiations",
		"status": "202",
	}, 1) {
		t.Fatalf("expected http request counter to increment")
	}

	if !metricHistogramCountGreaterOrEqual(t, "service_layer_http_request_duration_seconds", map[string]string{
		"method": "GET",
		"path":   "/negotiations",
	}, 1) {
		t.Fatalf("expected http duration histogram to record samples")
	}
}

func TestInstrumentHandler_MetricsPathPassthrough(t *testing.T) {
	called := false
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Error("expected /metrics path to pass through to handler")
	}
}

func TestRecordNegotiationTransition(t *testing.T) {
	RecordNegotiationTransition("dspace:contract-request-message", nil)
	if !metricCounterGreaterOrEqual(t, "service_layer_negotiation_transitions_total", map[string]string{
		"message_type": "dspace:contract-request-message",
		"status":       "success",
	}, 1) {
		t.Fatal("expected negotiation transition counter to increase")
	}

	RecordNegotiationTransition("dspace:contract-request-message", fmt.Errorf("boom"))
	if !metricCounterGreaterOrEqual(t, "service_layer_negotiation_transitions_total", map[string]string{
		"message_type": "dspace:contract-request-message",
		"status":       "error",
	}, 1) {
		t.Fatal("expected negotiation transition error counter to increase")
	}
}

func TestRecordTransferTransition(t *testing.T) {
	RecordTransferTransition("dspace:transfer-start-message", nil)
	if !metricCounterGreaterOrEqual(t, "service_layer_transfer_transitions_total", map[string]string{
		"message_type": "dspace:transfer-start-message",
		"status":       "success",
	}, 1) {
		t.Fatal("expected transfer transition counter to increase")
	}
}

func TestRecordProxyHop(t *testing.T) {
	RecordProxyHop("200")
	if !metricCounterGreaterOrEqual(t, "service_layer_dataplane_proxied_hops_total", map[string]string{
		"status": "200",
	}, 1) {
		t.Fatal("expected proxy hop counter to increase")
	}

	RecordProxyHop("")
	if !metricCounterGreaterOrEqual(t, "service_layer_dataplane_proxied_hops_total", map[string]string{
		"status": "unknown",
	}, 1) {
		t.Fatal("expected empty status to fall back to unknown")
	}
}

func metricCounterGreaterOrEqual(t *testing.T, name string, labels map[string]string, min float64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetCounter() != nil {
				return metric.GetCounter().GetValue() >= min
			}
		}
	}
	return false
}

func metricHistogramCountGreaterOrEqual(t *testing.T, name string, labels map[string]string, min uint64) bool {
	t.Helper()
	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) && metric.GetHistogram() != nil {
				return metric.GetHistogram().GetSampleCount() >= min
			}
		}
	}
	return false
}

func labelsMatch(metric *io_prometheus_client.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	matched := 0
	for _, lbl := range metric.GetLabel() {
		if val, ok := labels[lbl.GetName()]; ok && val == lbl.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func TestCanonicalPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"/negotiations", "/negotiations"},
		{"/negotiations/test", "/negotiations"},
		{"/negotiations/test/events", "/negotiations"},
		{"/accounts", "/accounts"},
		{"/accounts/", "/accounts"},
		{"/accounts/123", "/accounts/:account"},
		{"/accounts/123/", "/accounts/:account"},
		{"/accounts/abc/xyz", "/accounts/abc"},
		{"/accounts/abc/xyz/more", "/accounts/abc"},
		{"transfers", "/transfers"},
		{"transfers/", "/transfers"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := canonicalPath(tt.input)
			if result != tt.expected {
				t.Errorf("canonicalPath(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusNotFound)
	if sr.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", sr.status)
	}

	rec2 := httptest.NewRecorder()
	sr2 := &statusRecorder{ResponseWriter: rec2, status: 0}
	n, err := sr2.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected 5 bytes written, got %d", n)
	}
	if sr2.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", sr2.status)
	}

	rec3 := httptest.NewRecorder()
	sr3 := &statusRecorder{ResponseWriter: rec3, status: http.StatusCreated}
	sr3.Write([]byte("test"))
	if sr3.status != http.StatusCreated {
		t.Errorf("expected status 201 preserved, got %d", sr3.status)
	}
}

func TestMetaLabel(t *testing.T) {
	tests := []struct {
		name     string
		meta     map[string]string
		expected string
	}{
		{name: "nil map", meta: nil, expected: "unknown"},
		{name: "empty map", meta: map[string]string{}, expected: "unknown"},
		{name: "resource key", meta: map[string]string{"resource": "res-1"}, expected: "res-1"},
		{name: "transaction_id key", meta: map[string]string{"transaction_id": "tx-1"}, expected: "tx-1"},
		{
			name:     "resource takes precedence",
			meta:     map[string]string{"resource": "res-1", "transaction_id": "tx-1"},
			expected: "res-1",
		},
		{
			name:     "empty resource falls through",
			meta:     map[string]string{"resource": "", "transaction_id": "tx-1"},
			expected: "tx-1",
		},
		{
			name:     "all empty returns unknown",
			meta:     map[string]string{"resource": "", "transaction_id": ""},
			expected: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := metaLabel(tt.meta)
			if result != tt.expected {
				t.Errorf("metaLabel(%v) = %q, want %q", tt.meta, result, tt.expected)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	h := Handler()
	if h == nil {
		t.Fatal("Handler() should return non-nil handler")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty metrics response")
	}
}

func TestObservationHooks(t *testing.T) {
	hooks := ObservationHooks("test_ns", "test_sub", "test_op")

	if hooks.OnStart == nil {
		t.Fatal("OnStart should not be nil")
	}
	if hooks.OnComplete == nil {
		t.Fatal("OnComplete should not be nil")
	}

	hooks.OnStart(nil, map[string]string{"resource": "test-res"})
	hooks.OnComplete(nil, map[string]string{"resource": "test-res"}, nil, 100*time.Millisecond)
	hooks.OnComplete(nil, map[string]string{"resource": "test-res"}, fmt.Errorf("test error"), 50*time.Millisecond)

	hooks2 := ObservationHooks("test_ns", "test_sub", "test_op")
	if hooks2.OnStart == nil || hooks2.OnComplete == nil {
		t.Fatal("cached hooks should be valid")
	}
}

func TestDomainHookFactories(t *testing.T) {
	tests := []struct {
		name  string
		hooks func() interface{}
	}{
		{"NegotiationHooks", func() interface{} { return NegotiationHooks() }},
		{"TransferHooks", func() interface{} { return TransferHooks() }},
		{"DataPlaneHooks", func() interface{} { return DataPlaneHooks() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.hooks()
			if result == nil {
				t.Errorf("%s() returned nil", tt.name)
			}
		})
	}
}
