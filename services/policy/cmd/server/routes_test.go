package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"taskflow/pkg/logx"
	"taskflow/pkg/metrics"
	"taskflow/services/policy/internal/rules"

	"github.com/shopspring/decimal"
)

func serve(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	h := newRouter(rules.Default(), logx.Discard(), metrics.NewRegistry())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]json.RawMessage
	if rr.Code == http.StatusOK && strings.HasPrefix(path, "/policy") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rr.Body.String())
		}
	}
	return rr, body
}

func decimalField(t *testing.T, body map[string]json.RawMessage, key string) decimal.Decimal {
	t.Helper()
	var d decimal.Decimal
	if err := json.Unmarshal(body[key], &d); err != nil {
		t.Fatalf("field %s: %v", key, err)
	}
	return d
}

func TestRateEndpoint(t *testing.T) {
	rr, body := serve(t, "/policy/rate?category=id")
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := decimalField(t, body, "rate"); !got.Equal(decimal.RequireFromString("0.11")) {
		t.Fatalf("rate = %s", got)
	}
	if string(body["category"]) != `"ID"` {
		t.Fatalf("category = %s", body["category"])
	}

	_, body = serve(t, "/policy/rate?category=XX")
	if got := decimalField(t, body, "rate"); !got.IsZero() {
		t.Fatalf("unknown category rate = %s", got)
	}
}

func TestSurchargeEndpointDegradesBadInputToZero(t *testing.T) {
	_, body := serve(t, "/policy/surcharge?metric=1.4")
	if got := decimalField(t, body, "surcharge"); !got.Equal(decimal.RequireFromString("6.65")) {
		t.Fatalf("surcharge = %s", got)
	}
	_, body = serve(t, "/policy/surcharge?metric=heavy")
	if got := decimalField(t, body, "surcharge"); !got.IsZero() {
		t.Fatalf("surcharge for bad metric = %s", got)
	}
}

func TestTuitionAndMaxCredits(t *testing.T) {
	_, body := serve(t, "/policy/calc_tuition?credits=3")
	if got := decimalField(t, body, "tuition"); !got.Equal(decimal.RequireFromString("250")) {
		t.Fatalf("tuition = %s", got)
	}
	_, body = serve(t, "/policy/calc_tuition?credits=x")
	if got := decimalField(t, body, "tuition"); !got.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("tuition for bad credits = %s", got)
	}
	_, body = serve(t, "/policy/max_credits")
	if string(body["max_credits"]) != "24" {
		t.Fatalf("max_credits = %s", body["max_credits"])
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newRouter(rules.Default(), logx.Discard(), metrics.NewRegistry())
	for _, p := range []string{"/policy/rate?category=ID", "/policy/max_credits"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != 200 {
		t.Fatalf("health = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `taskflow_policy_calls_total{op="rate",result="served"} 1`) {
		t.Fatalf("metrics missing served rate call:\n%s", rr.Body.String())
	}
}
