package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistryCountsAndExposes(t *testing.T) {
	r := NewRegistry()
	r.Outcomes.WithLabelValues("process", "ok").Inc()
	r.Outcomes.WithLabelValues("process", "ok").Inc()
	r.PolicyCalls.WithLabelValues("rate", "error").Inc()

	if got := testutil.ToFloat64(r.Outcomes.WithLabelValues("process", "ok")); got != 2 {
		t.Fatalf("expected 2 ok outcomes, got %v", got)
	}

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `taskflow_policy_calls_total{op="rate",result="error"} 1`) {
		t.Fatalf("missing policy call series in scrape:\n%s", body)
	}
}
