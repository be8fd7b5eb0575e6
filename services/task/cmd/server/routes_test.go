package main

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taskflow/pkg/idempotency"
	"taskflow/pkg/logx"
	"taskflow/pkg/metrics"
	"taskflow/pkg/ratelimit"
	"taskflow/services/task/internal/domain"
	"taskflow/services/task/internal/orchestrator"
	"taskflow/services/task/internal/store/memstore"

	"github.com/shopspring/decimal"
)

type stubGateway struct{ down bool }

func (g stubGateway) Rate(_ context.Context, category string) (decimal.Decimal, error) {
	if g.down {
		return decimal.Zero, fmt.Errorf("policy rate: dial tcp: %w", domain.ErrUpstream)
	}
	if category == "ID" {
		return decimal.RequireFromString("0.11"), nil
	}
	return decimal.Zero, nil
}

func (g stubGateway) Surcharge(_ context.Context, metric decimal.Decimal) (decimal.Decimal, error) {
	if !metric.IsPositive() {
		return decimal.Zero, nil
	}
	return decimal.RequireFromString("3.50").Add(decimal.RequireFromString("2.25").Mul(metric)).Round(2), nil
}

func (g stubGateway) Fee(_ context.Context, count int) (decimal.Decimal, error) {
	return decimal.NewFromInt(100 + 50*int64(count)), nil
}

func (g stubGateway) MaxUnits(context.Context) (int, error) { return 24, nil }

type testServer struct {
	h     http.Handler
	store *memstore.Store
}

func newTestServer(t *testing.T, gw orchestrator.Gateway, limiter *ratelimit.KeyLimiter) testServer {
	t.Helper()
	st := memstore.New()
	reg := metrics.NewRegistry()
	return testServer{
		store: st,
		h: newRouter(deps{
			store:   st,
			svc:     orchestrator.New(st, gw, orchestrator.WithMetrics(reg)),
			idem:    idempotency.NewMemoryStore(),
			limiter: limiter,
			metrics: reg,
			log:     logx.Discard(),
		}),
	}
}

func (s testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorEnvelope struct {
	RequestID string `json:"request_id"`
	Error     struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

const widgetOrderBody = `{"subject_name":"  Josh Groban  ","item":"Widget-Pro","quantity":3,"unit_price":19.99,"category":"ID","aux_metric":1.4}`

func TestProcessEndpointPricesWidgetOrder(t *testing.T) {
	s := newTestServer(t, stubGateway{}, nil)
	rr := s.do(http.MethodPost, "/task/process", widgetOrderBody, nil)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	sum := decode[domain.Summary](t, rr)
	if !sum.Success || sum.SubjectName != "Josh Groban" || !sum.Total.Equal(decimal.RequireFromString("73.22")) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Note != "Rate 11.0% for ID" || sum.State != domain.StateFinalized {
		t.Fatalf("unexpected note/state %q %q", sum.Note, sum.State)
	}
	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestProcessEndpointFailureStatuses(t *testing.T) {
	s := newTestServer(t, stubGateway{}, nil)
	rr := s.do(http.MethodPost, "/task/process", `{"subject_name":"  ","item":"x","quantity":1,"unit_price":1}`, nil)
	if rr.Code != 400 {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	sum := decode[domain.Summary](t, rr)
	if sum.Success || sum.ErrorCode != "VALIDATION_ERROR" || sum.State != domain.StateRejected {
		t.Fatalf("unexpected summary %+v", sum)
	}

	rr = s.do(http.MethodPost, "/task/process", `{"subject_name":"x","bogus":1}`, nil)
	if rr.Code != 400 || decode[errorEnvelope](t, rr).Error.Code != "BAD_JSON" {
		t.Fatalf("expected BAD_JSON, got %d %s", rr.Code, rr.Body.String())
	}

	down := newTestServer(t, stubGateway{down: true}, nil)
	rr = down.do(http.MethodPost, "/task/process", widgetOrderBody, nil)
	if rr.Code != 502 {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	sum = decode[domain.Summary](t, rr)
	if sum.ErrorCode != "UPSTREAM_ERROR" || sum.State != domain.StateFailed || sum.RecordID == 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestProcessIdempotencyKey(t *testing.T) {
	s := newTestServer(t, stubGateway{}, nil)
	hdr := map[string]string{"Idempotency-Key": "order-1"}

	first := s.do(http.MethodPost, "/task/process", widgetOrderBody, hdr)
	if first.Code != 200 {
		t.Fatalf("first call: %d %s", first.Code, first.Body.String())
	}
	again := s.do(http.MethodPost, "/task/process", widgetOrderBody, hdr)
	if again.Code != 200 || again.Header().Get("Idempotent-Replay") != "true" {
		t.Fatalf("expected replay, got %d headers=%v", again.Code, again.Header())
	}
	if decode[domain.Summary](t, first).RecordID != decode[domain.Summary](t, again).RecordID {
		t.Fatalf("replay should return the stored record id")
	}
	records, _ := s.store.ListRecords(context.Background())
	if len(records) != 1 {
		t.Fatalf("expected one record after replay, got %d", len(records))
	}

	changed := strings.Replace(widgetOrderBody, `"quantity":3`, `"quantity":4`, 1)
	rr := s.do(http.MethodPost, "/task/process", changed, hdr)
	if rr.Code != 409 || decode[errorEnvelope](t, rr).Error.Code != "IDEMPOTENCY_KEY_REUSED" {
		t.Fatalf("expected 409 IDEMPOTENCY_KEY_REUSED, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestEntityEndpoints(t *testing.T) {
	s := newTestServer(t, stubGateway{}, nil)

	rr := s.do(http.MethodPost, "/entity/subjects", `{"name":"  alice   smith"}`, nil)
	if rr.Code != 201 {
		t.Fatalf("create subject: %d %s", rr.Code, rr.Body.String())
	}
	created := decode[struct {
		Subject domain.Subject `json:"subject"`
	}](t, rr).Subject
	if created.Name != "Alice Smith" {
		t.Fatalf("subject = %+v", created)
	}

	rr = s.do(http.MethodPost, "/entity/subjects", `{"name":"Alice Smith"}`, nil)
	if rr.Code != 409 || decode[errorEnvelope](t, rr).Error.Code != "CONFLICT" {
		t.Fatalf("expected conflict, got %d %s", rr.Code, rr.Body.String())
	}

	rr = s.do(http.MethodGet, fmt.Sprintf("/entity/subjects/%d", created.ID), "", nil)
	if rr.Code != 200 {
		t.Fatalf("get subject: %d", rr.Code)
	}
	rr = s.do(http.MethodGet, "/entity/subjects/999", "", nil)
	env := decode[errorEnvelope](t, rr)
	if rr.Code != 404 || env.Error.Code != "NOT_FOUND" || env.RequestID == "" {
		t.Fatalf("expected 404 envelope, got %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(http.MethodGet, "/entity/subjects/abc", "", nil)
	if rr.Code != 400 {
		t.Fatalf("expected 400 for bad id, got %d", rr.Code)
	}

	rr = s.do(http.MethodPost, "/entity/records", fmt.Sprintf(`{"subject_id":%d,"item":"Widget","quantity":2,"unit_price":"2.50"}`, created.ID), nil)
	if rr.Code != 201 {
		t.Fatalf("create record: %d %s", rr.Code, rr.Body.String())
	}
	rec := decode[struct {
		Record domain.Record `json:"record"`
	}](t, rr).Record
	if !rec.BaseAmount.Equal(decimal.RequireFromString("5")) || !rec.Total.Equal(rec.BaseAmount) {
		t.Fatalf("record = %+v", rec)
	}
	rr = s.do(http.MethodPost, "/entity/records", `{"subject_id":999,"item":"Widget","quantity":1,"unit_price":1}`, nil)
	if rr.Code != 404 {
		t.Fatalf("expected 404 for unknown subject, got %d", rr.Code)
	}
	rr = s.do(http.MethodGet, "/entity/records/12345", "", nil)
	if rr.Code != 404 {
		t.Fatalf("expected 404 for unknown record, got %d", rr.Code)
	}

	rr = s.do(http.MethodGet, "/entity/records", "", nil)
	list := decode[struct {
		Records []domain.Record `json:"records"`
	}](t, rr)
	if len(list.Records) != 1 {
		t.Fatalf("records = %+v", list.Records)
	}
}

func TestEnrollmentEndpoints(t *testing.T) {
	s := newTestServer(t, stubGateway{}, nil)

	rr := s.do(http.MethodPost, "/entity/courses", `{"course_id":"CS-909","title":"Intro to Database","dept_name":"Inf. Sys.","credits":3}`, nil)
	if rr.Code != 201 {
		t.Fatalf("create course: %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(http.MethodPost, "/task/onboard_student_into_course",
		`{"student_id":"S9009","name":"alice smith","dept_name":"Inf. Sys.","init_credits":0,"course_id":"CS-909"}`, nil)
	if rr.Code != 200 {
		t.Fatalf("enroll: %d %s", rr.Code, rr.Body.String())
	}
	sum := decode[domain.EnrollmentSummary](t, rr)
	if !sum.Success || sum.NormalizedName != "Alice Smith" || !sum.TuitionEstimate.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Message != "Student S9009 onboarded to CS-909." {
		t.Fatalf("message = %q", sum.Message)
	}

	rr = s.do(http.MethodPost, "/task/onboard_student_into_course", `{"student_id":"bad","name":"x","course_id":"CS-909"}`, nil)
	if rr.Code != 400 || decode[domain.EnrollmentSummary](t, rr).Message != "Invalid student ID format" {
		t.Fatalf("expected 400 invalid id, got %d %s", rr.Code, rr.Body.String())
	}

	rr = s.do(http.MethodGet, "/entity/students/S9009", "", nil)
	stu := decode[struct {
		Student domain.Student `json:"student"`
	}](t, rr).Student
	if rr.Code != 200 || stu.Name != "Alice Smith" {
		t.Fatalf("student = %d %+v", rr.Code, stu)
	}
	rr = s.do(http.MethodGet, "/entity/students", "", nil)
	if students := decode[struct {
		Students []domain.Student `json:"students"`
	}](t, rr).Students; len(students) != 1 {
		t.Fatalf("students = %+v", students)
	}
	rr = s.do(http.MethodGet, "/entity/courses/NOPE", "", nil)
	if rr.Code != 404 {
		t.Fatalf("expected 404 for unknown course, got %d", rr.Code)
	}
}

func TestUtilityEndpoints(t *testing.T) {
	s := newTestServer(t, stubGateway{}, nil)
	rr := s.do(http.MethodGet, "/utility/normalize?s=%20%20josh%20%20groban", "", nil)
	if got := decode[map[string]string](t, rr)["result"]; got != "Josh Groban" {
		t.Fatalf("normalize = %q", got)
	}
	rr = s.do(http.MethodGet, "/utility/validate_student_id?s=S9009", "", nil)
	if !decode[map[string]bool](t, rr)["valid"] {
		t.Fatalf("expected S9009 valid")
	}
	rr = s.do(http.MethodGet, "/utility/validate_student_id?s=bad", "", nil)
	if decode[map[string]bool](t, rr)["valid"] {
		t.Fatalf("expected bad invalid")
	}
}

func TestTaskEndpointsAreRateLimited(t *testing.T) {
	s := newTestServer(t, stubGateway{}, ratelimit.New(0.001, 1, time.Minute))
	if rr := s.do(http.MethodPost, "/task/process", widgetOrderBody, nil); rr.Code != 200 {
		t.Fatalf("first call: %d", rr.Code)
	}
	rr := s.do(http.MethodPost, "/task/process", widgetOrderBody, nil)
	if rr.Code != 429 || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr := s.do(http.MethodGet, "/entity/subjects", "", nil); rr.Code != 200 {
		t.Fatalf("entity endpoints should not be limited, got %d", rr.Code)
	}
}

func TestMetricsEndpointCountsOutcomes(t *testing.T) {
	s := newTestServer(t, stubGateway{}, nil)
	s.do(http.MethodPost, "/task/process", widgetOrderBody, nil)
	rr := s.do(http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rr.Body.String(), `taskflow_orchestrations_total{operation="process",outcome="ok"} 1`) {
		t.Fatalf("missing outcome metric:\n%s", rr.Body.String())
	}
}

// unsavableIdempotencyStore never holds a record and fails every save.
type unsavableIdempotencyStore struct{}

func (unsavableIdempotencyStore) GetIdempotencyRecord(context.Context, string, string, string) (*idempotency.Record, error) {
	return nil, nil
}

func (unsavableIdempotencyStore) SaveIdempotencyRecord(context.Context, idempotency.Record) error {
	return errors.New("relation task_idempotency_records does not exist")
}

func TestProcessLogsIdempotencySaveFailure(t *testing.T) {
	var logs bytes.Buffer
	st := memstore.New()
	h := newRouter(deps{
		store: st,
		svc:   orchestrator.New(st, stubGateway{}),
		idem:  unsavableIdempotencyStore{},
		log:   logx.NewWithWriter(&logs, "info", "json"),
	})

	req := httptest.NewRequest(http.MethodPost, "/task/process", strings.NewReader(widgetOrderBody))
	req.Header.Set("Idempotency-Key", "k-save-fails")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	out := logs.String()
	if !strings.Contains(out, "idempotency save failed") || !strings.Contains(out, "k-save-fails") {
		t.Fatalf("expected a save failure warning, logs:\n%s", out)
	}
}
