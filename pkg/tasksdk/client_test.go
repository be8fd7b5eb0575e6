package tasksdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClientProcessAndEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/task/process":
			if r.Header.Get("Idempotency-Key") != "k1" {
				t.Errorf("missing idempotency key")
			}
			var in ProcessInput
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				t.Errorf("decode: %v", err)
			}
			if in.SubjectName != "Josh Groban" || !in.UnitPrice.Equal(decimal.RequireFromString("19.99")) {
				t.Errorf("unexpected input %+v", in)
			}
			_, _ = w.Write([]byte(`{"success":true,"record_id":7,"total":"73.22","note":"Rate 11.0% for ID","state":"FINALIZED"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/entity/subjects":
			_, _ = w.Write([]byte(`{"request_id":"req_1","subjects":[{"id":1,"name":"Josh Groban"}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/utility/normalize":
			_, _ = w.Write([]byte(`{"result":"Josh Groban"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/policy/rate":
			_, _ = w.Write([]byte(`{"category":"ID","rate":0.11}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL)
	ctx := context.Background()

	sum, err := c.Process(ctx, ProcessInput{
		SubjectName: "Josh Groban", Item: "Widget-Pro", Quantity: 3,
		UnitPrice: decimal.RequireFromString("19.99"), Category: "ID", AuxMetric: decimal.RequireFromString("1.4"),
	}, "k1")
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if sum.RecordID != 7 || !sum.Total.Equal(decimal.RequireFromString("73.22")) {
		t.Fatalf("Process() summary = %+v", sum)
	}

	subjects, err := c.ListSubjects(ctx)
	if err != nil || len(subjects) != 1 || subjects[0].Name != "Josh Groban" {
		t.Fatalf("ListSubjects() = %+v, %v", subjects, err)
	}
	norm, err := c.Normalize(ctx, "  josh groban ")
	if err != nil || norm != "Josh Groban" {
		t.Fatalf("Normalize() = %q, %v", norm, err)
	}
	rate, err := c.Rate(ctx, "ID")
	if err != nil || !rate.Equal(decimal.RequireFromString("0.11")) {
		t.Fatalf("Rate() = %s, %v", rate, err)
	}
}

func TestClientFailureSummaryAndEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		switch r.URL.Path {
		case "/task/onboard_student_into_course":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"student_id":"bad","message":"Invalid student ID format","error_code":"VALIDATION_ERROR","state":"REJECTED"}`))
		case "/entity/records/9":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"request_id":"req_9","error":{"code":"NOT_FOUND","message":"record 9: not found","details":null}}`))
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL)
	ctx := context.Background()

	sum, err := c.Enroll(ctx, EnrollInput{StudentID: "bad", Name: "x", CourseID: "CS-909"})
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 400 || apiErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("Enroll() error = %v", err)
	}
	if sum == nil || sum.State != "REJECTED" || sum.Message != "Invalid student ID format" {
		t.Fatalf("Enroll() summary = %+v", sum)
	}

	rec, err := c.GetRecord(ctx, 9)
	if rec != nil || !errors.As(err, &apiErr) || apiErr.Code != "NOT_FOUND" || apiErr.StatusCode != 404 {
		t.Fatalf("GetRecord() = %+v, %v", rec, err)
	}
}
