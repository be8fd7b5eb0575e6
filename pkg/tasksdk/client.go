// Package tasksdk is a Go client for the task and policy HTTP services.
package tasksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Client struct {
	BaseURL       string
	PolicyBaseURL string
	HTTPClient    *http.Client
}

func New(baseURL, policyBaseURL string) *Client {
	return &Client{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		PolicyBaseURL: strings.TrimRight(policyBaseURL, "/"),
		HTTPClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Error is a non-2xx response. Code and Message come from the error envelope
// or, for task calls, from the failure summary.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
}

type Subject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Record struct {
	ID         int64           `json:"id"`
	SubjectID  int64           `json:"subject_id"`
	Item       string          `json:"item"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	BaseAmount decimal.Decimal `json:"base_amount"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Surcharge  decimal.Decimal `json:"surcharge"`
	Total      decimal.Decimal `json:"total"`
}

type Student struct {
	ID           string  `json:"ID"`
	Name         string  `json:"name"`
	DeptName     *string `json:"dept_name"`
	TotalCredits int     `json:"tot_cred"`
}

type Course struct {
	CourseID string  `json:"course_id"`
	Title    string  `json:"title"`
	DeptName *string `json:"dept_name"`
	Credits  int     `json:"credits"`
}

type ProcessInput struct {
	SubjectName string          `json:"subject_name"`
	Item        string          `json:"item"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Category    string          `json:"category"`
	AuxMetric   decimal.Decimal `json:"aux_metric"`
}

type Summary struct {
	Success     bool            `json:"success"`
	RecordID    int64           `json:"record_id"`
	SubjectID   int64           `json:"subject_id"`
	SubjectName string          `json:"subject_name"`
	Item        string          `json:"item"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	BaseAmount  decimal.Decimal `json:"base_amount"`
	Category    string          `json:"category"`
	Rate        decimal.Decimal `json:"rate"`
	Adjustment  decimal.Decimal `json:"adjustment"`
	Surcharge   decimal.Decimal `json:"surcharge"`
	Total       decimal.Decimal `json:"total"`
	Note        string          `json:"note"`
	Message     string          `json:"message"`
	ErrorCode   string          `json:"error_code"`
	State       string          `json:"state"`
}

type EnrollInput struct {
	StudentID   string  `json:"student_id"`
	Name        string  `json:"name"`
	DeptName    *string `json:"dept_name,omitempty"`
	InitCredits int     `json:"init_credits"`
	CourseID    string  `json:"course_id"`
}

type EnrollmentSummary struct {
	Success         bool            `json:"success"`
	StudentID       string          `json:"student_id"`
	CourseID        string          `json:"course_id"`
	NormalizedName  string          `json:"normalized_name"`
	Credits         int             `json:"credits"`
	TuitionEstimate decimal.Decimal `json:"tuition_estimate"`
	Message         string          `json:"message"`
	ErrorCode       string          `json:"error_code"`
	State           string          `json:"state"`
}

// Process runs the order task. On a failed task the summary is returned
// together with an *Error carrying the HTTP status.
func (c *Client) Process(ctx context.Context, in ProcessInput, idempotencyKey string) (*Summary, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.BaseURL+"/task/process", in)
	if err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return doJSON[Summary](c, req)
}

func (c *Client) Enroll(ctx context.Context, in EnrollInput) (*EnrollmentSummary, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.BaseURL+"/task/onboard_student_into_course", in)
	if err != nil {
		return nil, err
	}
	return doJSON[EnrollmentSummary](c, req)
}

func (c *Client) CreateSubject(ctx context.Context, name string) (*Subject, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.BaseURL+"/entity/subjects", map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	out, err := doJSON[struct {
		Subject Subject `json:"subject"`
	}](c, req)
	if err != nil {
		return nil, err
	}
	return &out.Subject, nil
}

func (c *Client) ListSubjects(ctx context.Context) ([]Subject, error) {
	out, err := get[struct {
		Subjects []Subject `json:"subjects"`
	}](ctx, c, c.BaseURL+"/entity/subjects")
	if err != nil {
		return nil, err
	}
	return out.Subjects, nil
}

func (c *Client) GetRecord(ctx context.Context, id int64) (*Record, error) {
	out, err := get[struct {
		Record Record `json:"record"`
	}](ctx, c, fmt.Sprintf("%s/entity/records/%d", c.BaseURL, id))
	if err != nil {
		return nil, err
	}
	return &out.Record, nil
}

func (c *Client) ListRecords(ctx context.Context) ([]Record, error) {
	out, err := get[struct {
		Records []Record `json:"records"`
	}](ctx, c, c.BaseURL+"/entity/records")
	if err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) ListStudents(ctx context.Context) ([]Student, error) {
	out, err := get[struct {
		Students []Student `json:"students"`
	}](ctx, c, c.BaseURL+"/entity/students")
	if err != nil {
		return nil, err
	}
	return out.Students, nil
}

func (c *Client) CreateCourse(ctx context.Context, in Course) (*Course, error) {
	req, err := c.jsonRequest(ctx, http.MethodPost, c.BaseURL+"/entity/courses", in)
	if err != nil {
		return nil, err
	}
	out, err := doJSON[struct {
		Course Course `json:"course"`
	}](c, req)
	if err != nil {
		return nil, err
	}
	return &out.Course, nil
}

func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	out, err := get[struct {
		Courses []Course `json:"courses"`
	}](ctx, c, c.BaseURL+"/entity/courses")
	if err != nil {
		return nil, err
	}
	return out.Courses, nil
}

func (c *Client) Normalize(ctx context.Context, s string) (string, error) {
	out, err := get[struct {
		Result string `json:"result"`
	}](ctx, c, c.BaseURL+"/utility/normalize?"+url.Values{"s": {s}}.Encode())
	if err != nil {
		return "", err
	}
	return out.Result, nil
}

func (c *Client) ValidateStudentID(ctx context.Context, s string) (bool, error) {
	out, err := get[struct {
		Valid bool `json:"valid"`
	}](ctx, c, c.BaseURL+"/utility/validate_student_id?"+url.Values{"s": {s}}.Encode())
	if err != nil {
		return false, err
	}
	return out.Valid, nil
}

// Rate queries the policy service directly.
func (c *Client) Rate(ctx context.Context, category string) (decimal.Decimal, error) {
	out, err := get[struct {
		Rate decimal.Decimal `json:"rate"`
	}](ctx, c, c.PolicyBaseURL+"/policy/rate?"+url.Values{"category": {category}}.Encode())
	if err != nil {
		return decimal.Zero, err
	}
	return out.Rate, nil
}

func (c *Client) Tuition(ctx context.Context, credits int) (decimal.Decimal, error) {
	out, err := get[struct {
		Tuition decimal.Decimal `json:"tuition"`
	}](ctx, c, c.PolicyBaseURL+"/policy/calc_tuition?credits="+strconv.Itoa(credits))
	if err != nil {
		return decimal.Zero, err
	}
	return out.Tuition, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, u string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func get[T any](ctx context.Context, c *Client, u string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return doJSON[T](c, req)
}

// doJSON decodes the body into T whatever the status, so failure summaries
// reach the caller alongside the *Error.
func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 300 {
		var out T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return &out, nil
	}

	apiErr := &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var probe struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return nil, apiErr
	}
	if probe.Error != nil {
		apiErr.Code, apiErr.Message = probe.Error.Code, probe.Error.Message
		return nil, apiErr
	}
	apiErr.Code, apiErr.Message = probe.ErrorCode, probe.Message
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apiErr
	}
	return &out, apiErr
}
