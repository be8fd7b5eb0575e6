// Package domain holds the entities owned by the task service store and the
// error taxonomy shared by the store, the policy client and the orchestrator.
package domain

import (
	"github.com/shopspring/decimal"
)

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

// Summary is the caller-facing result of a process call. It is never persisted.
type Summary struct {
	Success     bool            `json:"success"`
	RecordID    int64           `json:"record_id,omitempty"`
	SubjectID   int64           `json:"subject_id,omitempty"`
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
	Note        string          `json:"note,omitempty"`
	Message     string          `json:"message,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	State       State           `json:"state"`
}

type EnrollmentSummary struct {
	Success         bool            `json:"success"`
	StudentID       string          `json:"student_id"`
	CourseID        string          `json:"course_id"`
	NormalizedName  string          `json:"normalized_name"`
	Credits         int             `json:"credits"`
	TuitionEstimate decimal.Decimal `json:"tuition_estimate"`
	Message         string          `json:"message"`
	ErrorCode       string          `json:"error_code,omitempty"`
	State           State           `json:"state"`
}

// State tracks how far an orchestration call progressed.
type State string

const (
	StateValidating      State = "VALIDATING"
	StateSubjectResolved State = "SUBJECT_RESOLVED"
	StateRecordCreated   State = "RECORD_CREATED"
	StateRateFetched     State = "RATE_FETCHED"
	StateFinalized       State = "FINALIZED"
	StateRejected        State = "REJECTED"
	StateFailed          State = "FAILED"
)
