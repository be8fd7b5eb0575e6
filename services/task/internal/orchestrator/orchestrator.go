// Package orchestrator runs the two business tasks of the service. Each call
// is a sequence of independent store and policy calls; a failing step ends
// the call with a failure summary and leaves earlier writes in place.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskflow/pkg/events"
	"taskflow/pkg/logx"
	"taskflow/pkg/metrics"
	"taskflow/services/task/internal/domain"
	"taskflow/services/task/internal/normalize"
	"taskflow/services/task/internal/store"

	"github.com/shopspring/decimal"
)

// Gateway is the policy service as seen by the orchestrator.
type Gateway interface {
	Rate(ctx context.Context, category string) (decimal.Decimal, error)
	Surcharge(ctx context.Context, metric decimal.Decimal) (decimal.Decimal, error)
	Fee(ctx context.Context, count int) (decimal.Decimal, error)
	MaxUnits(ctx context.Context) (int, error)
}

type ProcessRequest struct {
	SubjectName string          `json:"subject_name"`
	Item        string          `json:"item"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Category    string          `json:"category"`
	AuxMetric   decimal.Decimal `json:"aux_metric"`
}

type EnrollRequest struct {
	StudentID   string  `json:"student_id"`
	Name        string  `json:"name"`
	DeptName    *string `json:"dept_name"`
	InitCredits int     `json:"init_credits"`
	CourseID    string  `json:"course_id"`
}

const (
	opProcess = "process"
	opEnroll  = "enroll"
)

type Service struct {
	store   store.Store
	gateway Gateway
	pub     events.Publisher
	metrics *metrics.Registry
	log     *slog.Logger
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option { return func(s *Service) { s.pub = p } }
func WithMetrics(m *metrics.Registry) Option  { return func(s *Service) { s.metrics = m } }
func WithLogger(l *slog.Logger) Option        { return func(s *Service) { s.log = l } }

func New(st store.Store, gw Gateway, opts ...Option) *Service {
	s := &Service{store: st, gateway: gw, pub: events.Nop{}, log: logx.Discard()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Process resolves the subject, records the line item, prices it through the
// gateway and persists the totals. The returned summary is always populated;
// err is non-nil exactly when Success is false.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (domain.Summary, error) {
	start := time.Now()
	category := strings.ToUpper(strings.TrimSpace(req.Category))
	sum := domain.Summary{
		State:     domain.StateValidating,
		Item:      req.Item,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Category:  category,
	}

	name := normalize.Name(req.SubjectName)
	sum.SubjectName = name
	switch {
	case name == "":
		return s.failProcess(ctx, sum, start, fmt.Errorf("subject_name is required: %w", domain.ErrValidation))
	case req.Quantity < 0:
		return s.failProcess(ctx, sum, start, fmt.Errorf("quantity must be >= 0: %w", domain.ErrValidation))
	case req.UnitPrice.IsNegative():
		return s.failProcess(ctx, sum, start, fmt.Errorf("unit_price must be >= 0: %w", domain.ErrValidation))
	}

	subj, created, err := s.store.GetOrCreateSubject(ctx, name)
	if err != nil {
		return s.failProcess(ctx, sum, start, err)
	}
	if created && s.metrics != nil {
		s.metrics.SubjectsCreated.Inc()
	}
	sum.State = domain.StateSubjectResolved
	sum.SubjectID = subj.ID
	sum.SubjectName = subj.Name

	rec, err := s.store.CreateRecord(ctx, subj.ID, req.Item, req.Quantity, req.UnitPrice)
	if err != nil {
		return s.failProcess(ctx, sum, start, err)
	}
	sum.State = domain.StateRecordCreated
	sum.RecordID = rec.ID
	sum.BaseAmount = rec.BaseAmount
	sum.Total = rec.Total

	rate, err := s.gateway.Rate(ctx, category)
	if err != nil {
		return s.failProcess(ctx, sum, start, err)
	}
	surcharge, err := s.gateway.Surcharge(ctx, req.AuxMetric)
	if err != nil {
		return s.failProcess(ctx, sum, start, err)
	}
	sum.State = domain.StateRateFetched
	sum.Rate = rate

	adjustment := normalize.Money(rec.BaseAmount.Mul(rate))
	rec, err = s.store.UpdateRecordTotals(ctx, rec.ID, adjustment, surcharge)
	if err != nil {
		return s.failProcess(ctx, sum, start, err)
	}
	sum.State = domain.StateFinalized
	sum.Success = true
	sum.Adjustment = rec.Adjustment
	sum.Surcharge = rec.Surcharge
	sum.Total = rec.Total
	sum.Note = rateNote(rate, category)

	s.observe(opProcess, "ok", start)
	s.publish(ctx, events.New(events.TypeRecordFinalized, fmt.Sprint(rec.ID), sum))
	s.log.Info("record finalized",
		"record_id", rec.ID,
		"subject_id", subj.ID,
		"total", rec.Total.String(),
	)
	return sum, nil
}

// rateNote renders e.g. "Rate 11.0% for ID".
func rateNote(rate decimal.Decimal, category string) string {
	if category == "" {
		category = "N/A"
	}
	return fmt.Sprintf("Rate %s%% for %s", rate.Mul(decimal.NewFromInt(100)).StringFixed(1), category)
}

func (s *Service) failProcess(ctx context.Context, sum domain.Summary, start time.Time, err error) (domain.Summary, error) {
	sum.State = failedState(sum.State, err)
	sum.Success = false
	sum.ErrorCode = domain.Code(err)
	sum.Message = err.Error()

	s.observe(opProcess, sum.ErrorCode, start)
	s.publish(ctx, events.New(events.TypeProcessFailed, sum.SubjectName, sum))
	s.log.Warn("process failed",
		"state", string(sum.State),
		"code", sum.ErrorCode,
		"subject_id", sum.SubjectID,
		"record_id", sum.RecordID,
		"err", err,
	)
	return sum, err
}

// Enroll creates a student, looks up the course and prices it through the
// gateway. An invalid student id is rejected before anything is written.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (domain.EnrollmentSummary, error) {
	start := time.Now()
	sum := domain.EnrollmentSummary{
		State:     domain.StateValidating,
		StudentID: strings.TrimSpace(req.StudentID),
		CourseID:  strings.TrimSpace(req.CourseID),
	}
	if !normalize.ValidIdentifier(sum.StudentID) {
		return s.failEnroll(ctx, sum, start, "Invalid student ID format",
			fmt.Errorf("student id %q: %w", sum.StudentID, domain.ErrValidation))
	}
	sum.NormalizedName = normalize.Name(req.Name)

	st, err := s.store.CreateStudent(ctx, domain.Student{
		ID:           sum.StudentID,
		Name:         sum.NormalizedName,
		DeptName:     req.DeptName,
		TotalCredits: req.InitCredits,
	})
	if err != nil {
		return s.failEnroll(ctx, sum, start, "Failed to create student", err)
	}
	sum.State = domain.StateSubjectResolved
	sum.NormalizedName = st.Name

	course, err := s.store.GetCourse(ctx, sum.CourseID)
	if err != nil {
		msg := "Failed to load course"
		if errors.Is(err, domain.ErrNotFound) {
			msg = "Course not found"
		}
		return s.failEnroll(ctx, sum, start, msg, err)
	}
	sum.Credits = course.Credits

	ceiling, err := s.gateway.MaxUnits(ctx)
	if err != nil {
		return s.failEnroll(ctx, sum, start, "Policy service unavailable", err)
	}
	if course.Credits > ceiling {
		return s.failEnroll(ctx, sum, start, fmt.Sprintf("Course credits exceed the %d credit ceiling", ceiling),
			fmt.Errorf("course %s has %d credits, ceiling %d: %w", course.CourseID, course.Credits, ceiling, domain.ErrValidation))
	}
	fee, err := s.gateway.Fee(ctx, course.Credits)
	if err != nil {
		return s.failEnroll(ctx, sum, start, "Policy service unavailable", err)
	}
	sum.State = domain.StateFinalized
	sum.Success = true
	sum.TuitionEstimate = fee
	sum.Message = fmt.Sprintf("Student %s onboarded to %s.", sum.StudentID, sum.CourseID)

	s.observe(opEnroll, "ok", start)
	s.publish(ctx, events.New(events.TypeStudentEnrolled, sum.StudentID, sum))
	s.log.Info("student enrolled", "student_id", sum.StudentID, "course_id", sum.CourseID, "tuition", fee.String())
	return sum, nil
}

func (s *Service) failEnroll(ctx context.Context, sum domain.EnrollmentSummary, start time.Time, msg string, err error) (domain.EnrollmentSummary, error) {
	sum.State = failedState(sum.State, err)
	sum.Success = false
	sum.ErrorCode = domain.Code(err)
	sum.Message = msg
	sum.TuitionEstimate = decimal.Zero

	s.observe(opEnroll, sum.ErrorCode, start)
	s.publish(ctx, events.New(events.TypeEnrollFailed, sum.StudentID, sum))
	s.log.Warn("enroll failed",
		"state", string(sum.State),
		"code", sum.ErrorCode,
		"student_id", sum.StudentID,
		"course_id", sum.CourseID,
		"err", err,
	)
	return sum, err
}

// failedState is Rejected for input validation that fails before any write, Failed otherwise.
func failedState(at domain.State, err error) domain.State {
	if at == domain.StateValidating && errors.Is(err, domain.ErrValidation) {
		return domain.StateRejected
	}
	return domain.StateFailed
}

func (s *Service) observe(op, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Outcomes.WithLabelValues(op, outcome).Inc()
	s.metrics.LatencySec.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// publish never fails the call; delivery problems are logged and counted.
func (s *Service) publish(ctx context.Context, e events.Event) {
	err := s.pub.Publish(ctx, e)
	result := "ok"
	if err != nil {
		result = "error"
		s.log.Error("publish event", "type", e.Type, "event_id", e.EventID, "err", err)
	}
	if s.metrics != nil {
		s.metrics.EventsPublished.WithLabelValues(e.Type, result).Inc()
	}
}
