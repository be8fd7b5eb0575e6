// Package store defines the entity store ports of the task service. Backends
// live in the memstore, pgstore and pebblestore subpackages; all of them
// return errors wrapping the domain sentinels and never sentinel entities.
package store

import (
	"context"
	"fmt"
	"strings"

	"taskflow/services/task/internal/domain"
	"taskflow/services/task/internal/normalize"

	"github.com/shopspring/decimal"
)

type Orders interface {
	CreateSubject(ctx context.Context, name string) (domain.Subject, error)
	FindSubjectByName(ctx context.Context, name string) (domain.Subject, error)
	// GetOrCreateSubject is atomic: concurrent calls for one name create at most one Subject.
	GetOrCreateSubject(ctx context.Context, name string) (subject domain.Subject, created bool, err error)
	GetSubject(ctx context.Context, id int64) (domain.Subject, error)
	ListSubjects(ctx context.Context) ([]domain.Subject, error)

	CreateRecord(ctx context.Context, subjectID int64, item string, quantity int, unitPrice decimal.Decimal) (domain.Record, error)
	GetRecord(ctx context.Context, id int64) (domain.Record, error)
	UpdateRecordTotals(ctx context.Context, id int64, adjustment, surcharge decimal.Decimal) (domain.Record, error)
	ListRecords(ctx context.Context) ([]domain.Record, error)
}

type Enrollment interface {
	CreateStudent(ctx context.Context, s domain.Student) (domain.Student, error)
	GetStudent(ctx context.Context, id string) (domain.Student, error)
	ListStudents(ctx context.Context) ([]domain.Student, error)

	CreateCourse(ctx context.Context, c domain.Course) (domain.Course, error)
	GetCourse(ctx context.Context, courseID string) (domain.Course, error)
	ListCourses(ctx context.Context) ([]domain.Course, error)
}

type Store interface {
	Orders
	Enrollment
	Close() error
}

// NewRecord builds a Record in its pre-policy state: base amount computed,
// adjustment and surcharge zero, total equal to the base amount.
func NewRecord(subjectID int64, item string, quantity int, unitPrice decimal.Decimal) domain.Record {
	if quantity < 0 {
		quantity = 0
	}
	if unitPrice.IsNegative() {
		unitPrice = decimal.Zero
	}
	base := normalize.BaseAmount(unitPrice, quantity)
	return domain.Record{
		SubjectID:  subjectID,
		Item:       item,
		Quantity:   quantity,
		UnitPrice:  unitPrice,
		BaseAmount: base,
		Adjustment: decimal.Zero,
		Surcharge:  decimal.Zero,
		Total:      base,
	}
}

// ApplyTotals returns r with adjustment and surcharge set and total recomputed.
func ApplyTotals(r domain.Record, adjustment, surcharge decimal.Decimal) domain.Record {
	r.Adjustment = normalize.Money(adjustment)
	r.Surcharge = normalize.Money(surcharge)
	r.Total = normalize.Money(r.BaseAmount.Add(r.Adjustment).Add(r.Surcharge))
	return r
}

// SubjectName normalizes a raw name and rejects names that normalize to empty.
func SubjectName(raw string) (string, error) {
	name := normalize.Name(raw)
	if name == "" {
		return "", fmt.Errorf("subject name is empty: %w", domain.ErrValidation)
	}
	return name, nil
}

// CleanStudent normalizes and validates a student before insertion.
func CleanStudent(s domain.Student) (domain.Student, error) {
	s.ID = strings.TrimSpace(s.ID)
	if !normalize.ValidIdentifier(s.ID) {
		return domain.Student{}, fmt.Errorf("student id %q: %w", s.ID, domain.ErrValidation)
	}
	s.Name = normalize.Name(s.Name)
	s.DeptName = nullableTrim(s.DeptName)
	if s.TotalCredits < 0 {
		s.TotalCredits = 0
	}
	return s, nil
}

func CleanCourse(c domain.Course) (domain.Course, error) {
	c.CourseID = strings.TrimSpace(c.CourseID)
	if c.CourseID == "" {
		return domain.Course{}, fmt.Errorf("course_id is required: %w", domain.ErrValidation)
	}
	c.Title = strings.TrimSpace(c.Title)
	c.DeptName = nullableTrim(c.DeptName)
	if c.Credits < 0 {
		c.Credits = 0
	}
	return c, nil
}

func nullableTrim(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}

func SubjectNotFound(id int64) error {
	return fmt.Errorf("subject %d: %w", id, domain.ErrNotFound)
}

func RecordNotFound(id int64) error {
	return fmt.Errorf("record %d: %w", id, domain.ErrNotFound)
}

func StudentNotFound(id string) error {
	return fmt.Errorf("student %s: %w", id, domain.ErrNotFound)
}

func CourseNotFound(id string) error {
	return fmt.Errorf("course %s: %w", id, domain.ErrNotFound)
}

func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrPersistence, err)
}
