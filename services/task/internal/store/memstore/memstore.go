// Package memstore is the in-process store backend used by default and in tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"taskflow/services/task/internal/domain"
	"taskflow/services/task/internal/store"

	"github.com/shopspring/decimal"
)

type Store struct {
	mu sync.RWMutex

	nextSubject int64
	nextRecord  int64

	subjects      []domain.Subject
	subjectByID   map[int64]int
	subjectByName map[string]int64

	records    []domain.Record
	recordByID map[int64]int

	students map[string]domain.Student
	courses  map[string]domain.Course
}

func New() *Store {
	return &Store{
		subjectByID:   map[int64]int{},
		subjectByName: map[string]int64{},
		recordByID:    map[int64]int{},
		students:      map[string]domain.Student{},
		courses:       map[string]domain.Course{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateSubject(_ context.Context, raw string) (domain.Subject, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjectByName[name]; ok {
		return domain.Subject{}, fmt.Errorf("subject %q: %w", name, domain.ErrConflict)
	}
	return s.insertSubjectLocked(name), nil
}

func (s *Store) insertSubjectLocked(name string) domain.Subject {
	s.nextSubject++
	subj := domain.Subject{ID: s.nextSubject, Name: name}
	s.subjectByID[subj.ID] = len(s.subjects)
	s.subjectByName[name] = subj.ID
	s.subjects = append(s.subjects, subj)
	return subj
}

func (s *Store) FindSubjectByName(_ context.Context, raw string) (domain.Subject, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.subjectByName[name]
	if !ok {
		return domain.Subject{}, fmt.Errorf("subject %q: %w", name, domain.ErrNotFound)
	}
	return s.subjects[s.subjectByID[id]], nil
}

func (s *Store) GetOrCreateSubject(_ context.Context, raw string) (domain.Subject, bool, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.subjectByName[name]; ok {
		return s.subjects[s.subjectByID[id]], false, nil
	}
	return s.insertSubjectLocked(name), true, nil
}

func (s *Store) GetSubject(_ context.Context, id int64) (domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.subjectByID[id]
	if !ok {
		return domain.Subject{}, store.SubjectNotFound(id)
	}
	return s.subjects[i], nil
}

func (s *Store) ListSubjects(context.Context) ([]domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Subject, len(s.subjects))
	copy(out, s.subjects)
	return out, nil
}

func (s *Store) CreateRecord(_ context.Context, subjectID int64, item string, quantity int, unitPrice decimal.Decimal) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjectByID[subjectID]; !ok {
		return domain.Record{}, store.SubjectNotFound(subjectID)
	}
	r := store.NewRecord(subjectID, item, quantity, unitPrice)
	s.nextRecord++
	r.ID = s.nextRecord
	s.recordByID[r.ID] = len(s.records)
	s.records = append(s.records, r)
	return r, nil
}

func (s *Store) GetRecord(_ context.Context, id int64) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.recordByID[id]
	if !ok {
		return domain.Record{}, store.RecordNotFound(id)
	}
	return s.records[i], nil
}

func (s *Store) UpdateRecordTotals(_ context.Context, id int64, adjustment, surcharge decimal.Decimal) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.recordByID[id]
	if !ok {
		return domain.Record{}, store.RecordNotFound(id)
	}
	s.records[i] = store.ApplyTotals(s.records[i], adjustment, surcharge)
	return s.records[i], nil
}

func (s *Store) ListRecords(context.Context) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

func (s *Store) CreateStudent(_ context.Context, in domain.Student) (domain.Student, error) {
	st, err := store.CleanStudent(in)
	if err != nil {
		return domain.Student{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.students[st.ID]; ok {
		return domain.Student{}, fmt.Errorf("student %s: %w", st.ID, domain.ErrConflict)
	}
	s.students[st.ID] = st
	return st, nil
}

func (s *Store) GetStudent(_ context.Context, id string) (domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.students[id]
	if !ok {
		return domain.Student{}, store.StudentNotFound(id)
	}
	return st, nil
}

func (s *Store) ListStudents(context.Context) ([]domain.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Student, 0, len(s.students))
	for _, st := range s.students {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateCourse(_ context.Context, in domain.Course) (domain.Course, error) {
	c, err := store.CleanCourse(in)
	if err != nil {
		return domain.Course{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.courses[c.CourseID]; ok {
		return domain.Course{}, fmt.Errorf("course %s: %w", c.CourseID, domain.ErrConflict)
	}
	s.courses[c.CourseID] = c
	return c, nil
}

func (s *Store) GetCourse(_ context.Context, id string) (domain.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.courses[id]
	if !ok {
		return domain.Course{}, store.CourseNotFound(id)
	}
	return c, nil
}

func (s *Store) ListCourses(context.Context) ([]domain.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

var _ store.Store = (*Store)(nil)
