// Package storetest is a behaviour suite every store backend runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"taskflow/services/task/internal/domain"
	"taskflow/services/task/internal/store"

	"github.com/shopspring/decimal"
)

// Factory returns an empty store; the suite closes it.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("SubjectLifecycle", func(t *testing.T) { subjectLifecycle(t, newStore(t)) })
	t.Run("GetOrCreateIsAtomic", func(t *testing.T) { getOrCreateAtomic(t, newStore(t)) })
	t.Run("RecordLifecycle", func(t *testing.T) { recordLifecycle(t, newStore(t)) })
	t.Run("RecordKeepsFullPricePrecision", func(t *testing.T) { recordPricePrecision(t, newStore(t)) })
	t.Run("ListingIsStable", func(t *testing.T) { listingStable(t, newStore(t)) })
	t.Run("Enrollment", func(t *testing.T) { enrollment(t, newStore(t)) })
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func closeStore(t *testing.T, st store.Store) {
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
}

func subjectLifecycle(t *testing.T, st store.Store) {
	closeStore(t, st)
	ctx := context.Background()

	s, err := st.CreateSubject(ctx, "  josh   groban ")
	if err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}
	if s.Name != "Josh Groban" || s.ID <= 0 {
		t.Fatalf("unexpected subject %+v", s)
	}
	got, err := st.GetSubject(ctx, s.ID)
	if err != nil || got != s {
		t.Fatalf("GetSubject = %+v, %v", got, err)
	}
	if _, err := st.GetSubject(ctx, s.ID+1000); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown subject, got %v", err)
	}
	if _, err := st.CreateSubject(ctx, "Josh Groban"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate name, got %v", err)
	}
	if _, err := st.CreateSubject(ctx, "   "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty name, got %v", err)
	}
	found, err := st.FindSubjectByName(ctx, "josh groban")
	if err != nil || found.ID != s.ID {
		t.Fatalf("FindSubjectByName = %+v, %v", found, err)
	}
	if _, err := st.FindSubjectByName(ctx, "Nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	again, created, err := st.GetOrCreateSubject(ctx, "Josh Groban")
	if err != nil || created || again.ID != s.ID {
		t.Fatalf("GetOrCreateSubject existing = %+v created=%v err=%v", again, created, err)
	}
	fresh, created, err := st.GetOrCreateSubject(ctx, "alice smith")
	if err != nil || !created || fresh.Name != "Alice Smith" || fresh.ID <= s.ID {
		t.Fatalf("GetOrCreateSubject new = %+v created=%v err=%v", fresh, created, err)
	}
}

func getOrCreateAtomic(t *testing.T, st store.Store) {
	closeStore(t, st)
	ctx := context.Background()

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[int64]struct{}{}
		creates int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s, created, err := st.GetOrCreateSubject(ctx, "brand new customer")
			if err != nil {
				t.Errorf("GetOrCreateSubject: %v", err)
				return
			}
			mu.Lock()
			ids[s.ID] = struct{}{}
			if created {
				creates++
			}
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	if len(ids) != 1 || creates != 1 {
		t.Fatalf("expected exactly one subject and one create, got ids=%v creates=%d", ids, creates)
	}
	all, err := st.ListSubjects(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListSubjects = %+v, %v", all, err)
	}
}

func recordLifecycle(t *testing.T, st store.Store) {
	closeStore(t, st)
	ctx := context.Background()

	s, err := st.CreateSubject(ctx, "Josh Groban")
	if err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}
	r, err := st.CreateRecord(ctx, s.ID, "Widget-Pro", 3, dec("19.99"))
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if r.ID <= 0 || r.SubjectID != s.ID || r.Item != "Widget-Pro" || r.Quantity != 3 {
		t.Fatalf("unexpected record %+v", r)
	}
	if !r.BaseAmount.Equal(dec("59.97")) || !r.Total.Equal(dec("59.97")) || !r.Adjustment.IsZero() || !r.Surcharge.IsZero() {
		t.Fatalf("unexpected pre-policy amounts %+v", r)
	}
	if _, err := st.CreateRecord(ctx, s.ID+1000, "Widget", 1, dec("1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown subject, got %v", err)
	}

	updated, err := st.UpdateRecordTotals(ctx, r.ID, dec("6.60"), dec("6.65"))
	if err != nil {
		t.Fatalf("UpdateRecordTotals: %v", err)
	}
	if !updated.Total.Equal(dec("73.22")) {
		t.Fatalf("expected total 73.22, got %s", updated.Total)
	}
	got, err := st.GetRecord(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !got.Adjustment.Equal(dec("6.6")) || !got.Surcharge.Equal(dec("6.65")) || !got.Total.Equal(dec("73.22")) || !got.UnitPrice.Equal(dec("19.99")) {
		t.Fatalf("persisted totals mismatch %+v", got)
	}
	if _, err := st.GetRecord(ctx, r.ID+1000); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown record, got %v", err)
	}
	if _, err := st.UpdateRecordTotals(ctx, r.ID+1000, dec("1"), dec("1")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating unknown record, got %v", err)
	}
}

func recordPricePrecision(t *testing.T, st store.Store) {
	closeStore(t, st)
	ctx := context.Background()

	subj, err := st.CreateSubject(ctx, "fine print")
	if err != nil {
		t.Fatalf("CreateSubject() error: %v", err)
	}
	created, err := st.CreateRecord(ctx, subj.ID, "Screw", 1000, dec("0.00005"))
	if err != nil {
		t.Fatalf("CreateRecord() error: %v", err)
	}
	got, err := st.GetRecord(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetRecord() error: %v", err)
	}
	for _, rec := range []domain.Record{created, got} {
		if !rec.UnitPrice.Equal(dec("0.00005")) {
			t.Fatalf("unit_price = %s, want 0.00005", rec.UnitPrice)
		}
		if !rec.BaseAmount.Equal(dec("0.05")) || !rec.Total.Equal(dec("0.05")) {
			t.Fatalf("base/total = %s/%s, want 0.05", rec.BaseAmount, rec.Total)
		}
		if want := rec.UnitPrice.Mul(decimal.NewFromInt(int64(rec.Quantity))).Round(2); !rec.BaseAmount.Equal(want) {
			t.Fatalf("base_amount %s disagrees with unit_price x quantity %s", rec.BaseAmount, want)
		}
	}
}

func listingStable(t *testing.T, st store.Store) {
	closeStore(t, st)
	ctx := context.Background()

	names := []string{"zed", "amy", "mike"}
	var subjectIDs []int64
	for _, n := range names {
		s, err := st.CreateSubject(ctx, n)
		if err != nil {
			t.Fatalf("CreateSubject(%s): %v", n, err)
		}
		subjectIDs = append(subjectIDs, s.ID)
		if _, err := st.CreateRecord(ctx, s.ID, "item-"+n, 1, dec("2.50")); err != nil {
			t.Fatalf("CreateRecord: %v", err)
		}
	}

	first, err := st.ListSubjects(ctx)
	if err != nil {
		t.Fatalf("ListSubjects: %v", err)
	}
	second, err := st.ListSubjects(ctx)
	if err != nil {
		t.Fatalf("ListSubjects: %v", err)
	}
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("unexpected subject counts %d/%d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] || first[i].ID != subjectIDs[i] {
			t.Fatalf("subject order changed at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	if first[0].Name != "Zed" || first[2].Name != "Mike" {
		t.Fatalf("expected insertion order, got %+v", first)
	}

	recs, err := st.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	again, err := st.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 3 || len(again) != 3 {
		t.Fatalf("unexpected record counts %d/%d", len(recs), len(again))
	}
	for i := range recs {
		if recs[i].ID != again[i].ID || recs[i].Item != "item-"+names[i] {
			t.Fatalf("record order changed at %d: %+v vs %+v", i, recs[i], again[i])
		}
	}
}

func enrollment(t *testing.T, st store.Store) {
	closeStore(t, st)
	ctx := context.Background()

	dept := "Inf. Sys."
	s, err := st.CreateStudent(ctx, domain.Student{ID: "S9009", Name: "  alice smith ", DeptName: &dept})
	if err != nil {
		t.Fatalf("CreateStudent: %v", err)
	}
	if s.Name != "Alice Smith" || s.DeptName == nil || *s.DeptName != dept {
		t.Fatalf("unexpected student %+v", s)
	}
	if _, err := st.CreateStudent(ctx, domain.Student{ID: "S9009", Name: "dup"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := st.CreateStudent(ctx, domain.Student{ID: "bad", Name: "x"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := st.CreateStudent(ctx, domain.Student{ID: "A0001", Name: "bob"}); err != nil {
		t.Fatalf("CreateStudent A0001: %v", err)
	}
	got, err := st.GetStudent(ctx, "S9009")
	if err != nil || got.Name != "Alice Smith" {
		t.Fatalf("GetStudent = %+v, %v", got, err)
	}
	if _, err := st.GetStudent(ctx, "Z0000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	students, err := st.ListStudents(ctx)
	if err != nil || len(students) != 2 || students[0].ID != "A0001" || students[1].ID != "S9009" {
		t.Fatalf("ListStudents = %+v, %v", students, err)
	}

	c, err := st.CreateCourse(ctx, domain.Course{CourseID: "CS-909", Title: "Intro to Database", DeptName: &dept, Credits: 3})
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	if c.Credits != 3 {
		t.Fatalf("unexpected course %+v", c)
	}
	if _, err := st.CreateCourse(ctx, domain.Course{CourseID: "CS-909", Title: "again"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := st.CreateCourse(ctx, domain.Course{CourseID: "CS-101", Title: "Intro"}); err != nil {
		t.Fatalf("CreateCourse CS-101: %v", err)
	}
	gc, err := st.GetCourse(ctx, "CS-909")
	if err != nil || gc.Title != "Intro to Database" || gc.DeptName == nil {
		t.Fatalf("GetCourse = %+v, %v", gc, err)
	}
	if _, err := st.GetCourse(ctx, "NOPE"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	courses, err := st.ListCourses(ctx)
	if err != nil || len(courses) != 2 || courses[0].CourseID != "CS-101" {
		t.Fatalf("ListCourses = %+v, %v", courses, err)
	}
}
