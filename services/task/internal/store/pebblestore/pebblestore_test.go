package pebblestore

import (
	"context"
	"testing"

	"taskflow/services/task/internal/store"
	"taskflow/services/task/internal/store/storetest"

	"github.com/shopspring/decimal"
)

func TestPebbleStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	})
}

func TestPebbleStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	subj, err := s.CreateSubject(ctx, "josh groban")
	if err != nil {
		t.Fatalf("CreateSubject: %v", err)
	}
	rec, err := s.CreateRecord(ctx, subj.ID, "Widget-Pro", 3, decimal.RequireFromString("19.99"))
	if err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetRecord(ctx, rec.ID)
	if err != nil || !got.BaseAmount.Equal(decimal.RequireFromString("59.97")) {
		t.Fatalf("GetRecord after reopen = %+v, %v", got, err)
	}
	next, created, err := s.GetOrCreateSubject(ctx, "new subject")
	if err != nil || !created || next.ID != subj.ID+1 {
		t.Fatalf("sequence not preserved: %+v created=%v err=%v", next, created, err)
	}
}
