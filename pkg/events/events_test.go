package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafkaWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherKeysAndHeaders(t *testing.T) {
	fw := &fakeKafkaWriter{}
	p := newKafkaPublisherWith(fw)
	e := New(TypeRecordFinalized, "subject:1", map[string]any{"record_id": 7})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(fw.msgs))
	}
	m := fw.msgs[0]
	if string(m.Key) != "subject:1" {
		t.Fatalf("unexpected key %q", m.Key)
	}
	if len(m.Headers) != 1 || string(m.Headers[0].Value) != TypeRecordFinalized {
		t.Fatalf("unexpected headers %+v", m.Headers)
	}
	var decoded Event
	if err := json.Unmarshal(m.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventID != e.EventID || !strings.HasPrefix(decoded.EventID, "evt_") {
		t.Fatalf("unexpected event id %q", decoded.EventID)
	}
	if err := p.Close(); err != nil || !fw.closed {
		t.Fatalf("expected writer closed, err=%v", err)
	}
}

func TestFilePublisherAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "taskflow.jsonl")
	p, err := NewFilePublisher(path)
	if err != nil {
		t.Fatalf("NewFilePublisher: %v", err)
	}
	for _, typ := range []string{TypeRecordFinalized, TypeProcessFailed} {
		if err := p.Publish(context.Background(), New(typ, "k", nil)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != TypeRecordFinalized || types[1] != TypeProcessFailed {
		t.Fatalf("unexpected event types %v", types)
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &fakeKafkaWriter{}
	bad := &fakeKafkaWriter{err: errors.New("broker down")}
	m := NewMulti(newKafkaPublisherWith(ok), newKafkaPublisherWith(bad), Nop{})
	err := m.Publish(context.Background(), New(TypeStudentEnrolled, "S9009", nil))
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.msgs) != 1 {
		t.Fatal("healthy publisher should still receive the event")
	}
}

// stallingKafkaWriter blocks until the publish context ends.
type stallingKafkaWriter struct{}

func (stallingKafkaWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stallingKafkaWriter) Close() error { return nil }

func TestKafkaPublisherBoundsRequestPath(t *testing.T) {
	p := NewKafkaPublisher("localhost:9092, ", "taskflow.events")
	w, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("writer type %T", p.writer)
	}
	if w.BatchTimeout != kafkaBatchTimeout || w.BatchTimeout >= time.Second {
		t.Fatalf("BatchTimeout = %v", w.BatchTimeout)
	}

	stalled := newKafkaPublisherWith(stallingKafkaWriter{})
	stalled.timeout = 20 * time.Millisecond
	start := time.Now()
	err := stalled.Publish(context.Background(), New(TypeProcessFailed, "subject:1", nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish held the caller for %v", elapsed)
	}
}
