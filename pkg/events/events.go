package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TypeRecordFinalized = "record.finalized"
	TypeProcessFailed   = "process.failed"
	TypeStudentEnrolled = "student.enrolled"
	TypeEnrollFailed    = "enroll.failed"
)

type Event struct {
	EventID string    `json:"event_id"`
	Type    string    `json:"type"`
	Key     string    `json:"key"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

func New(typ, key string, payload any) Event {
	return Event{
		EventID: "evt_" + uuid.NewString(),
		Type:    typ,
		Key:     key,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi fans out to every publisher and joins their errors.
type Multi struct {
	pubs []Publisher
}

func NewMulti(ps ...Publisher) *Multi { return &Multi{pubs: ps} }

func (m *Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FilePublisher appends one JSON document per line.
type FilePublisher struct {
	mu   sync.Mutex
	path string
}

func NewFilePublisher(path string) (*FilePublisher, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FilePublisher{path: path}, nil
}

func (f *FilePublisher) Publish(_ context.Context, e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer fh.Close()
	if err := json.NewEncoder(fh).Encode(&e); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

func (f *FilePublisher) Close() error { return nil }

// kafkaMessageWriter abstracts kafka.Writer for tests.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events keyed by Event.Key so that all events of
// one subject land on the same partition.
type KafkaPublisher struct {
	writer  kafkaMessageWriter
	timeout time.Duration
}

// Publish sits on the request path.
const (
	kafkaBatchTimeout   = 10 * time.Millisecond
	kafkaPublishTimeout = 2 * time.Second
)

// NewKafkaPublisher accepts a comma-separated broker list.
func NewKafkaPublisher(bootstrap, topic string) *KafkaPublisher {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		if a = strings.TrimSpace(a); a != "" {
			brokers = append(brokers, a)
		}
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: kafkaBatchTimeout,
		WriteTimeout: kafkaPublishTimeout,
	}, timeout: kafkaPublishTimeout}
}

func newKafkaPublisherWith(w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: kafkaPublishTimeout}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key),
		Value: b,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }
