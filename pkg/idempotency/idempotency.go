package idempotency

import (
	"context"
	"errors"
	"sync"
)

var ErrKeyReused = errors.New("idempotency key reused with a different request")

type Record struct {
	ScopeID        string
	IdempotencyKey string
	Endpoint       string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
}

type Store interface {
	GetIdempotencyRecord(ctx context.Context, scopeID, key, endpoint string) (*Record, error)
	SaveIdempotencyRecord(ctx context.Context, rec Record) error
}

// Replay returns the stored response for key, nil when there is none.
func Replay(ctx context.Context, st Store, scopeID, key, endpoint, requestHash string) (*Record, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := st.GetIdempotencyRecord(ctx, scopeID, key, endpoint)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.RequestHash != "" && requestHash != "" && rec.RequestHash != requestHash {
		return nil, ErrKeyReused
	}
	return rec, nil
}

func Save(ctx context.Context, st Store, rec Record) error {
	if rec.IdempotencyKey == "" {
		return nil
	}
	return st.SaveIdempotencyRecord(ctx, rec)
}

type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: map[string]Record{}}
}

func memKey(scopeID, key, endpoint string) string {
	return scopeID + "\x00" + key + "\x00" + endpoint
}

func (m *MemoryStore) GetIdempotencyRecord(_ context.Context, scopeID, key, endpoint string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[memKey(scopeID, key, endpoint)]
	if !ok {
		return nil, nil
	}
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &rec, nil
}

// SaveIdempotencyRecord keeps the first response stored for a key.
func (m *MemoryStore) SaveIdempotencyRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(rec.ScopeID, rec.IdempotencyKey, rec.Endpoint)
	if _, exists := m.recs[k]; exists {
		return nil
	}
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	m.recs[k] = rec
	return nil
}
