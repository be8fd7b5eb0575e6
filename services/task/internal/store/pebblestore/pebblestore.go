// Package pebblestore is an embedded, on-disk store backend on top of Pebble.
// Entities are JSON values under typed key prefixes. Writes go through one
// mutex and a synced batch, so read-check-write sequences are atomic.
package pebblestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"taskflow/services/task/internal/domain"
	"taskflow/services/task/internal/store"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"
)

const (
	prefixSubject     = "subject/"
	prefixSubjectName = "subject_name/"
	prefixRecord      = "record/"
	prefixStudent     = "student/"
	prefixCourse      = "course/"

	seqSubject = "seq/subject"
	seqRecord  = "seq/record"
)

type Store struct {
	db *pebble.DB
	wu sync.Mutex
}

func Open(dir string) (*Store, error) {
	opts := &pebble.Options{
		MemTableSize:          64 << 20,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 8,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &Store{db: d}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func idKey(prefix string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

// get decodes the value at key into dst and reports whether it existed.
func (s *Store) get(key []byte, dst any) (bool, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(v, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) exists(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// nextSeq reads the counter at key and stages its increment in b. Callers hold wu.
func (s *Store) nextSeq(b *pebble.Batch, key string) (int64, error) {
	var cur uint64
	v, closer, err := s.db.Get([]byte(key))
	switch {
	case err == nil:
		if len(v) == 8 {
			cur = binary.BigEndian.Uint64(v)
		}
		closer.Close()
	case errors.Is(err, pebble.ErrNotFound):
	default:
		return 0, err
	}
	cur++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cur)
	if err := b.Set([]byte(key), buf[:], nil); err != nil {
		return 0, err
	}
	return int64(cur), nil
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(key, raw, nil)
}

func scanPrefix[T any](s *Store, prefix string) ([]T, error) {
	upper := []byte(prefix)
	upper[len(upper)-1]++
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: []byte(prefix), UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	out := []T{}
	for it.First(); it.Valid(); it.Next() {
		var v T
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Key(), err)
		}
		out = append(out, v)
	}
	return out, it.Error()
}

func (s *Store) lookupName(name string) (domain.Subject, bool, error) {
	v, closer, err := s.db.Get([]byte(prefixSubjectName + name))
	if errors.Is(err, pebble.ErrNotFound) {
		return domain.Subject{}, false, nil
	}
	if err != nil {
		return domain.Subject{}, false, err
	}
	id := int64(binary.BigEndian.Uint64(v))
	closer.Close()
	var subj domain.Subject
	ok, err := s.get(idKey(prefixSubject, id), &subj)
	if err != nil {
		return domain.Subject{}, false, err
	}
	if !ok {
		return domain.Subject{}, false, fmt.Errorf("name index points at missing subject %d", id)
	}
	return subj, true, nil
}

// insertSubject writes a new subject and its name index. Callers hold wu.
func (s *Store) insertSubject(name string) (domain.Subject, error) {
	b := s.db.NewBatch()
	defer b.Close()
	id, err := s.nextSeq(b, seqSubject)
	if err != nil {
		return domain.Subject{}, err
	}
	subj := domain.Subject{ID: id, Name: name}
	if err := setJSON(b, idKey(prefixSubject, id), subj); err != nil {
		return domain.Subject{}, err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	if err := b.Set([]byte(prefixSubjectName+name), buf[:], nil); err != nil {
		return domain.Subject{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return domain.Subject{}, err
	}
	return subj, nil
}

func (s *Store) CreateSubject(_ context.Context, raw string) (domain.Subject, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, err
	}
	s.wu.Lock()
	defer s.wu.Unlock()
	_, ok, err := s.lookupName(name)
	if err != nil {
		return domain.Subject{}, store.Persistence("find subject", err)
	}
	if ok {
		return domain.Subject{}, fmt.Errorf("subject %q: %w", name, domain.ErrConflict)
	}
	subj, err := s.insertSubject(name)
	if err != nil {
		return domain.Subject{}, store.Persistence("create subject", err)
	}
	return subj, nil
}

func (s *Store) FindSubjectByName(_ context.Context, raw string) (domain.Subject, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, err
	}
	subj, ok, err := s.lookupName(name)
	if err != nil {
		return domain.Subject{}, store.Persistence("find subject", err)
	}
	if !ok {
		return domain.Subject{}, fmt.Errorf("subject %q: %w", name, domain.ErrNotFound)
	}
	return subj, nil
}

func (s *Store) GetOrCreateSubject(_ context.Context, raw string) (domain.Subject, bool, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, false, err
	}
	s.wu.Lock()
	defer s.wu.Unlock()
	subj, ok, err := s.lookupName(name)
	if err != nil {
		return domain.Subject{}, false, store.Persistence("find subject", err)
	}
	if ok {
		return subj, false, nil
	}
	subj, err = s.insertSubject(name)
	if err != nil {
		return domain.Subject{}, false, store.Persistence("create subject", err)
	}
	return subj, true, nil
}

func (s *Store) GetSubject(_ context.Context, id int64) (domain.Subject, error) {
	var subj domain.Subject
	ok, err := s.get(idKey(prefixSubject, id), &subj)
	if err != nil {
		return domain.Subject{}, store.Persistence("get subject", err)
	}
	if !ok {
		return domain.Subject{}, store.SubjectNotFound(id)
	}
	return subj, nil
}

func (s *Store) ListSubjects(context.Context) ([]domain.Subject, error) {
	out, err := scanPrefix[domain.Subject](s, prefixSubject)
	if err != nil {
		return nil, store.Persistence("list subjects", err)
	}
	return out, nil
}

func (s *Store) CreateRecord(_ context.Context, subjectID int64, item string, quantity int, unitPrice decimal.Decimal) (domain.Record, error) {
	s.wu.Lock()
	defer s.wu.Unlock()
	ok, err := s.exists(idKey(prefixSubject, subjectID))
	if err != nil {
		return domain.Record{}, store.Persistence("get subject", err)
	}
	if !ok {
		return domain.Record{}, store.SubjectNotFound(subjectID)
	}
	b := s.db.NewBatch()
	defer b.Close()
	id, err := s.nextSeq(b, seqRecord)
	if err != nil {
		return domain.Record{}, store.Persistence("create record", err)
	}
	r := store.NewRecord(subjectID, item, quantity, unitPrice)
	r.ID = id
	if err := setJSON(b, idKey(prefixRecord, id), r); err != nil {
		return domain.Record{}, store.Persistence("create record", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return domain.Record{}, store.Persistence("create record", err)
	}
	return r, nil
}

func (s *Store) GetRecord(_ context.Context, id int64) (domain.Record, error) {
	var r domain.Record
	ok, err := s.get(idKey(prefixRecord, id), &r)
	if err != nil {
		return domain.Record{}, store.Persistence("get record", err)
	}
	if !ok {
		return domain.Record{}, store.RecordNotFound(id)
	}
	return r, nil
}

func (s *Store) UpdateRecordTotals(_ context.Context, id int64, adjustment, surcharge decimal.Decimal) (domain.Record, error) {
	s.wu.Lock()
	defer s.wu.Unlock()
	var r domain.Record
	ok, err := s.get(idKey(prefixRecord, id), &r)
	if err != nil {
		return domain.Record{}, store.Persistence("load record", err)
	}
	if !ok {
		return domain.Record{}, store.RecordNotFound(id)
	}
	r = store.ApplyTotals(r, adjustment, surcharge)
	raw, err := json.Marshal(r)
	if err != nil {
		return domain.Record{}, store.Persistence("update record", err)
	}
	if err := s.db.Set(idKey(prefixRecord, id), raw, pebble.Sync); err != nil {
		return domain.Record{}, store.Persistence("update record", err)
	}
	return r, nil
}

func (s *Store) ListRecords(context.Context) ([]domain.Record, error) {
	out, err := scanPrefix[domain.Record](s, prefixRecord)
	if err != nil {
		return nil, store.Persistence("list records", err)
	}
	return out, nil
}

// putNew stores v under key unless the key is already taken.
func (s *Store) putNew(key []byte, v any) (bool, error) {
	s.wu.Lock()
	defer s.wu.Unlock()
	taken, err := s.exists(key)
	if err != nil || taken {
		return false, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	return true, s.db.Set(key, raw, pebble.Sync)
}

func (s *Store) CreateStudent(_ context.Context, in domain.Student) (domain.Student, error) {
	st, err := store.CleanStudent(in)
	if err != nil {
		return domain.Student{}, err
	}
	ok, err := s.putNew([]byte(prefixStudent+st.ID), st)
	if err != nil {
		return domain.Student{}, store.Persistence("create student", err)
	}
	if !ok {
		return domain.Student{}, fmt.Errorf("student %s: %w", st.ID, domain.ErrConflict)
	}
	return st, nil
}

func (s *Store) GetStudent(_ context.Context, id string) (domain.Student, error) {
	var st domain.Student
	ok, err := s.get([]byte(prefixStudent+id), &st)
	if err != nil {
		return domain.Student{}, store.Persistence("get student", err)
	}
	if !ok {
		return domain.Student{}, store.StudentNotFound(id)
	}
	return st, nil
}

func (s *Store) ListStudents(context.Context) ([]domain.Student, error) {
	out, err := scanPrefix[domain.Student](s, prefixStudent)
	if err != nil {
		return nil, store.Persistence("list students", err)
	}
	return out, nil
}

func (s *Store) CreateCourse(_ context.Context, in domain.Course) (domain.Course, error) {
	c, err := store.CleanCourse(in)
	if err != nil {
		return domain.Course{}, err
	}
	ok, err := s.putNew([]byte(prefixCourse+c.CourseID), c)
	if err != nil {
		return domain.Course{}, store.Persistence("create course", err)
	}
	if !ok {
		return domain.Course{}, fmt.Errorf("course %s: %w", c.CourseID, domain.ErrConflict)
	}
	return c, nil
}

func (s *Store) GetCourse(_ context.Context, id string) (domain.Course, error) {
	var c domain.Course
	ok, err := s.get([]byte(prefixCourse+id), &c)
	if err != nil {
		return domain.Course{}, store.Persistence("get course", err)
	}
	if !ok {
		return domain.Course{}, store.CourseNotFound(id)
	}
	return c, nil
}

func (s *Store) ListCourses(context.Context) ([]domain.Course, error) {
	out, err := scanPrefix[domain.Course](s, prefixCourse)
	if err != nil {
		return nil, store.Persistence("list courses", err)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
