// Package pgstore is the Postgres store backend. Money columns are NUMERIC and
// travel as text so no precision is lost between the database and decimal.Decimal.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"taskflow/pkg/idempotency"
	"taskflow/services/task/internal/domain"
	"taskflow/services/task/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.DB.Exec(ctx, schemaSQL); err != nil {
		return store.Persistence("ensure schema", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.DB.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateSubject(ctx context.Context, raw string) (domain.Subject, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, err
	}
	var out domain.Subject
	err = s.DB.QueryRow(ctx, `INSERT INTO subjects(name) VALUES($1) RETURNING id,name`, name).Scan(&out.ID, &out.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Subject{}, fmt.Errorf("subject %q: %w", name, domain.ErrConflict)
		}
		return domain.Subject{}, store.Persistence("create subject", err)
	}
	return out, nil
}

func (s *Store) FindSubjectByName(ctx context.Context, raw string) (domain.Subject, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, err
	}
	var out domain.Subject
	err = s.DB.QueryRow(ctx, `SELECT id,name FROM subjects WHERE name=$1`, name).Scan(&out.ID, &out.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subject{}, fmt.Errorf("subject %q: %w", name, domain.ErrNotFound)
		}
		return domain.Subject{}, store.Persistence("find subject", err)
	}
	return out, nil
}

// GetOrCreateSubject serializes create-on-miss per name with a transaction
// scoped advisory lock, then inserts with ON CONFLICT as a second guard.
func (s *Store) GetOrCreateSubject(ctx context.Context, raw string) (domain.Subject, bool, error) {
	name, err := store.SubjectName(raw)
	if err != nil {
		return domain.Subject{}, false, err
	}
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Subject{}, false, store.Persistence("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('subject:' || $1))`, name); err != nil {
		return domain.Subject{}, false, store.Persistence("lock subject", err)
	}

	var out domain.Subject
	created := false
	err = tx.QueryRow(ctx, `SELECT id,name FROM subjects WHERE name=$1`, name).Scan(&out.ID, &out.Name)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
INSERT INTO subjects(name) VALUES($1)
ON CONFLICT (name) DO NOTHING
RETURNING id,name
`, name).Scan(&out.ID, &out.Name)
		if errors.Is(err, pgx.ErrNoRows) {
			err = tx.QueryRow(ctx, `SELECT id,name FROM subjects WHERE name=$1`, name).Scan(&out.ID, &out.Name)
		} else if err == nil {
			created = true
		}
		if err != nil {
			return domain.Subject{}, false, store.Persistence("create subject", err)
		}
	default:
		return domain.Subject{}, false, store.Persistence("find subject", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Subject{}, false, store.Persistence("commit", err)
	}
	return out, created, nil
}

func (s *Store) GetSubject(ctx context.Context, id int64) (domain.Subject, error) {
	var out domain.Subject
	err := s.DB.QueryRow(ctx, `SELECT id,name FROM subjects WHERE id=$1`, id).Scan(&out.ID, &out.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subject{}, store.SubjectNotFound(id)
		}
		return domain.Subject{}, store.Persistence("get subject", err)
	}
	return out, nil
}

func (s *Store) ListSubjects(ctx context.Context) ([]domain.Subject, error) {
	rows, err := s.DB.Query(ctx, `SELECT id,name FROM subjects ORDER BY id`)
	if err != nil {
		return nil, store.Persistence("list subjects", err)
	}
	defer rows.Close()
	out := []domain.Subject{}
	for rows.Next() {
		var subj domain.Subject
		if err := rows.Scan(&subj.ID, &subj.Name); err != nil {
			return nil, store.Persistence("list subjects", err)
		}
		out = append(out, subj)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list subjects", err)
	}
	return out, nil
}

const recordColumns = `id,subject_id,item,quantity,unit_price::text,base_amount::text,adjustment::text,surcharge::text,total::text`

func scanRecord(row rowScanner) (domain.Record, error) {
	var (
		r                                         domain.Record
		unitPrice, base, adjustment, surcharge, t string
	)
	if err := row.Scan(&r.ID, &r.SubjectID, &r.Item, &r.Quantity, &unitPrice, &base, &adjustment, &surcharge, &t); err != nil {
		return domain.Record{}, err
	}
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&r.UnitPrice, unitPrice},
		{&r.BaseAmount, base},
		{&r.Adjustment, adjustment},
		{&r.Surcharge, surcharge},
		{&r.Total, t},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return domain.Record{}, fmt.Errorf("parse numeric %q: %w", f.src, err)
		}
	}
	return r, nil
}

func (s *Store) CreateRecord(ctx context.Context, subjectID int64, item string, quantity int, unitPrice decimal.Decimal) (domain.Record, error) {
	r := store.NewRecord(subjectID, item, quantity, unitPrice)
	out, err := scanRecord(s.DB.QueryRow(ctx, `
INSERT INTO records(subject_id,item,quantity,unit_price,base_amount,adjustment,surcharge,total)
VALUES($1,$2,$3,$4::numeric,$5::numeric,0,0,$6::numeric)
RETURNING `+recordColumns,
		r.SubjectID, r.Item, r.Quantity, r.UnitPrice.String(), r.BaseAmount.String(), r.Total.String()))
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Record{}, store.SubjectNotFound(subjectID)
		}
		return domain.Record{}, store.Persistence("create record", err)
	}
	return out, nil
}

func (s *Store) GetRecord(ctx context.Context, id int64) (domain.Record, error) {
	r, err := scanRecord(s.DB.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, store.RecordNotFound(id)
		}
		return domain.Record{}, store.Persistence("get record", err)
	}
	return r, nil
}

func (s *Store) UpdateRecordTotals(ctx context.Context, id int64, adjustment, surcharge decimal.Decimal) (domain.Record, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Record{}, store.Persistence("begin", err)
	}
	defer tx.Rollback(ctx)

	cur, err := scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, store.RecordNotFound(id)
		}
		return domain.Record{}, store.Persistence("load record", err)
	}
	next := store.ApplyTotals(cur, adjustment, surcharge)
	out, err := scanRecord(tx.QueryRow(ctx, `
UPDATE records SET adjustment=$2::numeric, surcharge=$3::numeric, total=$4::numeric
WHERE id=$1
RETURNING `+recordColumns,
		id, next.Adjustment.String(), next.Surcharge.String(), next.Total.String()))
	if err != nil {
		return domain.Record{}, store.Persistence("update record", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Record{}, store.Persistence("commit", err)
	}
	return out, nil
}

func (s *Store) ListRecords(ctx context.Context) ([]domain.Record, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+recordColumns+` FROM records ORDER BY id`)
	if err != nil {
		return nil, store.Persistence("list records", err)
	}
	defer rows.Close()
	out := []domain.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, store.Persistence("list records", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list records", err)
	}
	return out, nil
}

func (s *Store) CreateStudent(ctx context.Context, in domain.Student) (domain.Student, error) {
	st, err := store.CleanStudent(in)
	if err != nil {
		return domain.Student{}, err
	}
	_, err = s.DB.Exec(ctx, `INSERT INTO student(id,name,dept_name,tot_cred) VALUES($1,$2,$3,$4)`,
		st.ID, st.Name, st.DeptName, st.TotalCredits)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Student{}, fmt.Errorf("student %s: %w", st.ID, domain.ErrConflict)
		}
		return domain.Student{}, store.Persistence("create student", err)
	}
	return st, nil
}

func (s *Store) GetStudent(ctx context.Context, id string) (domain.Student, error) {
	var st domain.Student
	err := s.DB.QueryRow(ctx, `SELECT id,name,dept_name,tot_cred FROM student WHERE id=$1`, id).
		Scan(&st.ID, &st.Name, &st.DeptName, &st.TotalCredits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Student{}, store.StudentNotFound(id)
		}
		return domain.Student{}, store.Persistence("get student", err)
	}
	return st, nil
}

func (s *Store) ListStudents(ctx context.Context) ([]domain.Student, error) {
	rows, err := s.DB.Query(ctx, `SELECT id,name,dept_name,tot_cred FROM student ORDER BY id`)
	if err != nil {
		return nil, store.Persistence("list students", err)
	}
	defer rows.Close()
	out := []domain.Student{}
	for rows.Next() {
		var st domain.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.DeptName, &st.TotalCredits); err != nil {
			return nil, store.Persistence("list students", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list students", err)
	}
	return out, nil
}

func (s *Store) CreateCourse(ctx context.Context, in domain.Course) (domain.Course, error) {
	c, err := store.CleanCourse(in)
	if err != nil {
		return domain.Course{}, err
	}
	_, err = s.DB.Exec(ctx, `INSERT INTO course(course_id,title,dept_name,credits) VALUES($1,$2,$3,$4)`,
		c.CourseID, c.Title, c.DeptName, c.Credits)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Course{}, fmt.Errorf("course %s: %w", c.CourseID, domain.ErrConflict)
		}
		return domain.Course{}, store.Persistence("create course", err)
	}
	return c, nil
}

func (s *Store) GetCourse(ctx context.Context, id string) (domain.Course, error) {
	var c domain.Course
	err := s.DB.QueryRow(ctx, `SELECT course_id,title,dept_name,credits FROM course WHERE course_id=$1`, id).
		Scan(&c.CourseID, &c.Title, &c.DeptName, &c.Credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Course{}, store.CourseNotFound(id)
		}
		return domain.Course{}, store.Persistence("get course", err)
	}
	return c, nil
}

func (s *Store) ListCourses(ctx context.Context) ([]domain.Course, error) {
	rows, err := s.DB.Query(ctx, `SELECT course_id,title,dept_name,credits FROM course ORDER BY course_id`)
	if err != nil {
		return nil, store.Persistence("list courses", err)
	}
	defer rows.Close()
	out := []domain.Course{}
	for rows.Next() {
		var c domain.Course
		if err := rows.Scan(&c.CourseID, &c.Title, &c.DeptName, &c.Credits); err != nil {
			return nil, store.Persistence("list courses", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list courses", err)
	}
	return out, nil
}

func (s *Store) GetIdempotencyRecord(ctx context.Context, scopeID, key, endpoint string) (*idempotency.Record, error) {
	var rec idempotency.Record
	err := s.DB.QueryRow(ctx, `
SELECT scope_id,idempotency_key,endpoint,request_hash,response_status,response_body
FROM task_idempotency_records
WHERE scope_id=$1 AND idempotency_key=$2 AND endpoint=$3
`, scopeID, key, endpoint).Scan(&rec.ScopeID, &rec.IdempotencyKey, &rec.Endpoint, &rec.RequestHash, &rec.ResponseStatus, &rec.ResponseBody)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Persistence("get idempotency record", err)
	}
	return &rec, nil
}

func (s *Store) SaveIdempotencyRecord(ctx context.Context, rec idempotency.Record) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO task_idempotency_records(scope_id,idempotency_key,endpoint,request_hash,response_status,response_body)
VALUES($1,$2,$3,$4,$5,$6::jsonb)
ON CONFLICT (scope_id,idempotency_key,endpoint) DO NOTHING
`, rec.ScopeID, rec.IdempotencyKey, rec.Endpoint, rec.RequestHash, rec.ResponseStatus, string(rec.ResponseBody))
	if err != nil {
		return store.Persistence("save idempotency record", err)
	}
	return nil
}

var (
	_ store.Store       = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
)
