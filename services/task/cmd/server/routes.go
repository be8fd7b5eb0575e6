package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"taskflow/pkg/canonhash"
	"taskflow/pkg/httpx"
	"taskflow/pkg/idempotency"
	"taskflow/pkg/metrics"
	"taskflow/pkg/ratelimit"
	"taskflow/services/task/internal/domain"
	"taskflow/services/task/internal/normalize"
	"taskflow/services/task/internal/orchestrator"
	"taskflow/services/task/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	idempotencyScope = "task"
	maxBodyBytes     = 1 << 20
)

type deps struct {
	store   store.Store
	svc     *orchestrator.Service
	idem    idempotency.Store
	limiter *ratelimit.KeyLimiter
	metrics *metrics.Registry
	log     *slog.Logger
}

func newRouter(d deps) http.Handler {
	st := d.store
	r := chi.NewRouter()
	r.Use(httpx.RequestLogger(d.log))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	if d.metrics != nil {
		r.Handle("/metrics", d.metrics.Handler())
	}

	r.Route("/entity", func(api chi.Router) {
		api.Post("/subjects", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Name string `json:"name"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			subj, err := st.CreateSubject(r.Context(), req.Name)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.RequestID(w), "subject": subj})
		})

		api.Get("/subjects", func(w http.ResponseWriter, r *http.Request) {
			subjects, err := st.ListSubjects(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.RequestID(w), "subjects": subjects})
		})

		api.Get("/subjects/{subject_id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r, "subject_id")
			if !ok {
				return
			}
			subj, err := st.GetSubject(r.Context(), id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.RequestID(w), "subject": subj})
		})

		api.Post("/records", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				SubjectID int64           `json:"subject_id"`
				Item      string          `json:"item"`
				Quantity  int             `json:"quantity"`
				UnitPrice decimal.Decimal `json:"unit_price"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if req.Quantity < 0 || req.UnitPrice.IsNegative() {
				httpx.WriteError(w, 400, "VALIDATION_ERROR", "quantity and unit_price must be >= 0", nil)
				return
			}
			rec, err := st.CreateRecord(r.Context(), req.SubjectID, req.Item, req.Quantity, req.UnitPrice)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.RequestID(w), "record": rec})
		})

		api.Get("/records", func(w http.ResponseWriter, r *http.Request) {
			records, err := st.ListRecords(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.RequestID(w), "records": records})
		})

		api.Get("/records/{record_id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := pathID(w, r, "record_id")
			if !ok {
				return
			}
			rec, err := st.GetRecord(r.Context(), id)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.RequestID(w), "record": rec})
		})

		api.Post("/students", func(w http.ResponseWriter, r *http.Request) {
			var req domain.Student
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			out, err := st.CreateStudent(r.Context(), req)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.RequestID(w), "student": out})
		})

		api.Get("/students", func(w http.ResponseWriter, r *http.Request) {
			students, err := st.ListStudents(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.RequestID(w), "students": students})
		})

		api.Get("/students/{student_id}", func(w http.ResponseWriter, r *http.Request) {
			out, err := st.GetStudent(r.Context(), chi.URLParam(r, "student_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.RequestID(w), "student": out})
		})

		api.Post("/courses", func(w http.ResponseWriter, r *http.Request) {
			var req domain.Course
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			out, err := st.CreateCourse(r.Context(), req)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.RequestID(w), "course": out})
		})

		api.Get("/courses", func(w http.ResponseWriter, r *http.Request) {
			courses, err := st.ListCourses(r.Context())
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.RequestID(w), "courses": courses})
		})

		api.Get("/courses/{course_id}", func(w http.ResponseWriter, r *http.Request) {
			out, err := st.GetCourse(r.Context(), chi.URLParam(r, "course_id"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.RequestID(w), "course": out})
		})
	})

	r.Route("/task", func(api chi.Router) {
		api.Use(ratelimit.Middleware(d.limiter))

		api.Post("/process", func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			var req orchestrator.ProcessRequest
			if err := decodeStrict(raw, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			requestHash, err := canonhash.SumJSON(raw)
			if err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			handleIdempotent(w, r, d.idem, d.log, "process", requestHash, func() (int, any) {
				sum, err := d.svc.Process(r.Context(), req)
				return domain.HTTPStatus(err), sum
			})
		})

		api.Post("/onboard_student_into_course", func(w http.ResponseWriter, r *http.Request) {
			var req orchestrator.EnrollRequest
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			sum, err := d.svc.Enroll(r.Context(), req)
			httpx.WriteJSON(w, domain.HTTPStatus(err), sum)
		})
	})

	r.Route("/utility", func(api chi.Router) {
		api.Get("/normalize", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, map[string]any{"result": normalize.Name(r.URL.Query().Get("s"))})
		})
		api.Get("/validate_student_id", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, map[string]any{"valid": normalize.ValidIdentifier(r.URL.Query().Get("s"))})
		})
	})
	return r
}

// handleIdempotent replays a stored response for a repeated Idempotency-Key
// and stores the response of run unless it is a server-side failure.
func handleIdempotent(w http.ResponseWriter, r *http.Request, st idempotency.Store, logger *slog.Logger, endpoint, requestHash string, run func() (int, any)) {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && st != nil {
		rec, err := idempotency.Replay(r.Context(), st, idempotencyScope, key, endpoint, requestHash)
		if errors.Is(err, idempotency.ErrKeyReused) {
			httpx.WriteError(w, 409, "IDEMPOTENCY_KEY_REUSED", err.Error(), map[string]any{"idempotency_key": key})
			return
		}
		if err != nil {
			httpx.WriteError(w, 500, "PERSISTENCE_ERROR", err.Error(), nil)
			return
		}
		if rec != nil {
			w.Header().Set("content-type", "application/json")
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(rec.ResponseStatus)
			_, _ = w.Write(rec.ResponseBody)
			return
		}
	}

	status, body := run()
	if key != "" && st != nil && status < 500 {
		buf := bytes.Buffer{}
		_ = json.NewEncoder(&buf).Encode(body)
		err := idempotency.Save(r.Context(), st, idempotency.Record{
			ScopeID:        idempotencyScope,
			IdempotencyKey: key,
			Endpoint:       endpoint,
			RequestHash:    requestHash,
			ResponseStatus: status,
			ResponseBody:   bytes.TrimSpace(buf.Bytes()),
		})
		if err != nil {
			logger.Warn("idempotency save failed", "endpoint", endpoint, "idempotency_key", key, "err", err)
		}
	}
	httpx.WriteJSON(w, status, body)
}

func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeDomainError(w http.ResponseWriter, err error) {
	httpx.WriteError(w, domain.HTTPStatus(err), domain.Code(err), err.Error(), nil)
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, 400, "VALIDATION_ERROR", param+" must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
