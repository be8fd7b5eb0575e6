package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"taskflow/pkg/httpx"
	"taskflow/pkg/metrics"
	"taskflow/services/policy/internal/rules"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// newRouter serves the rule tables. Every lookup answers 200; inputs that do
// not parse are read as zero.
func newRouter(rs *rules.Rules, logger *slog.Logger, reg *metrics.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.RequestLogger(logger))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Handle("/metrics", reg.Handler())

	served := func(op string) { reg.PolicyCalls.WithLabelValues(op, "served").Inc() }

	r.Route("/policy", func(api chi.Router) {
		api.Get("/rate", func(w http.ResponseWriter, r *http.Request) {
			category := rules.CategoryCode(r.URL.Query().Get("category"))
			served("rate")
			httpx.WriteJSON(w, 200, map[string]any{"category": category, "rate": rs.Rate(category)})
		})

		api.Get("/surcharge", func(w http.ResponseWriter, r *http.Request) {
			metric := decimalParam(r, "metric")
			served("surcharge")
			httpx.WriteJSON(w, 200, map[string]any{"metric": metric, "surcharge": rs.Surcharge(metric)})
		})

		api.Get("/calc_tuition", func(w http.ResponseWriter, r *http.Request) {
			credits := intParam(r, "credits")
			served("fee")
			httpx.WriteJSON(w, 200, map[string]any{"credits": credits, "tuition": rs.Fee(credits)})
		})

		api.Get("/max_credits", func(w http.ResponseWriter, r *http.Request) {
			served("max_units")
			httpx.WriteJSON(w, 200, map[string]any{"max_credits": rs.MaxUnits()})
		})
	})
	return r
}

func decimalParam(r *http.Request, key string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func intParam(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return n
}
