package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	// Orchestration outcomes, labelled by operation (process|enroll) and outcome code.
	Outcomes        *prometheus.CounterVec
	LatencySec      *prometheus.HistogramVec
	SubjectsCreated prometheus.Counter

	// Policy gateway calls, labelled by op (rate|surcharge|fee|max_units) and result.
	PolicyCalls   *prometheus.CounterVec
	PolicyRetries prometheus.Counter

	EventsPublished *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_orchestrations_total",
		Help: "Orchestrated task calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskflow_orchestration_latency_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	subjects := prometheus.NewCounter(prometheus.CounterOpts{Name: "taskflow_subjects_created_total"})
	policyCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_policy_calls_total",
	}, []string{"op", "result"})
	policyRetries := prometheus.NewCounter(prometheus.CounterOpts{Name: "taskflow_policy_retries_total"})
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_events_published_total",
	}, []string{"type", "result"})

	r.MustRegister(outcomes, latency, subjects, policyCalls, policyRetries, events)
	return &Registry{
		reg:             r,
		Outcomes:        outcomes,
		LatencySec:      latency,
		SubjectsCreated: subjects,
		PolicyCalls:     policyCalls,
		PolicyRetries:   policyRetries,
		EventsPublished: events,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
