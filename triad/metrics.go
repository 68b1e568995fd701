package triad

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// handlesConstructed counts handles whose three structures were all built
	handlesConstructed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdgx_handles_constructed_total",
		Help: "Total resource triad handles constructed",
	})

	// constructFailures counts construction failures by the stage that failed
	constructFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdgx_construct_failures_total",
		Help: "Total resource triad construction failures by stage",
	}, []string{"stage"})

	handlesDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mdgx_handles_destroyed_total",
		Help: "Total resource triad handles destroyed",
	})

	// evaluations counts evaluation calls by result: ok, error or rejected
	evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mdgx_evaluations_total",
		Help: "Total force/energy evaluations by result",
	}, []string{"result"})

	evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mdgx_evaluation_duration_seconds",
		Help:    "Force/energy evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
	})
)
