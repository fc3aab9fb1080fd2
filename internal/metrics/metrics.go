package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transitions counts observed-state edges applied, by edge and actor.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmfleet",
		Subsystem: "lifecycle",
		Name:      "transitions_total",
		Help:      "Observed-state transitions applied, by edge and source.",
	}, []string{"from", "to", "source"})

	// Intents counts lifecycle requests received, by kind and outcome.
	Intents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmfleet",
		Subsystem: "lifecycle",
		Name:      "intents_total",
		Help:      "Lifecycle intents received, by intent and outcome.",
	}, []string{"intent", "outcome"})

	// CASConflicts counts writes lost to a concurrent writer before retry.
	CASConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vmfleet",
		Subsystem: "store",
		Name:      "cas_conflicts_total",
		Help:      "Compare-and-swap writes that lost the version race.",
	})

	// ReconcileRuns counts completed reconciliation passes.
	ReconcileRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vmfleet",
		Subsystem: "reconciler",
		Name:      "runs_total",
		Help:      "Completed reconciliation passes.",
	})

	// ReconcileErrors counts per-VM reconciliation attempts that errored.
	ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vmfleet",
		Subsystem: "reconciler",
		Name:      "errors_total",
		Help:      "Per-VM reconciliation attempts that ended in an error.",
	})

	// TasksProcessed counts worker task completions, by type and outcome.
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmfleet",
		Subsystem: "worker",
		Name:      "tasks_processed_total",
		Help:      "Task handler completions, by task type and outcome.",
	}, []string{"type", "outcome"})
)

// Handler exposes the default registry for the /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
