package demande

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal *prometheus.CounterVec
	rejectedTotal    *prometheus.CounterVec
	casConflicts     prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Counter) {
	tr := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demande_transitions_total",
			Help: "Committed demande status transitions",
		},
		[]string{"from", "to"},
	)
	rej := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "demande_commands_rejected_total",
			Help: "Lifecycle commands rejected by the state machine",
		},
		[]string{"event", "reason"},
	)
	cas := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "demande_version_conflicts_total",
			Help: "Compare-and-swap conflicts retried by the state machine",
		},
	)
	return tr, rej, cas
}

func init() {
	transitionsTotal, rejectedTotal, casConflicts = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers the state machine collectors. A nil reg
// means prometheus.DefaultRegisterer.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(transitionsTotal, rejectedTotal, casConflicts)
}

// ResetMetrics recreates the collectors and registers them on reg if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	transitionsTotal, rejectedTotal, casConflicts = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
