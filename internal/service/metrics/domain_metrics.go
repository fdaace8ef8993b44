package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalcore",
			Subsystem: "signals",
			Name:      "emitted_total",
			Help:      "Signals emitted by source kind",
		},
		[]string{"kind"},
	)

	ConsensusOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalcore",
			Subsystem: "consensus",
			Name:      "outcomes_total",
			Help:      "Closed consensus windows by outcome",
		},
		[]string{"outcome"},
	)

	CostVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalcore",
			Subsystem: "cost",
			Name:      "verdicts_total",
			Help:      "Cost verdicts by decision",
		},
		[]string{"verdict"},
	)

	DecayTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalcore",
			Subsystem: "decay",
			Name:      "transitions_total",
			Help:      "Source lifecycle transitions by target status",
		},
		[]string{"to"},
	)

	RegimeChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signalcore",
			Subsystem: "regime",
			Name:      "changes_total",
			Help:      "Committed regime changes",
		},
		[]string{"dimension", "to"},
	)

	CapacityUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "signalcore",
			Subsystem: "capacity",
			Name:      "utilization_pct",
			Help:      "Estimated capacity utilization per strategy",
		},
		[]string{"strategy"},
	)

	JobLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signalcore",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled jobs",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)
)

// Register adds the domain collectors to reg once. A nil reg uses the
// default registerer.
func Register(reg prometheus.Registerer) {
	once.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(SignalsEmitted, ConsensusOutcomes, CostVerdicts, DecayTransitions, RegimeChanges, CapacityUtilization, JobLatency)
	})
}
