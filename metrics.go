package merger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/creastat/merger/core"
)

const subsystem = "block_merger"

// waitReason labels the suspension point a producer blocked at
type waitReason string

const (
	waitTurn       waitReason = "turn"
	waitBuffer     waitReason = "buffer"
	waitActivation waitReason = "activation"
	waitBudget     waitReason = "budget"
)

// Metrics instruments merger runs. All methods are safe on a nil receiver.
type Metrics struct {
	merged      *prometheus.CounterVec
	waits       *prometheus.CounterVec
	waitSeconds *prometheus.HistogramVec
	refills     *prometheus.CounterVec
	violations  *prometheus.CounterVec
	inFlight    *prometheus.GaugeVec
}

// NewMetrics creates the merger collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		merged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "merged_blocks_total",
				Help:      "Count of blocks appended to the merged output.",
			},
			[]string{"variant"},
		),
		waits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "producer_waits_total",
				Help:      "Count of submissions that started waiting, by suspension point.",
			},
			[]string{"variant", "reason"},
		),
		waitSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "producer_wait_seconds",
				Help:      "Time producers spent suspended inside the merger.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
			},
			[]string{"variant", "reason"},
		),
		refills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "slot_transitions_total",
				Help:      "Count of slots handed to a new source or retired.",
			},
			[]string{"variant", "outcome"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "protocol_violations_total",
				Help:      "Count of producer protocol violations.",
			},
			[]string{"variant", "reason"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Subsystem: subsystem,
				Name:      "in_flight_blocks",
				Help:      "Blocks submitted but not yet merged.",
			},
			[]string{"variant"},
		),
	}

	for _, c := range []prometheus.Collector{m.merged, m.waits, m.waitSeconds, m.refills, m.violations, m.inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) blockMerged(variant core.Variant) {
	if m == nil {
		return
	}
	m.merged.WithLabelValues(string(variant)).Inc()
}

func (m *Metrics) waitStarted(variant core.Variant, reason waitReason) {
	if m == nil {
		return
	}
	m.waits.WithLabelValues(string(variant), string(reason)).Inc()
}

// waitEnded records the suspension time, also for waits cut short by cancellation
func (m *Metrics) waitEnded(variant core.Variant, reason waitReason, d time.Duration) {
	if m == nil {
		return
	}
	m.waitSeconds.WithLabelValues(string(variant), string(reason)).Observe(d.Seconds())
}

func (m *Metrics) slotTransition(variant core.Variant, activated bool) {
	if m == nil {
		return
	}
	outcome := "retired"
	if activated {
		outcome = "activated"
	}
	m.refills.WithLabelValues(string(variant), outcome).Inc()
}

func (m *Metrics) violation(variant core.Variant, reason core.ViolationReason) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(string(variant), string(reason)).Inc()
}

func (m *Metrics) setInFlight(variant core.Variant, n int) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(string(variant)).Set(float64(n))
}
