package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DialogueMetrics exposes counters/histograms for dialogue turns.
type DialogueMetrics struct {
	turnsTotal         *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	hallucinationTotal *prometheus.CounterVec
	fallbackTotal      *prometheus.CounterVec
	bookingsTotal      *prometheus.CounterVec
	turnLatency        *prometheus.HistogramVec
	lockWait           prometheus.Histogram
}

func NewDialogueMetrics(reg prometheus.Registerer) *DialogueMetrics {
	m := &DialogueMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophie",
			Subsystem: "dialogue",
			Name:      "turns_total",
			Help:      "Total processed dialogue turns",
		}, []string{"state", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophie",
			Subsystem: "dialogue",
			Name:      "state_transitions_total",
			Help:      "Conversation state transitions",
		}, []string{"from", "to"}),
		hallucinationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophie",
			Subsystem: "dialogue",
			Name:      "hallucinations_blocked_total",
			Help:      "Generated replies rejected by the response validator",
		}, []string{"topic"}),
		fallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophie",
			Subsystem: "dialogue",
			Name:      "fallback_replies_total",
			Help:      "Replies replaced by a safe fallback",
		}, []string{"reason"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sophie",
			Subsystem: "dialogue",
			Name:      "bookings_total",
			Help:      "Appointment booking attempts by result",
		}, []string{"result"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sophie",
			Subsystem: "dialogue",
			Name:      "turn_latency_seconds",
			Help:      "Latency of a full dialogue turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sophie",
			Subsystem: "dialogue",
			Name:      "turn_lock_wait_seconds",
			Help:      "Time spent waiting for the per-conversation turn lock",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.transitionsTotal, m.hallucinationTotal, m.fallbackTotal, m.bookingsTotal, m.turnLatency, m.lockWait)
	return m
}

func (m *DialogueMetrics) ObserveTurn(state, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(state, outcome).Inc()
	m.turnLatency.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (m *DialogueMetrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *DialogueMetrics) ObserveHallucination(topic string) {
	if m == nil {
		return
	}
	m.hallucinationTotal.WithLabelValues(topic).Inc()
}

func (m *DialogueMetrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbackTotal.WithLabelValues(reason).Inc()
}

func (m *DialogueMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *DialogueMetrics) ObserveLockWait(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(elapsed.Seconds())
}
