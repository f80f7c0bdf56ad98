package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the allocation path.
type BookingMetrics struct {
	allocationsTotal  *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	lockWaitSeconds   prometheus.Histogram
	allocationSeconds prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		allocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opdqueue",
			Subsystem: "booking",
			Name:      "allocations_total",
			Help:      "Allocation attempts by category and outcome",
		}, []string{"category", "outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opdqueue",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Booking status transitions by target status",
		}, []string{"to_status"}),
		lockWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opdqueue",
			Subsystem: "booking",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring the slot lock",
			Buckets:   prometheus.DefBuckets,
		}),
		allocationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "opdqueue",
			Subsystem: "booking",
			Name:      "allocation_seconds",
			Help:      "End-to-end allocation latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.allocationsTotal, m.transitionsTotal, m.lockWaitSeconds, m.allocationSeconds)
	return m
}

func (m *BookingMetrics) ObserveAllocation(category, outcome string) {
	if m == nil {
		return
	}
	m.allocationsTotal.WithLabelValues(category, outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(toStatus string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(toStatus).Inc()
}

func (m *BookingMetrics) ObserveLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.lockWaitSeconds.Observe(seconds)
}

func (m *BookingMetrics) ObserveAllocationLatency(seconds float64) {
	if m == nil {
		return
	}
	m.allocationSeconds.Observe(seconds)
}
