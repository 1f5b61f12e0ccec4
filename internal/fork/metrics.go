package fork

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments published by every Manager
// (§4.2): buffer_fill_ratio and frames_dropped_total per call, consumer_lag_ms
// per consumer, and the two call-level fallback signals. Unlike flowpbx's
// scrape-time Collector, these are live gauges/counters updated as events
// happen, because a Manager's lifetime is one call, not the process.
type Metrics struct {
	bufferFillRatio *prometheus.GaugeVec
	framesDropped   *prometheus.CounterVec
	consumerLagMs   *prometheus.GaugeVec
	primaryAvail    *prometheus.GaugeVec
	fallbackActive  *prometheus.GaugeVec

	callID      string
	lastDropped atomic.Uint64
}

// NewMetricsRegistry registers the fork package's metric families with reg
// and returns a factory for per-call Metrics instances.
func NewMetricsRegistry(reg prometheus.Registerer) *MetricsFamily {
	f := &MetricsFamily{
		bufferFillRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voiceagent_fork_buffer_fill_ratio",
			Help: "Ring buffer occupancy as a fraction of capacity, per call",
		}, []string{"call_id"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceagent_fork_frames_dropped_total",
			Help: "Frames dropped from the ring buffer due to overflow, per call",
		}, []string{"call_id"}),
		consumerLagMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voiceagent_fork_consumer_lag_ms",
			Help: "Age in milliseconds of the oldest frame in a consumer's most recent batch",
		}, []string{"call_id", "consumer"}),
		primaryAvail: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voiceagent_fork_primary_available",
			Help: "1 if the primary consumer is available, 0 otherwise",
		}, []string{"call_id"}),
		fallbackActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voiceagent_fork_fallback_active",
			Help: "1 if the call has entered fallback mode, 0 otherwise",
		}, []string{"call_id"}),
	}
	reg.MustRegister(f.bufferFillRatio, f.framesDropped, f.consumerLagMs, f.primaryAvail, f.fallbackActive)
	return f
}

// MetricsFamily holds the shared metric vectors for every call's Manager.
type MetricsFamily struct {
	bufferFillRatio *prometheus.GaugeVec
	framesDropped   *prometheus.CounterVec
	consumerLagMs   *prometheus.GaugeVec
	primaryAvail    *prometheus.GaugeVec
	fallbackActive  *prometheus.GaugeVec
}

// ForCall returns a Metrics bound to one call_id label value.
func (f *MetricsFamily) ForCall(callID string) *Metrics {
	return &Metrics{
		bufferFillRatio: f.bufferFillRatio,
		framesDropped:   f.framesDropped,
		consumerLagMs:   f.consumerLagMs,
		primaryAvail:    f.primaryAvail,
		fallbackActive:  f.fallbackActive,
		callID:          callID,
	}
}

// Forget removes this call's label values once the call ends, so the
// registry doesn't accumulate stale series for every historical call.
func (f *MetricsFamily) Forget(callID string) {
	f.bufferFillRatio.DeleteLabelValues(callID)
	f.framesDropped.DeleteLabelValues(callID)
	f.consumerLagMs.DeletePartialMatch(prometheus.Labels{"call_id": callID})
	f.primaryAvail.DeleteLabelValues(callID)
	f.fallbackActive.DeleteLabelValues(callID)
}

func (m *Metrics) observePush(rb *RingBuffer) {
	if m == nil {
		return
	}
	m.bufferFillRatio.WithLabelValues(m.callID).Set(rb.FillRatio())

	dropped := rb.DroppedCount()
	prev := m.lastDropped.Swap(dropped)
	if dropped > prev {
		m.framesDropped.WithLabelValues(m.callID).Add(float64(dropped - prev))
	}
}

// ObserveConsumerLag records consumer_lag_ms for a named consumer.
func (m *Metrics) ObserveConsumerLag(consumer string, lagMs int64) {
	if m == nil {
		return
	}
	m.consumerLagMs.WithLabelValues(m.callID, consumer).Set(float64(lagMs))
}

func (m *Metrics) setPrimaryAvailable(available bool) {
	if m == nil {
		return
	}
	v := 0.0
	if available {
		v = 1.0
	}
	m.primaryAvail.WithLabelValues(m.callID).Set(v)
}

func (m *Metrics) setFallbackActive(active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	m.fallbackActive.WithLabelValues(m.callID).Set(v)
}
