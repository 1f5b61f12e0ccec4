package fork

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Manager owns one call's ring buffer and its consumers. The RTP receive
// callback is the single producer; zero or more consumers (an ASP client
// to C4, a transcription sink) attach at call setup, per §4.2.
//
// When the primary consumer (index 0 by convention — the AI session
// consumer) has been unavailable for longer than TDegrade, the manager
// latches fallback_active so C3 can switch to playing a pre-recorded
// message instead of routing to the AI service.
type Manager struct {
	logger *slog.Logger
	buffer *RingBuffer

	tDegrade time.Duration

	mu        sync.Mutex
	consumers []*Consumer
	cancels   []context.CancelFunc

	primaryAvailable atomic.Bool
	fallbackActive   atomic.Bool
	unavailableSince atomic.Int64 // unix nanos; 0 while available

	metrics *Metrics
}

// NewManager creates a Manager with a ring buffer sized to hold
// capacityFrames frames.
func NewManager(capacityFrames int, tDegrade time.Duration, logger *slog.Logger, metrics *Metrics) *Manager {
	m := &Manager{
		logger:   logger.With("subsystem", "fork-manager"),
		buffer:   NewRingBuffer(capacityFrames),
		tDegrade: tDegrade,
		metrics:  metrics,
	}
	m.primaryAvailable.Store(true)
	return m
}

// Push submits one audio frame from the RTP receive callback. O(1),
// non-blocking, no allocation beyond the payload slice itself (§4.2).
func (m *Manager) Push(payload []byte) uint64 {
	seq := m.buffer.Push(payload)
	if m.metrics != nil {
		m.metrics.observePush(m.buffer)
	}
	return seq
}

// AttachConsumer registers a new consumer and starts its worker loop. index
// 0 is treated as the primary consumer for fallback-mode purposes.
func (m *Manager) AttachConsumer(ctx context.Context, name string, adapter Adapter) *Consumer {
	c := NewConsumer(name, m.buffer, adapter, m.logger)

	m.mu.Lock()
	isPrimary := len(m.consumers) == 0
	consumerCtx, cancel := context.WithCancel(ctx)
	m.consumers = append(m.consumers, c)
	m.cancels = append(m.cancels, cancel)
	m.mu.Unlock()

	if isPrimary {
		c.SetAvailable(true)
	}

	go c.Run(consumerCtx)
	return c
}

// Primary returns the primary (index 0) consumer, or nil if none attached.
func (m *Manager) Primary() *Consumer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.consumers) == 0 {
		return nil
	}
	return m.consumers[0]
}

// Close stops all consumers and releases the ring buffer.
func (m *Manager) Close() {
	m.buffer.Close()
	m.mu.Lock()
	cancels := m.cancels
	m.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// TickDegrade should be called periodically (e.g. every second) by the
// owning Call; it observes the primary consumer's availability and latches
// fallback_active once it has been unavailable for longer than tDegrade
// (§4.2).
func (m *Manager) TickDegrade() (fallbackActive bool) {
	primary := m.Primary()
	available := primary != nil && primary.Available()

	m.primaryAvailable.Store(available)
	if m.metrics != nil {
		m.metrics.setPrimaryAvailable(available)
	}

	now := time.Now()
	if available {
		m.unavailableSince.Store(0)
		m.fallbackActive.Store(false)
	} else {
		since := m.unavailableSince.Load()
		if since == 0 {
			m.unavailableSince.Store(now.UnixNano())
		} else if now.Sub(time.Unix(0, since)) > m.tDegrade {
			if !m.fallbackActive.Load() {
				m.logger.Warn("primary consumer unavailable past degrade threshold, entering fallback mode",
					"t_degrade", m.tDegrade.String(),
				)
			}
			m.fallbackActive.Store(true)
		}
	}

	active := m.fallbackActive.Load()
	if m.metrics != nil {
		m.metrics.setFallbackActive(active)
		m.reportConsumerLag()
	}
	return active
}

// reportConsumerLag publishes consumer_lag_ms for every attached consumer.
func (m *Manager) reportConsumerLag() {
	m.mu.Lock()
	consumers := append([]*Consumer(nil), m.consumers...)
	m.mu.Unlock()

	for _, c := range consumers {
		m.metrics.ObserveConsumerLag(c.Name, c.LagMs())
	}
}

// FallbackActive reports the last-computed fallback state without
// re-evaluating the timer.
func (m *Manager) FallbackActive() bool {
	return m.fallbackActive.Load()
}

// PrimaryAvailable reports the last-observed primary consumer availability.
func (m *Manager) PrimaryAvailable() bool {
	return m.primaryAvailable.Load()
}
