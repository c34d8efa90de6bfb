package bridge

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Call results recorded by Metrics.
const (
	resultOK       = "ok"
	resultError    = "error"
	resultDisposed = "disposed"
)

// Notification delivery modes recorded by Metrics.
const (
	modeInline  = "inline"
	modePosted  = "posted"
	modeDropped = "dropped"
)

// Metrics tracks handle lifecycle and native call statistics.
type Metrics struct {
	runtimeRefs   prometheus.Gauge
	openHandles   *prometheus.GaugeVec
	nativeCalls   *prometheus.CounterVec
	notifications *prometheus.CounterVec

	registerer prometheus.Registerer
	mu         sync.Mutex
	registered bool
}

var defaultMetrics = NewMetrics(nil)

// DefaultMetrics returns the process-wide metrics used by runtimes created without
// WithMetrics. Its collectors are not registered until Register is called.
func DefaultMetrics() *Metrics {
	return defaultMetrics
}

// NewMetrics creates a metrics collector. A nil registerer selects
// prometheus.DefaultRegisterer at Register time.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,
		runtimeRefs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "frida",
			Subsystem: "runtime",
			Name:      "active_refs",
			Help:      "Number of open handles holding the engine initialized",
		}),
		openHandles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "frida",
			Subsystem: "bridge",
			Name:      "open_handles",
			Help:      "Number of open handles per resource kind",
		}, []string{"kind"}),
		nativeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frida",
			Subsystem: "bridge",
			Name:      "native_calls_total",
			Help:      "Proxied native calls by resource kind, operation and result",
		}, []string{"kind", "op", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frida",
			Subsystem: "bridge",
			Name:      "notifications_total",
			Help:      "Native notifications redelivered by resource kind and delivery mode",
		}, []string{"kind", "mode"}),
	}
}

// Register registers the collectors with the registerer given to NewMetrics.
// Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	if err := m.RegisterTo(m.registerer); err != nil {
		return err
	}
	m.registered = true
	return nil
}

// RegisterTo registers the collectors with reg. Collectors already registered
// there are tolerated.
func (m *Metrics) RegisterTo(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.runtimeRefs,
		m.openHandles,
		m.nativeCalls,
		m.notifications,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

func (m *Metrics) refAcquired() { m.runtimeRefs.Inc() }
func (m *Metrics) refReleased() { m.runtimeRefs.Dec() }

func (m *Metrics) handleOpened(kind string) {
	m.openHandles.WithLabelValues(kind).Inc()
}

func (m *Metrics) handleClosed(kind string) {
	m.openHandles.WithLabelValues(kind).Dec()
}

func (m *Metrics) call(kind, op, result string) {
	m.nativeCalls.WithLabelValues(kind, op, result).Inc()
}

func (m *Metrics) notified(kind, mode string) {
	m.notifications.WithLabelValues(kind, mode).Inc()
}
