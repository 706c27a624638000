// Package alert evaluates numeric samples against per-key threshold
// rules and emits edge-triggered alert records.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/qsgrc/telemetry-core/record"
)

const stopTimeout = 5 * time.Second

// rule is the installed threshold for one listen key.
type rule struct {
	comparator record.Comparator
	threshold  float64
	hold       bool
}

// Sample is one inbound (listen_key, numeric) reading.
type Sample struct {
	Key   string
	Value float64
}

// Monitor owns one named rule table and condition table (e.g. "warning",
// "alert") and evaluates samples against it, emitting edge-triggered
// *record.Alert values to Out.
type Monitor struct {
	name string
	log  *log.Logger

	mu         sync.Mutex
	rules      map[string]rule
	conditions map[string]bool

	Out chan *record.Alert

	stopDone chan struct{}
	running  chan struct{} // not read or closed by any method; Run ends on ctx cancellation or a closed input

	evaluations  prometheus.Counter
	emissions    prometheus.Counter
	activeAlerts prometheus.Gauge
}

// NewMonitor constructs a Monitor named name (the monitor name carried
// in emitted alert records). outCapacity sizes the emitted-alert
// channel.
func NewMonitor(name string, outCapacity int, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	instanceID := xid.New().String()
	return &Monitor{
		name:       name,
		log:        logger.WithPrefix("alert").With("monitor", name).With("instance", instanceID),
		rules:      make(map[string]rule),
		conditions: make(map[string]bool),
		Out:        make(chan *record.Alert, outCapacity),
		evaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "telemetry_alert_evaluations_total",
			Help:        "Samples evaluated against the rule table.",
			ConstLabels: prometheus.Labels{"monitor": name},
		}),
		emissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "telemetry_alert_emissions_total",
			Help:        "Alert records emitted on a firing edge.",
			ConstLabels: prometheus.Labels{"monitor": name},
		}),
		activeAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "telemetry_alert_active",
			Help:        "Currently latched (firing) conditions.",
			ConstLabels: prometheus.Labels{"monitor": name},
		}),
	}
}

// Collectors exposes this monitor's prometheus collectors for host
// registration.
func (m *Monitor) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.evaluations, m.emissions, m.activeAlerts}
}

// AddRule installs or replaces the rule for key.
func (m *Monitor) AddRule(key string, comparator record.Comparator, threshold float64, hold bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[key] = rule{comparator: comparator, threshold: threshold, hold: hold}
}

// RemoveRule removes key's rule. Any latched condition for key is left
// intact until ClearCondition is called explicitly; remove_rule does
// not itself emit a clear record.
func (m *Monitor) RemoveRule(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, key)
}

// ApplyConfig installs or removes a rule from a decoded AlertConfig
// record. REMOVE is a sentinel comparator meaning "delete this rule"
// rather than a condition check's ever evaluates; AddRule/RemoveRule
// dispatch accordingly.
func (m *Monitor) ApplyConfig(cfg *record.AlertConfig) {
	if cfg.Condition == record.REMOVE {
		m.RemoveRule(cfg.ListenTo)
		return
	}
	m.AddRule(cfg.ListenTo, cfg.Condition, cfg.Threshold, cfg.Hold)
}

// ClearCondition force-clears a latched condition for key and emits a
// clear event (triggered=false, value=0), regardless of whether a rule
// still exists for key.
func (m *Monitor) ClearCondition(key string) {
	m.mu.Lock()
	wasFiring := m.conditions[key]
	delete(m.conditions, key)
	m.mu.Unlock()

	if wasFiring {
		m.activeAlerts.Dec()
	}
	m.emit(key, false, 0)
}

// ClearAllConditions drops all latched state without emitting anything;
// used on reconfiguration.
func (m *Monitor) ClearAllConditions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeAlerts.Set(0)
	m.conditions = make(map[string]bool)
}

// Check evaluates value against key's rule, if any, and emits an alert
// record on a firing-state edge per the evaluator's eight-case table.
func (m *Monitor) Check(key string, value float64) {
	m.evaluations.Inc()

	m.mu.Lock()
	r, ok := m.rules[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	alert := evaluate(r.comparator, value, r.threshold)
	firing := m.conditions[key]

	switch {
	case firing && alert:
		// still firing, no edge
		m.mu.Unlock()
		return
	case firing && !alert && r.hold:
		// latched until explicit clear
		m.mu.Unlock()
		return
	case firing && !alert && !r.hold:
		m.conditions[key] = false
		m.mu.Unlock()
		m.activeAlerts.Dec()
		m.emit(key, false, value)
		return
	case !firing && alert:
		m.conditions[key] = true
		m.mu.Unlock()
		m.activeAlerts.Inc()
		m.emit(key, true, value)
		return
	default: // !firing && !alert
		m.mu.Unlock()
		return
	}
}

func (m *Monitor) emit(key string, triggered bool, value float64) {
	a := record.NewAlert(m.name, key, triggered, value)
	m.emissions.Inc()
	select {
	case m.Out <- a:
	default:
		m.log.Warn("alert output channel full, dropping emission", "key", key, "triggered", triggered)
	}
}

func evaluate(c record.Comparator, value, threshold float64) bool {
	switch c {
	case record.GT:
		return value > threshold
	case record.GTE:
		return value >= threshold
	case record.LT:
		return value < threshold
	case record.LTE:
		return value <= threshold
	case record.EQ:
		return value == threshold
	default:
		return false
	}
}

// Run launches the driver task reading samples from in and invoking
// Check for each, until ctx is cancelled or in is closed.
func (m *Monitor) Run(ctx context.Context, in <-chan Sample) {
	m.stopDone = make(chan struct{})
	defer close(m.stopDone)

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-in:
			if !ok {
				return
			}
			m.Check(s.Key, s.Value)
		}
	}
}

// Stop waits up to 5 seconds for a running Run call to observe
// cancellation and exit.
func (m *Monitor) Stop() {
	if m.stopDone == nil {
		return
	}
	select {
	case <-m.stopDone:
	case <-time.After(stopTimeout):
		m.log.Warn("alert monitor driver task did not stop within timeout")
	}
}
