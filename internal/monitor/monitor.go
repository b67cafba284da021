// Package monitor tracks the health of the signal stores.
//
// Store faults never reach API callers, so the monitor is where they surface: adapters
// report softened failures to it, and scheduled probes ping each store. A store's first
// failure in a run and its later recovery are sent to the configured notifier.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammarips/overnightedge/internal/fetch"
	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/robfig/cron/v3"
)

// Notifier receives store failure and recovery notices.
type Notifier interface {
	SendError(err error) error
	SendRecovery(store string, failureCount int) error
}

// Probe is a store that can be health-checked.
type Probe interface {
	Name() string
	Ping(ctx context.Context) error
}

// Config holds the probe schedule and per-probe timeout.
type Config struct {
	ProbeSchedule string
	ProbeTimeout  time.Duration
}

// DefaultConfig returns a one-minute probe schedule with a five-second timeout.
func DefaultConfig() Config {
	return Config{
		ProbeSchedule: "@every 1m",
		ProbeTimeout:  5 * time.Second,
	}
}

// StoreHealth is a point-in-time view of one store.
type StoreHealth struct {
	Store               string    `json:"store"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalFailures       int       `json:"total_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitempty"`
}

type notice struct {
	store    string
	err      error
	failures int // failures before recovery; 0 for an error notice
}

// Monitor tracks per-store health and sends failure and recovery notices.
type Monitor struct {
	config   Config
	notifier Notifier

	mu      sync.Mutex
	stores  map[string]*StoreHealth
	probes  []Probe
	stopped bool

	notices chan notice
	cron    *cron.Cron
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates a Monitor. notifier may be nil.
func New(config Config, notifier Notifier) *Monitor {
	if config.ProbeSchedule == "" {
		config.ProbeSchedule = DefaultConfig().ProbeSchedule
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Monitor{
		config:   config,
		notifier: notifier,
		stores:   make(map[string]*StoreHealth),
		notices:  make(chan notice, 32),
		now:      time.Now,
	}
}

// AddProbe registers a store to ping on every probe run.
func (m *Monitor) AddProbe(p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, p)
	m.storeLocked(p.Name())
}

func (m *Monitor) storeLocked(name string) *StoreHealth {
	h, ok := m.stores[name]
	if !ok {
		h = &StoreHealth{Store: name, Healthy: true}
		m.stores[name] = h
	}
	return h
}

// Observe records a failure an adapter absorbed.
func (m *Monitor) Observe(store string, f *fetch.Failure) {
	if f == nil {
		return
	}
	m.record(store, f)
}

// record applies one result for store. The first failure of a run and the first success
// after failures each queue a notice.
func (m *Monitor) record(store string, err error) {
	m.mu.Lock()
	h := m.storeLocked(store)
	var n *notice
	if err != nil {
		h.ConsecutiveFailures++
		h.TotalFailures++
		h.Healthy = false
		h.LastError = err.Error()
		h.LastFailureAt = m.now()
		if h.ConsecutiveFailures == 1 {
			n = &notice{store: store, err: err}
		}
	} else {
		if h.ConsecutiveFailures > 0 {
			n = &notice{store: store, failures: h.ConsecutiveFailures}
		}
		h.ConsecutiveFailures = 0
		h.Healthy = true
		h.LastSuccessAt = m.now()
	}
	// Queue under the lock so Stop cannot close notices between the check and the send.
	queued, dropped := false, false
	if n != nil && m.notifier != nil && !m.stopped {
		select {
		case m.notices <- *n:
			queued = true
		default:
			dropped = true
		}
	}
	m.mu.Unlock()

	if err != nil {
		logger.Error("Store %s failing: %v", store, err)
	}
	if dropped {
		logger.Warn("Notification queue full, dropping notice for %s", store)
	} else if n != nil && !queued && m.notifier != nil {
		logger.Debug("Monitor stopped, not sending notice for %s", store)
	}
}

// RunProbes pings every registered store once.
func (m *Monitor) RunProbes(ctx context.Context) {
	m.mu.Lock()
	probes := append([]Probe(nil), m.probes...)
	m.mu.Unlock()

	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			err = fmt.Errorf("%s probe failed: %w", p.Name(), err)
		}
		m.record(p.Name(), err)
	}
	logger.Debug("Probed %d stores", len(probes))
}

// Start runs an initial probe, schedules the rest, and starts delivering notices.
// It returns once the schedule is installed.
func (m *Monitor) Start(ctx context.Context) error {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.config.ProbeSchedule, func() { m.RunProbes(ctx) }); err != nil {
		return fmt.Errorf("invalid probe schedule %q: %w", m.config.ProbeSchedule, err)
	}

	m.wg.Add(1)
	go m.deliver(ctx)

	m.RunProbes(ctx)
	m.cron.Start()
	logger.Info("Store monitor started (schedule: %s)", m.config.ProbeSchedule)
	return nil
}

// Stop halts the schedule and waits for in-flight probes and queued notices. Health is
// still recorded afterwards, but no further notices are sent. Stop is idempotent.
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.notices)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) deliver(ctx context.Context) {
	defer m.wg.Done()
	for n := range m.notices {
		if ctx.Err() != nil {
			continue
		}
		var err error
		if n.err != nil {
			err = m.notifier.SendError(n.err)
		} else {
			err = m.notifier.SendRecovery(n.store, n.failures)
		}
		if err != nil {
			logger.Warn("Failed to send %s notice: %v", n.store, err)
		}
	}
}

// Snapshot returns every known store's health, sorted by name.
func (m *Monitor) Snapshot() []StoreHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoreHealth, 0, len(m.stores))
	for _, h := range m.stores {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Store < out[j].Store })
	return out
}

// Healthy reports whether every known store is healthy.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.stores {
		if !h.Healthy {
			return false
		}
	}
	return true
}
