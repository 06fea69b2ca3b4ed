package sync

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gridpoint-io/meterwms/internal/remote"
	"github.com/gridpoint-io/meterwms/internal/utils"
)

// MonitorConfig tunes the connectivity monitor.
type MonitorConfig struct {
	// ProbeTimeout bounds a single probe. The probe must never hang
	// the caller; this timeout is mandatory, not advisory.
	ProbeTimeout time.Duration
	// Retry bounds re-probing before concluding offline. Transient
	// DNS/TLS hiccups are common on mobile network transitions.
	Retry utils.RetryConfig
	// Interval between background re-checks.
	Interval time.Duration
}

// Monitor determines whether the remote service is reachable, exposing
// a tri-state status so callers can avoid racing UI state while a
// check is in flight.
type Monitor struct {
	mu         sync.RWMutex
	remote     remote.Store
	status     ConnStatus
	lastStable ConnStatus
	lastAt     time.Time
	onChange   func(ConnStatus)

	probeTimeout time.Duration
	retry        utils.RetryConfig
	interval     time.Duration

	running  bool
	stopChan chan struct{}
}

// NewMonitor creates a connectivity monitor. Zero config fields fall
// back to a 5s probe timeout, 3 attempts and a 30s re-check interval.
func NewMonitor(rs remote.Store, cfg MonitorConfig) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = utils.DefaultRetry
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}

	return &Monitor{
		remote:       rs,
		status:       StatusOffline,
		lastStable:   StatusOffline,
		probeTimeout: cfg.ProbeTimeout,
		retry:        cfg.Retry,
		interval:     cfg.Interval,
	}
}

// Check probes the remote service and returns the resulting status.
// Any error, timeout or missing remote configuration means offline.
func (m *Monitor) Check(ctx context.Context) ConnStatus {
	m.setStatus(StatusChecking)

	probe := func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		defer cancel()
		return m.remote.Ping(pctx)
	}

	err := probe(ctx)
	if err != nil && !errors.Is(err, remote.ErrNotConfigured) && m.retry.Attempts > 1 {
		retryCfg := m.retry
		retryCfg.Attempts--
		err = utils.Retry(ctx, retryCfg, probe)
	}

	status := StatusOnline
	if err != nil {
		status = StatusOffline
		log.Printf("⚠️ Connectivity check failed: %v", err)
	}

	m.setStatus(status)
	return status
}

// Status returns the current tri-state without probing.
func (m *Monitor) Status() ConnStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Online reports whether the last completed check succeeded.
func (m *Monitor) Online() bool {
	return m.Status() == StatusOnline
}

// LastChecked returns when the status last changed or was confirmed.
func (m *Monitor) LastChecked() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAt
}

// SetOnChange registers a callback fired when the status flips between
// online and offline (not for the transient checking state).
func (m *Monitor) SetOnChange(fn func(ConnStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

func (m *Monitor) setStatus(status ConnStatus) {
	m.mu.Lock()
	m.status = status
	m.lastAt = time.Now()
	changed := status != StatusChecking && status != m.lastStable
	if changed {
		m.lastStable = status
	}
	fn := m.onChange
	m.mu.Unlock()

	if changed && fn != nil {
		fn(status)
	}
}

// Start launches the periodic background re-check loop. A stopped
// monitor can be started again.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	go m.checkLoop(stop)
}

// Stop halts the background loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.running = false
	close(m.stopChan)
}

func (m *Monitor) checkLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(context.Background())
		case <-stop:
			return
		}
	}
}
