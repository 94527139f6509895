// Package connectivity tracks whether the remote backend is the active data source.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/domain"
)

const (
	DefaultHealthTimeout = 10 * time.Second
	DefaultInitTimeout   = 15 * time.Second
)

// ErrNotConfigured is reported when no remote backend was configured.
var ErrNotConfigured = errors.New("remote backend not configured")

// Prober checks remote backend health.
type Prober interface {
	Health(ctx context.Context) (domain.HealthReport, error)
}

// HealthResult is the outcome of one bounded health check.
type HealthResult struct {
	Reachable bool
	Detail    string
}

// Listener is called after every mode change with the previous and new state.
type Listener func(prev, next domain.ConnectivityState)

// Options configures a Manager.
type Options struct {
	Prober        Prober
	HealthTimeout time.Duration
	InitTimeout   time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// Manager owns the CONNECTING -> REMOTE | LOCAL_FALLBACK state machine.
type Manager struct {
	prober        Prober
	healthTimeout time.Duration
	initTimeout   time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mu        sync.RWMutex
	state     domain.ConnectivityState
	listeners []Listener
}

// NewManager builds a Manager in CONNECTING mode.
func NewManager(opts Options) *Manager {
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = DefaultInitTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		prober:        opts.Prober,
		healthTimeout: opts.HealthTimeout,
		initTimeout:   opts.InitTimeout,
		logger:        opts.Logger,
		now:           opts.Now,
		state:         domain.ConnectivityState{Mode: domain.ModeConnecting},
	}
}

// OnChange registers a listener. Listeners run synchronously on the goroutine
// that caused the change and must not call back into the Manager's setters.
func (m *Manager) OnChange(fn Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// CurrentMode returns the current state.
func (m *Manager) CurrentMode() domain.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Remote reports whether remote persistence is active.
func (m *Manager) Remote() bool {
	return m.CurrentMode().Mode == domain.ModeRemote
}

// Initialize runs the start-up check bounded by the init timeout.
func (m *Manager) Initialize(ctx context.Context) domain.ConnectivityState {
	if m.prober == nil {
		m.transition(domain.ModeLocalFallback, ErrNotConfigured)
		return m.CurrentMode()
	}
	m.resolve(m.HealthCheck(ctx, m.initTimeout))
	return m.CurrentMode()
}

// Recheck probes the backend on request and may move LOCAL_FALLBACK back to REMOTE.
func (m *Manager) Recheck(ctx context.Context) domain.ConnectivityState {
	if m.prober == nil {
		m.transition(domain.ModeLocalFallback, ErrNotConfigured)
		return m.CurrentMode()
	}
	m.resolve(m.HealthCheck(ctx, m.healthTimeout))
	return m.CurrentMode()
}

// HealthCheck probes the backend. A probe that outlives timeout counts as a
// failure, even if it ignores its context. A zero timeout uses the default.
func (m *Manager) HealthCheck(ctx context.Context, timeout time.Duration) HealthResult {
	if m.prober == nil {
		return HealthResult{Detail: ErrNotConfigured.Error()}
	}
	if timeout <= 0 {
		timeout = m.healthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type probe struct {
		report domain.HealthReport
		err    error
	}
	done := make(chan probe, 1)
	go func() {
		report, err := m.prober.Health(ctx)
		done <- probe{report: report, err: err}
	}()

	select {
	case p := <-done:
		if p.err != nil {
			return HealthResult{Detail: p.err.Error()}
		}
		if p.report.Status != "" && p.report.Status != "ok" {
			return HealthResult{Detail: fmt.Sprintf("backend status %s", p.report.Status)}
		}
		return HealthResult{Reachable: true, Detail: "ok"}
	case <-ctx.Done():
		return HealthResult{Detail: fmt.Sprintf("health check timed out after %s", timeout)}
	}
}

// ReportFailure records a connectivity-class failure seen by another component.
// Only REMOTE moves; the switch is one-way until Recheck.
func (m *Manager) ReportFailure(err error) {
	if m.CurrentMode().Mode != domain.ModeRemote {
		return
	}
	m.transition(domain.ModeLocalFallback, err)
}

func (m *Manager) resolve(res HealthResult) {
	if res.Reachable {
		m.transition(domain.ModeRemote, nil)
		return
	}
	m.transition(domain.ModeLocalFallback, errors.New(res.Detail))
}

func (m *Manager) transition(mode domain.ConnectivityMode, cause error) {
	m.mu.Lock()
	prev := m.state
	next := domain.ConnectivityState{Mode: mode, LastCheckAt: m.now()}
	if cause != nil {
		next.LastError = cause.Error()
	}
	m.state = next
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if prev.Mode == next.Mode {
		return
	}
	m.logger.Info("connectivity mode changed",
		zap.String("from", string(prev.Mode)),
		zap.String("mode", string(next.Mode)),
		zap.String("last_error", next.LastError))
	for _, fn := range listeners {
		fn(prev, next)
	}
}
