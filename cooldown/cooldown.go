package cooldown

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/voket/relay"
	"github.com/voket/relay/registry"
)

// State is a provider's health state.
type State int

const (
	// StateAvailable means the provider may be dispatched to.
	StateAvailable State = iota

	// StateCooldown is a temporary window imposed after a failure signal.
	StateCooldown

	// StateQuarantined is an extended window after repeated failures, or a
	// permanent one after an authentication failure.
	StateQuarantined
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateCooldown:
		return "cooldown"
	case StateQuarantined:
		return "quarantined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config tunes the backoff and quarantine policy.
type Config struct {
	// First cooldown window. Doubles on each consecutive failure.
	BackoffBase time.Duration

	// Upper bound on a single cooldown window.
	BackoffCap time.Duration

	// Consecutive failures that trigger quarantine.
	QuarantineThreshold int

	// Quarantine window as a multiple of BackoffBase.
	QuarantineMultiplier int
}

// DefaultConfig returns the stock policy: 30s doubling to 600s, quarantine
// of 10x the base after 3 consecutive failures.
func DefaultConfig() Config {
	return Config{
		BackoffBase:          30 * time.Second,
		BackoffCap:           600 * time.Second,
		QuarantineThreshold:  3,
		QuarantineMultiplier: 10,
	}
}

type providerHealth struct {
	mu       sync.Mutex
	state    State
	until    time.Time
	failures int

	// Set on auth failure. Only Reset clears it.
	permanent bool
}

// Manager owns the per-provider health state machine. Its transitions are
// the only mutator of cooldown state.
type Manager struct {
	providers map[string]*providerHealth
	cfg       Config
	clock     clock.Clock
	logger    *zap.SugaredLogger
}

func NewManager(reg *registry.Registry, cfg Config, logger *zap.SugaredLogger) *Manager {
	return newManagerWithClock(reg, cfg, logger, clock.New())
}

func newManagerWithClock(reg *registry.Registry, cfg Config, logger *zap.SugaredLogger, clk clock.Clock) *Manager {
	m := &Manager{
		providers: make(map[string]*providerHealth),
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
	}
	for _, id := range reg.Providers() {
		m.providers[id] = &providerHealth{state: StateAvailable}
	}
	return m
}

// IsAvailable reports whether the provider may be dispatched to, applying
// any due expiry transition first.
func (m *Manager) IsAvailable(providerID string) bool {
	ph, ok := m.providers[providerID]
	if !ok {
		return false
	}

	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.expire(m.clock.Now())
	return ph.state == StateAvailable
}

// Applies the lazy time-based transitions. Leaving cooldown keeps the
// failure count; leaving quarantine gives the provider a clean slate.
func (ph *providerHealth) expire(now time.Time) {
	if ph.state == StateAvailable || ph.permanent {
		return
	}
	if now.Before(ph.until) {
		return
	}
	if ph.state == StateQuarantined {
		ph.failures = 0
	}
	ph.state = StateAvailable
	ph.until = time.Time{}
}

// RecordOutcome drives the state machine with a call outcome.
func (m *Manager) RecordOutcome(providerID string, outcome relay.Outcome) {
	ph, ok := m.providers[providerID]
	if !ok {
		return
	}

	ph.mu.Lock()
	defer ph.mu.Unlock()

	now := m.clock.Now()
	ph.expire(now)

	switch outcome {
	case relay.OutcomeSuccess:
		// Success never shortens an active window; the next natural expiry
		// returns the provider to a fully healthy state.
		ph.failures = 0

	case relay.OutcomeRateLimited, relay.OutcomeTransientError:
		if ph.permanent {
			return
		}
		ph.failures++
		if ph.failures >= m.cfg.QuarantineThreshold {
			ph.state = StateQuarantined
			ph.until = now.Add(time.Duration(m.cfg.QuarantineMultiplier) * m.cfg.BackoffBase)
			m.logger.Warnw("Provider quarantined", "provider", providerID, "failures", ph.failures, "until", ph.until)
			return
		}
		ph.state = StateCooldown
		ph.until = now.Add(m.backoff(ph.failures))
		m.logger.Infow("Provider cooling down", "provider", providerID, "failures", ph.failures, "until", ph.until)

	case relay.OutcomeAuthError:
		ph.state = StateQuarantined
		ph.permanent = true
		ph.until = time.Time{}
		m.logger.Errorw("Provider quarantined until reconfigured", "provider", providerID)

	case relay.OutcomeQuotaExceeded:
		// Locally rejected; the call never reached the provider, so no
		// health penalty.
	}
}

// Reset returns a permanently quarantined provider to service. This is the
// external reconfiguration hook for cleared auth failures.
func (m *Manager) Reset(providerID string) {
	ph, ok := m.providers[providerID]
	if !ok {
		return
	}

	ph.mu.Lock()
	defer ph.mu.Unlock()

	ph.state = StateAvailable
	ph.until = time.Time{}
	ph.failures = 0
	ph.permanent = false
}

func (m *Manager) backoff(failures int) time.Duration {
	d := m.cfg.BackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= m.cfg.BackoffCap {
			return m.cfg.BackoffCap
		}
	}
	if d > m.cfg.BackoffCap {
		return m.cfg.BackoffCap
	}
	return d
}
