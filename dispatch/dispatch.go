package dispatch

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/voket/relay"
	"github.com/voket/relay/budget"
	"github.com/voket/relay/cooldown"
	"github.com/voket/relay/monitoring"
	"github.com/voket/relay/registry"
)

// Invoke performs the actual network call against the chosen provider. It is
// caller-supplied so the core never depends on any provider SDK. Errors
// should be wrapped with the relay sentinel errors for classification;
// anything else is treated as transient.
type Invoke func(ctx context.Context, providerID string) error

// Result reports which provider served a call and how it ended.
type Result struct {
	Provider string
	Outcome  relay.Outcome
}

// Error wraps a failed dispatch with routing context. It unwraps to
// relay.ErrAllUnavailable and, when a provider was actually attempted, to
// the last provider error so callers can tell retryable from fatal.
type Error struct {
	TaskClass string
	Attempts  int
	LastErr   error
}

func (e *Error) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("dispatch: task=%s attempts=%d: no eligible provider", e.TaskClass, e.Attempts)
	}
	return fmt.Sprintf("dispatch: task=%s attempts=%d: %v", e.TaskClass, e.Attempts, e.LastErr)
}

func (e *Error) Unwrap() []error {
	if e.LastErr == nil {
		return []error{relay.ErrAllUnavailable}
	}
	return []error{relay.ErrAllUnavailable, e.LastErr}
}

// Dispatcher composes the registry, budget tracker, and cooldown manager to
// pick a provider, run the call, and record the outcome. Candidate selection
// is a pure function of the ordered list; identical state always picks the
// same provider.
type Dispatcher struct {
	registry *registry.Registry
	budget   *budget.Tracker
	cooldown *cooldown.Manager
	metrics  *monitoring.Metrics
	clock    clock.Clock
	logger   *zap.SugaredLogger

	// Pokes the persistence flusher after every terminal outcome. May be nil.
	notify func()
}

type Option func(*Dispatcher)

// WithMetrics attaches a metrics sink.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithNotify registers a hook invoked after every terminal outcome, used to
// drive call-count-triggered persistence flushes.
func WithNotify(notify func()) Option {
	return func(d *Dispatcher) { d.notify = notify }
}

func withClock(clk clock.Clock) Option {
	return func(d *Dispatcher) { d.clock = clk }
}

func NewDispatcher(reg *registry.Registry, tracker *budget.Tracker, manager *cooldown.Manager, logger *zap.SugaredLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		budget:   tracker,
		cooldown: manager,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RequestCall walks the task class's candidate providers in order, reserves
// budget on the first available one, runs invoke outside any lock, and
// settles budget and cooldown state from the outcome. The candidate list is
// walked once; waiting out cooldowns is the caller's responsibility.
func (d *Dispatcher) RequestCall(ctx context.Context, taskClass string, invoke Invoke) (Result, error) {
	tc, ok := d.registry.TaskClass(taskClass)
	if !ok {
		return Result{}, fmt.Errorf("dispatch: unknown task class %q", taskClass)
	}

	attempts := 0
	var lastErr error

	for _, providerID := range tc.Candidates() {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		d.budget.RolloverIfNeeded(providerID, d.clock.Now())

		if !d.cooldown.IsAvailable(providerID) {
			d.logger.Debugw("Skipping provider in cooldown", "provider", providerID, "task", taskClass)
			continue
		}

		reservation, ok := d.budget.Reserve(providerID, tc.CostEstimate)
		if !ok {
			d.logger.Infow("Insufficient budget", "provider", providerID, "task", taskClass, "cost", tc.CostEstimate)
			continue
		}

		attempts++
		start := d.clock.Now()
		err := invoke(ctx, providerID)
		outcome := relay.ClassifyError(err)

		d.settle(reservation, outcome)
		d.cooldown.RecordOutcome(providerID, outcome)
		d.metrics.RecordCall(providerID, taskClass, outcome, d.clock.Since(start))
		if d.notify != nil {
			d.notify()
		}

		if outcome == relay.OutcomeSuccess {
			return Result{Provider: providerID, Outcome: outcome}, nil
		}

		d.logger.Warnw("Provider call failed", "provider", providerID, "task", taskClass, "outcome", outcome.String(), "error", err)
		lastErr = err
	}

	return Result{}, &Error{TaskClass: taskClass, Attempts: attempts, LastErr: lastErr}
}

// settle closes the reservation. Budget stays charged for any call that left
// the process; only locally rejected calls roll back.
func (d *Dispatcher) settle(reservation budget.Reservation, outcome relay.Outcome) {
	var err error
	if outcome == relay.OutcomeQuotaExceeded {
		err = d.budget.Rollback(reservation)
	} else {
		err = d.budget.Commit(reservation)
	}
	if err != nil {
		d.logger.Errorw("Failed to settle reservation", "reservation", reservation.ID, "provider", reservation.Provider, "error", err)
	}
}
