package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/voket/relay"
	"github.com/voket/relay/registry"
)

// Reservation is a handle for a pending budget charge. Usage is incremented
// at Reserve time; Commit closes the record and Rollback returns the charge.
type Reservation struct {
	ID       string
	Provider string
	Cost     int64
}

// PeriodUsage is a read-only view of one usage window.
type PeriodUsage struct {
	Period   relay.PeriodKind `json:"period"`
	Capacity int64            `json:"capacity"`
	Used     int64            `json:"used"`
	ResetsAt time.Time        `json:"resets_at"`
}

type window struct {
	period   relay.PeriodKind
	capacity int64
	usage    int64

	// Start of the current period, truncated to the period boundary in UTC.
	anchor time.Time

	// Incremented every rollover so a rollback that straddles a boundary
	// never deducts from a fresh window.
	epoch uint64
}

type reservation struct {
	cost int64

	// Epoch of each window at reserve time, in window order.
	epochs []uint64
}

type providerBudget struct {
	mu      sync.Mutex
	windows []*window

	// Open reservations awaiting Commit or Rollback.
	open map[string]*reservation
}

// Tracker enforces per-provider, per-period usage caps. Each provider has its
// own lock so contention on one provider never serializes the others.
type Tracker struct {
	providers map[string]*providerBudget
	clock     clock.Clock
	logger    *zap.SugaredLogger
}

func NewTracker(reg *registry.Registry, logger *zap.SugaredLogger) *Tracker {
	return newTrackerWithClock(reg, logger, clock.New())
}

func newTrackerWithClock(reg *registry.Registry, logger *zap.SugaredLogger, clk clock.Clock) *Tracker {
	t := &Tracker{
		providers: make(map[string]*providerBudget),
		clock:     clk,
		logger:    logger,
	}
	now := clk.Now().UTC()
	for _, id := range reg.Providers() {
		provider, _ := reg.Provider(id)
		pb := &providerBudget{open: make(map[string]*reservation)}
		for _, limit := range provider.Limits {
			pb.windows = append(pb.windows, &window{
				period:   limit.Period,
				capacity: limit.Capacity,
				anchor:   truncate(now, limit.Period),
			})
		}
		t.providers[id] = pb
	}
	return t
}

// Reserve atomically checks usage+cost against every window of the provider
// and, if all fit, charges them and returns a reservation handle. A failed
// check has no side effects. A cost of 0 always succeeds.
func (t *Tracker) Reserve(providerID string, cost int64) (Reservation, bool) {
	if cost < 0 {
		return Reservation{}, false
	}
	pb, ok := t.providers[providerID]
	if !ok {
		return Reservation{}, false
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.rollover(t.clock.Now().UTC(), providerID, t.logger)

	for _, w := range pb.windows {
		if w.usage+cost > w.capacity {
			return Reservation{}, false
		}
	}

	res := &reservation{cost: cost, epochs: make([]uint64, len(pb.windows))}
	for i, w := range pb.windows {
		w.usage += cost
		res.epochs[i] = w.epoch
	}

	id := uuid.New().String()
	pb.open[id] = res
	return Reservation{ID: id, Provider: providerID, Cost: cost}, true
}

// Commit closes a reservation. Usage was already charged at Reserve time.
func (t *Tracker) Commit(res Reservation) error {
	pb, ok := t.providers[res.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", res.Provider)
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if _, ok := pb.open[res.ID]; !ok {
		return fmt.Errorf("unknown reservation %q", res.ID)
	}
	delete(pb.open, res.ID)
	return nil
}

// Rollback returns the reserved cost to every window that has not rolled over
// since the reservation was made.
func (t *Tracker) Rollback(res Reservation) error {
	pb, ok := t.providers[res.Provider]
	if !ok {
		return fmt.Errorf("unknown provider %q", res.Provider)
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	rec, ok := pb.open[res.ID]
	if !ok {
		return fmt.Errorf("unknown reservation %q", res.ID)
	}
	for i, w := range pb.windows {
		if w.epoch != rec.epochs[i] {
			continue
		}
		w.usage -= rec.cost
		if w.usage < 0 {
			w.usage = 0
		}
	}
	delete(pb.open, res.ID)
	return nil
}

// RolloverIfNeeded resets any window whose period boundary has passed. It
// runs implicitly before every Reserve check; callers may also run it on a
// cadence to keep the status surface fresh.
func (t *Tracker) RolloverIfNeeded(providerID string, now time.Time) {
	pb, ok := t.providers[providerID]
	if !ok {
		return
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.rollover(now.UTC(), providerID, t.logger)
}

func (pb *providerBudget) rollover(now time.Time, providerID string, logger *zap.SugaredLogger) {
	for _, w := range pb.windows {
		if now.Before(w.anchor.Add(periodDuration(w.period))) {
			continue
		}
		w.usage = 0
		w.anchor = truncate(now, w.period)
		w.epoch++
		if w.period == relay.PeriodDay && logger != nil {
			logger.Infow("Daily budget reset", "provider", providerID)
		}
	}
}

// Usage returns the current window states for a provider, applying any due
// rollover first.
func (t *Tracker) Usage(providerID string) ([]PeriodUsage, error) {
	pb, ok := t.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerID)
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.rollover(t.clock.Now().UTC(), providerID, t.logger)

	usages := make([]PeriodUsage, 0, len(pb.windows))
	for _, w := range pb.windows {
		usages = append(usages, PeriodUsage{
			Period:   w.period,
			Capacity: w.capacity,
			Used:     w.usage,
			ResetsAt: w.anchor.Add(periodDuration(w.period)),
		})
	}
	return usages, nil
}

func periodDuration(kind relay.PeriodKind) time.Duration {
	switch kind {
	case relay.PeriodMinute:
		return time.Minute
	case relay.PeriodHour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

func truncate(now time.Time, kind relay.PeriodKind) time.Time {
	now = now.UTC()
	switch kind {
	case relay.PeriodMinute:
		return now.Truncate(time.Minute)
	case relay.PeriodHour:
		return now.Truncate(time.Hour)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
