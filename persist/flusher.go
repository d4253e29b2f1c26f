package persist

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/voket/relay/budget"
	"github.com/voket/relay/cooldown"
	"github.com/voket/relay/pattern"
)

// Flusher snapshots the budget tracker, cooldown manager, and pattern store
// on a background cadence: a time ticker plus a call-count trigger, with a
// forced flush on orderly shutdown. Notify never blocks, so call handling is
// never held up by persistence.
type Flusher struct {
	budget   *budget.Tracker
	cooldown *cooldown.Manager
	patterns *pattern.Store
	store    Store

	interval   time.Duration
	everyCalls int64

	calls atomic.Int64
	kick  chan struct{}

	clock  clock.Clock
	logger *zap.SugaredLogger
}

func NewFlusher(tracker *budget.Tracker, manager *cooldown.Manager, patterns *pattern.Store, store Store, interval time.Duration, everyCalls int64, logger *zap.SugaredLogger) *Flusher {
	return newFlusherWithClock(tracker, manager, patterns, store, interval, everyCalls, logger, clock.New())
}

func newFlusherWithClock(tracker *budget.Tracker, manager *cooldown.Manager, patterns *pattern.Store, store Store, interval time.Duration, everyCalls int64, logger *zap.SugaredLogger, clk clock.Clock) *Flusher {
	return &Flusher{
		budget:     tracker,
		cooldown:   manager,
		patterns:   patterns,
		store:      store,
		interval:   interval,
		everyCalls: everyCalls,
		kick:       make(chan struct{}, 1),
		clock:      clk,
		logger:     logger,
	}
}

// Restore loads the persisted snapshot and applies it. A missing snapshot,
// schema-version mismatch, or corrupt blob logs the condition and leaves the
// empty defaults in place.
func (f *Flusher) Restore(ctx context.Context) {
	data, err := f.store.Load(ctx)
	if err != nil {
		f.logger.Warnw("Failed to load snapshot, starting from defaults", "error", err)
		return
	}
	if data == nil {
		f.logger.Infow("No snapshot found, starting from defaults")
		return
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		f.logger.Warnw("Corrupt snapshot, starting from defaults", "error", err)
		return
	}
	if snapshot.Version != SnapshotVersion {
		f.logger.Warnw("Snapshot version mismatch, starting from defaults", "found", snapshot.Version, "want", SnapshotVersion)
		return
	}

	f.budget.Restore(snapshot.Budget)
	f.cooldown.Restore(snapshot.Cooldown)
	f.patterns.Restore(snapshot.Patterns)
	f.logger.Infow("Restored snapshot", "saved_at", snapshot.SavedAt)
}

// Notify counts one completed call and kicks a flush once the call-count
// threshold is reached. Safe to call from any goroutine; never blocks.
func (f *Flusher) Notify() {
	if f.everyCalls <= 0 {
		return
	}
	if f.calls.Add(1) < f.everyCalls {
		return
	}
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Run flushes on the configured cadence until the context is canceled, then
// performs a final forced flush.
func (f *Flusher) Run(ctx context.Context) {
	ticker := f.clock.Ticker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Orderly shutdown still writes the latest state.
			f.Flush(context.Background())
			return
		case <-ticker.C:
			f.Flush(ctx)
		case <-f.kick:
			f.Flush(ctx)
		}
	}
}

// Flush serializes all mutable state into one versioned blob and writes it
// through the store.
func (f *Flusher) Flush(ctx context.Context) {
	f.calls.Store(0)

	snapshot := Snapshot{
		Version:  SnapshotVersion,
		SavedAt:  f.clock.Now().UTC(),
		Budget:   f.budget.Snapshot(),
		Cooldown: f.cooldown.Snapshot(),
		Patterns: f.patterns.Snapshot(),
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		f.logger.Errorw("Failed to marshal snapshot", "error", err)
		return
	}
	if err := f.store.Save(ctx, data); err != nil {
		f.logger.Errorw("Failed to save snapshot", "error", err)
		return
	}
	f.logger.Debugw("Flushed snapshot", "bytes", len(data))
}
