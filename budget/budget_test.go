package budget

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voket/relay"
	"github.com/voket/relay/registry"
)

func testRegistry(t *testing.T, limits map[string][]relay.PeriodLimit) *registry.Registry {
	t.Helper()
	providers := relay.ProvidersConfig{}
	priority := 0
	for id, l := range limits {
		providers[id] = &relay.ProviderConfig{Limits: l, Priority: priority}
		priority++
	}
	reg, err := registry.New(providers, relay.TaskClassesConfig{})
	require.NoError(t, err)
	return reg
}

func newTestTracker(t *testing.T, limits map[string][]relay.PeriodLimit) (*Tracker, *clock.Mock) {
	t.Helper()
	mockClock := clock.NewMock()
	tracker := newTrackerWithClock(testRegistry(t, limits), zap.NewNop().Sugar(), mockClock)
	return tracker, mockClock
}

func TestTracker(t *testing.T) {
	dayLimit := map[string][]relay.PeriodLimit{
		"groq": {{Period: relay.PeriodDay, Capacity: 100}},
	}

	t.Run("Reserve within capacity", func(t *testing.T) {
		tracker, _ := newTestTracker(t, dayLimit)

		res, ok := tracker.Reserve("groq", 60)
		assert.True(t, ok)
		assert.Equal(t, "groq", res.Provider)
		assert.Equal(t, int64(60), res.Cost)

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(60), usage[0].Used)
	})

	t.Run("Reserve over capacity has no side effects", func(t *testing.T) {
		tracker, _ := newTestTracker(t, dayLimit)

		_, ok := tracker.Reserve("groq", 95)
		require.True(t, ok)

		_, ok = tracker.Reserve("groq", 10)
		assert.False(t, ok)

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(95), usage[0].Used)
	})

	t.Run("Zero cost always succeeds", func(t *testing.T) {
		tracker, _ := newTestTracker(t, dayLimit)

		_, ok := tracker.Reserve("groq", 100)
		require.True(t, ok)

		_, ok = tracker.Reserve("groq", 0)
		assert.True(t, ok)
	})

	t.Run("Negative cost fails", func(t *testing.T) {
		tracker, _ := newTestTracker(t, dayLimit)

		_, ok := tracker.Reserve("groq", -1)
		assert.False(t, ok)
	})

	t.Run("Unknown provider fails", func(t *testing.T) {
		tracker, _ := newTestTracker(t, dayLimit)

		_, ok := tracker.Reserve("unknown", 1)
		assert.False(t, ok)
	})

	t.Run("Commit keeps usage, Rollback returns it", func(t *testing.T) {
		tracker, _ := newTestTracker(t, dayLimit)

		committed, ok := tracker.Reserve("groq", 30)
		require.True(t, ok)
		require.NoError(t, tracker.Commit(committed))

		rolledBack, ok := tracker.Reserve("groq", 20)
		require.True(t, ok)
		require.NoError(t, tracker.Rollback(rolledBack))

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(30), usage[0].Used)
	})

	t.Run("Settling twice fails", func(t *testing.T) {
		tracker, _ := newTestTracker(t, dayLimit)

		res, ok := tracker.Reserve("groq", 10)
		require.True(t, ok)
		require.NoError(t, tracker.Commit(res))
		assert.Error(t, tracker.Commit(res))
		assert.Error(t, tracker.Rollback(res))
	})

	t.Run("Rollover resets usage to exactly zero", func(t *testing.T) {
		tracker, mockClock := newTestTracker(t, dayLimit)

		_, ok := tracker.Reserve("groq", 100)
		require.True(t, ok)

		_, ok = tracker.Reserve("groq", 1)
		require.False(t, ok)

		mockClock.Add(24 * time.Hour)

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(0), usage[0].Used)

		_, ok = tracker.Reserve("groq", 100)
		assert.True(t, ok)
	})

	t.Run("Rollback after rollover does not touch the fresh window", func(t *testing.T) {
		tracker, mockClock := newTestTracker(t, dayLimit)

		res, ok := tracker.Reserve("groq", 40)
		require.True(t, ok)

		mockClock.Add(24 * time.Hour)
		tracker.RolloverIfNeeded("groq", mockClock.Now())

		_, ok = tracker.Reserve("groq", 25)
		require.True(t, ok)

		require.NoError(t, tracker.Rollback(res))

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(25), usage[0].Used)
	})

	t.Run("All windows must fit", func(t *testing.T) {
		tracker, mockClock := newTestTracker(t, map[string][]relay.PeriodLimit{
			"groq": {
				{Period: relay.PeriodDay, Capacity: 1000},
				{Period: relay.PeriodMinute, Capacity: 10},
			},
		})

		_, ok := tracker.Reserve("groq", 10)
		require.True(t, ok)

		// Day window has room, minute window does not.
		_, ok = tracker.Reserve("groq", 1)
		assert.False(t, ok)

		mockClock.Add(time.Minute)

		_, ok = tracker.Reserve("groq", 1)
		assert.True(t, ok)

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(11), usage[0].Used)
		assert.Equal(t, int64(1), usage[1].Used)
	})

	t.Run("Concurrent reserves never exceed capacity", func(t *testing.T) {
		tracker, _ := newTestTracker(t, map[string][]relay.PeriodLimit{
			"groq": {{Period: relay.PeriodDay, Capacity: 50}},
		})

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := tracker.Reserve("groq", 1); ok {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 50, succeeded)

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(50), usage[0].Used)
	})
}

func TestTrackerSnapshot(t *testing.T) {
	limits := map[string][]relay.PeriodLimit{
		"groq": {
			{Period: relay.PeriodDay, Capacity: 100},
			{Period: relay.PeriodMinute, Capacity: 10},
		},
	}

	t.Run("Round trip", func(t *testing.T) {
		tracker, mockClock := newTestTracker(t, limits)

		res, ok := tracker.Reserve("groq", 7)
		require.True(t, ok)
		require.NoError(t, tracker.Commit(res))

		state := tracker.Snapshot()

		restored := newTrackerWithClock(testRegistry(t, limits), zap.NewNop().Sugar(), mockClock)
		restored.Restore(state)

		assert.Equal(t, state, restored.Snapshot())
	})

	t.Run("Restore clamps usage into capacity", func(t *testing.T) {
		tracker, _ := newTestTracker(t, limits)

		tracker.Restore(map[string][]WindowState{
			"groq": {{Period: relay.PeriodDay, Usage: 500}},
		})

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(100), usage[0].Used)
	})

	t.Run("Restore drops unknown providers", func(t *testing.T) {
		tracker, _ := newTestTracker(t, limits)

		tracker.Restore(map[string][]WindowState{
			"gone": {{Period: relay.PeriodDay, Usage: 10}},
		})

		_, err := tracker.Usage("gone")
		assert.Error(t, err)
	})

	t.Run("Stale anchor rolls over on restore", func(t *testing.T) {
		tracker, mockClock := newTestTracker(t, limits)

		tracker.Restore(map[string][]WindowState{
			"groq": {{
				Period: relay.PeriodDay,
				Usage:  80,
				Anchor: mockClock.Now().UTC().Add(-48 * time.Hour),
			}},
		})

		usage, err := tracker.Usage("groq")
		require.NoError(t, err)
		assert.Equal(t, int64(0), usage[0].Used)
	})
}
