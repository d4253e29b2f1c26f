package budget

import (
	"time"

	"github.com/voket/relay"
)

// WindowState is the persisted form of one usage window.
type WindowState struct {
	Period relay.PeriodKind `json:"period"`
	Usage  int64            `json:"usage"`
	Anchor time.Time        `json:"anchor"`
	Epoch  uint64           `json:"epoch"`
}

// Snapshot captures usage counters and period anchors for every provider.
// Open reservations are not persisted; their charges already live in the
// counters.
func (t *Tracker) Snapshot() map[string][]WindowState {
	state := make(map[string][]WindowState, len(t.providers))
	for id, pb := range t.providers {
		pb.mu.Lock()
		windows := make([]WindowState, 0, len(pb.windows))
		for _, w := range pb.windows {
			windows = append(windows, WindowState{
				Period: w.period,
				Usage:  w.usage,
				Anchor: w.anchor,
				Epoch:  w.epoch,
			})
		}
		pb.mu.Unlock()
		state[id] = windows
	}
	return state
}

// Restore applies persisted counters onto the configured providers. Windows
// are matched by period; providers or periods that no longer exist in the
// configuration are dropped. Usage is clamped into [0, capacity], and a
// stale anchor is corrected by the next rollover check.
func (t *Tracker) Restore(state map[string][]WindowState) {
	for id, windows := range state {
		pb, ok := t.providers[id]
		if !ok {
			continue
		}
		pb.mu.Lock()
		for _, saved := range windows {
			for _, w := range pb.windows {
				if w.period != saved.Period {
					continue
				}
				w.usage = saved.Usage
				if w.usage < 0 {
					w.usage = 0
				}
				if w.usage > w.capacity {
					w.usage = w.capacity
				}
				if !saved.Anchor.IsZero() {
					w.anchor = saved.Anchor.UTC()
				}
				w.epoch = saved.Epoch
			}
		}
		pb.mu.Unlock()
	}
}
