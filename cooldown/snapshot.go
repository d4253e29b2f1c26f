package cooldown

import "time"

// ProviderState is the persisted and reported form of one provider's health.
type ProviderState struct {
	State     State     `json:"state"`
	Until     time.Time `json:"until,omitempty"`
	Failures  int       `json:"failures"`
	Permanent bool      `json:"permanent,omitempty"`
}

// States returns the current health of every provider, applying due expiry
// transitions first.
func (m *Manager) States() map[string]ProviderState {
	states := make(map[string]ProviderState, len(m.providers))
	for id, ph := range m.providers {
		ph.mu.Lock()
		ph.expire(m.clock.Now())
		states[id] = ProviderState{
			State:     ph.state,
			Until:     ph.until,
			Failures:  ph.failures,
			Permanent: ph.permanent,
		}
		ph.mu.Unlock()
	}
	return states
}

// Snapshot captures the health state for persistence.
func (m *Manager) Snapshot() map[string]ProviderState {
	return m.States()
}

// Restore applies persisted health states. Providers no longer configured
// are dropped; expiry transitions catch up on the next read.
func (m *Manager) Restore(states map[string]ProviderState) {
	for id, saved := range states {
		ph, ok := m.providers[id]
		if !ok {
			continue
		}
		ph.mu.Lock()
		ph.state = saved.State
		ph.until = saved.Until
		ph.failures = saved.Failures
		ph.permanent = saved.Permanent
		ph.mu.Unlock()
	}
}
