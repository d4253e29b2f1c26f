package registry

import (
	"fmt"
	"sort"

	"github.com/voket/relay"
)

// Provider is a vetted, immutable catalog entry.
type Provider struct {
	ID       string
	Limits   []relay.PeriodLimit
	Priority int
}

// TaskClass is a vetted request category with its reservation size and
// resolved provider ordering.
type TaskClass struct {
	Name         string
	CostEstimate int64

	// Candidate provider IDs in dispatch order. Resolved once at
	// construction, never string-matched at call time.
	candidates []string
}

// Registry is the static catalog of providers and task classes. Construct it
// once from configuration; it never mutates afterwards.
type Registry struct {
	providers   map[string]*Provider
	taskClasses map[string]*TaskClass

	// All provider IDs ordered by global priority, then ID for determinism.
	globalOrder []string
}

// New validates the configuration and builds the catalog. Task classes that
// reference unknown providers, or providers with non-positive capacities,
// fail construction.
func New(providers relay.ProvidersConfig, taskClasses relay.TaskClassesConfig) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}

	r := &Registry{
		providers:   make(map[string]*Provider, len(providers)),
		taskClasses: make(map[string]*TaskClass, len(taskClasses)),
	}

	for id, cfg := range providers {
		if cfg == nil {
			return nil, fmt.Errorf("provider %q has no configuration", id)
		}
		if len(cfg.Limits) == 0 {
			return nil, fmt.Errorf("provider %q has no period limits", id)
		}
		seen := map[relay.PeriodKind]bool{}
		for _, limit := range cfg.Limits {
			if err := validPeriod(limit.Period); err != nil {
				return nil, fmt.Errorf("provider %q: %w", id, err)
			}
			if limit.Capacity <= 0 {
				return nil, fmt.Errorf("provider %q: capacity must be positive for period %q", id, limit.Period)
			}
			if seen[limit.Period] {
				return nil, fmt.Errorf("provider %q: duplicate period %q", id, limit.Period)
			}
			seen[limit.Period] = true
		}
		r.providers[id] = &Provider{
			ID:       id,
			Limits:   append([]relay.PeriodLimit(nil), cfg.Limits...),
			Priority: cfg.Priority,
		}
		r.globalOrder = append(r.globalOrder, id)
	}

	sort.Slice(r.globalOrder, func(i, j int) bool {
		a, b := r.providers[r.globalOrder[i]], r.providers[r.globalOrder[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})

	for name, cfg := range taskClasses {
		if cfg == nil {
			return nil, fmt.Errorf("task class %q has no configuration", name)
		}
		if cfg.CostEstimate < 0 {
			return nil, fmt.Errorf("task class %q: cost estimate must not be negative", name)
		}
		candidates := cfg.Providers
		if len(candidates) == 0 {
			candidates = r.globalOrder
		}
		for _, id := range candidates {
			if _, ok := r.providers[id]; !ok {
				return nil, fmt.Errorf("task class %q references unknown provider %q", name, id)
			}
		}
		r.taskClasses[name] = &TaskClass{
			Name:         name,
			CostEstimate: cfg.CostEstimate,
			candidates:   append([]string(nil), candidates...),
		}
	}

	return r, nil
}

func validPeriod(kind relay.PeriodKind) error {
	switch kind {
	case relay.PeriodMinute, relay.PeriodHour, relay.PeriodDay:
		return nil
	default:
		return fmt.Errorf("unknown period %q", kind)
	}
}

// Provider returns the catalog entry for an ID.
func (r *Registry) Provider(id string) (*Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Providers returns all provider IDs in global priority order.
func (r *Registry) Providers() []string {
	return append([]string(nil), r.globalOrder...)
}

// TaskClass returns the catalog entry for a task class name.
func (r *Registry) TaskClass(name string) (*TaskClass, bool) {
	tc, ok := r.taskClasses[name]
	return tc, ok
}

// Candidates returns the ordered provider IDs for a task class. The
// task-specific preference wins over the global priority order.
func (tc *TaskClass) Candidates() []string {
	return append([]string(nil), tc.candidates...)
}
