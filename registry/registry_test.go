package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voket/relay"
)

func validProviders() relay.ProvidersConfig {
	return relay.ProvidersConfig{
		"groq": {
			Priority: 0,
			Limits:   []relay.PeriodLimit{{Period: relay.PeriodDay, Capacity: 100_000}},
		},
		"gemini": {
			Priority: 1,
			Limits:   []relay.PeriodLimit{{Period: relay.PeriodMinute, Capacity: 400}},
		},
	}
}

func TestNew(t *testing.T) {
	t.Run("Builds a valid catalog", func(t *testing.T) {
		reg, err := New(validProviders(), relay.TaskClassesConfig{
			"script": {CostEstimate: 300},
		})
		require.NoError(t, err)

		provider, ok := reg.Provider("groq")
		require.True(t, ok)
		assert.Equal(t, 0, provider.Priority)

		_, ok = reg.Provider("unknown")
		assert.False(t, ok)
	})

	t.Run("Requires at least one provider", func(t *testing.T) {
		_, err := New(relay.ProvidersConfig{}, nil)
		assert.Error(t, err)
	})

	t.Run("Requires period limits", func(t *testing.T) {
		_, err := New(relay.ProvidersConfig{
			"groq": {},
		}, nil)
		assert.Error(t, err)
	})

	t.Run("Rejects non-positive capacity", func(t *testing.T) {
		_, err := New(relay.ProvidersConfig{
			"groq": {Limits: []relay.PeriodLimit{{Period: relay.PeriodDay, Capacity: 0}}},
		}, nil)
		assert.Error(t, err)
	})

	t.Run("Rejects unknown periods", func(t *testing.T) {
		_, err := New(relay.ProvidersConfig{
			"groq": {Limits: []relay.PeriodLimit{{Period: "week", Capacity: 100}}},
		}, nil)
		assert.Error(t, err)
	})

	t.Run("Rejects duplicate periods", func(t *testing.T) {
		_, err := New(relay.ProvidersConfig{
			"groq": {Limits: []relay.PeriodLimit{
				{Period: relay.PeriodDay, Capacity: 100},
				{Period: relay.PeriodDay, Capacity: 200},
			}},
		}, nil)
		assert.Error(t, err)
	})

	t.Run("Rejects task classes referencing unknown providers", func(t *testing.T) {
		_, err := New(validProviders(), relay.TaskClassesConfig{
			"script": {CostEstimate: 300, Providers: []string{"groq", "missing"}},
		})
		assert.Error(t, err)
	})

	t.Run("Rejects negative cost estimates", func(t *testing.T) {
		_, err := New(validProviders(), relay.TaskClassesConfig{
			"script": {CostEstimate: -1},
		})
		assert.Error(t, err)
	})
}

func TestOrdering(t *testing.T) {
	t.Run("Providers are ordered by priority then ID", func(t *testing.T) {
		reg, err := New(relay.ProvidersConfig{
			"zeta":  {Priority: 0, Limits: []relay.PeriodLimit{{Period: relay.PeriodDay, Capacity: 1}}},
			"alpha": {Priority: 1, Limits: []relay.PeriodLimit{{Period: relay.PeriodDay, Capacity: 1}}},
			"beta":  {Priority: 1, Limits: []relay.PeriodLimit{{Period: relay.PeriodDay, Capacity: 1}}},
		}, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"zeta", "alpha", "beta"}, reg.Providers())
	})

	t.Run("Task class without preference uses the global order", func(t *testing.T) {
		reg, err := New(validProviders(), relay.TaskClassesConfig{
			"script": {CostEstimate: 300},
		})
		require.NoError(t, err)

		tc, ok := reg.TaskClass("script")
		require.True(t, ok)
		assert.Equal(t, []string{"groq", "gemini"}, tc.Candidates())
	})

	t.Run("Task class preference overrides the global order", func(t *testing.T) {
		reg, err := New(validProviders(), relay.TaskClassesConfig{
			"title": {CostEstimate: 50, Providers: []string{"gemini", "groq"}},
		})
		require.NoError(t, err)

		tc, ok := reg.TaskClass("title")
		require.True(t, ok)
		assert.Equal(t, []string{"gemini", "groq"}, tc.Candidates())
	})

	t.Run("Candidates returns a copy", func(t *testing.T) {
		reg, err := New(validProviders(), relay.TaskClassesConfig{
			"script": {CostEstimate: 300},
		})
		require.NoError(t, err)

		tc, _ := reg.TaskClass("script")
		first := tc.Candidates()
		first[0] = "mutated"
		assert.Equal(t, []string{"groq", "gemini"}, tc.Candidates())
	})
}
