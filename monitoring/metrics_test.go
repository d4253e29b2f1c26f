package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/voket/relay"
)

func TestMetrics(t *testing.T) {
	t.Run("Records and exposes metrics", func(t *testing.T) {
		metrics, err := NewMetrics("relay", zap.NewNop().Sugar())
		require.NoError(t, err)

		metrics.RecordCall("groq", "script", relay.OutcomeSuccess, 120*time.Millisecond)
		metrics.RecordCall("groq", "script", relay.OutcomeRateLimited, 40*time.Millisecond)
		metrics.SetBudgetUsage("groq", relay.PeriodDay, 300)
		metrics.SetCooldownState("groq", 1)
		metrics.SetPatternEntries(12)

		request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		recorder := httptest.NewRecorder()
		metrics.Handler().ServeHTTP(recorder, request)

		require.Equal(t, http.StatusOK, recorder.Code)
		body := recorder.Body.String()
		assert.Contains(t, body, `relay_calls_total{outcome="success",provider="groq",task_class="script"} 1`)
		assert.Contains(t, body, `relay_calls_total{outcome="rate_limited",provider="groq",task_class="script"} 1`)
		assert.Contains(t, body, `relay_budget_used{period="day",provider="groq"} 300`)
		assert.Contains(t, body, `relay_cooldown_state{provider="groq"} 1`)
		assert.Contains(t, body, "relay_pattern_entries 12")
	})

	t.Run("Nil metrics are safe to call", func(t *testing.T) {
		var metrics *Metrics
		metrics.RecordCall("groq", "script", relay.OutcomeSuccess, time.Second)
		metrics.SetBudgetUsage("groq", relay.PeriodDay, 1)
		metrics.SetCooldownState("groq", 0)
		metrics.SetPatternEntries(1)
	})
}
