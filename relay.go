package relay

import (
	"errors"
	"fmt"
)

// Outcome classifies the terminal result of a single provider call.
type Outcome int

const (
	// OutcomeSuccess means the provider returned a usable response.
	OutcomeSuccess Outcome = iota

	// OutcomeRateLimited means the provider signaled throttling. The budget
	// stays charged and the provider enters a cooldown window.
	OutcomeRateLimited

	// OutcomeTransientError covers network failures and timeouts. The budget
	// stays charged because an attempt was made.
	OutcomeTransientError

	// OutcomeAuthError is fatal until the provider is reconfigured.
	OutcomeAuthError

	// OutcomeQuotaExceeded means the call was rejected locally before it left
	// the process. The reservation is rolled back.
	OutcomeQuotaExceeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransientError:
		return "transient_error"
	case OutcomeAuthError:
		return "auth_error"
	case OutcomeQuotaExceeded:
		return "quota_exceeded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Sentinel errors. Callers wrap provider SDK errors with these so the
// dispatcher can classify outcomes without depending on any SDK.
var (
	ErrRateLimited    = errors.New("relay: rate limited by provider")
	ErrQuotaExceeded  = errors.New("relay: quota exceeded")
	ErrAuthFailed     = errors.New("relay: authentication failed")
	ErrAllUnavailable = errors.New("relay: all providers unavailable")
)

// ClassifyError maps a caller-supplied invoke error to an outcome. A nil
// error is a success; anything without an explicit classification is treated
// as transient so budget and cooldown bookkeeping stays consistent.
func ClassifyError(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrQuotaExceeded):
		return OutcomeQuotaExceeded
	case errors.Is(err, ErrAuthFailed):
		return OutcomeAuthError
	default:
		return OutcomeTransientError
	}
}

// Retryable reports whether the error leaves room for a later retry with the
// same configuration. AuthError does not: it requires reconfiguration.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrAuthFailed)
}

// PeriodKind identifies a calendar-aligned UTC usage window.
type PeriodKind string

const (
	PeriodMinute PeriodKind = "minute"
	PeriodHour   PeriodKind = "hour"
	PeriodDay    PeriodKind = "day"
)

// PeriodLimit caps usage, in abstract cost units, within one period.
type PeriodLimit struct {
	// Period the capacity applies to. One of "minute", "hour", "day".
	Period PeriodKind `yaml:"period" json:"period"`

	// Capacity in cost units. Usage never exceeds this within the period.
	Capacity int64 `yaml:"capacity" json:"capacity"`
}

// ProviderConfig describes one interchangeable text-generation backend.
// Identity and limits are fixed for the process lifetime; only usage and
// cooldown state mutate.
type ProviderConfig struct {
	// Usage caps per period. A call must fit every window.
	Limits []PeriodLimit `yaml:"limits" json:"limits"`

	// Global priority. Lower means preferred. Task classes may override the
	// ordering entirely.
	Priority int `yaml:"priority" json:"priority"`
}

// TaskClassConfig describes a category of request.
type TaskClassConfig struct {
	// Estimated cost units reserved per call.
	CostEstimate int64 `yaml:"cost_estimate" json:"cost_estimate"`

	// Ordered provider preference. When empty, the global priority order of
	// all providers applies.
	Providers []string `yaml:"providers" json:"providers"`
}

// ProvidersConfig maps provider IDs to their configuration.
type ProvidersConfig map[string]*ProviderConfig

// TaskClassesConfig maps task class names to their configuration.
type TaskClassesConfig map[string]*TaskClassConfig
