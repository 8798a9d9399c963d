package service

import (
	"math"
	"time"

	"github.com/YoshitsuguKoike/deepipe/internal/app/state"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

// RetryConfig holds the retry bounds and backoff parameters
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns 3 retries with 60s, 120s, 240s delays
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      60 * time.Second,
		BackoffMultiplier: 2,
	}
}

// RetryPolicy combines error classification with the stored retry counters
type RetryPolicy struct {
	store  *state.Store
	config RetryConfig
}

// NewRetryPolicy creates a new RetryPolicy instance
func NewRetryPolicy(store *state.Store, config RetryConfig) *RetryPolicy {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 1
	}
	return &RetryPolicy{store: store, config: config}
}

// Config returns the effective configuration
func (r *RetryPolicy) Config() RetryConfig {
	return r.config
}

// Classify maps err to its ErrorKind
func (r *RetryPolicy) Classify(err error) execution.ErrorKind {
	return execution.Classify(err)
}

// ShouldRetry is true only for transient errors while retry_count < MaxRetries
func (r *RetryPolicy) ShouldRetry(p int, err error) (bool, error) {
	count, cerr := r.store.RetryCount(p)
	if cerr != nil {
		return false, cerr
	}
	return r.Classify(err).IsRetryable() && count < r.config.MaxRetries, nil
}

// RetryDelay returns InitialDelay * BackoffMultiplier^retry_count(p)
func (r *RetryPolicy) RetryDelay(p int) (time.Duration, error) {
	count, err := r.store.RetryCount(p)
	if err != nil {
		return 0, err
	}
	factor := math.Pow(r.config.BackoffMultiplier, float64(count))
	return time.Duration(float64(r.config.InitialDelay) * factor), nil
}

// PrepareForRetry increments retry_count, clears errors and re-queues p as
// pending. It returns the new retry count.
func (r *RetryPolicy) PrepareForRetry(p int) (int, error) {
	count, err := r.store.IncrementRetry(p)
	if err != nil {
		return 0, err
	}
	if err := r.store.ClearErrors(p); err != nil {
		return 0, err
	}
	if err := r.store.SetPhaseStatus(p, execution.PhaseStatusPending); err != nil {
		return 0, err
	}
	return count, nil
}
