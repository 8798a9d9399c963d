package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

func TestRetryDelaysAreExponential(t *testing.T) {
	r := newRig(t)
	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second}

	for i, w := range want {
		d, err := r.retry.RetryDelay(3)
		require.NoError(t, err)
		assert.Equal(t, w, d, "attempt %d", i)

		count, err := r.retry.PrepareForRetry(3)
		require.NoError(t, err)
		assert.Equal(t, i+1, count)
	}
}

func TestShouldRetryStopsAtMaxRetries(t *testing.T) {
	r := newRig(t)
	timeout := errors.New("dial tcp: connection timeout")

	for i := 0; i < 3; i++ {
		ok, err := r.retry.ShouldRetry(3, timeout)
		require.NoError(t, err)
		assert.True(t, ok, "retry %d", i)
		_, err = r.retry.PrepareForRetry(3)
		require.NoError(t, err)
	}

	ok, err := r.retry.ShouldRetry(3, timeout)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestShouldRetryOnlyTransient(t *testing.T) {
	r := newRig(t)
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("503 service unavailable"), true},
		{errors.New("open out/a.json: no such file or directory"), false},
		{errors.New("prerequisite phase not approved"), false},
		{errors.New("something odd"), false},
		{execution.Transientf("quota window"), true},
	}
	for _, tt := range tests {
		ok, err := r.retry.ShouldRetry(0, tt.err)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, tt.err.Error())
	}
}

func TestPrepareForRetryResetsPhase(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.store.SetPhaseStatus(4, execution.PhaseStatusInProgress))
	require.NoError(t, r.store.AddError(4, "timeout"))
	require.NoError(t, r.store.SetPhaseStatus(4, execution.PhaseStatusFailed))

	count, err := r.retry.PrepareForRetry(4)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	status, _ := r.store.PhaseStatus(4)
	assert.Equal(t, execution.PhaseStatusPending, status)
	errs, _ := r.store.Errors(4)
	assert.Empty(t, errs)
}

func TestRetryPolicyOutOfRange(t *testing.T) {
	r := newRig(t)
	_, err := r.retry.RetryDelay(16)
	assert.True(t, execution.IsPhaseOutOfRange(err))
}
