package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "lead-router/internal/common/errors"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, CRMConfig.Validate())

	bad := DefaultConfig()
	bad.MaxFailures = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Timeout = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxConcurrentRequests = -1
	assert.Error(t, bad.Validate())
}

func TestNew_InvalidConfigFallsBackToDefaults(t *testing.T) {
	b := New("test", Config{}, nil)
	require.NotNil(t, b)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", Config{MaxFailures: 3, Timeout: time.Minute, MaxConcurrentRequests: 1}, nil)

	remoteErr := apperrors.RemoteError("upstream down", nil)
	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), func() error { return remoteErr })
		assert.ErrorIs(t, err, remoteErr)
	}

	assert.Equal(t, StateOpen, b.State())
	assert.True(t, b.IsOpen())

	// Calls are rejected without invoking fn while open
	called := false
	err := b.Execute(context.Background(), func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeRemote))
}

func TestExecute_NotFoundDoesNotTrip(t *testing.T) {
	b := New("test", Config{MaxFailures: 2, Timeout: time.Minute, MaxConcurrentRequests: 1}, nil)

	notFound := apperrors.NotFoundError("record")
	for i := 0; i < 10; i++ {
		err := b.Execute(context.Background(), func() error { return notFound })
		assert.ErrorIs(t, err, notFound)
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestExecute_GenericErrorTrips(t *testing.T) {
	b := New("test", Config{MaxFailures: 2, Timeout: time.Minute, MaxConcurrentRequests: 1}, nil)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(context.Background(), func() error { return boom }), boom)
	}
	assert.True(t, b.IsOpen())
}

func TestExecuteWithFallback(t *testing.T) {
	b := New("test", Config{MaxFailures: 1, Timeout: time.Minute, MaxConcurrentRequests: 1}, nil)

	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })
	require.True(t, b.IsOpen())

	result, err := b.ExecuteWithFallback(context.Background(),
		func() (interface{}, error) { return "live", nil },
		func(err error) (interface{}, error) { return "cached", nil })
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestStats(t *testing.T) {
	b := New("crm", DefaultConfig(), nil)

	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	_ = b.Execute(context.Background(), func() error { return errors.New("boom") })

	stats := b.Stats()
	assert.Equal(t, "crm", stats.Name)
	assert.Equal(t, "closed", stats.State)
	assert.Equal(t, 1, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
