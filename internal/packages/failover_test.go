package packages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skein/internal/apierrors"
)

func TestOrderedRegistriesSortsByPriorityThenHealth(t *testing.T) {
	fm := NewFailoverManager()
	regs := []RegistryConfig{
		{Name: "slow", Enabled: true, Priority: 1},
		{Name: "fast", Enabled: true, Priority: 1},
		{Name: "disabled", Enabled: false, Priority: 0},
		{Name: "low-priority", Enabled: true, Priority: 5},
	}

	require.NoError(t, fm.ExecuteWithRetry(context.Background(), "slow", 1, time.Second, func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}))
	require.NoError(t, fm.ExecuteWithRetry(context.Background(), "fast", 1, time.Second, func(context.Context) error { return nil }))

	ordered := fm.OrderedRegistries(regs)
	require.Len(t, ordered, 3, "disabled registry is excluded")
	assert.Equal(t, "fast", ordered[0].Name, "lower average response time sorts first among equal priority")
	assert.Equal(t, "low-priority", ordered[2].Name)
}

func TestExecuteWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	fm := NewFailoverManager()
	attempts := 0
	err := fm.ExecuteWithRetry(context.Background(), "flaky", 3, 50*time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, HealthHealthy, fm.Metrics("flaky").Status)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fm := NewFailoverManager()
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		err := fm.ExecuteWithRetry(context.Background(), "broken", 1, time.Millisecond, func(context.Context) error {
			return boom
		})
		require.Error(t, err)
	}

	require.True(t, fm.isOpen("broken"), "breaker should open once consecutive failures reach the threshold")

	err := fm.ExecuteWithRetry(context.Background(), "broken", 1, time.Millisecond, func(context.Context) error {
		t.Fatal("fn must not run while the breaker is open")
		return nil
	})
	var breakerErr *apierrors.CircuitBreakerOpenError
	assert.ErrorAs(t, err, &breakerErr)
}

func TestCircuitBreakerResetsAfterCooldown(t *testing.T) {
	fm := newFailoverManagerWithCooldown(20 * time.Millisecond)
	boom := errors.New("boom")

	for i := 0; i < 5; i++ {
		err := fm.ExecuteWithRetry(context.Background(), "flapping", 1, time.Millisecond, func(context.Context) error {
			return boom
		})
		require.Error(t, err)
	}
	require.True(t, fm.isOpen("flapping"))

	time.Sleep(30 * time.Millisecond)
	require.False(t, fm.isOpen("flapping"), "breaker should be half-open (not rejecting) once the cooldown elapses")

	err := fm.ExecuteWithRetry(context.Background(), "flapping", 1, time.Second, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, fm.Metrics("flapping").Status, "a success while half-open should close the breaker and reset health")
}

func TestExecuteWithFailoverFallsBackToNextRegistry(t *testing.T) {
	fm := NewFailoverManager()
	regs := []RegistryConfig{
		{Name: "primary", Enabled: true, Priority: 1},
		{Name: "secondary", Enabled: true, Priority: 2},
	}

	result, err := ExecuteWithFailover(context.Background(), fm, "test-op", regs, time.Second, func(_ context.Context, reg RegistryConfig) (string, error) {
		if reg.Name == "primary" {
			return "", errors.New("primary down")
		}
		return "ok-from-" + reg.Name, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok-from-secondary", result)
}

func TestExecuteWithFailoverReturnsUnavailableWhenAllFail(t *testing.T) {
	fm := NewFailoverManager()
	regs := []RegistryConfig{{Name: "only", Enabled: true, Priority: 1}}

	_, err := ExecuteWithFailover(context.Background(), fm, "test-op", regs, time.Second, func(_ context.Context, _ RegistryConfig) (string, error) {
		return "", errors.New("down")
	})
	var unavailable *apierrors.RegistryUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []string{"only"}, unavailable.Attempted)
}
