package packages

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"skein/internal/apierrors"
	"skein/pkg/logging"
)

const failoverSubsystem = "FailoverManager"

const (
	breakerOpenThreshold = 5
	breakerCooldown      = 300 * time.Second
	responseWindow       = 20
)

// registryBreaker pairs a gobreaker instance with the HealthMetrics the rest
// of the manager reports on; gobreaker owns open/half-open/closed state,
// HealthMetrics owns the human-facing status tier.
type registryBreaker struct {
	mu      sync.Mutex
	metrics HealthMetrics
	breaker *gobreaker.CircuitBreaker[any]
}

// FailoverManager tracks per-registry health and routes operations away
// from registries that are failing, following §4.7: health tracking,
// circuit breaking and priority ordering.
type FailoverManager struct {
	mu       sync.Mutex
	state    map[string]*registryBreaker
	cooldown time.Duration
}

func NewFailoverManager() *FailoverManager {
	return &FailoverManager{state: make(map[string]*registryBreaker), cooldown: breakerCooldown}
}

// newFailoverManagerWithCooldown is used by tests that need the breaker to
// reach its half-open state without waiting out the production cooldown.
func newFailoverManagerWithCooldown(cooldown time.Duration) *FailoverManager {
	return &FailoverManager{state: make(map[string]*registryBreaker), cooldown: cooldown}
}

func (f *FailoverManager) entry(name string) *registryBreaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	rb, ok := f.state[name]
	if ok {
		return rb
	}
	rb = &registryBreaker{metrics: HealthMetrics{Status: HealthHealthy}}
	rb.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     f.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerOpenThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if to == gobreaker.StateClosed {
				rb.mu.Lock()
				rb.metrics = HealthMetrics{Status: HealthHealthy}
				rb.mu.Unlock()
				logging.Info(failoverSubsystem, "registry %s breaker reset, re-entering rotation", name)
			}
		},
	})
	f.state[name] = rb
	return rb
}

// Metrics returns a snapshot of one registry's health record.
func (f *FailoverManager) Metrics(name string) HealthMetrics {
	rb := f.entry(name)
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.metrics
}

func (f *FailoverManager) recordSuccess(rb *registryBreaker, elapsed time.Duration) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.metrics.LastSuccess = time.Now()
	rb.metrics.ConsecutiveFailures = 0
	rb.metrics.ResponseTimes = append(rb.metrics.ResponseTimes, elapsed)
	if len(rb.metrics.ResponseTimes) > responseWindow {
		rb.metrics.ResponseTimes = rb.metrics.ResponseTimes[len(rb.metrics.ResponseTimes)-responseWindow:]
	}
	avg := rb.metrics.avgResponseTime()
	switch {
	case avg < 2*time.Second:
		rb.metrics.Status = HealthHealthy
	case avg < 10*time.Second:
		rb.metrics.Status = HealthDegraded
	default:
		rb.metrics.Status = HealthFailing
	}
}

func (f *FailoverManager) recordFailure(rb *registryBreaker, err error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.metrics.LastFailure = time.Now()
	rb.metrics.ConsecutiveFailures++
	rb.metrics.RecentErrors = append(rb.metrics.RecentErrors, err.Error())
	if len(rb.metrics.RecentErrors) > responseWindow {
		rb.metrics.RecentErrors = rb.metrics.RecentErrors[len(rb.metrics.RecentErrors)-responseWindow:]
	}
	switch {
	case rb.metrics.ConsecutiveFailures >= 5:
		rb.metrics.Status = HealthUnavailable
	case rb.metrics.ConsecutiveFailures >= 3:
		rb.metrics.Status = HealthFailing
	case rb.metrics.ConsecutiveFailures >= 1:
		rb.metrics.Status = HealthDegraded
	}
}

// isOpen reports whether this registry's breaker currently rejects calls.
func (f *FailoverManager) isOpen(name string) bool {
	rb := f.entry(name)
	return rb.breaker.State() == gobreaker.StateOpen
}

// OrderedRegistries returns enabled, non-open-breaker registries sorted by
// (priority asc, consecutive_failures asc, avg_response_time desc-priority
// meaning faster registries sort first).
func (f *FailoverManager) OrderedRegistries(regs []RegistryConfig) []RegistryConfig {
	var out []RegistryConfig
	for _, r := range regs {
		if !r.Enabled || f.isOpen(r.Name) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		mi, mj := f.Metrics(out[i].Name), f.Metrics(out[j].Name)
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if mi.ConsecutiveFailures != mj.ConsecutiveFailures {
			return mi.ConsecutiveFailures < mj.ConsecutiveFailures
		}
		return mi.avgResponseTime() < mj.avgResponseTime()
	})
	return out
}

// ExecuteWithRetry retries fn against a single named registry, independent
// of failover: up to maxRetries attempts with exponential backoff capped at
// maxDelay. Every attempt's outcome is recorded against that registry's
// health metrics and circuit breaker.
func (f *FailoverManager) ExecuteWithRetry(ctx context.Context, registry string, maxRetries int, maxDelay time.Duration, fn func(context.Context) error) error {
	rb := f.entry(registry)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = maxDelay

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		start := time.Now()
		_, err := rb.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		elapsed := time.Since(start)

		if err == nil {
			f.recordSuccess(rb, elapsed)
			return nil
		}
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return &apierrors.CircuitBreakerOpenError{Registry: registry}
		}
		f.recordFailure(rb, err)
		lastErr = err

		if attempt == maxRetries {
			break
		}
		delay := bo.NextBackOff()
		if delay > maxDelay {
			delay = maxDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("registry %s: %d attempts failed: %w", registry, maxRetries, lastErr)
}

// ExecuteWithFailover tries each ordered registry in turn, wrapping each
// attempt in a per-operation timeout. The first success wins; if every
// registry fails, RegistryUnavailableError lists every name attempted and
// carries the last error observed.
func ExecuteWithFailover[T any](ctx context.Context, f *FailoverManager, operation string, regs []RegistryConfig, timeout time.Duration, fn func(context.Context, RegistryConfig) (T, error)) (T, error) {
	var zero T
	ordered := f.OrderedRegistries(regs)
	var attempted []string
	var lastErr error

	for _, reg := range ordered {
		attempted = append(attempted, reg.Name)
		rb := f.entry(reg.Name)

		opCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		result, err := rb.breaker.Execute(func() (any, error) {
			return fn(opCtx, reg)
		})
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			f.recordSuccess(rb, elapsed)
			return result.(T), nil
		}
		if err != gobreaker.ErrOpenState && err != gobreaker.ErrTooManyRequests {
			f.recordFailure(rb, err)
		}
		lastErr = err
		logging.Warn(failoverSubsystem, "registry %s failed: %v", reg.Name, err)
	}

	return zero, &apierrors.RegistryUnavailableError{Operation: operation, Attempted: attempted, LastErr: lastErr}
}
