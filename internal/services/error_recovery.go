package services

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Operation names with registered retry policies.
const (
	OperationHistoryLoad = "history_load"
	OperationCacheWrite  = "cache_write"
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// RetryHook is called before each retry of an operation.
type RetryHook func(operationName string, attempt int, err error)

// ErrorRecoveryManager retries operations according to named policies.
type ErrorRecoveryManager struct {
	logger        *logrus.Logger
	retryPolicies map[string]*RetryPolicy
	onRetry       RetryHook
	mu            sync.RWMutex
}

// NewErrorRecoveryManager creates a manager preloaded with DefaultRetryPolicies.
func NewErrorRecoveryManager(logger *logrus.Logger) *ErrorRecoveryManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ErrorRecoveryManager{
		logger:        logger,
		retryPolicies: DefaultRetryPolicies(),
	}
}

// RegisterRetryPolicy registers a retry policy for a specific operation
func (erm *ErrorRecoveryManager) RegisterRetryPolicy(name string, policy *RetryPolicy) {
	erm.mu.Lock()
	defer erm.mu.Unlock()
	erm.retryPolicies[name] = policy
}

// OnRetry installs a hook invoked before every retry.
func (erm *ErrorRecoveryManager) OnRetry(hook RetryHook) {
	erm.mu.Lock()
	defer erm.mu.Unlock()
	erm.onRetry = hook
}

// ExecuteWithRetry runs operation until it succeeds, the policy is exhausted,
// or ctx is done. Backoff waits are interrupted by ctx.
func (erm *ErrorRecoveryManager) ExecuteWithRetry(
	ctx context.Context,
	operationName string,
	operation func() error,
) error {
	start := time.Now()

	erm.mu.RLock()
	policy := erm.retryPolicies[operationName]
	hook := erm.onRetry
	erm.mu.RUnlock()

	if policy == nil {
		policy = &RetryPolicy{
			MaxRetries:    3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		}
	}

	delay := policy.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				erm.logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}
		lastErr = err

		if attempt == policy.MaxRetries {
			break
		}

		erm.logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     delay,
		}).Warn("Operation failed, retrying")
		if hook != nil {
			hook(operationName, attempt+1, err)
		}

		timer := time.NewTimer(calculateDelay(delay, policy))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	erm.logger.WithFields(logrus.Fields{
		"operation": operationName,
		"attempts":  policy.MaxRetries + 1,
		"duration":  time.Since(start),
		"error":     lastErr.Error(),
	}).Error("Operation failed after all retries")

	return lastErr
}

// calculateDelay adds up to ±12.5% jitter when enabled.
func calculateDelay(base time.Duration, policy *RetryPolicy) time.Duration {
	if !policy.JitterEnabled || base <= 0 {
		return base
	}
	jitter := time.Duration(float64(base) * 0.25 * (rand.Float64() - 0.5))
	return base + jitter
}

// DefaultRetryPolicies returns default retry policies for common operations
func DefaultRetryPolicies() map[string]*RetryPolicy {
	return map[string]*RetryPolicy{
		OperationHistoryLoad: {
			MaxRetries:    3,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		OperationCacheWrite: {
			MaxRetries:    2,
			InitialDelay:  25 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			BackoffFactor: 2.0,
			JitterEnabled: false,
		},
	}
}
