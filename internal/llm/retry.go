package llm

import (
	"context"
	"math/rand"
	"time"

	"github.com/neurastack/gateway/internal/models"
)

// RetryConfig defines backoff behavior for the orchestrator's single
// zero-success retry. Providers themselves never retry.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   1,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// IsRetryableKind reports whether a reject kind warrants a retry at all.
// Cancellation and caller-side deadline misses are final.
func IsRetryableKind(kind models.RejectKind) bool {
	switch kind {
	case models.RejectCancelled:
		return false
	case models.RejectUpstream4xx, models.RejectMalformed:
		return false
	default:
		return true
	}
}

// InvokeWithRetry invokes the provider with exponential backoff between
// attempts, honoring context cancellation during the backoff wait.
func InvokeWithRetry(ctx context.Context, provider Provider, prompt models.Prompt, config RetryConfig) (*models.ProviderResponse, error) {
	delay := config.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, &ProviderError{Role: provider.Role(), Kind: models.RejectCancelled, Err: ctx.Err()}
		default:
		}

		resp, err := provider.Invoke(ctx, prompt)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryableKind(RejectKindOf(err)) || attempt >= config.MaxRetries {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, &ProviderError{Role: provider.Role(), Kind: models.RejectCancelled, Err: ctx.Err()}
		case <-time.After(addJitter(delay, config.JitterFactor)):
		}
		delay = time.Duration(float64(delay) * config.Multiplier)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
	return nil, lastErr
}

// addJitter adds randomness to a duration. math/rand is fine here; jitter
// does not need cryptographic randomness.
func addJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	jitterRange := float64(d) * factor
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange // #nosec G404
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
