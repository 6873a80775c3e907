package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurastack/gateway/internal/models"
)

// flakyProvider fails failFirst times, then succeeds.
type flakyProvider struct {
	role      string
	failFirst int
	failKind  models.RejectKind
	calls     int
}

func (p *flakyProvider) Role() string         { return p.role }
func (p *flakyProvider) Model() string        { return p.role + "-model" }
func (p *flakyProvider) ProviderName() string { return "test" }

func (p *flakyProvider) Invoke(ctx context.Context, prompt models.Prompt) (*models.ProviderResponse, error) {
	p.calls++
	if p.calls <= p.failFirst {
		return nil, &ProviderError{Role: p.role, Kind: p.failKind, Err: errors.New("flaky")}
	}
	return &models.ProviderResponse{Role: p.role, Status: models.StatusFulfilled, Content: "ok"}, nil
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
}

func TestInvokeWithRetry_SucceedsFirstAttempt(t *testing.T) {
	p := &flakyProvider{role: "gpt4o"}
	resp, err := InvokeWithRetry(context.Background(), p, models.Prompt{Text: "hi"}, fastRetryConfig())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 1, p.calls)
}

func TestInvokeWithRetry_RetriesTransientFailure(t *testing.T) {
	p := &flakyProvider{role: "gpt4o", failFirst: 2, failKind: models.RejectUpstream5xx}
	resp, err := InvokeWithRetry(context.Background(), p, models.Prompt{Text: "hi"}, fastRetryConfig())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, p.calls)
}

func TestInvokeWithRetry_ExhaustsBudget(t *testing.T) {
	p := &flakyProvider{role: "gpt4o", failFirst: 10, failKind: models.RejectTimeout}
	_, err := InvokeWithRetry(context.Background(), p, models.Prompt{Text: "hi"}, fastRetryConfig())
	require.Error(t, err)
	assert.Equal(t, 3, p.calls)
}

func TestInvokeWithRetry_ClientErrorsAreFinal(t *testing.T) {
	for _, kind := range []models.RejectKind{models.RejectUpstream4xx, models.RejectMalformed, models.RejectCancelled} {
		t.Run(string(kind), func(t *testing.T) {
			p := &flakyProvider{role: "gpt4o", failFirst: 10, failKind: kind}
			_, err := InvokeWithRetry(context.Background(), p, models.Prompt{Text: "hi"}, fastRetryConfig())
			require.Error(t, err)
			assert.Equal(t, 1, p.calls)
		})
	}
}

func TestInvokeWithRetry_CancelledContextShortCircuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &flakyProvider{role: "gpt4o"}
	_, err := InvokeWithRetry(ctx, p, models.Prompt{Text: "hi"}, fastRetryConfig())
	require.Error(t, err)
	assert.Equal(t, models.RejectCancelled, RejectKindOf(err))
	assert.Equal(t, 0, p.calls)
}

func TestIsRetryableKind(t *testing.T) {
	assert.True(t, IsRetryableKind(models.RejectTimeout))
	assert.True(t, IsRetryableKind(models.RejectUpstream5xx))
	assert.True(t, IsRetryableKind(models.RejectQuota))
	assert.True(t, IsRetryableKind(models.RejectTransport))
	assert.False(t, IsRetryableKind(models.RejectCancelled))
	assert.False(t, IsRetryableKind(models.RejectUpstream4xx))
	assert.False(t, IsRetryableKind(models.RejectMalformed))
}

func TestAddJitter_Bounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := addJitter(base, 0.1)
		assert.GreaterOrEqual(t, d, 90*time.Millisecond)
		assert.LessOrEqual(t, d, 110*time.Millisecond)
	}
	assert.Equal(t, base, addJitter(base, 0))
}

func TestRejectKindOf(t *testing.T) {
	assert.Equal(t, models.RejectQuota, RejectKindOf(&ProviderError{Kind: models.RejectQuota}))
	assert.Equal(t, models.RejectTimeout, RejectKindOf(context.DeadlineExceeded))
	assert.Equal(t, models.RejectCancelled, RejectKindOf(context.Canceled))
	assert.Equal(t, models.RejectTransport, RejectKindOf(errors.New("boom")))
}

func TestRejected_BuildsRejectedResponse(t *testing.T) {
	p := &flakyProvider{role: "gemini"}
	err := &ProviderError{Role: "gemini", Kind: models.RejectTimeout, Err: errors.New("deadline")}

	resp := Rejected(p, err, 120)
	assert.Equal(t, "gemini", resp.Role)
	assert.Equal(t, models.StatusRejected, resp.Status)
	assert.Equal(t, models.RejectTimeout, resp.RejectKind)
	assert.Equal(t, int64(120), resp.ResponseTimeMS)
	assert.NotEmpty(t, resp.RejectReason)
}
