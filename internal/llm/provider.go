// Package llm contains the provider clients: the adapter interface to a
// single upstream model, the HTTP implementation, and the circuit breaker
// and retry helpers the orchestrator composes around them.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/neurastack/gateway/internal/models"
)

// Provider is the adapter to a single upstream model backend. Invoke never
// retries internally; retry is the orchestrator's decision. Implementations
// must honor cancellation: when ctx is done, any in-flight upstream call is
// abandoned and a timeout/cancelled ProviderError returned.
type Provider interface {
	// Role is the stable role tag for this provider's ensemble position.
	Role() string
	// Model is the underlying model identifier.
	Model() string
	// ProviderName is the upstream vendor name.
	ProviderName() string
	// Invoke sends the prompt upstream and returns a fulfilled response or a
	// *ProviderError describing the rejection.
	Invoke(ctx context.Context, prompt models.Prompt) (*models.ProviderResponse, error)
}

// ProviderError is a classified provider rejection.
type ProviderError struct {
	Role string
	Kind models.RejectKind
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s rejected (%s): %v", e.Role, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s rejected (%s)", e.Role, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RejectKindOf extracts the reject kind from an error, defaulting to transport.
func RejectKindOf(err error) models.RejectKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.RejectTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.RejectCancelled
	}
	return models.RejectTransport
}

// Rejected builds the rejected ProviderResponse for a failed invocation.
func Rejected(p Provider, err error, elapsedMS int64) *models.ProviderResponse {
	return &models.ProviderResponse{
		Role:           p.Role(),
		Provider:       p.ProviderName(),
		Model:          p.Model(),
		Status:         models.StatusRejected,
		RejectKind:     RejectKindOf(err),
		RejectReason:   err.Error(),
		ResponseTimeMS: elapsedMS,
	}
}
