package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neurastack/gateway/internal/admission"
	"github.com/neurastack/gateway/internal/cache"
	"github.com/neurastack/gateway/internal/llm"
)

// HealthChecker reports component liveness for the health endpoint.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Components map[string]string      `json:"components"`
	Circuits   map[string]interface{} `json:"circuits,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// HealthHandler reports gateway liveness and component health.
type HealthHandler struct {
	store    HealthChecker
	cache    *cache.ResponseCache
	queue    *admission.Queue
	breakers []*llm.CircuitBreaker
}

// NewHealthHandler wires the handler. store, cache and breakers may be nil.
func NewHealthHandler(store HealthChecker, responseCache *cache.ResponseCache, queue *admission.Queue, breakers []*llm.CircuitBreaker) *HealthHandler {
	return &HealthHandler{store: store, cache: responseCache, queue: queue, breakers: breakers}
}

// Handle reports overall and per-component status. Degraded dependencies do
// not fail the check; the gateway serves without them.
func (h *HealthHandler) Handle(c *gin.Context) {
	components := map[string]string{}

	if h.store != nil {
		components["database"] = statusOf(h.store.Healthy(c.Request.Context()))
	}
	if h.cache != nil {
		components["cache"] = statusOf(h.cache.RedisHealthy())
	}
	if h.queue != nil {
		components["admission"] = statusOf(h.queue.Depth() < 100)
	}

	circuits := map[string]interface{}{}
	for _, cb := range h.breakers {
		circuits[cb.Role()] = cb.GetStats()
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		Components: components,
		Circuits:   circuits,
		Timestamp:  time.Now().UTC(),
	})
}

func statusOf(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "degraded"
}
