// Package handlers contains the gin HTTP handlers: the ensemble endpoint,
// cost estimation and health.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/admission"
	"github.com/neurastack/gateway/internal/apperr"
	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/ensemble"
	"github.com/neurastack/gateway/internal/middleware"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/observability"
)

// EnsembleHandler serves the main ensemble endpoint.
type EnsembleHandler struct {
	orchestrator *ensemble.Orchestrator
	queue        *admission.Queue
	tiers        map[string]config.TierConfig
	providers    map[string]config.ProviderConfig
	metrics      *observability.Collector
	logger       *logrus.Logger
}

// NewEnsembleHandler wires the handler.
func NewEnsembleHandler(orchestrator *ensemble.Orchestrator, queue *admission.Queue, tiers map[string]config.TierConfig, providers map[string]config.ProviderConfig, metrics *observability.Collector, logger *logrus.Logger) *EnsembleHandler {
	return &EnsembleHandler{
		orchestrator: orchestrator,
		queue:        queue,
		tiers:        tiers,
		providers:    providers,
		metrics:      metrics,
		logger:       logger,
	}
}

// Handle runs one ensemble request end to end: validate, admit, process,
// envelope.
func (h *EnsembleHandler) Handle(c *gin.Context) {
	correlationID := middleware.CorrelationIDFrom(c)

	var req models.EnsembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("prompt is required"), correlationID)
		return
	}
	if req.CorrelationID != "" {
		correlationID = req.CorrelationID
		c.Header(middleware.HeaderCorrelationID, correlationID)
	}

	prompt, appErr := h.buildPrompt(c, req, correlationID)
	if appErr != nil {
		writeError(c, appErr, correlationID)
		return
	}

	ctx, cancel := context.WithDeadline(c.Request.Context(), prompt.Deadline)
	defer cancel()

	started := time.Now()
	release, err := h.queue.Admit(ctx, prompt.Tier, correlationID)
	if err != nil {
		writeError(c, admissionError(err), correlationID)
		return
	}
	defer func() { release(time.Since(started)) }()

	result, err := h.orchestrator.Process(ctx, prompt)
	if err != nil {
		writeError(c, apperr.FromError(err), correlationID)
		return
	}

	if h.metrics != nil {
		h.metrics.EnsembleDuration.WithLabelValues(string(prompt.Tier)).Observe(time.Since(started).Seconds())
	}
	c.JSON(http.StatusOK, BuildSuccessEnvelope(result, correlationID, h.providers))
}

// buildPrompt validates the request and derives the internal prompt.
func (h *EnsembleHandler) buildPrompt(c *gin.Context, req models.EnsembleRequest, correlationID string) (models.Prompt, *apperr.Error) {
	tier := models.Tier(req.Tier)
	if req.Tier == "" {
		tier = models.TierFree
	}
	if !tier.Valid() {
		return models.Prompt{}, apperr.Validation(fmt.Sprintf("unknown tier %q", req.Tier))
	}

	tierCfg, ok := h.tiers[string(tier)]
	if !ok {
		return models.Prompt{}, apperr.Validation(fmt.Sprintf("tier %q not configured", tier))
	}
	if len(req.Prompt) == 0 {
		return models.Prompt{}, apperr.Validation("prompt is required")
	}
	if tierCfg.MaxPromptLength > 0 && len(req.Prompt) > tierCfg.MaxPromptLength {
		return models.Prompt{}, apperr.Validation(fmt.Sprintf("prompt exceeds tier limit of %d characters", tierCfg.MaxPromptLength))
	}

	userID := req.UserID
	if header := middleware.UserIDFrom(c); header != "" {
		userID = header
	}
	if userID == "" {
		userID = "anonymous"
	}

	return models.Prompt{
		Text:          req.Prompt,
		SessionID:     req.SessionID,
		UserID:        userID,
		Tier:          tier,
		CorrelationID: correlationID,
		Deadline:      time.Now().Add(tierCfg.RequestDeadline),
	}, nil
}

func admissionError(err error) *apperr.Error {
	switch {
	case errors.Is(err, admission.ErrQueueFull):
		return apperr.AdmissionRefused("server busy, retry later")
	case errors.Is(err, admission.ErrDeadlineBeforeAdmission):
		return apperr.AdmissionRefused("deadline elapsed before admission")
	default:
		return apperr.FromError(err)
	}
}

// writeError renders the error envelope with the Retry-After header on
// 429/503.
func writeError(c *gin.Context, appErr *apperr.Error, correlationID string) {
	if appErr.Status == http.StatusTooManyRequests || appErr.Status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "5")
	}
	c.JSON(appErr.Status, models.ErrorEnvelope{
		Status:        "error",
		Message:       appErr.Message,
		Retryable:     appErr.Retryable,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	})
}
