package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/neurastack/gateway/internal/apperr"
	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/middleware"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/textutil"
)

// EstimateRequest is the cost estimation request body.
type EstimateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Tier   string `json:"tier,omitempty"`
}

// EstimateResponse is the cost estimation response body.
type EstimateResponse struct {
	Status        string              `json:"status"`
	Estimate      models.CostEstimate `json:"estimate"`
	CorrelationID string              `json:"correlationId"`
	Timestamp     time.Time           `json:"timestamp"`
}

// EstimateHandler serves per-model token and cost estimates for a prompt.
type EstimateHandler struct {
	tiers     map[string]config.TierConfig
	providers map[string]config.ProviderConfig
}

// NewEstimateHandler wires the handler.
func NewEstimateHandler(tiers map[string]config.TierConfig, providers map[string]config.ProviderConfig) *EstimateHandler {
	return &EstimateHandler{tiers: tiers, providers: providers}
}

// responseTokenFactor approximates response length relative to the prompt.
const responseTokenFactor = 3

// Handle computes the estimate from the tier's provider list and the fixed
// cost table.
func (h *EstimateHandler) Handle(c *gin.Context) {
	correlationID := middleware.CorrelationIDFrom(c)

	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Validation("prompt is required"), correlationID)
		return
	}

	tier := models.Tier(req.Tier)
	if req.Tier == "" {
		tier = models.TierFree
	}
	if !tier.Valid() {
		writeError(c, apperr.Validation(fmt.Sprintf("unknown tier %q", req.Tier)), correlationID)
		return
	}
	tierCfg, ok := h.tiers[string(tier)]
	if !ok {
		writeError(c, apperr.Validation(fmt.Sprintf("tier %q not configured", tier)), correlationID)
		return
	}

	promptTokens := textutil.EstimateTokens(req.Prompt)
	responseTokens := promptTokens * responseTokenFactor

	estimate := models.CostEstimate{Currency: "USD"}
	for _, role := range tierCfg.Providers {
		cfg, ok := h.providers[role]
		if !ok {
			continue
		}
		cost := float64(promptTokens)/1000*cfg.CostPer1KInput +
			float64(responseTokens)/1000*cfg.CostPer1KOutput
		estimate.Models = append(estimate.Models, models.ModelCostEstimate{
			Provider:        cfg.Name,
			Model:           cfg.Model,
			PromptTokens:    promptTokens,
			ResponseTokens:  responseTokens,
			EstimatedCost:   cost,
			CostPer1KInput:  cfg.CostPer1KInput,
			CostPer1KOutput: cfg.CostPer1KOutput,
		})
		estimate.TotalCost += cost
	}

	c.JSON(http.StatusOK, EstimateResponse{
		Status:        "success",
		Estimate:      estimate,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	})
}
