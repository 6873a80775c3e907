package handlers

import (
	"time"

	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/models"
)

// BuildSuccessEnvelope converts an internal result to the external success
// shape.
func BuildSuccessEnvelope(result *models.EnsembleResult, correlationID string, providers map[string]config.ProviderConfig) models.SuccessEnvelope {
	roles := make([]models.RoleView, 0, len(result.Responses))
	successful, failed := 0, 0
	for _, r := range result.Responses {
		view := models.RoleView{
			Role:       r.Role,
			Model:      r.Model,
			Provider:   r.Provider,
			Status:     r.Status,
			Confidence: models.NewConfidenceView(r.CalibratedConfidence),
		}
		if r.Fulfilled() {
			successful++
			view.Content = r.Content
			quality := r.Quality
			view.Quality = &quality
			view.Metadata = map[string]interface{}{
				"responseTimeMs": r.ResponseTimeMS,
				"promptTokens":   r.PromptTokens,
				"responseTokens": r.ResponseTokens,
			}
		} else {
			failed++
			view.Metadata = map[string]interface{}{
				"rejectKind":   string(r.RejectKind),
				"rejectReason": r.RejectReason,
			}
		}
		roles = append(roles, view)
	}

	synthesisView := models.SynthesisView{}
	if result.Synthesis != nil {
		winnerQuality := winnerComposite(result)
		synthesisView = models.SynthesisView{
			Content:      result.Synthesis.Text,
			Model:        result.Synthesis.SynthesisModel,
			Provider:     result.Synthesis.SynthesisProvider,
			Confidence:   models.NewConfidenceView(winnerConfidence(result)),
			QualityScore: winnerQuality,
		}
	}

	return models.SuccessEnvelope{
		Status: "success",
		Data: models.EnvelopeData{
			Synthesis: synthesisView,
			Roles:     roles,
			Metadata: models.EnvelopeMetadata{
				TotalRoles:         len(roles),
				SuccessfulRoles:    successful,
				FailedRoles:        failed,
				ProcessingTimeMS:   result.ProcessingTimeMS,
				Cached:             result.Cached,
				ConfidenceAnalysis: buildConfidenceAnalysis(result),
				CostEstimate:       buildCostEstimate(result, providers),
				Diagnostics:        result.Diagnostics,
			},
		},
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

func winnerConfidence(result *models.EnsembleResult) float64 {
	if result.Vote == nil {
		return 0
	}
	for _, r := range result.Responses {
		if r.Role == result.Vote.WinnerRole {
			return r.CalibratedConfidence
		}
	}
	return result.Vote.WinnerConfidence
}

func winnerComposite(result *models.EnsembleResult) float64 {
	if result.Vote == nil {
		return 0
	}
	for _, r := range result.Responses {
		if r.Role == result.Vote.WinnerRole {
			return r.Quality.Composite
		}
	}
	return 0
}

func buildConfidenceAnalysis(result *models.EnsembleResult) *models.ConfidenceAnalysis {
	byRole := make(map[string]float64)
	var sum, max float64
	min := 1.0
	n := 0
	for _, r := range result.Responses {
		if !r.Fulfilled() {
			continue
		}
		byRole[r.Role] = r.CalibratedConfidence
		sum += r.CalibratedConfidence
		if r.CalibratedConfidence > max {
			max = r.CalibratedConfidence
		}
		if r.CalibratedConfidence < min {
			min = r.CalibratedConfidence
		}
		n++
	}
	if n == 0 {
		return nil
	}
	analysis := &models.ConfidenceAnalysis{
		Mean:   sum / float64(n),
		Max:    max,
		Min:    min,
		Spread: max - min,
		ByRole: byRole,
	}
	if result.Vote != nil {
		analysis.ConsensusNote = string(result.Vote.Consensus)
	}
	return analysis
}

func buildCostEstimate(result *models.EnsembleResult, providers map[string]config.ProviderConfig) *models.CostEstimate {
	if len(providers) == 0 {
		return nil
	}
	estimate := &models.CostEstimate{Currency: "USD"}
	for _, r := range result.Responses {
		if !r.Fulfilled() {
			continue
		}
		cfg, ok := providers[r.Role]
		if !ok {
			continue
		}
		cost := float64(r.PromptTokens)/1000*cfg.CostPer1KInput +
			float64(r.ResponseTokens)/1000*cfg.CostPer1KOutput
		estimate.Models = append(estimate.Models, models.ModelCostEstimate{
			Provider:        r.Provider,
			Model:           r.Model,
			PromptTokens:    r.PromptTokens,
			ResponseTokens:  r.ResponseTokens,
			EstimatedCost:   cost,
			CostPer1KInput:  cfg.CostPer1KInput,
			CostPer1KOutput: cfg.CostPer1KOutput,
		})
		estimate.TotalCost += cost
	}
	if len(estimate.Models) == 0 {
		return nil
	}
	return estimate
}
