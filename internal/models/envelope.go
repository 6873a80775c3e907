package models

import "time"

// EnsembleRequest is the JSON request body accepted by the gateway.
type EnsembleRequest struct {
	Prompt        string `json:"prompt" binding:"required"`
	SessionID     string `json:"sessionId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	Tier          string `json:"tier,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ConfidenceView is a score plus its qualitative label.
type ConfidenceView struct {
	Score float64 `json:"score"`
	Level string  `json:"level"`
}

// ConfidenceLevel maps a [0,1] score to the external label.
func ConfidenceLevel(score float64) string {
	switch {
	case score >= 0.8:
		return "very-high"
	case score >= 0.6:
		return "high"
	case score >= 0.4:
		return "medium"
	case score >= 0.2:
		return "low"
	default:
		return "very-low"
	}
}

// NewConfidenceView builds a ConfidenceView from a raw score.
func NewConfidenceView(score float64) ConfidenceView {
	return ConfidenceView{Score: score, Level: ConfidenceLevel(score)}
}

// SynthesisView is the external shape of the synthesized answer.
type SynthesisView struct {
	Content      string         `json:"content"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Confidence   ConfidenceView `json:"confidence"`
	QualityScore float64        `json:"qualityScore"`
}

// RoleView is the external shape of one provider's response.
type RoleView struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content,omitempty"`
	Model      string                 `json:"model"`
	Provider   string                 `json:"provider"`
	Status     ResponseStatus         `json:"status"`
	Confidence ConfidenceView         `json:"confidence"`
	Quality    *QualityScores         `json:"quality,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ConfidenceAnalysis summarizes confidence across the ensemble.
type ConfidenceAnalysis struct {
	Mean          float64            `json:"mean"`
	Max           float64            `json:"max"`
	Min           float64            `json:"min"`
	Spread        float64            `json:"spread"`
	ByRole        map[string]float64 `json:"byRole,omitempty"`
	ConsensusNote string             `json:"consensusNote,omitempty"`
}

// ModelCostEstimate is one model's token and dollar estimate.
type ModelCostEstimate struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	PromptTokens    int     `json:"promptTokens"`
	ResponseTokens  int     `json:"responseTokens"`
	EstimatedCost   float64 `json:"estimatedCost"`
	CostPer1KInput  float64 `json:"costPer1kInput"`
	CostPer1KOutput float64 `json:"costPer1kOutput"`
}

// CostEstimate aggregates per-model cost estimates for a prompt.
type CostEstimate struct {
	Models    []ModelCostEstimate `json:"models"`
	TotalCost float64             `json:"totalCost"`
	Currency  string              `json:"currency"`
}

// EnvelopeMetadata is the metadata block in the success envelope.
type EnvelopeMetadata struct {
	TotalRoles         int                 `json:"totalRoles"`
	SuccessfulRoles    int                 `json:"successfulRoles"`
	FailedRoles        int                 `json:"failedRoles"`
	ProcessingTimeMS   int64               `json:"processingTimeMs"`
	Cached             bool                `json:"cached"`
	ConfidenceAnalysis *ConfidenceAnalysis `json:"confidenceAnalysis,omitempty"`
	CostEstimate       *CostEstimate       `json:"costEstimate,omitempty"`
	Diagnostics        *Diagnostics        `json:"diagnostics,omitempty"`
}

// EnvelopeData is the data block in the success envelope.
type EnvelopeData struct {
	Synthesis SynthesisView    `json:"synthesis"`
	Roles     []RoleView       `json:"roles"`
	Metadata  EnvelopeMetadata `json:"metadata"`
}

// SuccessEnvelope is the external success response shape.
type SuccessEnvelope struct {
	Status        string       `json:"status"`
	Data          EnvelopeData `json:"data"`
	Timestamp     time.Time    `json:"timestamp"`
	CorrelationID string       `json:"correlationId"`
}

// ErrorEnvelope is the external error response shape.
type ErrorEnvelope struct {
	Status        string    `json:"status"`
	Message       string    `json:"message"`
	Retryable     bool      `json:"retryable"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}
