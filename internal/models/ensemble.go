// Package models holds the shared data types that flow through the ensemble
// pipeline: prompts, provider responses, scored responses, vote outcomes and
// the external request/response envelopes.
package models

import "time"

// Tier identifies the pricing/quality tier a request runs under.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium
}

// Prompt is the immutable input to a single ensemble request.
type Prompt struct {
	Text          string    `json:"text"`
	SessionID     string    `json:"session_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Tier          Tier      `json:"tier"`
	CorrelationID string    `json:"correlation_id"`
	Deadline      time.Time `json:"deadline,omitempty"`
}

// ResponseStatus marks whether a provider call completed or failed.
type ResponseStatus string

const (
	StatusFulfilled ResponseStatus = "fulfilled"
	StatusRejected  ResponseStatus = "rejected"
)

// RejectKind classifies why a provider call failed.
type RejectKind string

const (
	RejectTimeout     RejectKind = "timeout"
	RejectQuota       RejectKind = "quota"
	RejectTransport   RejectKind = "transport"
	RejectMalformed   RejectKind = "malformed"
	RejectUpstream5xx RejectKind = "upstream_5xx"
	RejectUpstream4xx RejectKind = "upstream_4xx"
	RejectCancelled   RejectKind = "cancelled"
)

// ProviderResponse is the raw result of a single provider invocation.
// Immutable once created.
type ProviderResponse struct {
	Role           string         `json:"role"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	Status         ResponseStatus `json:"status"`
	Content        string         `json:"content,omitempty"`
	RejectKind     RejectKind     `json:"reject_kind,omitempty"`
	RejectReason   string         `json:"reject_reason,omitempty"`
	ResponseTimeMS int64          `json:"response_time_ms"`
	PromptTokens   int            `json:"prompt_tokens"`
	ResponseTokens int            `json:"response_tokens"`
	RawConfidence  float64        `json:"raw_confidence"`
}

// Fulfilled reports whether the provider returned usable content.
func (p *ProviderResponse) Fulfilled() bool {
	return p.Status == StatusFulfilled
}

// DimensionScore is one quality dimension plus the qualitative factors that
// contributed to it, kept for audit and validator output.
type DimensionScore struct {
	Score   float64  `json:"score"`
	Factors []string `json:"factors,omitempty"`
}

// QualityScores holds the per-dimension and composite quality of a response.
type QualityScores struct {
	Relevance    DimensionScore `json:"relevance"`
	Completeness DimensionScore `json:"completeness"`
	Plausibility DimensionScore `json:"plausibility"`
	Coherence    DimensionScore `json:"coherence"`
	Structure    DimensionScore `json:"structure"`
	Readability  DimensionScore `json:"readability"`
	Toxicity     DimensionScore `json:"toxicity"`
	Composite    float64        `json:"composite"`
}

// ScoredResponse pairs exactly one ProviderResponse with its derived scores.
// Never mutated after the quality scorer produces it.
type ScoredResponse struct {
	ProviderResponse
	Quality              QualityScores `json:"quality"`
	EmbeddingUniqueness  float64       `json:"embedding_uniqueness"`
	CalibratedConfidence float64       `json:"calibrated_confidence"`
}

// ConsensusLevel is the qualitative label over the voter's top weight and margin.
type ConsensusLevel string

const (
	ConsensusVeryWeak   ConsensusLevel = "very-weak"
	ConsensusWeak       ConsensusLevel = "weak"
	ConsensusModerate   ConsensusLevel = "moderate"
	ConsensusStrong     ConsensusLevel = "strong"
	ConsensusVeryStrong ConsensusLevel = "very-strong"
)

// AtMostWeak reports whether the consensus is weak or very-weak.
func (c ConsensusLevel) AtMostWeak() bool {
	return c == ConsensusWeak || c == ConsensusVeryWeak
}

// ComponentContribution records the per-role factor breakdown behind a vote.
type ComponentContribution struct {
	ContentQuality       float64 `json:"content_quality"`
	Confidence           float64 `json:"confidence"`
	IntentAlignment      float64 `json:"intent_alignment"`
	Structure            float64 `json:"structure"`
	ResponseTime         float64 `json:"response_time"`
	HistoricalMultiplier float64 `json:"historical_multiplier"`
	DiversityBonus       float64 `json:"diversity_bonus"`
	Raw                  float64 `json:"raw"`
}

// VoteOutcome is the voter's decision for one request.
type VoteOutcome struct {
	WinnerRole       string                           `json:"winner_role"`
	Weights          map[string]float64               `json:"weights"`
	Consensus        ConsensusLevel                   `json:"consensus"`
	WinnerConfidence float64                          `json:"winner_confidence"`
	TieBreakerUsed   bool                             `json:"tie_breaker_used"`
	TieBreakStrategy string                           `json:"tie_break_strategy,omitempty"`
	MetaVoterUsed    bool                             `json:"meta_voter_used"`
	Abstained        bool                             `json:"abstained"`
	Components       map[string]ComponentContribution `json:"components,omitempty"`
}

// TopTwo returns the two highest weights in descending order. The second value
// is zero when fewer than two roles voted.
func (v *VoteOutcome) TopTwo() (first, second float64) {
	for _, w := range v.Weights {
		if w > first {
			first, second = w, first
		} else if w > second {
			second = w
		}
	}
	return first, second
}

// SynthesizedAnswer is the combined answer assembled from multiple responses.
type SynthesizedAnswer struct {
	Text               string   `json:"text"`
	ContributingRoles  []string `json:"contributing_roles"`
	SectionPlan        []string `json:"section_plan"`
	QualityImprovement float64  `json:"quality_improvement"`
	FallbackUsed       bool     `json:"fallback_used"`
	SynthesisModel     string   `json:"synthesis_model,omitempty"`
	SynthesisProvider  string   `json:"synthesis_provider,omitempty"`
}

// IssueSeverity grades a validation finding.
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityCritical IssueSeverity = "critical"
)

// ValidationIssue is a single failed or degraded validation dimension.
type ValidationIssue struct {
	Dimension string        `json:"dimension"`
	Severity  IssueSeverity `json:"severity"`
	Message   string        `json:"message"`
}

// DimensionResult is one validation dimension's score against its gate.
type DimensionResult struct {
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Passed    bool    `json:"passed"`
}

// ValidationReport is the post-synthesis validation result. Validation never
// modifies the synthesized text; failures surface as issues.
type ValidationReport struct {
	Passed          bool                       `json:"passed"`
	OverallScore    float64                    `json:"overall_score"`
	Dimensions      map[string]DimensionResult `json:"dimensions"`
	Issues          []ValidationIssue          `json:"issues,omitempty"`
	Recommendations []string                   `json:"recommendations,omitempty"`
}

// EnsembleResult is the orchestrator's success output for one request.
type EnsembleResult struct {
	Synthesis        *SynthesizedAnswer `json:"synthesis"`
	Responses        []*ScoredResponse  `json:"responses"`
	Vote             *VoteOutcome       `json:"vote"`
	Validation       *ValidationReport  `json:"validation,omitempty"`
	Diagnostics      *Diagnostics       `json:"diagnostics,omitempty"`
	CorrelationID    string             `json:"correlation_id"`
	Cached           bool               `json:"cached"`
	Degraded         bool               `json:"degraded"`
	DegradedReasons  []string           `json:"degraded_reasons,omitempty"`
	ProcessingTimeMS int64              `json:"processing_time_ms"`
}

// Diagnostics carries per-request debug signals surfaced to callers.
// SimilarityRoles names the rows and columns of the similarity matrix in
// order.
type Diagnostics struct {
	EmbeddingSimilarityMatrix [][]float64        `json:"embedding_similarity_matrix,omitempty"`
	SimilarityRoles           []string           `json:"similarity_roles,omitempty"`
	ModelCalibratedProb       map[string]float64 `json:"model_calibrated_prob,omitempty"`
	ToxicityScore             float64            `json:"toxicity_score"`
	Readability               float64            `json:"readability"`
	SemanticQuality           float64            `json:"semantic_quality"`
	FailedProviders           []string           `json:"failed_providers,omitempty"`
}
