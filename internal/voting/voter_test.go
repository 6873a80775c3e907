package voting

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurastack/gateway/internal/intent"
	"github.com/neurastack/gateway/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func scored(role, model, content string, composite, confidence, uniqueness float64, rtMS int64) *models.ScoredResponse {
	return &models.ScoredResponse{
		ProviderResponse: models.ProviderResponse{
			Role:           role,
			Model:          model,
			Status:         models.StatusFulfilled,
			Content:        content,
			ResponseTimeMS: rtMS,
		},
		Quality: models.QualityScores{
			Composite: composite,
			Structure: models.DimensionScore{Score: composite},
		},
		CalibratedConfidence: confidence,
		EmbeddingUniqueness:  uniqueness,
	}
}

func rejected(role string) *models.ScoredResponse {
	return &models.ScoredResponse{
		ProviderResponse: models.ProviderResponse{
			Role:       role,
			Status:     models.StatusRejected,
			RejectKind: models.RejectTimeout,
		},
	}
}

// ============================================================================
// Voter
// ============================================================================

func TestVoteWeightsSumToOne(t *testing.T) {
	v := NewVoter(DefaultConfig(), nil, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "gpt-4o", "A detailed answer about the topic.", 0.8, 0.7, 0.4, 1200),
		scored("gemini", "gemini-pro", "Another thorough answer with examples.", 0.6, 0.6, 0.5, 2400),
		scored("claude", "claude-sonnet", "A shorter reply.", 0.5, 0.5, 0.6, 900),
	}

	outcome := v.Vote(responses, intent.Result{Class: intent.ClassGeneral})
	require.NotNil(t, outcome)
	require.Len(t, outcome.Weights, 3)

	var sum float64
	for _, w := range outcome.Weights {
		assert.GreaterOrEqual(t, w, 0.0)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.NotEmpty(t, outcome.WinnerRole)
	assert.False(t, outcome.Abstained)
}

func TestVoteSingleResponseWeakConsensus(t *testing.T) {
	v := NewVoter(DefaultConfig(), nil, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "gpt-4o", "The only answer.", 0.7, 0.65, 1.0, 1000),
		rejected("gemini"),
		rejected("claude"),
	}

	outcome := v.Vote(responses, intent.Result{Class: intent.ClassFactual})
	require.NotNil(t, outcome)
	assert.Equal(t, "gpt4o", outcome.WinnerRole)
	assert.Equal(t, models.ConsensusWeak, outcome.Consensus)
	assert.InDelta(t, 1.0, outcome.Weights["gpt4o"], 1e-9)
	assert.False(t, outcome.Abstained)
}

func TestVoteNoFulfilledResponsesAbstains(t *testing.T) {
	v := NewVoter(DefaultConfig(), nil, testLogger())

	outcome := v.Vote([]*models.ScoredResponse{rejected("gpt4o"), rejected("gemini")}, intent.Result{})
	require.NotNil(t, outcome)
	assert.True(t, outcome.Abstained)
	assert.Equal(t, models.ConsensusVeryWeak, outcome.Consensus)
	assert.Empty(t, outcome.WinnerRole)
}

func TestVoteAllEmptyContentAbstains(t *testing.T) {
	v := NewVoter(DefaultConfig(), nil, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "gpt-4o", "   ", 0.1, 0.1, 0, 500),
		scored("gemini", "gemini-pro", "", 0.1, 0.1, 0, 500),
	}
	outcome := v.Vote(responses, intent.Result{})
	assert.True(t, outcome.Abstained)
}

func TestVoteDeterministicAcrossRuns(t *testing.T) {
	v := NewVoter(DefaultConfig(), nil, testLogger())
	responses := []*models.ScoredResponse{
		scored("gpt4o", "gpt-4o", "Answer one about algorithms.", 0.6, 0.6, 0.5, 1000),
		scored("gemini", "gemini-pro", "Answer two about algorithms.", 0.6, 0.6, 0.5, 1000),
	}

	first := v.Vote(responses, intent.Result{Class: intent.ClassTechnical})
	for i := 0; i < 10; i++ {
		again := v.Vote(responses, intent.Result{Class: intent.ClassTechnical})
		assert.Equal(t, first.WinnerRole, again.WinnerRole)
		assert.Equal(t, first.Consensus, again.Consensus)
	}
}

type stubMultiplier struct{ m map[string]float64 }

func (s stubMultiplier) Multiplier(model string) float64 { return s.m[model] }

func TestVoteHistoricalMultiplierClamped(t *testing.T) {
	hist := stubMultiplier{m: map[string]float64{"gpt-4o": 5.0, "gemini-pro": 0.01}}
	v := NewVoter(DefaultConfig(), hist, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "gpt-4o", "Answer about the question topic.", 0.5, 0.5, 0.3, 1000),
		scored("gemini", "gemini-pro", "Answer about the question topic too.", 0.5, 0.5, 0.3, 1000),
	}
	outcome := v.Vote(responses, intent.Result{Class: intent.ClassGeneral})
	require.NotNil(t, outcome)

	assert.InDelta(t, 2.0, outcome.Components["gpt4o"].HistoricalMultiplier, 1e-9)
	assert.InDelta(t, 0.5, outcome.Components["gemini"].HistoricalMultiplier, 1e-9)
	assert.Equal(t, "gpt4o", outcome.WinnerRole)
}

func TestConsensusLabelTable(t *testing.T) {
	tests := []struct {
		name   string
		w1     float64
		margin float64
		want   models.ConsensusLevel
	}{
		{"very strong", 0.75, 0.40, models.ConsensusVeryStrong},
		{"strong", 0.62, 0.25, models.ConsensusStrong},
		{"moderate high w1 small margin", 0.72, 0.05, models.ConsensusModerate},
		{"moderate", 0.50, 0.10, models.ConsensusModerate},
		{"weak", 0.38, 0.05, models.ConsensusWeak},
		{"very weak", 0.30, 0.02, models.ConsensusVeryWeak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, consensusLabel(tt.w1, tt.margin))
		})
	}
}

func TestResponseTimeScore(t *testing.T) {
	v := NewVoter(DefaultConfig(), nil, testLogger())

	assert.InDelta(t, 1.0, v.responseTimeScore(1500), 1e-9)
	assert.InDelta(t, 1.0, v.responseTimeScore(3000), 1e-9)
	assert.InDelta(t, 0.5, v.responseTimeScore(6000), 1e-9)
	assert.InDelta(t, 1.0, v.responseTimeScore(0), 1e-9)
}

// ============================================================================
// History
// ============================================================================

func TestHistoryMultiplierNeutralForUnknown(t *testing.T) {
	h := NewHistory(100, nil, testLogger())
	assert.InDelta(t, 1.0, h.Multiplier("never-seen"), 1e-9)
}

func TestHistoryMultiplierClampedAndWinRate(t *testing.T) {
	h := NewHistory(100, nil, testLogger())
	ctx := context.Background()

	// gpt-4o wins 8 of 10, gemini-pro wins 2.
	for i := 0; i < 10; i++ {
		winner := "gpt4o"
		if i%5 == 0 {
			winner = "gemini"
		}
		h.Append(ctx, HistoryRecord{
			ID:     fmt.Sprintf("vote-%d", i),
			Winner: winner,
			Models: map[string]string{"gpt4o": "gpt-4o", "gemini": "gemini-pro"},
		})
	}

	assert.Equal(t, 10, h.Len())
	assert.InDelta(t, 0.8, h.WinRate("gpt-4o"), 1e-9)
	assert.InDelta(t, 0.2, h.WinRate("gemini-pro"), 1e-9)

	m := h.Multiplier("gpt-4o")
	assert.GreaterOrEqual(t, m, 0.5)
	assert.LessOrEqual(t, m, 2.0)
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(5, nil, testLogger())
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		h.Append(ctx, HistoryRecord{ID: fmt.Sprintf("r%d", i), Winner: "a", Models: map[string]string{"a": "m"}})
	}
	assert.Equal(t, 5, h.Len())
	recent := h.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "r11", recent[2].ID)
}

func TestHistoryMeanLatency(t *testing.T) {
	h := NewHistory(100, nil, testLogger())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		h.Append(ctx, HistoryRecord{
			ID:              fmt.Sprintf("vote-%d", i),
			Winner:          "gpt4o",
			Models:          map[string]string{"gpt4o": "gpt-4o", "gemini": "gemini-pro"},
			ResponseTimesMS: map[string]int64{"gpt4o": int64(2000 + i*100), "gemini": 400},
		})
	}

	slow, ok := h.MeanLatencyMS("gpt-4o")
	require.True(t, ok)
	assert.InDelta(t, 2150, slow, 1e-9)

	fast, ok := h.MeanLatencyMS("gemini-pro")
	require.True(t, ok)
	assert.InDelta(t, 400, fast, 1e-9)

	_, ok = h.MeanLatencyMS("never-seen")
	assert.False(t, ok)
}

func TestHistoryMeanLatencyIgnoresMissingTimes(t *testing.T) {
	h := NewHistory(100, nil, testLogger())
	h.Append(context.Background(), HistoryRecord{
		ID:     "vote-0",
		Winner: "gpt4o",
		Models: map[string]string{"gpt4o": "gpt-4o"},
	})

	_, ok := h.MeanLatencyMS("gpt-4o")
	assert.False(t, ok)
}

// ============================================================================
// TieBreaker
// ============================================================================

type stubWinRates struct{ m map[string]float64 }

func (s stubWinRates) WinRate(model string) float64 { return s.m[model] }

func TestTieBreakerHistoricalWinRate(t *testing.T) {
	tb := NewTieBreaker(stubWinRates{m: map[string]float64{"gpt-4o": 0.7, "gemini-pro": 0.3}}, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "gpt-4o", "a", 0.5, 0.5, 0.5, 1000),
		scored("gemini", "gemini-pro", "b", 0.5, 0.5, 0.5, 1000),
	}
	outcome := &models.VoteOutcome{
		WinnerRole: "gemini",
		Weights:    map[string]float64{"gpt4o": 0.50, "gemini": 0.50},
	}

	result := tb.Break(responses, outcome, 0.05)
	assert.Equal(t, StrategyHistoricalWinRate, result.StrategyUsed)
	assert.Equal(t, "gpt4o", result.Winner)
}

func TestTieBreakerFallsThroughToCalibrated(t *testing.T) {
	tb := NewTieBreaker(stubWinRates{m: map[string]float64{"gpt-4o": 0.5, "gemini-pro": 0.5}}, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "gpt-4o", "a", 0.5, 0.8, 0.5, 1000),
		scored("gemini", "gemini-pro", "b", 0.5, 0.6, 0.5, 1000),
	}
	outcome := &models.VoteOutcome{
		WinnerRole: "gemini",
		Weights:    map[string]float64{"gpt4o": 0.50, "gemini": 0.50},
	}

	result := tb.Break(responses, outcome, 0.05)
	assert.Equal(t, StrategyCalibratedProb, result.StrategyUsed)
	assert.Equal(t, "gpt4o", result.Winner)
}

func TestTieBreakerLexicographicLastResort(t *testing.T) {
	tb := NewTieBreaker(nil, testLogger())

	responses := []*models.ScoredResponse{
		scored("zeta", "m1", "a", 0.5, 0.5, 0.5, 1000),
		scored("alpha", "m2", "b", 0.5, 0.5, 0.5, 1000),
	}
	outcome := &models.VoteOutcome{
		WinnerRole: "zeta",
		Weights:    map[string]float64{"zeta": 0.50, "alpha": 0.50},
	}

	result := tb.Break(responses, outcome, 0.05)
	assert.Equal(t, StrategyLexicographic, result.StrategyUsed)
	assert.Equal(t, "alpha", result.Winner)

	// Deterministic across repeated invocations.
	for i := 0; i < 5; i++ {
		again := tb.Break(responses, outcome, 0.05)
		assert.Equal(t, result, again)
	}
}

func TestTieBreakerIgnoresRolesOutsideMargin(t *testing.T) {
	tb := NewTieBreaker(nil, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "m1", "a", 0.5, 0.5, 0.9, 1000),
		scored("gemini", "m2", "b", 0.5, 0.5, 0.2, 1000),
		scored("claude", "m3", "c", 0.5, 0.5, 0.1, 1000),
	}
	outcome := &models.VoteOutcome{
		WinnerRole: "gpt4o",
		Weights:    map[string]float64{"gpt4o": 0.45, "gemini": 0.43, "claude": 0.12},
	}

	result := tb.Break(responses, outcome, 0.05)
	assert.Equal(t, "gpt4o", result.Winner)
	assert.Equal(t, StrategyEmbeddingUniqueness, result.StrategyUsed)
}

// ============================================================================
// MetaVoter
// ============================================================================

type fakeArbiter struct {
	content string
	err     error
}

func (f *fakeArbiter) Role() string         { return "arbiter" }
func (f *fakeArbiter) Model() string        { return "gpt-4o" }
func (f *fakeArbiter) ProviderName() string { return "openai" }
func (f *fakeArbiter) Invoke(_ context.Context, _ models.Prompt) (*models.ProviderResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ProviderResponse{
		Role:    "arbiter",
		Status:  models.StatusFulfilled,
		Content: f.content,
	}, nil
}

func TestMetaVoterParsesNumberedRanking(t *testing.T) {
	mv := NewMetaVoter(&fakeArbiter{content: "1. gemini\n2. gpt4o\n3. claude\n"}, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "m1", "a", 0.5, 0.5, 0.5, 1000),
		scored("gemini", "m2", "b", 0.5, 0.5, 0.5, 1000),
		scored("claude", "m3", "c", 0.5, 0.5, 0.5, 1000),
	}

	verdict, err := mv.Rank(context.Background(), models.Prompt{Text: "q"}, responses)
	require.NoError(t, err)
	assert.Equal(t, "gemini", verdict.Winner)
	assert.Equal(t, []string{"gemini", "gpt4o", "claude"}, verdict.Ranking)
	assert.LessOrEqual(t, verdict.Confidence, metaVoterConfidenceCap+1e-9)
}

func TestMetaVoterConfidenceCapped(t *testing.T) {
	mv := NewMetaVoter(&fakeArbiter{content: "1. gpt4o\n2. gemini\n"}, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "m1", "a", 0.5, 0.5, 0.5, 1000),
		scored("gemini", "m2", "b", 0.5, 0.5, 0.5, 1000),
	}

	verdict, err := mv.Rank(context.Background(), models.Prompt{Text: "q"}, responses)
	require.NoError(t, err)
	assert.InDelta(t, metaVoterConfidenceCap, verdict.Confidence, 1e-9)
}

func TestMetaVoterFailurePreservesOutcome(t *testing.T) {
	mv := NewMetaVoter(&fakeArbiter{err: fmt.Errorf("upstream down")}, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "m1", "a", 0.5, 0.5, 0.5, 1000),
		scored("gemini", "m2", "b", 0.5, 0.5, 0.5, 1000),
	}

	verdict, err := mv.Rank(context.Background(), models.Prompt{Text: "q"}, responses)
	assert.Error(t, err)
	assert.Nil(t, verdict)
}

func TestMetaVoterUnparseableOutput(t *testing.T) {
	mv := NewMetaVoter(&fakeArbiter{content: "I cannot decide."}, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "m1", "a", 0.5, 0.5, 0.5, 1000),
		scored("gemini", "m2", "b", 0.5, 0.5, 0.5, 1000),
	}

	verdict, err := mv.Rank(context.Background(), models.Prompt{Text: "q"}, responses)
	assert.Error(t, err)
	assert.Nil(t, verdict)
}

// ============================================================================
// AbstentionPolicy
// ============================================================================

func TestAbstainWhenAllQualityLow(t *testing.T) {
	p := NewAbstentionPolicy(0.4, 0.15, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "m1", "a", 0.2, 0.5, 0.8, 1000),
		scored("gemini", "m2", "b", 0.3, 0.5, 0.8, 1000),
	}
	abstain, reason := p.ShouldAbstain(responses, &models.VoteOutcome{Consensus: models.ConsensusModerate})
	assert.True(t, abstain)
	assert.NotEmpty(t, reason)
}

func TestAbstainOnLowDiversityVeryWeakConsensus(t *testing.T) {
	p := NewAbstentionPolicy(0.4, 0.15, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "m1", "a", 0.6, 0.5, 0.05, 1000),
		scored("gemini", "m2", "b", 0.6, 0.5, 0.05, 1000),
	}
	abstain, _ := p.ShouldAbstain(responses, &models.VoteOutcome{Consensus: models.ConsensusVeryWeak})
	assert.True(t, abstain)

	// Same diversity but moderate consensus: serve it.
	abstain, _ = p.ShouldAbstain(responses, &models.VoteOutcome{Consensus: models.ConsensusModerate})
	assert.False(t, abstain)
}

func TestNoAbstainOnHealthyOutcome(t *testing.T) {
	p := NewAbstentionPolicy(0.4, 0.15, testLogger())

	responses := []*models.ScoredResponse{
		scored("gpt4o", "m1", "a", 0.7, 0.6, 0.5, 1000),
		scored("gemini", "m2", "b", 0.6, 0.5, 0.4, 1000),
	}
	abstain, reason := p.ShouldAbstain(responses, &models.VoteOutcome{Consensus: models.ConsensusStrong})
	assert.False(t, abstain)
	assert.Empty(t, reason)
}

func TestTopTwoMargin(t *testing.T) {
	outcome := &models.VoteOutcome{Weights: map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2}}
	w1, w2 := outcome.TopTwo()
	assert.InDelta(t, 0.5, w1, 1e-9)
	assert.InDelta(t, 0.3, w2, 1e-9)
	assert.False(t, math.IsNaN(w1-w2))
}
