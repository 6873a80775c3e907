package voting

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/models"
)

// Tie-break strategies, tried in order until one yields a strict winner.
const (
	StrategyHistoricalWinRate   = "historical_win_rate"
	StrategyCalibratedProb      = "calibrated_probability"
	StrategyEmbeddingUniqueness = "embedding_uniqueness"
	StrategyLexicographic       = "lexicographic"
)

// TieBreakResult reports which strategy decided the tie.
type TieBreakResult struct {
	StrategyUsed string  `json:"strategy_used"`
	Winner       string  `json:"winner"`
	Confidence   float64 `json:"confidence"`
}

// WinRateProvider supplies long-term win rates for the first strategy.
type WinRateProvider interface {
	WinRate(model string) float64
}

// TieBreaker escalates ambiguous votes. Invoked when the margin between the
// top two weights is small or consensus is at most weak.
type TieBreaker struct {
	winRates WinRateProvider
	logger   *logrus.Logger
}

// NewTieBreaker creates a tie-breaker. winRates may be nil, which skips the
// historical strategy.
func NewTieBreaker(winRates WinRateProvider, logger *logrus.Logger) *TieBreaker {
	return &TieBreaker{winRates: winRates, logger: logger}
}

// Break picks a strict winner among the contenders (the roles within the tie
// margin of the top weight). The lexicographic fallback always decides.
func (tb *TieBreaker) Break(responses []*models.ScoredResponse, outcome *models.VoteOutcome, tieMargin float64) TieBreakResult {
	contenders := tb.contenders(responses, outcome, tieMargin)
	if len(contenders) == 0 {
		return TieBreakResult{StrategyUsed: StrategyLexicographic, Winner: outcome.WinnerRole, Confidence: outcome.WinnerConfidence}
	}
	if len(contenders) == 1 {
		return TieBreakResult{StrategyUsed: StrategyLexicographic, Winner: contenders[0].Role, Confidence: outcome.Weights[contenders[0].Role]}
	}

	if tb.winRates != nil {
		if winner, ok := strictMax(contenders, func(r *models.ScoredResponse) float64 {
			return tb.winRates.WinRate(r.Model)
		}); ok {
			return tb.result(StrategyHistoricalWinRate, winner, outcome)
		}
	}

	if winner, ok := strictMax(contenders, func(r *models.ScoredResponse) float64 {
		return r.CalibratedConfidence
	}); ok {
		return tb.result(StrategyCalibratedProb, winner, outcome)
	}

	if winner, ok := strictMax(contenders, func(r *models.ScoredResponse) float64 {
		return r.EmbeddingUniqueness
	}); ok {
		return tb.result(StrategyEmbeddingUniqueness, winner, outcome)
	}

	// Deterministic final fallback.
	sort.Slice(contenders, func(i, j int) bool { return contenders[i].Role < contenders[j].Role })
	return tb.result(StrategyLexicographic, contenders[0], outcome)
}

func (tb *TieBreaker) result(strategy string, winner *models.ScoredResponse, outcome *models.VoteOutcome) TieBreakResult {
	if tb.logger != nil {
		tb.logger.WithFields(logrus.Fields{
			"strategy": strategy,
			"winner":   winner.Role,
		}).Debug("tie broken")
	}
	return TieBreakResult{
		StrategyUsed: strategy,
		Winner:       winner.Role,
		Confidence:   outcome.Weights[winner.Role],
	}
}

// contenders returns the fulfilled responses whose weight is within tieMargin
// of the top weight.
func (tb *TieBreaker) contenders(responses []*models.ScoredResponse, outcome *models.VoteOutcome, tieMargin float64) []*models.ScoredResponse {
	w1, _ := outcome.TopTwo()
	var out []*models.ScoredResponse
	for _, r := range responses {
		if !r.Fulfilled() {
			continue
		}
		if w, ok := outcome.Weights[r.Role]; ok && w1-w <= tieMargin {
			out = append(out, r)
		}
	}
	return out
}

// strictMax returns the single response with the strictly highest key, or
// false when the top value is shared.
func strictMax(responses []*models.ScoredResponse, key func(*models.ScoredResponse) float64) (*models.ScoredResponse, bool) {
	if len(responses) == 0 {
		return nil, false
	}
	best := responses[0]
	bestVal := key(best)
	tied := false
	for _, r := range responses[1:] {
		v := key(r)
		switch {
		case v > bestVal:
			best, bestVal, tied = r, v, false
		case v == bestVal:
			tied = true
		}
	}
	if tied {
		return nil, false
	}
	return best, true
}
