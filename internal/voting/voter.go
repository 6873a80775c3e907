package voting

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/intent"
	"github.com/neurastack/gateway/internal/models"
)

// ComponentWeights are the linear-combination weights over the five
// per-response component scores.
type ComponentWeights struct {
	ContentQuality  float64
	Confidence      float64
	IntentAlignment float64
	Structure       float64
	ResponseTime    float64
}

// DefaultComponentWeights returns the base weighting.
func DefaultComponentWeights() ComponentWeights {
	return ComponentWeights{
		ContentQuality:  0.40,
		Confidence:      0.25,
		IntentAlignment: 0.20,
		Structure:       0.10,
		ResponseTime:    0.05,
	}
}

// intentAdjustments re-tabulates the component weights per intent class.
// Technical prompts weight content quality up and ignore response time.
var intentAdjustments = map[intent.Class]ComponentWeights{
	intent.ClassTechnical: {
		ContentQuality:  0.50,
		Confidence:      0.25,
		IntentAlignment: 0.15,
		Structure:       0.10,
		ResponseTime:    0.00,
	},
	intent.ClassFactual: {
		ContentQuality:  0.35,
		Confidence:      0.35,
		IntentAlignment: 0.15,
		Structure:       0.05,
		ResponseTime:    0.10,
	},
	intent.ClassCreative: {
		ContentQuality:  0.45,
		Confidence:      0.15,
		IntentAlignment: 0.25,
		Structure:       0.10,
		ResponseTime:    0.05,
	},
	intent.ClassComparative: {
		ContentQuality:  0.40,
		Confidence:      0.20,
		IntentAlignment: 0.25,
		Structure:       0.10,
		ResponseTime:    0.05,
	},
}

// Config tunes the voter.
type Config struct {
	Weights ComponentWeights
	// FastThreshold is the response-time score reference: score = min(1, fast/rt).
	FastThreshold time.Duration
	// DiversityCoefficient scales the embedding-uniqueness bonus.
	DiversityCoefficient float64
}

// DefaultConfig returns voter defaults.
func DefaultConfig() Config {
	return Config{
		Weights:              DefaultComponentWeights(),
		FastThreshold:        3 * time.Second,
		DiversityCoefficient: 0.1,
	}
}

// HistoricalWeightsProvider supplies the per-model performance multiplier.
// The voting history implements it; tests may substitute a stub.
type HistoricalWeightsProvider interface {
	Multiplier(model string) float64
}

// Voter produces a VoteOutcome from scored responses.
type Voter struct {
	config  Config
	history HistoricalWeightsProvider
	logger  *logrus.Logger
}

// NewVoter creates a voter. history may be nil, which applies a neutral
// multiplier to every model.
func NewVoter(config Config, history HistoricalWeightsProvider, logger *logrus.Logger) *Voter {
	return &Voter{config: config, history: history, logger: logger}
}

// Vote weighs each response, applies hybrid adjustments, normalizes to Σ=1
// and derives the consensus label.
func (v *Voter) Vote(responses []*models.ScoredResponse, intentResult intent.Result) *models.VoteOutcome {
	fulfilled := make([]*models.ScoredResponse, 0, len(responses))
	for _, r := range responses {
		if r.Fulfilled() {
			fulfilled = append(fulfilled, r)
		}
	}

	if len(fulfilled) == 0 || allEmpty(fulfilled) {
		// Empty outcome; the orchestrator escalates to abstention.
		return &models.VoteOutcome{
			Weights:   map[string]float64{},
			Consensus: models.ConsensusVeryWeak,
			Abstained: true,
		}
	}

	if len(fulfilled) == 1 {
		sole := fulfilled[0]
		return &models.VoteOutcome{
			WinnerRole:       sole.Role,
			Weights:          map[string]float64{sole.Role: 1.0},
			Consensus:        models.ConsensusWeak,
			WinnerConfidence: sole.CalibratedConfidence,
			Components: map[string]models.ComponentContribution{
				sole.Role: {ContentQuality: sole.Quality.Composite, Confidence: sole.CalibratedConfidence, Raw: 1.0},
			},
		}
	}

	weights := v.weightsFor(intentResult.Class)
	contributions := make(map[string]models.ComponentContribution, len(fulfilled))
	raw := make(map[string]float64, len(fulfilled))
	var total float64

	for _, r := range fulfilled {
		c := models.ComponentContribution{
			ContentQuality:  r.Quality.Composite,
			Confidence:      r.CalibratedConfidence,
			IntentAlignment: alignmentScore(intentResult.Class, r.Content),
			Structure:       r.Quality.Structure.Score,
			ResponseTime:    v.responseTimeScore(r.ResponseTimeMS),
		}

		base := c.ContentQuality*weights.ContentQuality +
			c.Confidence*weights.Confidence +
			c.IntentAlignment*weights.IntentAlignment +
			c.Structure*weights.Structure +
			c.ResponseTime*weights.ResponseTime

		c.HistoricalMultiplier = v.multiplier(r.Model)
		c.DiversityBonus = r.EmbeddingUniqueness * v.config.DiversityCoefficient

		score := base*c.HistoricalMultiplier + c.DiversityBonus
		if score < 0 {
			score = 0
		}
		c.Raw = score
		contributions[r.Role] = c
		raw[r.Role] = score
		total += score
	}

	normalized := make(map[string]float64, len(raw))
	if total <= 0 {
		// Degenerate scores: fall back to uniform weights.
		uniform := 1.0 / float64(len(raw))
		for role := range raw {
			normalized[role] = uniform
		}
	} else {
		for role, score := range raw {
			normalized[role] = score / total
		}
	}

	winner, w1, w2 := topRoles(normalized)
	outcome := &models.VoteOutcome{
		WinnerRole:       winner,
		Weights:          normalized,
		Consensus:        consensusLabel(w1, w1-w2),
		WinnerConfidence: w1,
		Components:       contributions,
	}

	if v.logger != nil {
		v.logger.WithFields(logrus.Fields{
			"winner":    winner,
			"consensus": outcome.Consensus,
			"margin":    w1 - w2,
		}).Debug("vote computed")
	}
	return outcome
}

func (v *Voter) weightsFor(class intent.Class) ComponentWeights {
	if adjusted, ok := intentAdjustments[class]; ok {
		return adjusted
	}
	return v.config.Weights
}

func (v *Voter) multiplier(model string) float64 {
	if v.history == nil {
		return 1.0
	}
	m := v.history.Multiplier(model)
	if m < 0.5 {
		return 0.5
	}
	if m > 2.0 {
		return 2.0
	}
	return m
}

func (v *Voter) responseTimeScore(rtMS int64) float64 {
	if rtMS <= 0 {
		return 1
	}
	fast := v.config.FastThreshold.Milliseconds()
	score := float64(fast) / float64(rtMS)
	if score > 1 {
		return 1
	}
	return score
}

func allEmpty(responses []*models.ScoredResponse) bool {
	for _, r := range responses {
		if strings.TrimSpace(r.Content) != "" {
			return false
		}
	}
	return true
}

// topRoles finds the winner and the top two weights. Role tags break exact
// ties lexicographically so the outcome is deterministic.
func topRoles(weights map[string]float64) (winner string, w1, w2 float64) {
	roles := make([]string, 0, len(weights))
	for role := range weights {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		w := weights[role]
		if w > w1 || (w == w1 && winner == "") {
			w1, w2 = w, w1
			winner = role
		} else if w > w2 {
			w2 = w
		}
	}
	return winner, w1, w2
}

// consensusLabel derives the label from the top weight and margin.
func consensusLabel(w1, margin float64) models.ConsensusLevel {
	switch {
	case w1 >= 0.70 && margin >= 0.30:
		return models.ConsensusVeryStrong
	case w1 >= 0.60 && margin >= 0.20:
		return models.ConsensusStrong
	case w1 >= 0.45:
		return models.ConsensusModerate
	case w1 >= 0.35:
		return models.ConsensusWeak
	default:
		return models.ConsensusVeryWeak
	}
}

// alignmentScore measures how well a response's shape matches the prompt's
// intent class.
func alignmentScore(class intent.Class, content string) float64 {
	lower := strings.ToLower(content)
	contains := func(terms ...string) float64 {
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		s := float64(hits) / 2
		return math.Min(s, 1)
	}
	switch class {
	case intent.ClassTechnical:
		return contains("```", "function", "algorithm", "complexity", "implementation", "example")
	case intent.ClassFactual:
		return contains("is a", "is the", "defined", "in fact", "specifically")
	case intent.ClassCreative:
		return contains("once", "imagine", "story", "suddenly", "felt")
	case intent.ClassComparative:
		return contains("while", "whereas", "in contrast", "both", "on the other hand", "unlike")
	case intent.ClassInstructional:
		return contains("step", "first", "then", "next", "finally")
	case intent.ClassProblemSolving:
		return contains("solution", "fix", "resolve", "cause", "check")
	case intent.ClassAnalytical:
		return contains("however", "implies", "suggests", "trade-off", "evidence")
	case intent.ClassExplanatory:
		return contains("because", "this means", "in other words", "works by", "as a result")
	default:
		if len(strings.TrimSpace(content)) > 0 {
			return 0.5
		}
		return 0
	}
}
