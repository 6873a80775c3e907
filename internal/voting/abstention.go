package voting

import (
	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/models"
)

// AbstentionPolicy decides whether the vote outcome is too weak to serve and
// a single re-query should be attempted instead.
type AbstentionPolicy struct {
	// QualityThreshold abstains when every composite quality falls below it.
	QualityThreshold float64
	// DiversityFloor abstains, together with very-weak consensus, when the
	// mean pairwise uniqueness falls below it.
	DiversityFloor float64

	logger *logrus.Logger
}

// NewAbstentionPolicy creates the policy with the given thresholds.
func NewAbstentionPolicy(qualityThreshold, diversityFloor float64, logger *logrus.Logger) *AbstentionPolicy {
	return &AbstentionPolicy{
		QualityThreshold: qualityThreshold,
		DiversityFloor:   diversityFloor,
		logger:           logger,
	}
}

// ShouldAbstain reports whether the outcome should be abstained from, plus
// the reason when it should.
func (p *AbstentionPolicy) ShouldAbstain(responses []*models.ScoredResponse, outcome *models.VoteOutcome) (bool, string) {
	fulfilled := 0
	allBelowQuality := true
	var diversitySum float64
	for _, r := range responses {
		if !r.Fulfilled() {
			continue
		}
		fulfilled++
		if r.Quality.Composite >= p.QualityThreshold {
			allBelowQuality = false
		}
		diversitySum += r.EmbeddingUniqueness
	}
	if fulfilled == 0 {
		return true, "no fulfilled responses"
	}

	if allBelowQuality {
		p.log("all responses below quality threshold")
		return true, "all responses below quality threshold"
	}

	diversity := diversitySum / float64(fulfilled)
	if fulfilled > 1 && diversity < p.DiversityFloor && outcome.Consensus == models.ConsensusVeryWeak {
		p.log("low diversity with very weak consensus")
		return true, "low diversity with very weak consensus"
	}
	return false, ""
}

func (p *AbstentionPolicy) log(reason string) {
	if p.logger != nil {
		p.logger.WithField("reason", reason).Info("vote abstained")
	}
}
