package voting

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/llm"
	"github.com/neurastack/gateway/internal/models"
)

// metaVoterConfidenceCap bounds how much trust a meta-voter verdict carries.
const metaVoterConfidenceCap = 0.7

// MetaVoter asks a single arbiter model to rank the candidate responses
// against a fixed rubric. It is the second escalation stage, after the
// deterministic tie-breaker.
type MetaVoter struct {
	arbiter llm.Provider
	logger  *logrus.Logger
}

// NewMetaVoter creates a meta-voter backed by the given arbiter provider.
func NewMetaVoter(arbiter llm.Provider, logger *logrus.Logger) *MetaVoter {
	return &MetaVoter{arbiter: arbiter, logger: logger}
}

// MetaVerdict is the arbiter's ranking outcome.
type MetaVerdict struct {
	Winner     string  `json:"winner"`
	Confidence float64 `json:"confidence"`
	Ranking    []string `json:"ranking"`
}

var rankLineRe = regexp.MustCompile(`(?m)^\s*(\d+)[.):]\s*([a-zA-Z0-9_-]+)`)

// Rank asks the arbiter to order the candidate roles. On any failure the
// previous outcome stands: the caller keeps its winner and the returned error
// is advisory.
func (mv *MetaVoter) Rank(ctx context.Context, prompt models.Prompt, responses []*models.ScoredResponse) (*MetaVerdict, error) {
	if mv.arbiter == nil {
		return nil, fmt.Errorf("meta voter: no arbiter configured")
	}

	candidates := make([]*models.ScoredResponse, 0, len(responses))
	for _, r := range responses {
		if r.Fulfilled() && strings.TrimSpace(r.Content) != "" {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) < 2 {
		return nil, fmt.Errorf("meta voter: need at least 2 candidates, have %d", len(candidates))
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Role < candidates[j].Role })

	rubric := mv.buildRubric(prompt.Text, candidates)
	resp, err := mv.arbiter.Invoke(ctx, models.Prompt{
		Text:          rubric,
		CorrelationID: prompt.CorrelationID,
		Tier:          prompt.Tier,
	})
	if err != nil {
		if mv.logger != nil {
			mv.logger.WithError(err).Warn("meta voter call failed, previous outcome stands")
		}
		return nil, err
	}

	verdict, err := mv.parseRanking(resp.Content, candidates)
	if err != nil {
		if mv.logger != nil {
			mv.logger.WithError(err).Warn("meta voter output unparseable, previous outcome stands")
		}
		return nil, err
	}
	return verdict, nil
}

// buildRubric produces the fixed ranking prompt. Candidates are addressed by
// role tag so the output is trivially parseable.
func (mv *MetaVoter) buildRubric(question string, candidates []*models.ScoredResponse) string {
	var b strings.Builder
	b.WriteString("You are ranking candidate answers to a question.\n")
	b.WriteString("Rank them from best to worst on accuracy, completeness, clarity and relevance.\n")
	b.WriteString("Reply ONLY with a numbered list of candidate names, best first, one per line.\n\n")
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nCandidates:\n")
	for _, c := range candidates {
		b.WriteString(fmt.Sprintf("\n[%s]\n%s\n", c.Role, truncate(c.Content, 2000)))
	}
	b.WriteString("\nRanking:\n")
	return b.String()
}

// parseRanking extracts the ordered role list from the arbiter's reply. The
// verdict confidence decays with ranking completeness and is always capped.
func (mv *MetaVoter) parseRanking(output string, candidates []*models.ScoredResponse) (*MetaVerdict, error) {
	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.Role] = true
	}

	seen := make(map[string]bool)
	var ranking []string
	for _, m := range rankLineRe.FindAllStringSubmatch(output, -1) {
		role := strings.TrimSpace(m[2])
		if known[role] && !seen[role] {
			seen[role] = true
			ranking = append(ranking, role)
		}
	}
	if len(ranking) == 0 {
		// Fall back to scanning for bare role mentions in order of appearance.
		type hit struct {
			role string
			pos  int
		}
		var hits []hit
		for role := range known {
			if idx := strings.Index(output, role); idx >= 0 {
				hits = append(hits, hit{role, idx})
			}
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
		for _, h := range hits {
			ranking = append(ranking, h.role)
		}
	}
	if len(ranking) == 0 {
		return nil, fmt.Errorf("meta voter: no recognizable roles in output")
	}

	confidence := metaVoterConfidenceCap * float64(len(ranking)) / float64(len(candidates))
	if confidence > metaVoterConfidenceCap {
		confidence = metaVoterConfidenceCap
	}
	return &MetaVerdict{
		Winner:     ranking[0],
		Confidence: confidence,
		Ranking:    ranking,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
