// Package synthesis assembles the final answer: it selects section-level
// fragments across winning and near-winning responses, orders them, and asks
// a provider to fuse them, with a template fallback when the call fails.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/intent"
	"github.com/neurastack/gateway/internal/llm"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/scoring"
	"github.com/neurastack/gateway/internal/textutil"
)

// Config tunes section selection.
type Config struct {
	// MaxSections caps the number of selected fragments.
	MaxSections int
	// MinSectionWords rejects fragments shorter than this.
	MinSectionWords int
	// QualityFloor rejects fragments scoring below it.
	QualityFloor float64
	// RedundancyThreshold rejects fragments whose word-set Jaccard similarity
	// to an already-selected fragment exceeds it.
	RedundancyThreshold float64
	// StrictTemplate switches the synthesis prompt to the stricter variant
	// used for a post-validation re-synthesis.
	StrictTemplate bool
}

// DefaultConfig returns synthesizer defaults.
func DefaultConfig() Config {
	return Config{
		MaxSections:         6,
		MinSectionWords:     8,
		QualityFloor:        0.3,
		RedundancyThreshold: 0.7,
	}
}

// Synthesizer combines multiple responses into one answer.
type Synthesizer struct {
	config   Config
	scorer   *scoring.Scorer
	provider llm.Provider
	logger   *logrus.Logger
}

// NewSynthesizer creates a synthesizer. provider may be nil, which forces the
// template fallback.
func NewSynthesizer(config Config, scorer *scoring.Scorer, provider llm.Provider, logger *logrus.Logger) *Synthesizer {
	if scorer == nil {
		scorer = scoring.NewDefaultScorer()
	}
	return &Synthesizer{config: config, scorer: scorer, provider: provider, logger: logger}
}

// WithStrictTemplate returns a copy of the synthesizer that uses the
// stricter prompt template. Used for the single post-validation retry.
func (s *Synthesizer) WithStrictTemplate() *Synthesizer {
	strict := *s
	strict.config.StrictTemplate = true
	return &strict
}

// Synthesize produces the combined answer from the fulfilled responses.
// Exactly one fulfilled response short-circuits to that response's content.
func (s *Synthesizer) Synthesize(ctx context.Context, prompt models.Prompt, responses []*models.ScoredResponse, intentResult intent.Result) (*models.SynthesizedAnswer, error) {
	fulfilled := make([]*models.ScoredResponse, 0, len(responses))
	for _, r := range responses {
		if r.Fulfilled() && strings.TrimSpace(r.Content) != "" {
			fulfilled = append(fulfilled, r)
		}
	}
	if len(fulfilled) == 0 {
		return nil, fmt.Errorf("synthesis: no fulfilled responses")
	}
	if len(fulfilled) == 1 {
		sole := fulfilled[0]
		return &models.SynthesizedAnswer{
			Text:               sole.Content,
			ContributingRoles:  []string{sole.Role},
			SectionPlan:        []string{string(SectionExplanation)},
			QualityImprovement: 0,
			SynthesisModel:     sole.Model,
			SynthesisProvider:  sole.Provider,
		}, nil
	}

	selected := s.selectSections(prompt.Text, fulfilled, intentResult)
	if len(selected) == 0 {
		// Every fragment fell below the floor; take the best whole response.
		best := fulfilled[0]
		for _, r := range fulfilled[1:] {
			if r.Quality.Composite > best.Quality.Composite {
				best = r
			}
		}
		return &models.SynthesizedAnswer{
			Text:              best.Content,
			ContributingRoles: []string{best.Role},
			SectionPlan:       []string{string(SectionExplanation)},
			FallbackUsed:      true,
			SynthesisModel:    best.Model,
			SynthesisProvider: best.Provider,
		}, nil
	}

	ordered := orderSections(selected)
	plan := make([]string, len(ordered))
	roles := make([]string, len(ordered))
	for i, sec := range ordered {
		plan[i] = string(sec.Type)
		roles[i] = sec.Role
	}

	text, fallback := s.fuse(ctx, prompt, ordered, intentResult)

	meanInput := meanComposite(fulfilled)
	synthQuality := s.scorer.Score(prompt.Text, text).Composite

	answer := &models.SynthesizedAnswer{
		Text:               text,
		ContributingRoles:  roles,
		SectionPlan:        plan,
		QualityImprovement: synthQuality - meanInput,
		FallbackUsed:       fallback,
	}
	if s.provider != nil && !fallback {
		answer.SynthesisModel = s.provider.Model()
		answer.SynthesisProvider = s.provider.ProviderName()
	}
	return answer, nil
}

// selectSections splits, scores, and greedily picks non-redundant fragments.
func (s *Synthesizer) selectSections(prompt string, responses []*models.ScoredResponse, intentResult intent.Result) []section {
	var candidates []section
	for _, r := range responses {
		for _, sec := range splitSections(r) {
			if textutil.WordCount(sec.Text) < s.config.MinSectionWords {
				continue
			}
			quality := s.scorer.Score(prompt, sec.Text)
			relevance := quality.Relevance.Score
			sec.Score = quality.Composite * typeWeights[sec.Type] * (0.5 + 0.5*relevance)
			if sec.Score < s.config.QualityFloor*typeWeights[sec.Type] {
				continue
			}
			candidates = append(candidates, sec)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Role != candidates[j].Role {
			return candidates[i].Role < candidates[j].Role
		}
		return candidates[i].position < candidates[j].position
	})

	maxSections := s.maxSectionsFor(intentResult)
	var selected []section
	for _, c := range candidates {
		if len(selected) >= maxSections {
			break
		}
		redundant := false
		for _, chosen := range selected {
			if textutil.Jaccard(c.wordSet, chosen.wordSet) > s.config.RedundancyThreshold {
				redundant = true
				break
			}
		}
		if !redundant {
			selected = append(selected, c)
		}
	}
	return selected
}

// maxSectionsFor adjusts the section budget by intent: complex analytical
// prompts get more room, simple factual ones less.
func (s *Synthesizer) maxSectionsFor(intentResult intent.Result) int {
	max := s.config.MaxSections
	switch intentResult.Class {
	case intent.ClassFactual:
		if max > 4 {
			return 4
		}
	case intent.ClassTechnical, intent.ClassAnalytical:
		return max + 2
	}
	return max
}

// fuse calls the synthesis provider, falling back to concatenation.
func (s *Synthesizer) fuse(ctx context.Context, prompt models.Prompt, ordered []section, intentResult intent.Result) (string, bool) {
	template := s.concatenate(ordered)
	if s.provider == nil {
		return template, true
	}

	resp, err := s.provider.Invoke(ctx, models.Prompt{
		Text:          s.buildSynthesisPrompt(prompt.Text, ordered, intentResult),
		CorrelationID: prompt.CorrelationID,
		Tier:          prompt.Tier,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		if s.logger != nil {
			s.logger.WithError(err).Warn("synthesis call failed, using template fallback")
		}
		return template, true
	}
	return resp.Content, false
}

func (s *Synthesizer) concatenate(ordered []section) string {
	parts := make([]string, len(ordered))
	for i, sec := range ordered {
		parts[i] = sec.Text
	}
	return strings.Join(parts, "\n\n")
}

func (s *Synthesizer) buildSynthesisPrompt(question string, ordered []section, intentResult intent.Result) string {
	var b strings.Builder
	b.WriteString("Combine the following fragments into one coherent answer to the question.\n")
	b.WriteString("Preserve factual content, remove repetition, keep the given order of ideas.\n")
	if s.config.StrictTemplate {
		b.WriteString("Only state claims supported by the fragments. Do not add new facts.\n")
	}
	if intentResult.Class != "" {
		b.WriteString(fmt.Sprintf("The question is %s in nature; match that register.\n", intentResult.Class))
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nFragments:\n")
	for i, sec := range ordered {
		b.WriteString(fmt.Sprintf("\n%d. [%s]\n%s\n", i+1, sec.Type, sec.Text))
	}
	b.WriteString("\nAnswer:\n")
	return b.String()
}

func meanComposite(responses []*models.ScoredResponse) float64 {
	if len(responses) == 0 {
		return 0
	}
	var sum float64
	for _, r := range responses {
		sum += r.Quality.Composite
	}
	return sum / float64(len(responses))
}
