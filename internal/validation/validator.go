// Package validation runs post-synthesis checks over the combined answer:
// relevance, completeness, plausibility and cross-response consistency, each
// gated per validation level. Validation never edits the answer; failures
// surface as issues and recommendations.
package validation

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/scoring"
	"github.com/neurastack/gateway/internal/textutil"
)

// Level selects the threshold profile.
type Level string

const (
	LevelStrict   Level = "strict"
	LevelStandard Level = "standard"
	LevelLenient  Level = "lenient"
)

// Dimension names used in reports.
const (
	DimRelevance    = "relevance"
	DimCompleteness = "completeness"
	DimPlausibility = "plausibility"
	DimConsistency  = "consistency"
)

// thresholds holds per-dimension gates plus the overall minimum.
type thresholds struct {
	relevance    float64
	completeness float64
	plausibility float64
	consistency  float64
	overall      float64
}

var levelThresholds = map[Level]thresholds{
	LevelStrict:   {relevance: 0.5, completeness: 0.5, plausibility: 0.6, consistency: 0.6, overall: 0.6},
	LevelStandard: {relevance: 0.35, completeness: 0.35, plausibility: 0.5, consistency: 0.5, overall: 0.45},
	LevelLenient:  {relevance: 0.25, completeness: 0.25, plausibility: 0.4, consistency: 0.4, overall: 0.35},
}

// Validator gates synthesized answers.
type Validator struct {
	level  Level
	scorer *scoring.Scorer
	logger *logrus.Logger
}

// NewValidator creates a validator at the given level. Unknown levels fall
// back to standard.
func NewValidator(level Level, scorer *scoring.Scorer, logger *logrus.Logger) *Validator {
	if _, ok := levelThresholds[level]; !ok {
		level = LevelStandard
	}
	if scorer == nil {
		scorer = scoring.NewDefaultScorer()
	}
	return &Validator{level: level, scorer: scorer, logger: logger}
}

// Validate scores the synthesized answer against the prompt and the input
// responses it was built from.
func (v *Validator) Validate(prompt string, answer *models.SynthesizedAnswer, inputs []*models.ScoredResponse) *models.ValidationReport {
	gates := levelThresholds[v.level]
	quality := v.scorer.Score(prompt, answer.Text)

	dims := map[string]models.DimensionResult{
		DimRelevance:    gate(quality.Relevance.Score, gates.relevance),
		DimCompleteness: gate(quality.Completeness.Score, gates.completeness),
		DimPlausibility: gate(quality.Plausibility.Score, gates.plausibility),
		DimConsistency:  gate(v.consistencyScore(answer.Text, inputs), gates.consistency),
	}

	var total float64
	passed := true
	for _, d := range dims {
		total += d.Score
		if !d.Passed {
			passed = false
		}
	}
	overall := total / float64(len(dims))
	if overall < gates.overall {
		passed = false
	}

	report := &models.ValidationReport{
		Passed:       passed,
		OverallScore: overall,
		Dimensions:   dims,
	}
	v.collectIssues(report, gates)

	if v.logger != nil && !passed {
		v.logger.WithFields(logrus.Fields{
			"level":   v.level,
			"overall": overall,
			"issues":  len(report.Issues),
		}).Info("validation failed")
	}
	return report
}

func gate(score, threshold float64) models.DimensionResult {
	return models.DimensionResult{Score: score, Threshold: threshold, Passed: score >= threshold}
}

// consistencyScore checks the answer against the input responses: penalize
// contradictions via opposing-term pairs, reward key phrases repeated across
// inputs that the answer preserves.
func (v *Validator) consistencyScore(answer string, inputs []*models.ScoredResponse) float64 {
	if len(inputs) < 2 {
		return 1.0
	}
	answerLower := strings.ToLower(answer)

	score := 1.0
	for _, pair := range opposingTerms {
		inAnswer := strings.Contains(answerLower, pair[0]) && strings.Contains(answerLower, pair[1])
		if inAnswer {
			score -= 0.15
		}
		// Inputs disagreeing with each other on the pair is a softer penalty.
		first, second := false, false
		for _, in := range inputs {
			lower := strings.ToLower(in.Content)
			if strings.Contains(lower, pair[0]) {
				first = true
			}
			if strings.Contains(lower, pair[1]) {
				second = true
			}
		}
		if first && second && !inAnswer {
			score -= 0.05
		}
	}

	shared := sharedKeyPhrases(inputs)
	if len(shared) > 0 {
		preserved := 0
		for phrase := range shared {
			if strings.Contains(answerLower, phrase) {
				preserved++
			}
		}
		agreement := float64(preserved) / float64(len(shared))
		score = score*0.7 + agreement*0.3
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var opposingTerms = [][2]string{
	{"always", "never"},
	{"increase", "decrease"},
	{"safe", "dangerous"},
	{"possible", "impossible"},
	{"faster", "slower"},
	{"required", "optional"},
}

// sharedKeyPhrases returns content words appearing in a majority of inputs.
func sharedKeyPhrases(inputs []*models.ScoredResponse) map[string]struct{} {
	counts := make(map[string]int)
	for _, in := range inputs {
		seen := make(map[string]struct{})
		for _, w := range textutil.ContentWords(in.Content) {
			if len(w) < 4 {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			counts[w]++
		}
	}
	majority := len(inputs)/2 + 1
	shared := make(map[string]struct{})
	for w, c := range counts {
		if c >= majority {
			shared[w] = struct{}{}
		}
	}
	return shared
}

// collectIssues converts failed gates into issues and recommendations.
func (v *Validator) collectIssues(report *models.ValidationReport, gates thresholds) {
	recommend := map[string]string{
		DimRelevance:    "re-synthesize with the prompt keywords emphasized",
		DimCompleteness: "include the aspects of the prompt the answer skipped",
		DimPlausibility: "remove or qualify claims that conflict with basic constraints",
		DimConsistency:  "resolve contradictions between source responses before combining",
	}
	for name, d := range report.Dimensions {
		if d.Passed {
			continue
		}
		severity := models.SeverityWarning
		if d.Score < d.Threshold/2 {
			severity = models.SeverityCritical
		}
		report.Issues = append(report.Issues, models.ValidationIssue{
			Dimension: name,
			Severity:  severity,
			Message:   fmt.Sprintf("%s score %.2f below threshold %.2f", name, d.Score, d.Threshold),
		})
		report.Recommendations = append(report.Recommendations, recommend[name])
	}
	if report.OverallScore < gates.overall && len(report.Issues) == 0 {
		report.Issues = append(report.Issues, models.ValidationIssue{
			Dimension: "overall",
			Severity:  models.SeverityWarning,
			Message:   fmt.Sprintf("overall score %.2f below minimum %.2f", report.OverallScore, gates.overall),
		})
	}
}
