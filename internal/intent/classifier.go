// Package intent classifies prompts by intent class, domain, complexity and
// urgency. Classification is rule-based and deterministic; its output drives
// the voter's weight adjustments, timeout scaling and synthesis strategy.
package intent

import (
	"regexp"
	"sort"
	"strings"

	"github.com/neurastack/gateway/internal/textutil"
)

// Class is one of the fixed prompt intent categories.
type Class string

const (
	ClassFactual        Class = "factual"
	ClassCreative       Class = "creative"
	ClassTechnical      Class = "technical"
	ClassComparative    Class = "comparative"
	ClassExplanatory    Class = "explanatory"
	ClassProblemSolving Class = "problem-solving"
	ClassAnalytical     Class = "analytical"
	ClassInstructional  Class = "instructional"
	ClassGeneral        Class = "general"
)

// Domain is the broad subject area of a prompt.
type Domain string

const (
	DomainTechnology Domain = "technology"
	DomainScience    Domain = "science"
	DomainBusiness   Domain = "business"
	DomainEducation  Domain = "education"
	DomainHealth     Domain = "health"
	DomainArts       Domain = "arts"
	DomainGeneral    Domain = "general"
)

// Complexity grades the prompt's difficulty.
type Complexity string

const (
	ComplexityVerySimple  Complexity = "very_simple"
	ComplexitySimple      Complexity = "simple"
	ComplexityModerate    Complexity = "moderate"
	ComplexityComplex     Complexity = "complex"
	ComplexityVeryComplex Complexity = "very_complex"
)

// Urgency grades how time-sensitive the prompt appears.
type Urgency string

const (
	UrgencyHigh   Urgency = "high"
	UrgencyMedium Urgency = "medium"
	UrgencyLow    Urgency = "low"
)

// Result is the full classification of a prompt.
type Result struct {
	Class      Class              `json:"class"`
	Scores     map[Class]float64  `json:"scores"`
	Domain     Domain             `json:"domain"`
	Complexity Complexity         `json:"complexity"`
	Urgency    Urgency            `json:"urgency"`
	Confidence float64            `json:"confidence"`
}

type rule struct {
	keywords []string
	patterns []*regexp.Regexp
}

func (r rule) score(lower string) float64 {
	score := 0.0
	for _, kw := range r.keywords {
		if strings.Contains(lower, kw) {
			score += 0.25
		}
	}
	for _, p := range r.patterns {
		if p.MatchString(lower) {
			score += 0.35
		}
	}
	if score > 1 {
		return 1
	}
	return score
}

var intentRules = map[Class]rule{
	ClassFactual: {
		keywords: []string{"what is", "who is", "when did", "where is", "define", "fact"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`^(what|who|when|where)\b`)},
	},
	ClassCreative: {
		keywords: []string{"write a story", "poem", "imagine", "creative", "invent", "fiction", "brainstorm"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`\bwrite (me )?a\b`)},
	},
	ClassTechnical: {
		keywords: []string{"code", "algorithm", "implement", "debug", "api", "function", "database", "b-tree", "compile", "architecture"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`\b(in (go|python|java|rust|c\+\+)|stack trace|error message)\b`)},
	},
	ClassComparative: {
		keywords: []string{"compare", "versus", " vs ", "difference between", "better than", "pros and cons"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`\bwhich (is|one)\b.*\b(better|best|faster)\b`)},
	},
	ClassExplanatory: {
		keywords: []string{"explain", "why does", "how does", "describe", "what happens"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`^explain\b`)},
	},
	ClassProblemSolving: {
		keywords: []string{"solve", "fix", "troubleshoot", "resolve", "not working", "issue", "problem"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`\bhow (do|can) i (fix|solve|resolve)\b`)},
	},
	ClassAnalytical: {
		keywords: []string{"analyze", "evaluate", "assess", "implications", "trade-offs", "tradeoffs", "impact of"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`\b(strengths and weaknesses|critically)\b`)},
	},
	ClassInstructional: {
		keywords: []string{"how to", "steps to", "guide", "tutorial", "walk me through", "instructions"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`^how to\b`)},
	},
}

var domainRules = map[Domain][]string{
	DomainTechnology: {"software", "computer", "code", "program", "database", "network", "server", "algorithm", "api", "app", "cloud"},
	DomainScience:    {"physics", "chemistry", "biology", "experiment", "theory", "molecule", "quantum", "cell", "energy", "species"},
	DomainBusiness:   {"market", "revenue", "profit", "startup", "strategy", "customer", "sales", "investment", "company", "finance"},
	DomainEducation:  {"learn", "teach", "student", "course", "study", "school", "curriculum", "exam", "lesson"},
	DomainHealth:     {"health", "medical", "disease", "symptom", "treatment", "diet", "exercise", "doctor", "medicine"},
	DomainArts:       {"music", "painting", "novel", "film", "poetry", "design", "artist", "literature", "sculpture"},
}

var complexityIndicators = []string{
	"trade-off", "tradeoff", "distributed", "concurrency", "optimization",
	"architecture", "implications", "asymptotic", "formal", "prove",
	"multi-step", "constraints", "edge cases",
}

var urgencyHighTerms = []string{"urgent", "asap", "immediately", "right now", "emergency", "critical"}
var urgencyMediumTerms = []string{"soon", "today", "quickly", "deadline"}

// Classifier classifies prompts. Stateless and safe for concurrent use.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify scores the prompt against every intent rule and returns the argmax
// plus domain, complexity and urgency.
func (c *Classifier) Classify(prompt string) Result {
	lower := strings.ToLower(prompt)

	scores := make(map[Class]float64, len(intentRules)+1)
	for class, r := range intentRules {
		scores[class] = r.score(lower)
	}
	scores[ClassGeneral] = 0.1

	best := ClassGeneral
	bestScore := scores[ClassGeneral]
	// Deterministic iteration for stable argmax on ties.
	classes := make([]Class, 0, len(scores))
	for class := range scores {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	for _, class := range classes {
		if scores[class] > bestScore {
			best = class
			bestScore = scores[class]
		}
	}

	return Result{
		Class:      best,
		Scores:     scores,
		Domain:     classifyDomain(lower),
		Complexity: classifyComplexity(prompt, lower),
		Urgency:    classifyUrgency(lower),
		Confidence: bestScore,
	}
}

func classifyDomain(lower string) Domain {
	best := DomainGeneral
	bestHits := 0
	domains := []Domain{DomainArts, DomainBusiness, DomainEducation, DomainHealth, DomainScience, DomainTechnology}
	for _, d := range domains {
		hits := 0
		for _, kw := range domainRules[d] {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = d
			bestHits = hits
		}
	}
	return best
}

func classifyComplexity(prompt, lower string) Complexity {
	words := textutil.WordCount(prompt)
	sentences := len(textutil.SplitSentences(prompt))
	indicators := 0
	for _, ind := range complexityIndicators {
		if strings.Contains(lower, ind) {
			indicators++
		}
	}

	points := 0
	switch {
	case words > 80:
		points += 2
	case words > 30:
		points++
	}
	if sentences > 3 {
		points++
	}
	points += indicators

	switch {
	case points >= 4:
		return ComplexityVeryComplex
	case points == 3:
		return ComplexityComplex
	case points == 2:
		return ComplexityModerate
	case points == 1:
		return ComplexitySimple
	default:
		return ComplexityVerySimple
	}
}

func classifyUrgency(lower string) Urgency {
	for _, t := range urgencyHighTerms {
		if strings.Contains(lower, t) {
			return UrgencyHigh
		}
	}
	for _, t := range urgencyMediumTerms {
		if strings.Contains(lower, t) {
			return UrgencyMedium
		}
	}
	return UrgencyLow
}
