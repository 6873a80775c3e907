package synthesis

import (
	"regexp"
	"sort"
	"strings"

	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/textutil"
)

// SectionType classifies a fragment of a response.
type SectionType string

const (
	SectionIntroduction SectionType = "introduction"
	SectionExplanation  SectionType = "explanation"
	SectionExamples     SectionType = "examples"
	SectionApplications SectionType = "applications"
	SectionDetails      SectionType = "details"
	SectionConclusion   SectionType = "conclusion"
)

// canonicalOrder is the presentation order of selected sections.
var canonicalOrder = []SectionType{
	SectionIntroduction,
	SectionExplanation,
	SectionExamples,
	SectionApplications,
	SectionDetails,
	SectionConclusion,
}

// typeWeights bias section selection toward explanatory substance.
var typeWeights = map[SectionType]float64{
	SectionIntroduction: 0.8,
	SectionExplanation:  1.0,
	SectionExamples:     0.9,
	SectionApplications: 0.85,
	SectionDetails:      0.75,
	SectionConclusion:   0.7,
}

// section is one candidate fragment with its provenance and combined score.
type section struct {
	Type     SectionType
	Text     string
	Role     string
	Score    float64
	wordSet  map[string]struct{}
	position int // ordinal within its source response
}

var headingRe = regexp.MustCompile(`^#{1,6}\s+|^[A-Z][A-Za-z ]{2,40}:$`)

// splitSections breaks a response into classified fragments. Headers start a
// new fragment; otherwise paragraphs are the unit.
func splitSections(resp *models.ScoredResponse) []section {
	paragraphs := textutil.SplitParagraphs(resp.Content)
	sections := make([]section, 0, len(paragraphs))
	for i, p := range paragraphs {
		text := strings.TrimSpace(p)
		if text == "" {
			continue
		}
		sections = append(sections, section{
			Type:     classifySection(text, i, len(paragraphs)),
			Text:     text,
			Role:     resp.Role,
			wordSet:  textutil.WordSet(textutil.ContentWords(text)),
			position: i,
		})
	}
	return sections
}

var (
	introMarkers       = []string{"in short", "overview", "at a high level", "simply put", "to begin"}
	exampleMarkers     = []string{"for example", "for instance", "e.g.", "such as", "consider", "imagine", "```"}
	applicationMarkers = []string{"used for", "used in", "in practice", "applications", "applies to", "real-world", "use case"}
	conclusionMarkers  = []string{"in conclusion", "in summary", "to summarize", "overall", "finally", "ultimately"}
	explanationMarkers = []string{"because", "this means", "works by", "the reason", "as a result", "therefore", "which causes"}
)

// classifySection tags a paragraph by marker terms, falling back to its
// position in the source response.
func classifySection(text string, position, total int) SectionType {
	lower := strings.ToLower(text)
	containsAny := func(markers []string) bool {
		for _, m := range markers {
			if strings.Contains(lower, m) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny(conclusionMarkers):
		return SectionConclusion
	case containsAny(exampleMarkers):
		return SectionExamples
	case containsAny(applicationMarkers):
		return SectionApplications
	case containsAny(introMarkers):
		return SectionIntroduction
	case containsAny(explanationMarkers):
		return SectionExplanation
	case headingRe.MatchString(text):
		return SectionDetails
	}

	// Positional fallback.
	switch {
	case position == 0:
		return SectionIntroduction
	case total > 1 && position == total-1:
		return SectionConclusion
	default:
		return SectionDetails
	}
}

// orderSections arranges selected sections in the canonical type order,
// highest combined score first within each type.
func orderSections(selected []section) []section {
	rank := make(map[SectionType]int, len(canonicalOrder))
	for i, t := range canonicalOrder {
		rank[t] = i
	}
	out := make([]section, len(selected))
	copy(out, selected)
	sort.SliceStable(out, func(i, j int) bool {
		if rank[out[i].Type] != rank[out[j].Type] {
			return rank[out[i].Type] < rank[out[j].Type]
		}
		return out[i].Score > out[j].Score
	})
	return out
}
