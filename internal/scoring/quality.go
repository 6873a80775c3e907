// Package scoring computes per-response quality dimensions. The scorer is a
// pure function of its inputs: identical (prompt, response) pairs always
// produce identical scores, and no network calls are made.
package scoring

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/textutil"
)

// Weights are the composite quality weights. They follow the dimension table
// (relevance 0.25, plausibility 0.20, completeness 0.20, coherence 0.25,
// structure 0.10, readability 0.10) and are normalized by their sum when the
// composite is computed.
type Weights struct {
	Relevance    float64
	Plausibility float64
	Completeness float64
	Coherence    float64
	Structure    float64
	Readability  float64
}

// DefaultWeights returns the default composite weights.
func DefaultWeights() Weights {
	return Weights{
		Relevance:    0.25,
		Plausibility: 0.20,
		Completeness: 0.20,
		Coherence:    0.25,
		Structure:    0.10,
		Readability:  0.10,
	}
}

// Scorer computes quality dimensions for a response given its prompt.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights.
func NewScorer(weights Weights) *Scorer {
	return &Scorer{weights: weights}
}

// NewDefaultScorer creates a scorer with the default weights.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultWeights())
}

// Score computes all dimensions and the composite for one response.
func (s *Scorer) Score(prompt, response string) models.QualityScores {
	q := models.QualityScores{
		Relevance:    s.scoreRelevance(prompt, response),
		Completeness: s.scoreCompleteness(prompt, response),
		Plausibility: s.scorePlausibility(response),
		Coherence:    s.scoreCoherence(response),
		Structure:    s.scoreStructure(response),
		Readability:  s.scoreReadability(response),
		Toxicity:     s.scoreToxicity(response),
	}

	w := s.weights
	total := w.Relevance + w.Plausibility + w.Completeness + w.Coherence + w.Structure + w.Readability
	if total <= 0 {
		total = 1
	}
	q.Composite = (q.Relevance.Score*w.Relevance +
		q.Plausibility.Score*w.Plausibility +
		q.Completeness.Score*w.Completeness +
		q.Coherence.Score*w.Coherence +
		q.Structure.Score*w.Structure +
		q.Readability.Score*w.Readability) / total
	q.Composite = clamp01(q.Composite)
	return q
}

// ---------------------------------------------------------------------------
// Relevance
// ---------------------------------------------------------------------------

type questionType string

const (
	questionDefinition  questionType = "definition"
	questionProcedure   questionType = "procedure"
	questionComparison  questionType = "comparison"
	questionEnumeration questionType = "enumeration"
	questionOpen        questionType = "open"
)

func detectQuestionType(prompt string) questionType {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "compare") || strings.Contains(lower, " vs ") ||
		strings.Contains(lower, "versus") || strings.Contains(lower, "difference between"):
		return questionComparison
	case strings.Contains(lower, "how to") || strings.Contains(lower, "how do") ||
		strings.Contains(lower, "how does") || strings.Contains(lower, "steps to"):
		return questionProcedure
	case strings.Contains(lower, "what is") || strings.Contains(lower, "what are") ||
		strings.Contains(lower, "define") || strings.Contains(lower, "meaning of"):
		return questionDefinition
	case strings.Contains(lower, "list ") || strings.Contains(lower, "examples of") ||
		strings.Contains(lower, "types of") || strings.Contains(lower, "name some"):
		return questionEnumeration
	default:
		return questionOpen
	}
}

func (s *Scorer) scoreRelevance(prompt, response string) models.DimensionScore {
	var factors []string

	promptWords := textutil.ContentWords(prompt)
	promptSet := textutil.WordSet(promptWords)
	responseSet := textutil.WordSet(textutil.ContentWords(response))

	// Keyword overlap: share of prompt content words echoed by the response.
	overlap := 0.0
	if len(promptSet) > 0 {
		hits := 0
		for w := range promptSet {
			if _, ok := responseSet[w]; ok {
				hits++
			}
		}
		overlap = float64(hits) / float64(len(promptSet))
		factors = append(factors, fmt.Sprintf("keyword overlap %.2f (%d/%d prompt terms)", overlap, hits, len(promptSet)))
	}

	// Question-type alignment.
	alignment := questionAlignment(detectQuestionType(prompt), response)
	factors = append(factors, fmt.Sprintf("question-type alignment %.2f (%s)", alignment, detectQuestionType(prompt)))

	// Topic overlap via the prompt's most frequent key terms.
	topicScore := topicOverlap(promptWords, responseSet)
	factors = append(factors, fmt.Sprintf("topic overlap %.2f", topicScore))

	score := clamp01(overlap*0.5 + alignment*0.25 + topicScore*0.25)
	return models.DimensionScore{Score: score, Factors: factors}
}

func questionAlignment(qt questionType, response string) float64 {
	lower := strings.ToLower(response)
	markers := func(terms ...string) float64 {
		hits := 0
		for _, t := range terms {
			if strings.Contains(lower, t) {
				hits++
			}
		}
		score := float64(hits) / 2
		if score > 1 {
			return 1
		}
		return score
	}
	switch qt {
	case questionDefinition:
		return markers("is a", "is an", "refers to", "defined as", "means", "is the")
	case questionProcedure:
		return markers("first", "then", "next", "step", "finally", "begin by")
	case questionComparison:
		return markers("while", "whereas", "on the other hand", "in contrast", "both", "unlike")
	case questionEnumeration:
		return markers("1.", "2.", "- ", "several", "include", "such as")
	default:
		// Open prompts align with any substantive answer.
		if textutil.WordCount(response) >= 20 {
			return 0.7
		}
		return 0.4
	}
}

func topicOverlap(promptWords []string, responseSet map[string]struct{}) float64 {
	if len(promptWords) == 0 {
		return 0
	}
	freq := make(map[string]int)
	for _, w := range promptWords {
		freq[w]++
	}
	// Key terms: words of length >= 4, weighted by frequency.
	type term struct {
		word  string
		count int
	}
	terms := make([]term, 0, len(freq))
	for w, c := range freq {
		if len(w) >= 4 {
			terms = append(terms, term{w, c})
		}
	}
	if len(terms) == 0 {
		return 0.5
	}
	hits := 0
	for _, t := range terms {
		if _, ok := responseSet[t.word]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// ---------------------------------------------------------------------------
// Completeness
// ---------------------------------------------------------------------------

func (s *Scorer) scoreCompleteness(prompt, response string) models.DimensionScore {
	var factors []string

	promptWords := textutil.WordCount(prompt)
	responseWords := textutil.WordCount(response)

	// Length appropriateness: the expected range grows with prompt size.
	expectedMin := 20 + promptWords*2
	expectedMax := 150 + promptWords*15
	lengthScore := 1.0
	switch {
	case responseWords < expectedMin:
		lengthScore = float64(responseWords) / float64(expectedMin)
		factors = append(factors, fmt.Sprintf("short for prompt (%d words, expected >= %d)", responseWords, expectedMin))
	case responseWords > expectedMax:
		lengthScore = 0.8
		factors = append(factors, fmt.Sprintf("longer than expected (%d words, expected <= %d)", responseWords, expectedMax))
	default:
		factors = append(factors, fmt.Sprintf("length appropriate (%d words)", responseWords))
	}

	// Aspect coverage from prompt cues.
	aspectScore, aspectFactors := aspectCoverage(prompt, response)
	factors = append(factors, aspectFactors...)

	// Structural completeness detectors.
	structScore, structFactors := structuralCompleteness(response)
	factors = append(factors, structFactors...)

	score := clamp01(lengthScore*0.4 + aspectScore*0.35 + structScore*0.25)
	return models.DimensionScore{Score: score, Factors: factors}
}

func aspectCoverage(prompt, response string) (float64, []string) {
	lowerPrompt := strings.ToLower(prompt)
	lowerResponse := strings.ToLower(response)

	type aspect struct {
		cue     string
		markers []string
		label   string
	}
	aspects := []aspect{
		{"why", []string{"because", "since", "due to", "reason"}, "reasons"},
		{"how", []string{"by ", "step", "first", "through", "using"}, "method"},
		{"example", []string{"for example", "e.g.", "such as", "for instance"}, "examples"},
		{"when", []string{"when", "during", "after", "before", "in 1", "in 2"}, "timing"},
		{"advantages", []string{"advantage", "benefit", "pro"}, "advantages"},
		{"disadvantages", []string{"disadvantage", "drawback", "con", "limitation"}, "disadvantages"},
	}

	expected := 0
	covered := 0
	var factors []string
	for _, a := range aspects {
		if !strings.Contains(lowerPrompt, a.cue) {
			continue
		}
		expected++
		for _, m := range a.markers {
			if strings.Contains(lowerResponse, m) {
				covered++
				factors = append(factors, "covers expected aspect: "+a.label)
				break
			}
		}
	}
	if expected == 0 {
		return 0.8, factors
	}
	return float64(covered) / float64(expected), factors
}

func structuralCompleteness(response string) (float64, []string) {
	paragraphs := textutil.SplitParagraphs(response)
	lower := strings.ToLower(response)

	var factors []string
	points := 0.0

	if len(paragraphs) >= 2 {
		points += 0.25
		factors = append(factors, "has introduction and body separation")
	}
	if len(paragraphs) >= 3 {
		points += 0.25
		factors = append(factors, "multi-paragraph main content")
	}
	for _, marker := range []string{"in conclusion", "in summary", "overall", "to summarize", "finally"} {
		if strings.Contains(lower, marker) {
			points += 0.25
			factors = append(factors, "has conclusion")
			break
		}
	}
	for _, marker := range []string{"for example", "e.g.", "such as", "for instance"} {
		if strings.Contains(lower, marker) {
			points += 0.25
			factors = append(factors, "has examples")
			break
		}
	}
	return points, factors
}

// ---------------------------------------------------------------------------
// Plausibility
// ---------------------------------------------------------------------------

var impossibleClaims = []string{
	"perpetual motion machine",
	"faster than the speed of light",
	"100% guaranteed",
	"cures all diseases",
	"infinite energy",
	"never fails",
	"works every time for everyone",
	"zero risk of any kind",
}

var opposingPairs = [][2]string{
	{"always", "never"},
	{"increases", "decreases"},
	{"impossible", "guaranteed"},
	{"all", "none"},
	{"safe", "dangerous"},
	{"faster", "slower"},
}

var hedgeWords = map[string]struct{}{
	"maybe": {}, "perhaps": {}, "possibly": {}, "might": {}, "may": {},
	"probably": {}, "likely": {}, "unclear": {}, "uncertain": {},
	"somewhat": {}, "arguably": {}, "presumably": {}, "supposedly": {},
}

var (
	percentRe     = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*%`)
	yearRe        = regexp.MustCompile(`\b(?:in|year|since|by)\s+(\d{3,5})\b`)
	temperatureRe = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:°\s*c|degrees celsius|degrees c\b)`)
)

func (s *Scorer) scorePlausibility(response string) models.DimensionScore {
	var factors []string
	lower := strings.ToLower(response)
	score := 1.0

	for _, claim := range impossibleClaims {
		if strings.Contains(lower, claim) {
			score -= 0.25
			factors = append(factors, "impossible claim: "+claim)
		}
	}

	for _, m := range percentRe.FindAllStringSubmatch(lower, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && (v < 0 || v > 100) {
			score -= 0.15
			factors = append(factors, fmt.Sprintf("percentage out of range: %s%%", m[1]))
		}
	}
	for _, m := range yearRe.FindAllStringSubmatch(lower, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && (v < 1000 || v > 2030) {
			score -= 0.1
			factors = append(factors, fmt.Sprintf("year out of range: %s", m[1]))
		}
	}
	for _, m := range temperatureRe.FindAllStringSubmatch(lower, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && (v < -273 || v > 1000) {
			score -= 0.15
			factors = append(factors, fmt.Sprintf("temperature out of range: %s°C", m[1]))
		}
	}

	for _, pair := range opposingPairs {
		if strings.Contains(lower, " "+pair[0]+" ") && strings.Contains(lower, " "+pair[1]+" ") {
			score -= 0.1
			factors = append(factors, fmt.Sprintf("potential contradiction: %q vs %q", pair[0], pair[1]))
		}
	}

	tokens := textutil.Tokenize(response)
	if len(tokens) > 0 {
		hedges := 0
		for _, tok := range tokens {
			if _, ok := hedgeWords[tok]; ok {
				hedges++
			}
		}
		ratio := float64(hedges) / float64(len(tokens))
		if ratio > 0.05 {
			score -= 0.15
			factors = append(factors, fmt.Sprintf("excessive hedging (%.1f%% of tokens)", ratio*100))
		}
	}

	if len(factors) == 0 {
		factors = append(factors, "no plausibility issues detected")
	}
	return models.DimensionScore{Score: clamp01(score), Factors: factors}
}

// ---------------------------------------------------------------------------
// Coherence
// ---------------------------------------------------------------------------

func (s *Scorer) scoreCoherence(response string) models.DimensionScore {
	var factors []string
	sentences := textutil.SplitSentences(response)
	if len(sentences) == 0 {
		return models.DimensionScore{Score: 0, Factors: []string{"empty response"}}
	}
	if len(sentences) == 1 {
		return models.DimensionScore{Score: 0.6, Factors: []string{"single sentence"}}
	}

	// Adjacent-sentence lexical continuity.
	var totalSim float64
	for i := 1; i < len(sentences); i++ {
		totalSim += textutil.JaccardText(sentences[i-1], sentences[i])
	}
	continuity := totalSim / float64(len(sentences)-1)
	// Some overlap signals flow; full repetition does not.
	continuityScore := clamp01(continuity * 4)
	if continuity > 0.5 {
		continuityScore = 1 - (continuity-0.5)*2
		factors = append(factors, "repetitive adjacent sentences")
	}
	factors = append(factors, fmt.Sprintf("sentence continuity %.2f", continuity))

	// Paragraph topic consistency against the whole response.
	paragraphs := textutil.SplitParagraphs(response)
	consistency := 1.0
	if len(paragraphs) > 1 {
		whole := textutil.WordSet(textutil.ContentWords(response))
		var total float64
		for _, p := range paragraphs {
			total += textutil.Jaccard(textutil.WordSet(textutil.ContentWords(p)), whole)
		}
		consistency = clamp01(total / float64(len(paragraphs)) * 2)
		factors = append(factors, fmt.Sprintf("paragraph topic consistency %.2f", consistency))
	}

	score := clamp01(continuityScore*0.5 + consistency*0.5)
	return models.DimensionScore{Score: score, Factors: factors}
}

// ---------------------------------------------------------------------------
// Structure
// ---------------------------------------------------------------------------

var flowConnectives = []string{
	"first", "second", "third", "finally", "however", "therefore",
	"moreover", "additionally", "in addition", "consequently",
	"furthermore", "as a result", "on the other hand",
}

func (s *Scorer) scoreStructure(response string) models.DimensionScore {
	var factors []string
	score := 0.0

	paragraphs := textutil.SplitParagraphs(response)
	switch {
	case len(paragraphs) >= 2 && len(paragraphs) <= 8:
		score += 0.3
		factors = append(factors, fmt.Sprintf("%d paragraphs", len(paragraphs)))
	case len(paragraphs) == 1 && textutil.WordCount(response) < 120:
		score += 0.15
		factors = append(factors, "single short paragraph")
	default:
		factors = append(factors, fmt.Sprintf("%d paragraphs (outside ideal range)", len(paragraphs)))
	}

	if hasListMarkers(response) {
		score += 0.25
		factors = append(factors, "contains lists")
	}
	if hasHeadings(response) {
		score += 0.2
		factors = append(factors, "contains headings")
	}

	lower := strings.ToLower(response)
	connectives := 0
	for _, c := range flowConnectives {
		if strings.Contains(lower, c) {
			connectives++
		}
	}
	if connectives >= 2 {
		score += 0.25
		factors = append(factors, fmt.Sprintf("%d flow connectives", connectives))
	} else if connectives == 1 {
		score += 0.15
		factors = append(factors, "one flow connective")
	}

	return models.DimensionScore{Score: clamp01(score), Factors: factors}
}

func hasListMarkers(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			return true
		}
		if len(trimmed) > 2 && trimmed[0] >= '1' && trimmed[0] <= '9' && (trimmed[1] == '.' || trimmed[1] == ')') {
			return true
		}
	}
	return false
}

func hasHeadings(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return true
		}
		if strings.HasSuffix(trimmed, ":") && len(trimmed) > 1 && textutil.WordCount(trimmed) <= 6 {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Readability
// ---------------------------------------------------------------------------

var passiveAuxiliaries = map[string]struct{}{
	"is": {}, "are": {}, "was": {}, "were": {}, "been": {}, "being": {}, "be": {},
}

func (s *Scorer) scoreReadability(response string) models.DimensionScore {
	var factors []string
	sentences := textutil.SplitSentences(response)
	tokens := textutil.Tokenize(response)
	if len(sentences) == 0 || len(tokens) == 0 {
		return models.DimensionScore{Score: 0, Factors: []string{"empty response"}}
	}

	avgLen := float64(len(tokens)) / float64(len(sentences))
	lengthScore := 1.0
	switch {
	case avgLen > 30:
		lengthScore = 0.4
		factors = append(factors, fmt.Sprintf("long sentences (avg %.0f words)", avgLen))
	case avgLen > 22:
		lengthScore = 0.7
		factors = append(factors, fmt.Sprintf("somewhat long sentences (avg %.0f words)", avgLen))
	case avgLen < 5:
		lengthScore = 0.6
		factors = append(factors, fmt.Sprintf("choppy sentences (avg %.0f words)", avgLen))
	default:
		factors = append(factors, fmt.Sprintf("sentence length ok (avg %.0f words)", avgLen))
	}

	simple := 0
	for _, tok := range tokens {
		if len(tok) <= 7 {
			simple++
		}
	}
	simpleRatio := float64(simple) / float64(len(tokens))
	factors = append(factors, fmt.Sprintf("simple-word ratio %.2f", simpleRatio))

	passive := 0
	for i := 0; i < len(tokens)-1; i++ {
		if _, aux := passiveAuxiliaries[tokens[i]]; aux && strings.HasSuffix(tokens[i+1], "ed") {
			passive++
		}
	}
	passiveRatio := float64(passive) / float64(len(sentences))
	passiveScore := 1.0
	if passiveRatio > 0.5 {
		passiveScore = 0.6
		factors = append(factors, "frequent passive voice")
	}

	score := clamp01(lengthScore*0.4 + simpleRatio*0.4 + passiveScore*0.2)
	return models.DimensionScore{Score: score, Factors: factors}
}

// ---------------------------------------------------------------------------
// Toxicity
// ---------------------------------------------------------------------------

var toxicTerms = []string{
	"idiot", "stupid", "moron", "hate you", "kill yourself", "worthless",
	"shut up", "dumbass", "pathetic", "garbage person",
}

func (s *Scorer) scoreToxicity(response string) models.DimensionScore {
	lower := strings.ToLower(response)
	tokens := textutil.Tokenize(response)
	if len(tokens) == 0 {
		return models.DimensionScore{Score: 0, Factors: []string{"empty response"}}
	}
	hits := 0
	var factors []string
	for _, term := range toxicTerms {
		if strings.Contains(lower, term) {
			hits++
			factors = append(factors, "blocked term: "+term)
		}
	}
	score := clamp01(float64(hits) * 50 / float64(len(tokens)))
	if hits == 0 {
		factors = append(factors, "no blocked terms")
	}
	return models.DimensionScore{Score: score, Factors: factors}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
