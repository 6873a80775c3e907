package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify_IntentClasses(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		prompt string
		want   Class
	}{
		{"What is the capital of France?", ClassFactual},
		{"Write a story about a lighthouse keeper", ClassCreative},
		{"Implement a b-tree in Go with code examples", ClassTechnical},
		{"Compare PostgreSQL versus MySQL, pros and cons", ClassComparative},
		{"Explain why does the sky appear blue", ClassExplanatory},
		{"How do I fix this issue that is not working?", ClassProblemSolving},
		{"Analyze the trade-offs and implications of microservices", ClassAnalytical},
		{"How to bake sourdough bread, steps to follow", ClassInstructional},
		{"hello there friend", ClassGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			result := c.Classify(tt.prompt)
			assert.Equal(t, tt.want, result.Class)
			assert.Equal(t, result.Scores[result.Class], result.Confidence)
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewClassifier()
	first := c.Classify("Compare the impact of caching versus precomputation")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify("Compare the impact of caching versus precomputation"))
	}
}

func TestClassify_Domain(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		prompt string
		want   Domain
	}{
		{"Design a database server for a cloud api", DomainTechnology},
		{"Describe quantum energy states of a molecule", DomainScience},
		{"Draft a startup revenue strategy for new customer segments", DomainBusiness},
		{"Help a student study for the exam", DomainEducation},
		{"What diet helps this symptom and treatment plan?", DomainHealth},
		{"Discuss the poetry and music of the romantic era", DomainArts},
		{"Tell me a joke", DomainGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.prompt).Domain)
		})
	}
}

func TestClassify_Complexity(t *testing.T) {
	c := NewClassifier()

	assert.Equal(t, ComplexityVerySimple, c.Classify("What is Go?").Complexity)
	assert.Equal(t, ComplexitySimple, c.Classify(
		"Explain how a web browser renders a page from the raw bytes it receives over the network, covering parsing, layout, paint and compositing in order, including how the style and markup trees are combined into one render tree.").Complexity)

	complex := c.Classify(
		"Analyze the trade-offs of a distributed consensus protocol under concurrency. " +
			"Consider the architecture constraints. What are the implications for edge cases? " +
			"Walk through failure modes one by one. Then prove the safety property holds.")
	assert.Contains(t, []Complexity{ComplexityComplex, ComplexityVeryComplex}, complex.Complexity)
}

func TestClassify_Urgency(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, UrgencyHigh, c.Classify("Fix this urgent production outage").Urgency)
	assert.Equal(t, UrgencyMedium, c.Classify("I need this done today").Urgency)
	assert.Equal(t, UrgencyLow, c.Classify("Whenever you get a chance, explain closures").Urgency)
}

func TestClassify_GeneralFloor(t *testing.T) {
	result := NewClassifier().Classify("zzz")
	assert.Equal(t, ClassGeneral, result.Class)
	assert.Equal(t, 0.1, result.Confidence)
	assert.Len(t, result.Scores, 9)
}
