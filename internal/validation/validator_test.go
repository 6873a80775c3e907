package validation

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurastack/gateway/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func input(role, content string) *models.ScoredResponse {
	return &models.ScoredResponse{
		ProviderResponse: models.ProviderResponse{
			Role:    role,
			Status:  models.StatusFulfilled,
			Content: content,
		},
	}
}

const goodAnswer = `A hash table stores key-value pairs in an array of buckets. The hash function maps each key to a bucket index, which makes average lookups constant time.

When two keys map to the same bucket, the collision is resolved by chaining or open addressing. For example, chaining keeps a small list per bucket.

In summary, hash tables trade memory for fast lookups as long as the hash function distributes keys evenly.`

func TestValidatePassesRelevantAnswer(t *testing.T) {
	v := NewValidator(LevelStandard, nil, testLogger())

	inputs := []*models.ScoredResponse{
		input("gpt4o", "Hash tables use a hash function to map keys into buckets for constant time lookups."),
		input("gemini", "A hash table resolves collisions with chaining and keeps lookups near constant time."),
	}
	report := v.Validate("How does a hash table work?", &models.SynthesizedAnswer{Text: goodAnswer}, inputs)
	require.NotNil(t, report)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Issues)
	require.Len(t, report.Dimensions, 4)
	for name, d := range report.Dimensions {
		assert.True(t, d.Passed, "dimension %s: %.2f < %.2f", name, d.Score, d.Threshold)
	}
}

func TestValidateFailsIrrelevantAnswer(t *testing.T) {
	v := NewValidator(LevelStandard, nil, testLogger())

	report := v.Validate("How does a hash table work?",
		&models.SynthesizedAnswer{Text: "Bananas are yellow fruit enjoyed worldwide."}, nil)
	assert.False(t, report.Passed)
	assert.NotEmpty(t, report.Issues)
	assert.NotEmpty(t, report.Recommendations)
}

func TestValidateNeverModifiesAnswer(t *testing.T) {
	v := NewValidator(LevelStrict, nil, testLogger())

	answer := &models.SynthesizedAnswer{Text: "Short and irrelevant."}
	v.Validate("How does a hash table work?", answer, nil)
	assert.Equal(t, "Short and irrelevant.", answer.Text)
}

func TestUnknownLevelFallsBackToStandard(t *testing.T) {
	v := NewValidator(Level("bogus"), nil, testLogger())
	assert.Equal(t, LevelStandard, v.level)
}

func TestConsistencySingleInputIsNeutral(t *testing.T) {
	v := NewValidator(LevelStandard, nil, testLogger())
	score := v.consistencyScore("anything", []*models.ScoredResponse{input("a", "text")})
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestConsistencyPenalizesContradiction(t *testing.T) {
	v := NewValidator(LevelStandard, nil, testLogger())

	inputs := []*models.ScoredResponse{
		input("a", "The operation is always safe to run."),
		input("b", "The operation is never safe without a lock."),
	}
	contradictory := v.consistencyScore("The operation is always safe, yet it is never safe.", inputs)
	clean := v.consistencyScore("The operation needs a lock to be safe.", inputs)
	assert.Less(t, contradictory, clean)
}

func TestConsistencyRewardsPreservedAgreement(t *testing.T) {
	v := NewValidator(LevelStandard, nil, testLogger())

	inputs := []*models.ScoredResponse{
		input("a", "Quicksort partitions the array around a pivot element."),
		input("b", "Quicksort picks a pivot and partitions the array recursively."),
	}
	preserving := v.consistencyScore("quicksort partitions the array around a pivot", inputs)
	dropping := v.consistencyScore("it sorts things somehow", inputs)
	assert.Greater(t, preserving, dropping)
}

func TestLevelThresholdOrdering(t *testing.T) {
	strict := levelThresholds[LevelStrict]
	standard := levelThresholds[LevelStandard]
	lenient := levelThresholds[LevelLenient]

	assert.Greater(t, strict.relevance, standard.relevance)
	assert.Greater(t, standard.relevance, lenient.relevance)
	assert.Greater(t, strict.overall, standard.overall)
	assert.Greater(t, standard.overall, lenient.overall)
}

func TestCriticalSeverityForVeryLowScores(t *testing.T) {
	v := NewValidator(LevelStrict, nil, testLogger())

	report := v.Validate("Explain the TCP three-way handshake in detail.",
		&models.SynthesizedAnswer{Text: "no"}, nil)
	require.False(t, report.Passed)

	foundCritical := false
	for _, issue := range report.Issues {
		if issue.Severity == models.SeverityCritical {
			foundCritical = true
		}
	}
	assert.True(t, foundCritical)
}
