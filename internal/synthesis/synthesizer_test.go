package synthesis

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurastack/gateway/internal/intent"
	"github.com/neurastack/gateway/internal/models"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func fulfilled(role, content string, composite float64) *models.ScoredResponse {
	return &models.ScoredResponse{
		ProviderResponse: models.ProviderResponse{
			Role:    role,
			Model:   role + "-model",
			Status:  models.StatusFulfilled,
			Content: content,
		},
		Quality: models.QualityScores{Composite: composite},
	}
}

type fakeProvider struct {
	content string
	err     error
	invoked bool
}

func (f *fakeProvider) Role() string         { return "synth" }
func (f *fakeProvider) Model() string        { return "gpt-4o" }
func (f *fakeProvider) ProviderName() string { return "openai" }
func (f *fakeProvider) Invoke(_ context.Context, _ models.Prompt) (*models.ProviderResponse, error) {
	f.invoked = true
	if f.err != nil {
		return nil, f.err
	}
	return &models.ProviderResponse{Status: models.StatusFulfilled, Content: f.content}, nil
}

const responseA = `Binary search trees keep elements ordered so lookups run in logarithmic time on balanced trees.

For example, searching for the value 42 walks left or right at each node by comparing against the node key until found.

In summary, the ordering invariant is what makes logarithmic search possible.`

const responseB = `A binary search tree stores smaller keys in the left subtree and larger keys in the right subtree, because the comparison at each node halves the remaining search space.

In practice this structure is used for ordered maps, range queries, and database indexes where sorted iteration matters.`

func TestSynthesizeSingleResponseShortCircuits(t *testing.T) {
	s := NewSynthesizer(DefaultConfig(), nil, nil, testLogger())

	answer, err := s.Synthesize(context.Background(), models.Prompt{Text: "How do binary search trees work?"},
		[]*models.ScoredResponse{fulfilled("gpt4o", responseA, 0.7)}, intent.Result{})
	require.NoError(t, err)
	assert.Equal(t, responseA, answer.Text)
	assert.Equal(t, []string{"gpt4o"}, answer.ContributingRoles)
	assert.False(t, answer.FallbackUsed)
}

func TestSynthesizeNoFulfilledResponses(t *testing.T) {
	s := NewSynthesizer(DefaultConfig(), nil, nil, testLogger())

	_, err := s.Synthesize(context.Background(), models.Prompt{Text: "q"}, []*models.ScoredResponse{
		{ProviderResponse: models.ProviderResponse{Role: "gpt4o", Status: models.StatusRejected}},
	}, intent.Result{})
	assert.Error(t, err)
}

func TestSynthesizeTemplateFallbackWithoutProvider(t *testing.T) {
	s := NewSynthesizer(DefaultConfig(), nil, nil, testLogger())

	answer, err := s.Synthesize(context.Background(), models.Prompt{Text: "How do binary search trees work?"},
		[]*models.ScoredResponse{
			fulfilled("gpt4o", responseA, 0.7),
			fulfilled("gemini", responseB, 0.65),
		}, intent.Result{Class: intent.ClassTechnical})
	require.NoError(t, err)
	assert.True(t, answer.FallbackUsed)
	assert.NotEmpty(t, answer.Text)
	assert.NotEmpty(t, answer.SectionPlan)
	assert.GreaterOrEqual(t, len(answer.ContributingRoles), 2)
}

func TestSynthesizeUsesProviderOutput(t *testing.T) {
	p := &fakeProvider{content: "A fused answer about binary search trees."}
	s := NewSynthesizer(DefaultConfig(), nil, p, testLogger())

	answer, err := s.Synthesize(context.Background(), models.Prompt{Text: "How do binary search trees work?"},
		[]*models.ScoredResponse{
			fulfilled("gpt4o", responseA, 0.7),
			fulfilled("gemini", responseB, 0.65),
		}, intent.Result{})
	require.NoError(t, err)
	assert.True(t, p.invoked)
	assert.False(t, answer.FallbackUsed)
	assert.Equal(t, "A fused answer about binary search trees.", answer.Text)
	assert.Equal(t, "gpt-4o", answer.SynthesisModel)
	assert.Equal(t, "openai", answer.SynthesisProvider)
}

func TestSynthesizeProviderFailureFallsBack(t *testing.T) {
	p := &fakeProvider{err: fmt.Errorf("upstream down")}
	s := NewSynthesizer(DefaultConfig(), nil, p, testLogger())

	answer, err := s.Synthesize(context.Background(), models.Prompt{Text: "How do binary search trees work?"},
		[]*models.ScoredResponse{
			fulfilled("gpt4o", responseA, 0.7),
			fulfilled("gemini", responseB, 0.65),
		}, intent.Result{})
	require.NoError(t, err)
	assert.True(t, p.invoked)
	assert.True(t, answer.FallbackUsed)
	assert.NotEmpty(t, answer.Text)
}

func TestSectionPlanFollowsCanonicalOrder(t *testing.T) {
	s := NewSynthesizer(DefaultConfig(), nil, nil, testLogger())

	answer, err := s.Synthesize(context.Background(), models.Prompt{Text: "How do binary search trees work?"},
		[]*models.ScoredResponse{
			fulfilled("gpt4o", responseA, 0.7),
			fulfilled("gemini", responseB, 0.65),
		}, intent.Result{})
	require.NoError(t, err)

	rank := map[string]int{}
	for i, st := range canonicalOrder {
		rank[string(st)] = i
	}
	last := -1
	for _, tag := range answer.SectionPlan {
		r, ok := rank[tag]
		require.True(t, ok, "unknown section tag %q", tag)
		assert.GreaterOrEqual(t, r, last)
		if r > last {
			last = r
		}
	}
}

func TestRedundantSectionsDeduplicated(t *testing.T) {
	s := NewSynthesizer(DefaultConfig(), nil, nil, testLogger())

	near := "Binary search trees keep elements ordered so lookups run in logarithmic time on balanced binary trees."
	answer, err := s.Synthesize(context.Background(), models.Prompt{Text: "How do binary search trees work?"},
		[]*models.ScoredResponse{
			fulfilled("gpt4o", responseA, 0.7),
			fulfilled("gemini", near, 0.6),
		}, intent.Result{})
	require.NoError(t, err)

	// The near-duplicate must not appear alongside its twin.
	count := strings.Count(answer.Text, "logarithmic")
	assert.LessOrEqual(t, count, 2)
}

func TestClassifySection(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  int
		tot  int
		want SectionType
	}{
		{"conclusion marker", "In summary, the tree stays balanced.", 1, 3, SectionConclusion},
		{"example marker", "For example, insert the value 7.", 1, 3, SectionExamples},
		{"application marker", "In practice this is used for database indexes.", 1, 3, SectionApplications},
		{"explanation marker", "This works by comparing keys because the order is total.", 1, 3, SectionExplanation},
		{"first paragraph fallback", "Trees store data hierarchically.", 0, 3, SectionIntroduction},
		{"last paragraph fallback", "Trees store data hierarchically.", 2, 3, SectionConclusion},
		{"middle fallback", "Trees store data hierarchically.", 1, 3, SectionDetails},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifySection(tt.text, tt.pos, tt.tot))
		})
	}
}

func TestOrderSectionsStableWithinType(t *testing.T) {
	sections := []section{
		{Type: SectionConclusion, Score: 0.9, Text: "c"},
		{Type: SectionExplanation, Score: 0.5, Text: "e1"},
		{Type: SectionExplanation, Score: 0.8, Text: "e2"},
		{Type: SectionIntroduction, Score: 0.4, Text: "i"},
	}
	ordered := orderSections(sections)
	require.Len(t, ordered, 4)
	assert.Equal(t, SectionIntroduction, ordered[0].Type)
	assert.Equal(t, "e2", ordered[1].Text)
	assert.Equal(t, "e1", ordered[2].Text)
	assert.Equal(t, SectionConclusion, ordered[3].Type)
}
