package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurastack/gateway/internal/admission"
	"github.com/neurastack/gateway/internal/calibration"
	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/embedding"
	"github.com/neurastack/gateway/internal/ensemble"
	"github.com/neurastack/gateway/internal/intent"
	"github.com/neurastack/gateway/internal/llm"
	"github.com/neurastack/gateway/internal/middleware"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/scoring"
	"github.com/neurastack/gateway/internal/synthesis"
	"github.com/neurastack/gateway/internal/validation"
	"github.com/neurastack/gateway/internal/voting"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type staticProvider struct {
	role    string
	content string
}

func (p *staticProvider) Role() string         { return p.role }
func (p *staticProvider) Model() string        { return p.role + "-model" }
func (p *staticProvider) ProviderName() string { return "fake" }

func (p *staticProvider) Invoke(ctx context.Context, _ models.Prompt) (*models.ProviderResponse, error) {
	return &models.ProviderResponse{
		Role:           p.role,
		Provider:       "fake",
		Model:          p.role + "-model",
		Status:         models.StatusFulfilled,
		Content:        p.content,
		ResponseTimeMS: 5,
		RawConfidence:  0.7,
	}, nil
}

const handlerAnswer = `A hash table is a data structure that maps keys to values through a hash function.

For example, looking up a name hashes the key first and then reads the matching bucket directly. Collisions are resolved by chaining entries or probing for the next open slot.

In summary, hash tables give constant average lookup time, which makes them the standard choice for associative data.`

func testTiers() map[string]config.TierConfig {
	return map[string]config.TierConfig{
		"free": {
			Providers:       []string{"gpt4o", "gemini", "claude"},
			MaxPromptLength: 200,
			Concurrency:     10,
			RequestDeadline: 5 * time.Second,
		},
	}
}

func testProviderTable() map[string]config.ProviderConfig {
	return map[string]config.ProviderConfig{
		"gpt4o":  {Name: "openai", Model: "gpt-4o-mini", CostPer1KInput: 0.00015, CostPer1KOutput: 0.0006},
		"gemini": {Name: "google", Model: "gemini-1.5-flash", CostPer1KInput: 0.000075, CostPer1KOutput: 0.0003},
		"claude": {Name: "anthropic", Model: "claude-3-5-haiku-latest", CostPer1KInput: 0.0008, CostPer1KOutput: 0.004},
	}
}

func newTestHandler(t *testing.T, queue *admission.Queue) *EnsembleHandler {
	t.Helper()
	logger := testLogger()
	scorer := scoring.NewDefaultScorer()
	history := voting.NewHistory(100, nil, logger)

	providers := []llm.Provider{
		&staticProvider{role: "gpt4o", content: handlerAnswer},
		&staticProvider{role: "gemini", content: handlerAnswer + " Probing strategies differ in cache behavior."},
		&staticProvider{role: "claude", content: handlerAnswer + " Load factor tuning keeps chains short."},
	}

	orch := ensemble.NewOrchestrator(config.EnsembleConfig{
		OverheadBudget:      50 * time.Millisecond,
		TieMargin:           0.05,
		MetaVoterFloor:      0.45,
		AbstentionThreshold: 0.4,
		DiversityFloor:      0.05,
		FastThreshold:       3 * time.Second,
	}, ensemble.Deps{
		Providers:   map[models.Tier][]llm.Provider{models.TierFree: providers},
		Scorer:      scorer,
		Embeddings:  embedding.NewService(embedding.NewHashEmbedder(64), 128),
		Calibration: calibration.NewStore(calibration.DefaultConfig(), logger, nil),
		Intents:     intent.NewClassifier(),
		Voter:       voting.NewVoter(voting.DefaultConfig(), history, logger),
		TieBreaker:  voting.NewTieBreaker(history, logger),
		Abstention:  voting.NewAbstentionPolicy(0.2, 0.02, logger),
		Synthesizer: synthesis.NewSynthesizer(synthesis.DefaultConfig(), scorer, nil, logger),
		Validator:   validation.NewValidator(validation.LevelLenient, scorer, logger),
		History:     history,
		Logger:      logger,
	})

	if queue == nil {
		queue = admission.NewQueue(config.AdmissionConfig{
			Capacity:        10,
			DepthThreshold:  10,
			P95Threshold:    8 * time.Second,
			DefaultDeadline: 30 * time.Second,
		}, nil, logger)
	}
	return NewEnsembleHandler(orch, queue, testTiers(), testProviderTable(), nil, logger)
}

func newTestRouter(h *EnsembleHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.CorrelationID())
	router.POST("/ensemble", h.Handle)
	return router
}

func postEnsemble(router *gin.Engine, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/ensemble", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// ============================================================================
// Success path
// ============================================================================

func TestHandle_SuccessEnvelope(t *testing.T) {
	router := newTestRouter(newTestHandler(t, nil))

	rec := postEnsemble(router, map[string]interface{}{"prompt": "What is a hash table?"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope models.SuccessEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "success", envelope.Status)
	assert.NotEmpty(t, envelope.CorrelationID)
	assert.NotEmpty(t, envelope.Data.Synthesis.Content)
	assert.Len(t, envelope.Data.Roles, 3)
	assert.Equal(t, 3, envelope.Data.Metadata.SuccessfulRoles)
}

func TestHandle_CorrelationIDEchoed(t *testing.T) {
	router := newTestRouter(newTestHandler(t, nil))

	rec := postEnsemble(router,
		map[string]interface{}{"prompt": "What is a hash table?"},
		map[string]string{middleware.HeaderCorrelationID: "corr-123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "corr-123", rec.Header().Get(middleware.HeaderCorrelationID))

	var envelope models.SuccessEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "corr-123", envelope.CorrelationID)
}

func TestHandle_BodyCorrelationIDOverridesHeader(t *testing.T) {
	router := newTestRouter(newTestHandler(t, nil))

	rec := postEnsemble(router,
		map[string]interface{}{"prompt": "What is a hash table?", "correlationId": "from-body"},
		map[string]string{middleware.HeaderCorrelationID: "from-header"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-body", rec.Header().Get(middleware.HeaderCorrelationID))
}

// ============================================================================
// Validation errors
// ============================================================================

func TestHandle_MissingPrompt(t *testing.T) {
	router := newTestRouter(newTestHandler(t, nil))

	rec := postEnsemble(router, map[string]interface{}{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope models.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, "error", envelope.Status)
	assert.False(t, envelope.Retryable)
}

func TestHandle_UnknownTier(t *testing.T) {
	router := newTestRouter(newTestHandler(t, nil))
	rec := postEnsemble(router, map[string]interface{}{"prompt": "hi there", "tier": "platinum"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandle_PromptTooLong(t *testing.T) {
	router := newTestRouter(newTestHandler(t, nil))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	rec := postEnsemble(router, map[string]interface{}{"prompt": string(long)}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ============================================================================
// Admission refusal
// ============================================================================

func TestHandle_QueueFullReturns429WithRetryAfter(t *testing.T) {
	logger := testLogger()
	queue := admission.NewQueue(config.AdmissionConfig{
		Capacity:        1,
		DepthThreshold:  10,
		P95Threshold:    8 * time.Second,
		DefaultDeadline: 30 * time.Second,
	}, nil, logger)

	// Occupy the only slot and fill the waiting room.
	release, err := queue.Admit(context.Background(), models.TierFree, "holder")
	require.NoError(t, err)
	defer release(0)

	waiterCtx, cancelWaiter := context.WithCancel(context.Background())
	defer cancelWaiter()
	go func() {
		if rel, err := queue.Admit(waiterCtx, models.TierFree, "waiter"); err == nil {
			rel(0)
		}
	}()
	require.Eventually(t, func() bool { return queue.Depth() == 1 }, time.Second, 5*time.Millisecond)

	router := newTestRouter(newTestHandler(t, queue))
	rec := postEnsemble(router, map[string]interface{}{"prompt": "What is a hash table?"}, nil)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	var envelope models.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.True(t, envelope.Retryable)
}
