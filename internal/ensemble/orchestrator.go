// Package ensemble contains the pipeline coordinator: fan-out to the tier's
// providers, scoring, calibration, voting with its escalation chain,
// synthesis, validation, and the bookkeeping that follows a completed
// request.
package ensemble

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/neurastack/gateway/internal/apperr"
	"github.com/neurastack/gateway/internal/cache"
	"github.com/neurastack/gateway/internal/calibration"
	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/embedding"
	"github.com/neurastack/gateway/internal/intent"
	"github.com/neurastack/gateway/internal/llm"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/scoring"
	"github.com/neurastack/gateway/internal/synthesis"
	"github.com/neurastack/gateway/internal/telemetry"
	"github.com/neurastack/gateway/internal/validation"
	"github.com/neurastack/gateway/internal/voting"
)

// Orchestrator runs the full ensemble pipeline for one request at a time per
// call; calls are safe to run concurrently.
type Orchestrator struct {
	config     config.EnsembleConfig
	providers  map[models.Tier][]llm.Provider
	scorer     *scoring.Scorer
	embeddings *embedding.Service
	calib      *calibration.Store
	intents    *intent.Classifier
	voter      *voting.Voter
	tieBreaker *voting.TieBreaker
	metaVoter  *voting.MetaVoter
	abstention *voting.AbstentionPolicy
	synth      *synthesis.Synthesizer
	validator  *validation.Validator
	cache      *cache.ResponseCache
	history    *voting.History
	retry      llm.RetryConfig
	sink       *telemetry.Sink
	logger     *logrus.Logger
}

// similarity is the pairwise embedding snapshot over the fulfilled responses.
// Matrix rows and columns follow the roles order.
type similarity struct {
	roles  []string
	matrix [][]float64
}

// Deps bundles the orchestrator's collaborators. Cache, sink, history,
// tie-breaker, meta-voter and calibration may be nil; the pipeline degrades
// around them.
type Deps struct {
	Providers   map[models.Tier][]llm.Provider
	Scorer      *scoring.Scorer
	Embeddings  *embedding.Service
	Calibration *calibration.Store
	Intents     *intent.Classifier
	Voter       *voting.Voter
	TieBreaker  *voting.TieBreaker
	MetaVoter   *voting.MetaVoter
	Abstention  *voting.AbstentionPolicy
	Synthesizer *synthesis.Synthesizer
	Validator   *validation.Validator
	Cache       *cache.ResponseCache
	History     *voting.History
	Sink        *telemetry.Sink
	Logger      *logrus.Logger
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(cfg config.EnsembleConfig, deps Deps) *Orchestrator {
	if deps.Scorer == nil {
		deps.Scorer = scoring.NewDefaultScorer()
	}
	if deps.Intents == nil {
		deps.Intents = intent.NewClassifier()
	}
	return &Orchestrator{
		config:     cfg,
		providers:  deps.Providers,
		scorer:     deps.Scorer,
		embeddings: deps.Embeddings,
		calib:      deps.Calibration,
		intents:    deps.Intents,
		voter:      deps.Voter,
		tieBreaker: deps.TieBreaker,
		metaVoter:  deps.MetaVoter,
		abstention: deps.Abstention,
		synth:      deps.Synthesizer,
		validator:  deps.Validator,
		cache:      deps.Cache,
		history:    deps.History,
		retry:      llm.DefaultRetryConfig(),
		sink:       deps.Sink,
		logger:     deps.Logger,
	}
}

// Process runs the pipeline for one admitted prompt. It returns either a
// result or an *apperr.Error; it never panics past itself.
func (o *Orchestrator) Process(ctx context.Context, prompt models.Prompt) (*models.EnsembleResult, error) {
	started := time.Now()
	if prompt.CorrelationID == "" {
		prompt.CorrelationID = uuid.NewString()
	}

	// Stage 1: cache.
	if o.cache != nil {
		if cached, kind, ok := o.cache.Get(ctx, prompt.Tier, prompt.Text); ok {
			o.emit(telemetry.EventCacheHit, prompt.CorrelationID, map[string]interface{}{"kind": string(kind)})
			out := *cached
			out.Cached = true
			out.CorrelationID = prompt.CorrelationID
			out.ProcessingTimeMS = time.Since(started).Milliseconds()
			return &out, nil
		}
		o.emit(telemetry.EventCacheMiss, prompt.CorrelationID, nil)
	}

	providers := o.providers[prompt.Tier]
	if len(providers) == 0 {
		return nil, apperr.Validation(fmt.Sprintf("no providers configured for tier %q", prompt.Tier))
	}

	// Stages 2-4: fan-out with per-provider deadlines and the zero-success retry.
	responses := o.fanOut(ctx, prompt, providers)
	if countFulfilled(responses) == 0 {
		responses = o.retryFastest(ctx, prompt, providers, responses)
	}
	if countFulfilled(responses) == 0 {
		o.emit(telemetry.EventDegraded, prompt.CorrelationID, map[string]interface{}{"reason": "no providers responded"})
		return nil, apperr.NoProvidersResponded(fmt.Errorf("all %d providers rejected", len(responses)))
	}

	// Stage 5: concurrent scoring, then uniqueness and calibration.
	scored, sim := o.score(ctx, prompt, responses)

	// Stage 6: intent.
	intentResult := o.intents.Classify(prompt.Text)

	// Stage 7: vote plus escalation chain.
	outcome, requeried, requeriedSim := o.decide(ctx, prompt, scored, intentResult)
	if requeried != nil {
		scored, sim = requeried, requeriedSim
	}

	// Stage 8: synthesis.
	answer, err := o.synth.Synthesize(ctx, prompt, scored, intentResult)
	if err != nil {
		return nil, apperr.NoProvidersResponded(err)
	}

	// Stage 9: validation, with one stricter re-synthesis on failure.
	var report *models.ValidationReport
	degradedReasons := []string{}
	if o.validator != nil {
		report = o.validator.Validate(prompt.Text, answer, scored)
		o.emit(telemetry.EventValidated, prompt.CorrelationID, map[string]interface{}{"passed": report.Passed})
		if !report.Passed {
			if retried := o.resynthesize(ctx, prompt, scored, intentResult); retried != nil {
				if second := o.validator.Validate(prompt.Text, retried, scored); second.OverallScore > report.OverallScore {
					answer, report = retried, second
				}
			}
			if !report.Passed {
				degradedReasons = append(degradedReasons, "validation gate failed")
			}
		}
	}
	if answer.FallbackUsed {
		degradedReasons = append(degradedReasons, "template synthesis fallback")
	}
	if outcome.Abstained {
		degradedReasons = append(degradedReasons, "vote abstained")
	}

	result := o.assemble(prompt, scored, outcome, answer, report, sim, degradedReasons, started)

	// Stage 10: bookkeeping.
	o.finish(ctx, prompt, scored, outcome, result, started)
	return result, nil
}

// fanOut invokes every provider concurrently under a shared per-provider
// deadline, optionally hedging by cancelling the stragglers late in the
// budget.
func (o *Orchestrator) fanOut(ctx context.Context, prompt models.Prompt, providers []llm.Provider) []*models.ProviderResponse {
	deadline := o.providerDeadline(ctx, prompt)
	fanCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	type settled struct {
		index int
		resp  *models.ProviderResponse
	}
	results := make(chan settled, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p llm.Provider) {
			defer wg.Done()
			begun := time.Now()
			resp, err := p.Invoke(fanCtx, prompt)
			if err != nil {
				resp = llm.Rejected(p, err, time.Since(begun).Milliseconds())
				o.emit(telemetry.EventProviderFailed, prompt.CorrelationID, map[string]interface{}{
					"role": p.Role(), "kind": string(resp.RejectKind),
				})
			} else {
				o.emit(telemetry.EventProviderDone, prompt.CorrelationID, map[string]interface{}{
					"role": p.Role(), "elapsed_ms": resp.ResponseTimeMS,
				})
			}
			results <- settled{index: i, resp: resp}
		}(i, p)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	responses := make([]*models.ProviderResponse, len(providers))
	returned := 0
	for s := range results {
		responses[s.index] = s.resp
		returned++
		if o.config.HedgingEnabled && returned == 2 && len(providers) > 2 {
			if remaining := time.Until(deadline); remaining < o.hedgeWindow(ctx, prompt) {
				cancel()
			}
		}
	}
	return responses
}

// providerDeadline derives the shared provider deadline: the request deadline
// minus the overhead budget reserved for scoring, voting and synthesis.
func (o *Orchestrator) providerDeadline(ctx context.Context, prompt models.Prompt) time.Time {
	deadline := prompt.Deadline
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if deadline.IsZero() {
		deadline = time.Now().Add(30 * time.Second)
	}
	return deadline.Add(-o.config.OverheadBudget)
}

// hedgeWindow is 25% of the remaining request budget at fan-out start.
func (o *Orchestrator) hedgeWindow(ctx context.Context, prompt models.Prompt) time.Duration {
	deadline := o.providerDeadline(ctx, prompt)
	total := time.Until(deadline)
	if total <= 0 {
		return 0
	}
	return total / 4
}

// retryFastest makes the single zero-success retry against the historically
// fastest provider. Models with no latency history yet fall back to the best
// win rate, then to the first provider.
func (o *Orchestrator) retryFastest(ctx context.Context, prompt models.Prompt, providers []llm.Provider, responses []*models.ProviderResponse) []*models.ProviderResponse {
	if ctx.Err() != nil {
		return responses
	}
	target := providers[0]
	if o.history != nil {
		bestLatency := math.MaxFloat64
		haveLatency := false
		for _, p := range providers {
			if mean, ok := o.history.MeanLatencyMS(p.Model()); ok && mean < bestLatency {
				bestLatency, target = mean, p
				haveLatency = true
			}
		}
		if !haveLatency {
			bestRate := -1.0
			for _, p := range providers {
				if rate := o.history.WinRate(p.Model()); rate > bestRate {
					bestRate, target = rate, p
				}
			}
		}
	}

	begun := time.Now()
	resp, err := llm.InvokeWithRetry(ctx, target, prompt, o.retry)
	if err != nil {
		resp = llm.Rejected(target, err, time.Since(begun).Milliseconds())
	}
	for i := range responses {
		if responses[i] != nil && responses[i].Role == target.Role() {
			responses[i] = resp
			return responses
		}
	}
	return append(responses, resp)
}

// score runs quality scoring concurrently, then derives embedding uniqueness
// and calibrated confidence for the fulfilled responses. The second return is
// the pairwise similarity snapshot behind the uniqueness values.
func (o *Orchestrator) score(ctx context.Context, prompt models.Prompt, responses []*models.ProviderResponse) ([]*models.ScoredResponse, similarity) {
	scored := make([]*models.ScoredResponse, len(responses))
	var g errgroup.Group
	for i, r := range responses {
		i, r := i, r
		g.Go(func() error {
			sr := &models.ScoredResponse{ProviderResponse: *r}
			if r.Fulfilled() {
				sr.Quality = o.scorer.Score(prompt.Text, r.Content)
				sr.CalibratedConfidence = o.calibrate(r.Model, r.RawConfidence)
			}
			scored[i] = sr
			return nil
		})
	}
	_ = g.Wait()

	return scored, o.applyUniqueness(ctx, scored)
}

func (o *Orchestrator) calibrate(model string, raw float64) float64 {
	if o.calib == nil {
		return raw
	}
	calibrated, _ := o.calib.Calibrate(model, raw)
	return calibrated
}

// applyUniqueness embeds the fulfilled responses and sets each one's
// uniqueness from the pairwise similarity matrix. Embedding failures leave
// uniqueness at a neutral value. The returned snapshot covers the fulfilled
// responses in their scored order; it is empty without an embedding service.
func (o *Orchestrator) applyUniqueness(ctx context.Context, scored []*models.ScoredResponse) similarity {
	fulfilled := make([]*models.ScoredResponse, 0, len(scored))
	for _, sr := range scored {
		if sr.Fulfilled() {
			fulfilled = append(fulfilled, sr)
		}
	}
	if len(fulfilled) == 0 {
		return similarity{}
	}
	if o.embeddings == nil {
		for _, sr := range fulfilled {
			sr.EmbeddingUniqueness = 0.5
		}
		return similarity{}
	}

	vectors := make([][]float64, len(fulfilled))
	roles := make([]string, len(fulfilled))
	for i, sr := range fulfilled {
		roles[i] = sr.Role
		vec, err := o.embeddings.Embed(ctx, sr.Content)
		if err != nil {
			sr.EmbeddingUniqueness = 0.5
			continue
		}
		vectors[i] = vec
	}
	matrix := embedding.SimilarityMatrix(vectors)
	for i, sr := range fulfilled {
		if vectors[i] != nil {
			sr.EmbeddingUniqueness = embedding.Uniqueness(matrix, i)
		}
	}
	return similarity{roles: roles, matrix: matrix}
}

// decide runs the voter and its escalation chain. It may return a replacement
// scored set, with its similarity snapshot, when abstention triggered a
// re-query.
func (o *Orchestrator) decide(ctx context.Context, prompt models.Prompt, scored []*models.ScoredResponse, intentResult intent.Result) (*models.VoteOutcome, []*models.ScoredResponse, similarity) {
	outcome := o.voter.Vote(scored, intentResult)
	o.emit(telemetry.EventVoteComputed, prompt.CorrelationID, map[string]interface{}{
		"consensus": string(outcome.Consensus), "winner": outcome.WinnerRole,
	})

	w1, w2 := outcome.TopTwo()
	ambiguous := outcome.Consensus.AtMostWeak() || (w2 > 0 && w1-w2 <= o.config.TieMargin)

	if ambiguous && o.tieBreaker != nil && countFulfilledScored(scored) > 1 {
		result := o.tieBreaker.Break(scored, outcome, o.config.TieMargin)
		outcome.WinnerRole = result.Winner
		outcome.WinnerConfidence = result.Confidence
		outcome.TieBreakerUsed = true
		outcome.TieBreakStrategy = result.StrategyUsed
		o.emit(telemetry.EventTieBreak, prompt.CorrelationID, map[string]interface{}{"strategy": result.StrategyUsed})

		stillAmbiguous := outcome.Consensus == models.ConsensusVeryWeak
		if (stillAmbiguous || outcome.WinnerConfidence < o.config.MetaVoterFloor) && o.metaVoter != nil {
			if verdict, err := o.metaVoter.Rank(ctx, prompt, scored); err == nil {
				outcome.WinnerRole = verdict.Winner
				outcome.WinnerConfidence = verdict.Confidence
				outcome.MetaVoterUsed = true
				o.emit(telemetry.EventMetaVote, prompt.CorrelationID, nil)
			}
		}
	}

	if o.abstention == nil {
		return outcome, nil, similarity{}
	}
	abstain, reason := o.abstention.ShouldAbstain(scored, outcome)
	if !abstain {
		return outcome, nil, similarity{}
	}

	if o.config.RequeryBudget > 0 && ctx.Err() == nil {
		if rescored, better, sim := o.requery(ctx, prompt, intentResult); better != nil {
			return better, rescored, sim
		}
	}
	outcome.Abstained = true
	o.emit(telemetry.EventAbstained, prompt.CorrelationID, map[string]interface{}{"reason": reason})
	return outcome, nil, similarity{}
}

// requery re-runs the fan-out once with an enriched prompt and keeps the new
// outcome only when it clears the abstention check.
func (o *Orchestrator) requery(ctx context.Context, prompt models.Prompt, intentResult intent.Result) ([]*models.ScoredResponse, *models.VoteOutcome, similarity) {
	enriched := prompt
	enriched.Text = enrichPrompt(prompt.Text, intentResult)

	providers := o.providers[prompt.Tier]
	responses := o.fanOut(ctx, enriched, providers)
	if countFulfilled(responses) == 0 {
		return nil, nil, similarity{}
	}
	scored, sim := o.score(ctx, enriched, responses)
	outcome := o.voter.Vote(scored, intentResult)
	if abstain, _ := o.abstention.ShouldAbstain(scored, outcome); abstain {
		return nil, nil, similarity{}
	}
	return scored, outcome, sim
}

// enrichPrompt sharpens the prompt for the single abstention re-query.
func enrichPrompt(text string, intentResult intent.Result) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\nAnswer precisely and completely.")
	switch intentResult.Class {
	case intent.ClassTechnical:
		b.WriteString(" Include concrete technical detail and a worked example.")
	case intent.ClassFactual:
		b.WriteString(" State the key facts directly.")
	default:
		b.WriteString(" Cover the main aspects of the question.")
	}
	return b.String()
}

// resynthesize makes the single stricter-template synthesis retry.
func (o *Orchestrator) resynthesize(ctx context.Context, prompt models.Prompt, scored []*models.ScoredResponse, intentResult intent.Result) *models.SynthesizedAnswer {
	strict := o.synth.WithStrictTemplate()
	answer, err := strict.Synthesize(ctx, prompt, scored, intentResult)
	if err != nil {
		return nil
	}
	return answer
}

// assemble builds the EnsembleResult with diagnostics.
func (o *Orchestrator) assemble(prompt models.Prompt, scored []*models.ScoredResponse, outcome *models.VoteOutcome, answer *models.SynthesizedAnswer, report *models.ValidationReport, sim similarity, degradedReasons []string, started time.Time) *models.EnsembleResult {
	diag := &models.Diagnostics{
		ModelCalibratedProb:       make(map[string]float64),
		EmbeddingSimilarityMatrix: sim.matrix,
		SimilarityRoles:           sim.roles,
	}
	var failed []string
	for _, sr := range scored {
		if sr.Fulfilled() {
			diag.ModelCalibratedProb[sr.Model] = sr.CalibratedConfidence
		} else {
			failed = append(failed, fmt.Sprintf("%s (%s)", sr.Role, sr.RejectKind))
		}
	}
	diag.FailedProviders = failed
	if winner := findRole(scored, outcome.WinnerRole); winner != nil {
		diag.ToxicityScore = winner.Quality.Toxicity.Score
		diag.Readability = winner.Quality.Readability.Score
		diag.SemanticQuality = winner.Quality.Composite
	}

	return &models.EnsembleResult{
		Synthesis:        answer,
		Responses:        scored,
		Vote:             outcome,
		Validation:       report,
		Diagnostics:      diag,
		CorrelationID:    prompt.CorrelationID,
		Degraded:         len(degradedReasons) > 0,
		DegradedReasons:  degradedReasons,
		ProcessingTimeMS: time.Since(started).Milliseconds(),
	}
}

// finish performs the post-response bookkeeping: cache write, calibration
// samples with the vote as proxy outcome, history append, telemetry.
func (o *Orchestrator) finish(ctx context.Context, prompt models.Prompt, scored []*models.ScoredResponse, outcome *models.VoteOutcome, result *models.EnsembleResult, started time.Time) {
	quality := 0.5
	if winner := findRole(scored, outcome.WinnerRole); winner != nil {
		quality = winner.Quality.Composite
	}

	if o.cache != nil && !outcome.Abstained {
		o.cache.Put(ctx, prompt.Tier, prompt.Text, result, quality)
	}

	if o.calib != nil {
		now := time.Now()
		for _, sr := range scored {
			if !sr.Fulfilled() {
				continue
			}
			actual := calibration.OutcomeLoss
			if sr.Role == outcome.WinnerRole {
				actual = calibration.OutcomeWin
			}
			o.calib.Record(ctx, calibration.Sample{
				Model:     sr.Model,
				Predicted: sr.RawConfidence,
				Actual:    actual,
				Timestamp: now,
			})
		}
	}

	if o.history != nil && outcome.WinnerRole != "" {
		participants := make(map[string]string)
		responseTimes := make(map[string]int64)
		var diversitySum float64
		n := 0
		for _, sr := range scored {
			if sr.Fulfilled() {
				participants[sr.Role] = sr.Model
				responseTimes[sr.Role] = sr.ResponseTimeMS
				diversitySum += sr.EmbeddingUniqueness
				n++
			}
		}
		diversity := 0.0
		if n > 0 {
			diversity = diversitySum / float64(n)
		}
		winnerModel := ""
		if winner := findRole(scored, outcome.WinnerRole); winner != nil {
			winnerModel = winner.Model
		}
		o.history.Append(ctx, voting.HistoryRecord{
			ID:               prompt.CorrelationID,
			Winner:           outcome.WinnerRole,
			WinnerModel:      winnerModel,
			Weights:          outcome.Weights,
			Models:           participants,
			ResponseTimesMS:  responseTimes,
			Consensus:        outcome.Consensus,
			Diversity:        diversity,
			TieBreakerUsed:   outcome.TieBreakerUsed,
			MetaVoterUsed:    outcome.MetaVoterUsed,
			ProcessingTimeMS: time.Since(started).Milliseconds(),
		})
	}

	o.emit(telemetry.EventCompleted, prompt.CorrelationID, map[string]interface{}{
		"consensus":     string(outcome.Consensus),
		"processing_ms": result.ProcessingTimeMS,
		"degraded":      result.Degraded,
	})
}

func (o *Orchestrator) emit(kind telemetry.EventKind, correlationID string, fields map[string]interface{}) {
	if o.sink != nil {
		o.sink.EmitKind(kind, correlationID, fields)
	}
}

func countFulfilled(responses []*models.ProviderResponse) int {
	n := 0
	for _, r := range responses {
		if r != nil && r.Fulfilled() {
			n++
		}
	}
	return n
}

func countFulfilledScored(responses []*models.ScoredResponse) int {
	n := 0
	for _, r := range responses {
		if r.Fulfilled() {
			n++
		}
	}
	return n
}

func findRole(scored []*models.ScoredResponse, role string) *models.ScoredResponse {
	for _, sr := range scored {
		if sr.Role == role {
			return sr
		}
	}
	return nil
}
