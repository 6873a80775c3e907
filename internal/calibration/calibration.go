// Package calibration converts raw model confidence into empirically
// calibrated probability and tracks rolling Brier scores per model.
//
// The calibration map is a plain equal-count binning lookup: a raw probability
// maps to the mean observed outcome of its bin, clamped to [0,1]. No in-bin
// interpolation is applied, so lookups are idempotent between rebuilds. The
// map is not guaranteed to be globally monotonic and callers must tolerate
// that.
package calibration

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Outcome is the binary ground truth for one prediction. The caller decides
// what counts as a win (vote victory, validation pass, external label); the
// store never infers it.
type Outcome int

const (
	OutcomeLoss Outcome = 0
	OutcomeWin  Outcome = 1
)

// Sample is one (predicted probability, binary outcome) observation.
type Sample struct {
	Model     string            `json:"model"`
	Predicted float64           `json:"predicted"`
	Actual    Outcome           `json:"actual"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Brier returns the per-sample Brier score (predicted − actual)².
func (s Sample) Brier() float64 {
	diff := s.Predicted - float64(s.Actual)
	return diff * diff
}

// Bin is one equal-count calibration bin.
type Bin struct {
	Lo            float64 `json:"lo"`
	Hi            float64 `json:"hi"`
	MeanPredicted float64 `json:"mean_predicted"`
	MeanActual    float64 `json:"mean_actual"`
	Count         int     `json:"count"`
}

// Map is an ordered sequence of bins built from a model's sample window.
type Map struct {
	Bins        []Bin     `json:"bins"`
	SampleCount int       `json:"sample_count"`
	BuiltAt     time.Time `json:"built_at"`
}

// Lookup maps a raw probability through the bins: closed at the low end,
// half-open at the high end, clamping outside the observed range to the
// nearest bin. The result is clamped to [0,1].
func (m *Map) Lookup(p float64) float64 {
	if m == nil || len(m.Bins) == 0 {
		return clamp01(p)
	}
	if p < m.Bins[0].Lo {
		return clamp01(m.Bins[0].MeanActual)
	}
	last := m.Bins[len(m.Bins)-1]
	if p >= last.Hi {
		return clamp01(last.MeanActual)
	}
	for i, bin := range m.Bins {
		isLast := i == len(m.Bins)-1
		if p >= bin.Lo && (p < bin.Hi || (isLast && p <= bin.Hi)) {
			return clamp01(bin.MeanActual)
		}
	}
	return clamp01(last.MeanActual)
}

// Reliability labels a model's recent Brier summary.
type Reliability string

const (
	ReliabilityExcellent Reliability = "excellent"
	ReliabilityGood      Reliability = "good"
	ReliabilityFair      Reliability = "fair"
	ReliabilityPoor      Reliability = "poor"
	ReliabilityUnknown   Reliability = "unknown"
)

func reliabilityFor(brier float64) Reliability {
	switch {
	case brier <= 0.1:
		return ReliabilityExcellent
	case brier <= 0.2:
		return ReliabilityGood
	case brier <= 0.3:
		return ReliabilityFair
	default:
		return ReliabilityPoor
	}
}

// BrierSummary is the rolling reliability snapshot for one model.
type BrierSummary struct {
	Model       string      `json:"model"`
	Mean        float64     `json:"mean"`
	SampleCount int         `json:"sample_count"`
	Reliability Reliability `json:"reliability"`
}

// Config bounds the store's rolling windows and rebuild cadence.
type Config struct {
	// WindowSize bounds the per-model sample window
	WindowSize int
	// BinCount is the number of equal-count bins per map
	BinCount int
	// MinSamples below which calibration is unavailable (identity map applies)
	MinSamples int
	// RebuildEvery triggers a map rebuild after this many new samples
	RebuildEvery int
	// BrierWindow bounds the rolling Brier history
	BrierWindow int
	// BrierSummaryN is how many recent scores the summary averages
	BrierSummaryN int
}

// DefaultConfig returns the standard window and rebuild settings.
func DefaultConfig() Config {
	return Config{
		WindowSize:    500,
		BinCount:      10,
		MinSamples:    20,
		RebuildEvery:  10,
		BrierWindow:   100,
		BrierSummaryN: 20,
	}
}

// Persister saves samples to durable storage. Persistence failures are
// non-fatal; the store stays locally authoritative.
type Persister interface {
	SaveCalibrationSample(ctx context.Context, sample Sample) error
}

type brierPoint struct {
	score float64
	at    time.Time
}

// modelState holds one model's windows. Its mutex serializes sample appends
// and map rebuilds for that model; other models proceed in parallel.
type modelState struct {
	mu           sync.RWMutex
	samples      []Sample
	brier        []brierPoint
	calMap       *Map
	sinceRebuild int
}

// Store is the per-model calibration store.
type Store struct {
	config  Config
	logger  *logrus.Logger
	persist Persister

	mu     sync.RWMutex
	models map[string]*modelState
}

// NewStore creates a calibration store. persist may be nil.
func NewStore(config Config, logger *logrus.Logger, persist Persister) *Store {
	if config.WindowSize <= 0 {
		config = DefaultConfig()
	}
	return &Store{
		config:  config,
		logger:  logger,
		persist: persist,
		models:  make(map[string]*modelState),
	}
}

func (s *Store) state(model string) *modelState {
	s.mu.RLock()
	st, ok := s.models[model]
	s.mu.RUnlock()
	if ok {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.models[model]; ok {
		return st
	}
	st = &modelState{}
	s.models[model] = st
	return st
}

// Record appends a sample for a model, updates the Brier window and rebuilds
// the calibration map when the rebuild threshold is reached.
func (s *Store) Record(ctx context.Context, sample Sample) {
	sample.Predicted = clamp01(sample.Predicted)
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	st := s.state(sample.Model)
	st.mu.Lock()
	st.samples = append(st.samples, sample)
	if len(st.samples) > s.config.WindowSize {
		st.samples = st.samples[len(st.samples)-s.config.WindowSize:]
	}
	st.brier = append(st.brier, brierPoint{score: sample.Brier(), at: sample.Timestamp})
	if len(st.brier) > s.config.BrierWindow {
		st.brier = st.brier[len(st.brier)-s.config.BrierWindow:]
	}
	st.sinceRebuild++
	rebuild := st.sinceRebuild >= s.config.RebuildEvery && len(st.samples) >= s.config.MinSamples
	if rebuild {
		st.calMap = s.buildMap(st.samples)
		st.sinceRebuild = 0
	}
	st.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveCalibrationSample(ctx, sample); err != nil && s.logger != nil {
			s.logger.WithError(err).WithField("model", sample.Model).
				Warn("calibration sample persistence failed, continuing memory-only")
		}
	}
}

// buildMap sorts the samples by prediction and partitions them into
// equal-count bins. Caller holds the model lock.
func (s *Store) buildMap(samples []Sample) *Map {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Predicted < sorted[j].Predicted })

	binCount := s.config.BinCount
	if binCount > len(sorted) {
		binCount = len(sorted)
	}
	bins := make([]Bin, 0, binCount)
	per := len(sorted) / binCount
	rem := len(sorted) % binCount

	idx := 0
	for b := 0; b < binCount; b++ {
		size := per
		if b < rem {
			size++
		}
		chunk := sorted[idx : idx+size]
		idx += size

		var sumP, sumA float64
		for _, sm := range chunk {
			sumP += sm.Predicted
			sumA += float64(sm.Actual)
		}
		bins = append(bins, Bin{
			Lo:            chunk[0].Predicted,
			Hi:            chunk[len(chunk)-1].Predicted,
			MeanPredicted: sumP / float64(size),
			MeanActual:    sumA / float64(size),
			Count:         size,
		})
	}

	return &Map{Bins: bins, SampleCount: len(sorted), BuiltAt: time.Now()}
}

// Calibrate maps a raw probability through the model's calibration map. The
// second return is false when calibration is unavailable and the identity
// map (clamped) was applied.
func (s *Store) Calibrate(model string, raw float64) (float64, bool) {
	st := s.state(model)
	st.mu.RLock()
	m := st.calMap
	st.mu.RUnlock()
	if m == nil {
		return clamp01(raw), false
	}
	return m.Lookup(raw), true
}

// MapFor returns the model's current calibration map, or nil.
func (s *Store) MapFor(model string) *Map {
	st := s.state(model)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.calMap
}

// SampleCount returns the model's current window size.
func (s *Store) SampleCount(model string) int {
	st := s.state(model)
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.samples)
}

// BrierSummary averages the model's most recent min(BrierSummaryN, history)
// scores. Returns nil when the history is empty.
func (s *Store) BrierSummary(model string) *BrierSummary {
	st := s.state(model)
	st.mu.RLock()
	defer st.mu.RUnlock()

	if len(st.brier) == 0 {
		return nil
	}
	n := s.config.BrierSummaryN
	if n > len(st.brier) {
		n = len(st.brier)
	}
	recent := st.brier[len(st.brier)-n:]
	var total float64
	for _, bp := range recent {
		total += bp.score
	}
	mean := total / float64(n)
	return &BrierSummary{
		Model:       model,
		Mean:        mean,
		SampleCount: n,
		Reliability: reliabilityFor(mean),
	}
}

// Seed replays previously persisted samples into the window without writing
// them back. The map rebuilds immediately when enough samples arrive.
func (s *Store) Seed(samples []Sample) {
	for _, sample := range samples {
		sample.Predicted = clamp01(sample.Predicted)
		st := s.state(sample.Model)
		st.mu.Lock()
		st.samples = append(st.samples, sample)
		if len(st.samples) > s.config.WindowSize {
			st.samples = st.samples[len(st.samples)-s.config.WindowSize:]
		}
		st.brier = append(st.brier, brierPoint{score: sample.Brier(), at: sample.Timestamp})
		if len(st.brier) > s.config.BrierWindow {
			st.brier = st.brier[len(st.brier)-s.config.BrierWindow:]
		}
		st.mu.Unlock()
	}
	s.RebuildAll(context.Background())
}

// RebuildAll rebuilds every model's map that has enough samples. Used by the
// background cadence task.
func (s *Store) RebuildAll(ctx context.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		select {
		case <-ctx.Done():
			return
		default:
		}
		st := s.state(name)
		st.mu.Lock()
		if len(st.samples) >= s.config.MinSamples {
			st.calMap = s.buildMap(st.samples)
			st.sinceRebuild = 0
		}
		st.mu.Unlock()
	}
	if s.logger != nil {
		s.logger.WithField("models", len(names)).Debug("calibration maps rebuilt")
	}
}

// Models returns the names of models with recorded samples.
func (s *Store) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
