// Package voting decides the winning response for a request: the weighted
// voter, its escalation policies (tie-breaker, meta-voter, abstention) and
// the voting history that feeds per-model long-term weight adjustments.
package voting

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/models"
)

// HistoryRecord captures one completed vote.
type HistoryRecord struct {
	ID               string                `json:"id"`
	Winner           string                `json:"winner"`
	WinnerModel      string                `json:"winner_model"`
	Weights          map[string]float64    `json:"weights"`
	Models           map[string]string     `json:"models"`                      // role -> model
	ResponseTimesMS  map[string]int64      `json:"response_times_ms,omitempty"` // role -> ms
	Consensus        models.ConsensusLevel `json:"consensus"`
	Diversity        float64               `json:"diversity"`
	TieBreakerUsed   bool                  `json:"tie_breaker_used"`
	MetaVoterUsed    bool                  `json:"meta_voter_used"`
	ProcessingTimeMS int64                 `json:"processing_time_ms"`
	Timestamp        time.Time             `json:"timestamp"`
}

// HistoryPersister saves voting records durably. Failures are non-fatal.
type HistoryPersister interface {
	SaveVotingRecord(ctx context.Context, record HistoryRecord) error
}

// recentWindow bounds the per-model recent outcome window used for the
// historical multiplier.
const recentWindow = 20

type modelStats struct {
	participations int
	wins           int
	recent         []bool  // true = win, newest last
	latenciesMS    []int64 // newest last, bounded to recentWindow
}

func (m *modelStats) longTermRate() float64 {
	if m.participations == 0 {
		return 0
	}
	return float64(m.wins) / float64(m.participations)
}

func (m *modelStats) recentRate() float64 {
	if len(m.recent) == 0 {
		return 0
	}
	wins := 0
	for _, w := range m.recent {
		if w {
			wins++
		}
	}
	return float64(wins) / float64(len(m.recent))
}

// History is the append-only voting history. Appends are totally ordered per
// model; the rolling trim holds a brief exclusive lock.
type History struct {
	maxRecords int
	persist    HistoryPersister
	logger     *logrus.Logger

	mu      sync.RWMutex
	records []HistoryRecord
	byModel map[string]*modelStats
}

// NewHistory creates a voting history bounded to maxRecords. persist may be nil.
func NewHistory(maxRecords int, persist HistoryPersister, logger *logrus.Logger) *History {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &History{
		maxRecords: maxRecords,
		persist:    persist,
		logger:     logger,
		byModel:    make(map[string]*modelStats),
	}
}

// Append records a completed vote and updates per-model stats.
func (h *History) Append(ctx context.Context, record HistoryRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.records = append(h.records, record)
	if len(h.records) > h.maxRecords {
		h.records = h.records[len(h.records)-h.maxRecords:]
	}
	for role, model := range record.Models {
		st, ok := h.byModel[model]
		if !ok {
			st = &modelStats{}
			h.byModel[model] = st
		}
		won := role == record.Winner
		st.participations++
		if won {
			st.wins++
		}
		st.recent = append(st.recent, won)
		if len(st.recent) > recentWindow {
			st.recent = st.recent[len(st.recent)-recentWindow:]
		}
		if ms, ok := record.ResponseTimesMS[role]; ok && ms > 0 {
			st.latenciesMS = append(st.latenciesMS, ms)
			if len(st.latenciesMS) > recentWindow {
				st.latenciesMS = st.latenciesMS[len(st.latenciesMS)-recentWindow:]
			}
		}
	}
	h.mu.Unlock()

	if h.persist != nil {
		if err := h.persist.SaveVotingRecord(ctx, record); err != nil && h.logger != nil {
			h.logger.WithError(err).Warn("voting record persistence failed, continuing memory-only")
		}
	}
}

// Multiplier returns the model's recent-to-long-term win-rate ratio clamped
// to [0.5, 2.0]. Unknown models get a neutral 1.0.
func (h *History) Multiplier(model string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st, ok := h.byModel[model]
	if !ok || st.participations < 3 {
		return 1.0
	}
	longTerm := st.longTermRate()
	if longTerm == 0 {
		if st.recentRate() > 0 {
			return 2.0
		}
		return 1.0
	}
	ratio := st.recentRate() / longTerm
	if ratio < 0.5 {
		return 0.5
	}
	if ratio > 2.0 {
		return 2.0
	}
	return ratio
}

// MeanLatencyMS returns the model's rolling mean response time. The second
// return is false when the model has no latency history yet.
func (h *History) MeanLatencyMS(model string) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.byModel[model]
	if !ok || len(st.latenciesMS) == 0 {
		return 0, false
	}
	var total int64
	for _, ms := range st.latenciesMS {
		total += ms
	}
	return float64(total) / float64(len(st.latenciesMS)), true
}

// WinRate returns the model's long-term win rate.
func (h *History) WinRate(model string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.byModel[model]
	if !ok {
		return 0
	}
	return st.longTermRate()
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Recent returns up to n most recent records, newest last.
func (h *History) Recent(n int) []HistoryRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.records) {
		n = len(h.records)
	}
	out := make([]HistoryRecord, n)
	copy(out, h.records[len(h.records)-n:])
	return out
}
