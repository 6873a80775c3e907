// Package telemetry is the per-stage event sink. Emission is non-blocking;
// a background drain writes structured log lines and bumps metrics. Events
// are dropped, never queued unboundedly, when the sink falls behind.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/observability"
)

// EventKind names a pipeline stage or decision.
type EventKind string

const (
	EventAdmitted         EventKind = "admitted"
	EventAdmissionRefused EventKind = "admission_refused"
	EventAutoscaleSignal  EventKind = "autoscale_signal"
	EventCacheHit         EventKind = "cache_hit"
	EventCacheMiss        EventKind = "cache_miss"
	EventProviderDone     EventKind = "provider_done"
	EventProviderFailed   EventKind = "provider_failed"
	EventVoteComputed     EventKind = "vote_computed"
	EventTieBreak         EventKind = "tie_break"
	EventMetaVote         EventKind = "meta_vote"
	EventAbstained        EventKind = "abstained"
	EventSynthesized      EventKind = "synthesized"
	EventValidated        EventKind = "validated"
	EventCompleted        EventKind = "completed"
	EventDegraded         EventKind = "degraded"
)

// Event is one telemetry record.
type Event struct {
	Kind          EventKind
	CorrelationID string
	Fields        map[string]interface{}
	Timestamp     time.Time
}

// Sink fans events from many request goroutines into a single drain.
type Sink struct {
	events  chan Event
	logger  *logrus.Logger
	metrics *observability.Collector

	dropped  atomic.Int64
	closed   atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewSink creates and starts the sink. metrics may be nil.
func NewSink(buffer int, logger *logrus.Logger, metrics *observability.Collector) *Sink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &Sink{
		events:  make(chan Event, buffer),
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
	go s.drain()
	return s
}

// Emit records an event without blocking. Events are dropped when the buffer
// is full or the sink is stopped.
func (s *Sink) Emit(event Event) {
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}

// EmitKind is the common case: a kind, a correlation id, and fields.
func (s *Sink) EmitKind(kind EventKind, correlationID string, fields map[string]interface{}) {
	s.Emit(Event{Kind: kind, CorrelationID: correlationID, Fields: fields})
}

// Dropped returns the number of events discarded so far.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Stop closes the sink and waits for the drain to finish the buffered events.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.events)
		<-s.done
	})
}

func (s *Sink) drain() {
	defer close(s.done)
	for event := range s.events {
		s.handle(event)
	}
}

func (s *Sink) handle(event Event) {
	if s.logger != nil {
		fields := logrus.Fields{
			"event":          string(event.Kind),
			"correlation_id": event.CorrelationID,
		}
		for k, v := range event.Fields {
			fields[k] = v
		}
		s.logger.WithFields(fields).Info("telemetry")
	}
	if s.metrics == nil {
		return
	}
	switch event.Kind {
	case EventAdmissionRefused:
		s.metrics.AdmissionRefused.Inc()
	case EventAutoscaleSignal:
		s.metrics.AutoscaleSignals.Inc()
	case EventCacheHit:
		s.metrics.CacheHits.WithLabelValues(labelOr(event, "cache_type", "response")).Inc()
	case EventCacheMiss:
		s.metrics.CacheMisses.WithLabelValues(labelOr(event, "cache_type", "response")).Inc()
	case EventVoteComputed:
		s.metrics.ConsensusOutcomes.WithLabelValues(labelOr(event, "consensus", "unknown")).Inc()
	case EventTieBreak:
		s.metrics.TieBreaks.WithLabelValues(labelOr(event, "strategy", "unknown")).Inc()
	case EventMetaVote:
		s.metrics.MetaVotes.Inc()
	case EventAbstained:
		s.metrics.Abstentions.Inc()
	}
}

func labelOr(event Event, key, fallback string) string {
	if v, ok := event.Fields[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
