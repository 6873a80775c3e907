// Package admission is the sole admission gate in front of the orchestrator:
// a bounded FIFO with a premium priority overlay, backpressure signals and
// deadline-aware rejection.
package admission

import (
	"container/list"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/models"
	"github.com/neurastack/gateway/internal/telemetry"
)

var (
	// ErrQueueFull is returned when the waiting queue is at capacity.
	ErrQueueFull = errors.New("admission queue full")
	// ErrDeadlineBeforeAdmission is returned when the job's deadline elapsed
	// while it was still waiting.
	ErrDeadlineBeforeAdmission = errors.New("timeout_before_admission")
)

// waiter is one queued request.
type waiter struct {
	tier    models.Tier
	ready   chan struct{}
	element *list.Element
	granted bool
}

// Queue admits requests up to a fixed concurrency, queuing the overflow.
// Premium requests are dequeued before free ones; within a tier, FIFO.
type Queue struct {
	config config.AdmissionConfig
	sink   *telemetry.Sink
	logger *logrus.Logger

	mu       sync.Mutex
	inFlight int
	premium  *list.List
	free     *list.List

	// Rolling processing-time window for the p95 backpressure signal.
	durations []time.Duration
	durIdx    int
	durFull   bool
}

const durationWindow = 100

// NewQueue creates the admission queue. sink may be nil.
func NewQueue(cfg config.AdmissionConfig, sink *telemetry.Sink, logger *logrus.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	return &Queue{
		config:    cfg,
		sink:      sink,
		logger:    logger,
		premium:   list.New(),
		free:      list.New(),
		durations: make([]time.Duration, durationWindow),
	}
}

// Admit blocks until the request may run, the context is cancelled, or the
// queue refuses it. On success the caller MUST call the returned release
// function exactly once, passing the request's processing time.
func (q *Queue) Admit(ctx context.Context, tier models.Tier, correlationID string) (func(time.Duration), error) {
	if deadline, ok := ctx.Deadline(); ok && !deadline.After(time.Now()) {
		q.emitRefused(correlationID, "deadline elapsed")
		return nil, ErrDeadlineBeforeAdmission
	}

	q.mu.Lock()
	if q.inFlight < q.config.Capacity {
		q.inFlight++
		q.checkBackpressureLocked(correlationID)
		q.mu.Unlock()
		q.emitAdmitted(correlationID, 0)
		return q.releaseFunc(), nil
	}

	if q.queuedLocked() >= q.config.Capacity {
		q.mu.Unlock()
		q.emitRefused(correlationID, "queue full")
		return nil, ErrQueueFull
	}

	w := &waiter{tier: tier, ready: make(chan struct{})}
	if tier == models.TierPremium && q.config.PremiumPriority {
		w.element = q.premium.PushBack(w)
	} else {
		w.element = q.free.PushBack(w)
	}
	q.checkBackpressureLocked(correlationID)
	q.mu.Unlock()

	enqueued := time.Now()
	select {
	case <-w.ready:
		q.emitAdmitted(correlationID, time.Since(enqueued))
		return q.releaseFunc(), nil
	case <-ctx.Done():
		q.abandon(w)
		// The slot may have been granted in the race with cancellation.
		select {
		case <-w.ready:
			q.releaseFunc()(0)
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			q.emitRefused(correlationID, "deadline elapsed while queued")
			return nil, ErrDeadlineBeforeAdmission
		}
		return nil, ctx.Err()
	}
}

// releaseFunc returns the slot and promotes the next waiter.
func (q *Queue) releaseFunc() func(time.Duration) {
	var once sync.Once
	return func(processing time.Duration) {
		once.Do(func() {
			q.mu.Lock()
			if processing > 0 {
				q.recordDurationLocked(processing)
			}
			if next := q.dequeueLocked(); next != nil {
				next.granted = true
				close(next.ready)
			} else if q.inFlight > 0 {
				q.inFlight--
			}
			q.mu.Unlock()
		})
	}
}

// dequeueLocked pops the next waiter, premium first.
func (q *Queue) dequeueLocked() *waiter {
	for _, l := range []*list.List{q.premium, q.free} {
		if front := l.Front(); front != nil {
			w := front.Value.(*waiter)
			l.Remove(front)
			w.element = nil
			return w
		}
	}
	return nil
}

// abandon removes a cancelled waiter from its queue if still present.
func (q *Queue) abandon(w *waiter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.element == nil {
		return
	}
	if w.tier == models.TierPremium && q.config.PremiumPriority {
		q.premium.Remove(w.element)
	} else {
		q.free.Remove(w.element)
	}
	w.element = nil
}

// Depth returns the number of waiting requests.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queuedLocked()
}

// InFlight returns the number of admitted, still-running requests.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// P95 returns the 95th-percentile processing time over the rolling window,
// zero when too few samples exist.
func (q *Queue) P95() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.p95Locked()
}

func (q *Queue) queuedLocked() int {
	return q.premium.Len() + q.free.Len()
}

func (q *Queue) recordDurationLocked(d time.Duration) {
	q.durations[q.durIdx] = d
	q.durIdx = (q.durIdx + 1) % durationWindow
	if q.durIdx == 0 {
		q.durFull = true
	}
}

func (q *Queue) p95Locked() time.Duration {
	n := q.durIdx
	if q.durFull {
		n = durationWindow
	}
	if n < 10 {
		return 0
	}
	sorted := make([]time.Duration, n)
	copy(sorted, q.durations[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[(n*95)/100]
}

// checkBackpressureLocked emits an autoscale signal when depth or p95 cross
// their thresholds.
func (q *Queue) checkBackpressureLocked(correlationID string) {
	depth := q.queuedLocked()
	p95 := q.p95Locked()
	if depth <= q.config.DepthThreshold && (p95 == 0 || p95 <= q.config.P95Threshold) {
		return
	}
	if q.sink != nil {
		q.sink.EmitKind(telemetry.EventAutoscaleSignal, correlationID, map[string]interface{}{
			"depth": depth,
			"p95":   p95.String(),
		})
	}
	if q.logger != nil {
		q.logger.WithFields(logrus.Fields{
			"depth": depth,
			"p95":   p95,
		}).Warn("admission backpressure")
	}
}

func (q *Queue) emitAdmitted(correlationID string, waited time.Duration) {
	if q.sink != nil {
		q.sink.EmitKind(telemetry.EventAdmitted, correlationID, map[string]interface{}{
			"waited_ms": waited.Milliseconds(),
		})
	}
}

func (q *Queue) emitRefused(correlationID, reason string) {
	if q.sink != nil {
		q.sink.EmitKind(telemetry.EventAdmissionRefused, correlationID, map[string]interface{}{
			"reason": reason,
		})
	}
}
