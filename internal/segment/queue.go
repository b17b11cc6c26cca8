package segment

import (
	"context"
	"log/slog"
	"sync"

	"github.com/earshot-audio/earshot/internal/observe"
)

// defaultQueueSize bounds pending finalized utterances between ingestion and
// the downstream pipeline.
const defaultQueueSize = 8

// QueueOption is a functional option for configuring a [Queue].
type QueueOption func(*Queue)

// WithQueueLogger sets the logger used for overflow events.
// Default: slog.Default().
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.log = l
	}
}

// WithQueueMetrics sets the metrics sink for the overflow counter. When nil
// (the default), nothing is recorded.
func WithQueueMetrics(m *observe.Metrics) QueueOption {
	return func(q *Queue) {
		q.metrics = m
	}
}

// Queue is a bounded single-producer/single-consumer hand-off of finalized
// utterances. When full, Put drops the OLDEST pending utterance rather than
// blocking: ingestion must never stall on downstream latency, and "who is
// speaking now" beats completeness of history.
type Queue struct {
	mu      sync.Mutex
	items   []*Utterance
	size    int
	drops   uint64
	log     *slog.Logger
	metrics *observe.Metrics

	// wake signals the consumer that an item arrived. Capacity 1: a single
	// pending wakeup covers any number of Puts.
	wake chan struct{}
}

// NewQueue returns a Queue holding at most size pending utterances.
// size <= 0 takes the package default.
func NewQueue(size int, opts ...QueueOption) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &Queue{
		size: size,
		log:  slog.Default(),
		wake: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Put enqueues u, evicting the oldest pending utterance when the queue is
// full. It never blocks. The evicted utterance (or nil) is returned; the
// overflow is logged and counted either way.
func (q *Queue) Put(u *Utterance) (dropped *Utterance) {
	q.mu.Lock()
	if len(q.items) >= q.size {
		dropped = q.items[0]
		q.items = q.items[1:]
		q.drops++
	}
	q.items = append(q.items, u)
	q.mu.Unlock()

	if dropped != nil {
		q.log.Warn("utterance queue overflow, oldest dropped",
			"dropped", dropped.ID,
			"enqueued", u.ID,
		)
		if q.metrics != nil {
			q.metrics.RecordQueueDrop(context.Background())
		}
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return dropped
}

// Take removes and returns the oldest pending utterance, blocking until one
// is available or ctx is done.
func (q *Queue) Take(ctx context.Context) (*Utterance, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Keep the wakeup pending for the items still queued.
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return u, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.wake:
		}
	}
}

// Len returns the number of pending utterances.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drops returns the number of utterances evicted under backpressure.
func (q *Queue) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops
}
