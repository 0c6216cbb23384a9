package pipeline

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/sirupsen/logrus"

	"eventsieve/internal/store"
)

// Queue runs inbound submissions on a bounded worker pool. Work is
// dispatched to a worker chosen by hashing the item fingerprint, so two
// submissions of the same item always land on the same worker and run in
// order, while distinct items proceed in parallel.
type Queue struct {
	pipeline *Pipeline
	workers  []chan Capture
	wg       sync.WaitGroup
	log      *logrus.Logger

	mu     sync.Mutex
	closed bool
}

// NewQueue starts n workers feeding the pipeline. n < 1 is clamped to 1.
func NewQueue(p *Pipeline, n int, log *logrus.Logger) *Queue {
	if n < 1 {
		n = 1
	}
	q := &Queue{
		pipeline: p,
		workers:  make([]chan Capture, n),
		log:      log,
	}
	for i := range q.workers {
		ch := make(chan Capture, workerBuffer)
		q.workers[i] = ch
		q.wg.Add(1)
		go q.run(i, ch)
	}
	return q
}

const workerBuffer = 64

// Enqueue hands a capture to its worker. Returns false after Close, or when
// the worker's buffer is full; the caller may retry, since submission is
// idempotent.
func (q *Queue) Enqueue(c Capture) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	it := &store.InboundItem{
		Source:    c.Source,
		Title:     c.Title,
		Body:      c.Body,
		Timestamp: c.Timestamp,
	}
	id := store.ItemFingerprint(it, c.SourceKey)

	h := fnv.New32a()
	h.Write([]byte(id))
	ch := q.workers[int(h.Sum32())%len(q.workers)]

	select {
	case ch <- c:
		return true
	default:
		q.log.WithField("item", id).Warn("submission queue full")
		return false
	}
}

// Close stops intake and drains queued work before returning.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	for _, ch := range q.workers {
		close(ch)
	}
	q.wg.Wait()
}

func (q *Queue) run(id int, ch <-chan Capture) {
	defer q.wg.Done()
	wlog := q.log.WithField("worker", id)
	for c := range ch {
		q.process(wlog, c)
	}
}

func (q *Queue) process(wlog *logrus.Entry, c Capture) {
	defer func() {
		if r := recover(); r != nil {
			wlog.WithField("panic", r).Error("submission panicked")
		}
	}()

	if _, err := q.pipeline.SubmitInboundItem(context.Background(), c); err != nil {
		wlog.WithError(err).Error("submission failed")
	}
}
