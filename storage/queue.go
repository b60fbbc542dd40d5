package storage

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/proptrade/engine/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE QUEUE - Fire-and-forget writes with overflow drop + breaker
// ═══════════════════════════════════════════════════════════════════════════════
//
// The kernel commits in memory first and enqueues write tasks here; a failed
// or dropped write never fails the synchronous path. The circuit breaker
// trips after N consecutive store failures, after which only a single probe
// task runs per cycle until one succeeds.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "persist_queue_depth",
		Help: "Number of tasks waiting in a persistence queue",
	}, []string{"queue"})

	queueDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "persist_queue_dropped_total",
		Help: "Tasks dropped because a persistence queue was full",
	}, []string{"queue"})

	queueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "persist_queue_failures_total",
		Help: "Store write failures seen by a persistence queue",
	}, []string{"queue"})
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(queueDropped)
	prometheus.MustRegister(queueFailures)
}

// Task is one durable write, retried best-effort until it succeeds or the
// retry buffer overflows.
type Task struct {
	Label string
	Run   func() error
}

// Queue is a bounded, single-consumer persistence queue.
type Queue struct {
	name    string
	ch      chan Task
	breaker *gobreaker.CircuitBreaker

	mu    sync.Mutex
	retry []Task

	onDrop func(queue string)

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewQueue creates a queue with the given capacity; the breaker trips after
// tripAfter consecutive failures.
func NewQueue(name string, capacity, tripAfter int) *Queue {
	q := &Queue{
		name:   name,
		ch:     make(chan Task, capacity),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	q.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // half-open: one probe per cycle
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(tripAfter)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("queue", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Persistence breaker state change")
		},
	})

	return q
}

// SetDropHook installs a callback invoked whenever a task is dropped, for
// operator alerting. Set before Start.
func (q *Queue) SetDropHook(fn func(queue string)) {
	q.onDrop = fn
}

// Start launches the consumer and the retry sweeper.
func (q *Queue) Start() {
	go q.consumeLoop()
	log.Info().Str("queue", q.name).Int("cap", cap(q.ch)).Msg("Persistence queue started")
}

// Enqueue hands a task to the queue without blocking. On overflow the task
// is dropped and the caller gets ErrPersistDrop; trading state is already
// committed in memory, so the drop is an operator problem, not a trader one.
func (q *Queue) Enqueue(t Task) error {
	select {
	case q.ch <- t:
		queueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
		return nil
	default:
		queueDropped.WithLabelValues(q.name).Inc()
		log.Error().
			Str("queue", q.name).
			Str("task", t.Label).
			Msg("CRITICAL: persistence queue full, task dropped")
		if q.onDrop != nil {
			q.onDrop(q.name)
		}
		return types.ErrPersistDrop
	}
}

// Stop shuts the consumer down after one best-effort drain pass.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		<-q.doneCh
	})
}

// Depth returns the number of queued tasks, for health reporting.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// TrippedState reports the breaker state label, for health reporting.
func (q *Queue) TrippedState() string {
	return q.breaker.State().String()
}

func (q *Queue) consumeLoop() {
	defer close(q.doneCh)

	retryTicker := time.NewTicker(2 * time.Second)
	defer retryTicker.Stop()

	for {
		select {
		case <-q.stopCh:
			q.drain()
			return
		case t := <-q.ch:
			queueDepth.WithLabelValues(q.name).Set(float64(len(q.ch)))
			q.execute(t)
		case <-retryTicker.C:
			q.flushRetries()
		}
	}
}

func (q *Queue) execute(t Task) {
	_, err := q.breaker.Execute(func() (interface{}, error) {
		return nil, t.Run()
	})
	if err == nil {
		return
	}

	queueFailures.WithLabelValues(q.name).Inc()
	log.Warn().
		Err(err).
		Str("queue", q.name).
		Str("task", t.Label).
		Msg("Persistence task failed, will retry")
	q.addRetry(t)
}

func (q *Queue) addRetry(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.retry) >= cap(q.ch) {
		queueDropped.WithLabelValues(q.name).Inc()
		log.Error().
			Str("queue", q.name).
			Str("task", q.retry[0].Label).
			Msg("CRITICAL: retry buffer full, oldest task dropped")
		if q.onDrop != nil {
			q.onDrop(q.name)
		}
		q.retry = q.retry[1:]
	}
	q.retry = append(q.retry, t)
}

func (q *Queue) flushRetries() {
	q.mu.Lock()
	pending := q.retry
	q.retry = nil
	q.mu.Unlock()

	for _, t := range pending {
		q.execute(t)
	}
}

// drain makes one pass over whatever is still queued at shutdown.
func (q *Queue) drain() {
	for {
		select {
		case t := <-q.ch:
			if err := t.Run(); err != nil {
				log.Warn().Err(err).Str("task", t.Label).Msg("Drain write failed")
			}
		default:
			q.flushRetries()
			return
		}
	}
}
