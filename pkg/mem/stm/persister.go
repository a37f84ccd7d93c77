package stm

import (
	"context"
	"sync"
	"time"

	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/metrics"
	"github.com/lexlapax/ragmem/pkg/session"
)

// Persister defaults.
const (
	DefaultQueueSize      = 256
	DefaultWorkers        = 2
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 100 * time.Millisecond
	DefaultPersistTimeout = 30 * time.Second
)

// PersistFunc stores one evicted turn durably. It receives a context
// already carrying the turn's session.
type PersistFunc func(ctx context.Context, turn Turn) error

// Failure describes a turn that could not be persisted after all retries.
type Failure struct {
	Turn Turn
	Err  error
}

// PersisterConfig tunes the eviction persistence pipeline. Zero values
// take the package defaults.
type PersisterConfig struct {
	// QueueSize bounds the backlog of evicted turns awaiting persistence
	QueueSize int

	// Workers is how many goroutines drain the queue
	Workers int

	// MaxRetries is how many times a failed persist is retried
	MaxRetries int

	// RetryBaseDelay is the first backoff delay; it doubles per retry
	RetryBaseDelay time.Duration

	// PersistTimeout bounds each persistence attempt
	PersistTimeout time.Duration
}

func (c PersisterConfig) withDefaults() PersisterConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	return c
}

// Persister moves evicted turns into durable storage off the append path.
// Enqueue never blocks: a full queue drops the turn and counts the drop.
// Each turn gets bounded retries with exponential backoff; turns that
// still fail are counted, logged, and offered on the Failures channel.
type Persister struct {
	fn      PersistFunc
	cfg     PersisterConfig
	metrics *metrics.Metrics

	queue    chan Turn
	failures chan Failure
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPersister starts workers draining the eviction queue into fn.
// A nil metrics set defaults to no-op instruments.
func NewPersister(fn PersistFunc, cfg PersisterConfig, m *metrics.Metrics) *Persister {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.Nop()
	}
	p := &Persister{
		fn:       fn,
		cfg:      cfg,
		metrics:  m,
		queue:    make(chan Turn, cfg.QueueSize),
		failures: make(chan Failure, cfg.QueueSize),
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Enqueue offers a turn for persistence without blocking. Turns offered
// after Close, or while the queue is full, are dropped and counted.
func (p *Persister) Enqueue(turn Turn) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.metrics.EvictQueueDrops.Inc()
		return
	}
	select {
	case p.queue <- turn:
	default:
		p.metrics.EvictQueueDrops.Inc()
		log.Warn("Evicted turn dropped, persist queue full",
			"session_id", turn.SessionID, "turn_id", turn.ID)
	}
}

// Failures exposes turns that exhausted their retries. The channel is
// buffered and never blocks the pipeline; consume it or ignore it.
func (p *Persister) Failures() <-chan Failure {
	return p.failures
}

// Close stops accepting turns, waits for the queue to drain, and stops
// the workers. Safe to call more than once.
func (p *Persister) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.failures)
	return nil
}

func (p *Persister) worker() {
	defer p.wg.Done()
	for turn := range p.queue {
		p.persist(turn)
	}
}

// persist runs one turn through the retry loop. The context carries the
// turn's session so the persist function can resolve it the usual way.
func (p *Persister) persist(turn Turn) {
	var err error
	delay := p.cfg.RetryBaseDelay
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.metrics.EvictPersistRetries.Inc()
			time.Sleep(delay)
			delay *= 2
		}
		ctx, cancel := context.WithTimeout(
			session.ContextWithSession(context.Background(), turn.SessionID),
			p.cfg.PersistTimeout,
		)
		err = p.fn(ctx, turn)
		cancel()
		if err == nil {
			return
		}
	}

	p.metrics.EvictPersistFailures.Inc()
	log.Error("Evicted turn could not be persisted",
		"session_id", turn.SessionID, "turn_id", turn.ID,
		"retries", p.cfg.MaxRetries, "error", err)
	select {
	case p.failures <- Failure{Turn: turn, Err: err}:
	default:
	}
}
