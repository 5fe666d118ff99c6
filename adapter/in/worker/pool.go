package worker

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// =============================================================================
// go-pkgz/pool 기반 Worker Pool
// =============================================================================

// Runner executes one message. The task service wraps the dispatcher so the
// pool never touches status or semaphore state itself.
type Runner interface {
	Run(ctx context.Context, msg *Message) error
}

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int
	BatchSize      int
	WorkerChanSize int
	JobTimeout     time.Duration
	MaxRetries     int
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        50,
		BatchSize:      10,
		WorkerChanSize: 100,
		JobTimeout:     10 * time.Minute,
		MaxRetries:     3,
	}
}

// Pool runs submitted messages on a fixed worker group. Failed messages are
// retried with exponential backoff and land in the dead letter channel after
// the retry budget is spent.
type Pool struct {
	runner Runner
	config *PoolConfig

	group *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	dlq   chan *Message
	dlqWg sync.WaitGroup

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	JobsProcessed int64
	JobsFailed    int64
	JobsRetried   int64
	AvgProcessMs  int64
	QueueSize     int32
}

// messageWorker adapts the pool.Worker interface.
type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

func NewPool(runner Runner, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		runner:  runner,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		metrics: &PoolMetrics{},
		log:     log.With().Str("component", "worker_pool").Logger(),
		dlq:     make(chan *Message, 100),
	}
}

// Start brings up the worker group, the DLQ consumer and the metrics
// reporter.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	p.group = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.group.Go(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("failed to start worker group")
		return
	}
	p.started = true

	p.dlqWg.Add(1)
	go p.dlqConsumer()
	go p.metricsReporter()

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("batch_size", p.config.BatchSize).
		Msg("worker pool started")
}

// Stop drains the pool, waiting up to 30s for in-flight jobs.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer closeCancel()

	if err := p.group.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing worker group")
	}

	p.cancel()
	close(p.dlq)
	p.dlqWg.Wait()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("worker pool stopped")
}

// Submit hands one message to the pool. False when the pool is not running.
func (p *Pool) Submit(msg *Message) bool {
	p.mu.Lock()
	if !p.started || p.group == nil {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	p.group.Submit(msg)
	atomic.AddInt32(&p.metrics.QueueSize, 1)
	return true
}

// processJob runs one message under the job timeout and drives retry/DLQ.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.QueueSize, -1)

	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	err := p.runner.Run(jobCtx, msg)
	p.updateAvgProcessTime(time.Since(start).Milliseconds())

	if err != nil {
		p.log.Error().Err(err).
			Str("task_id", msg.ID).
			Str("task_type", msg.Type).
			Int("retries", msg.Retries).
			Msg("task failed")

		if msg.Retries < p.config.MaxRetries {
			msg.Retries++
			atomic.AddInt64(&p.metrics.JobsRetried, 1)

			// Exponential backoff with jitter so retries don't stampede.
			backoff := time.Duration(1<<msg.Retries)*time.Second +
				time.Duration(rand.Intn(500))*time.Millisecond
			time.AfterFunc(backoff, func() {
				p.Submit(msg)
			})
		} else {
			atomic.AddInt64(&p.metrics.JobsFailed, 1)
			select {
			case p.dlq <- msg:
			default:
				p.log.Error().Str("task_id", msg.ID).Msg("DLQ full, task lost")
			}
		}
		return err
	}

	atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	return nil
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessMs)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessMs, elapsed)
	} else {
		atomic.StoreInt64(&p.metrics.AvgProcessMs, (current*9+elapsed)/10)
	}
}

func (p *Pool) dlqConsumer() {
	defer p.dlqWg.Done()

	for msg := range p.dlq {
		p.log.Error().
			Str("task_id", msg.ID).
			Str("task_type", msg.Type).
			Str("group_id", msg.GroupID).
			Int("retries", msg.Retries).
			Msg("task permanently failed")
	}
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.log.Info().
				Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
				Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
				Int64("retried", atomic.LoadInt64(&p.metrics.JobsRetried)).
				Int64("avg_process_ms", atomic.LoadInt64(&p.metrics.AvgProcessMs)).
				Int32("queue_size", atomic.LoadInt32(&p.metrics.QueueSize)).
				Msg("worker pool metrics")
		}
	}
}

// GetMetrics returns a snapshot of the pool counters.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed: atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:    atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsRetried:   atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessMs:  atomic.LoadInt64(&p.metrics.AvgProcessMs),
		QueueSize:     atomic.LoadInt32(&p.metrics.QueueSize),
	}
}
