package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"checkout-orchestrator/internal/infra/metrics"
)

// Task is one unit of advisory work: a browser notification or a support
// alert. Failures are logged and never retried.
type Task = func(ctx context.Context) error

var (
	ErrNilTask   = errors.New("nil task")
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

const queuePerWorker = 4

// Pool is a fixed set of goroutines fed by a bounded queue. Submit never
// blocks.
type Pool struct {
	size    int
	timeout time.Duration
	queue   chan Task
	closing chan struct{}
	log     *zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewPool sizes the pool to runtime.NumCPU() when workers <= 0. A zero
// taskTimeout leaves tasks bounded only by the Start context.
func NewPool(workers int, taskTimeout time.Duration, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "worker_pool").Logger()
	return &Pool{
		size:    workers,
		timeout: taskTimeout,
		queue:   make(chan Task, workers*queuePerWorker),
		closing: make(chan struct{}),
		log:     &l,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.loop(ctx, i)
	}
	p.log.Debug().Int("workers", p.size).Int("queue", cap(p.queue)).Msg("started")
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.queue:
			p.exec(ctx, id, task)
		case <-p.closing:
			for {
				select {
				case task := <-p.queue:
					p.exec(ctx, id, task)
				default:
					return
				}
			}
		}
	}
}

// Stop rejects new tasks, lets the workers finish what is queued and waits
// for them. Safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	already := p.stopped
	if !already {
		p.stopped = true
		close(p.closing)
	}
	p.mu.Unlock()
	if !already {
		p.wg.Wait()
	}
}

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- task:
		metrics.SetWorkerQueueDepth(len(p.queue))
		return nil
	default:
		metrics.IncWorkerTask("rejected")
		return ErrQueueFull
	}
}

func (p *Pool) exec(ctx context.Context, id int, task Task) {
	metrics.SetWorkerQueueDepth(len(p.queue))
	if task == nil {
		return
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	err := p.guard(ctx, task)
	if err != nil {
		metrics.IncWorkerTask("error")
		p.log.Warn().Err(err).Int("worker", id).Msg("task failed")
		return
	}
	metrics.IncWorkerTask("ok")
}

func (p *Pool) guard(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
