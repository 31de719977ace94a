// Package pool 提供 CPU 密集型任务使用的有界工作池与缓冲区复用。
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a fixed number of workers fed by a bounded queue.
type WorkerPool struct {
	tasks chan taskWrapper
	mu    sync.RWMutex // guards closing tasks against concurrent sends
	wg    sync.WaitGroup

	closed atomic.Bool
	active atomic.Int32

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	workers      int
	panicHandler func(any)
}

type taskWrapper struct {
	task   Task
	ctx    context.Context
	result chan error
}

// Config configures the pool.
type Config struct {
	Workers      int       `json:"workers" yaml:"workers" env:"WORKERS"`
	QueueSize    int       `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`
	PanicHandler func(any) `json:"-" yaml:"-"`
}

// DefaultConfig returns two workers and a queue of 32.
func DefaultConfig() Config {
	return Config{Workers: 2, QueueSize: 32}
}

// NewWorkerPool starts the workers immediately.
func NewWorkerPool(cfg Config) *WorkerPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	p := &WorkerPool{
		tasks:        make(chan taskWrapper, cfg.QueueSize),
		workers:      cfg.Workers,
		panicHandler: cfg.PanicHandler,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task without waiting; it fails fast when the queue is full.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	select {
	case p.tasks <- taskWrapper{task: task, ctx: ctx}:
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

// SubmitWait enqueues a task and waits for its result. Waiting for a queue
// slot or for the result is abandoned when ctx is done; a task already
// running keeps its ctx and observes the cancellation itself.
func (p *WorkerPool) SubmitWait(ctx context.Context, task Task) error {
	wrapper := taskWrapper{task: task, ctx: ctx, result: make(chan error, 1)}

	if err := p.enqueue(ctx, wrapper); err != nil {
		return err
	}

	select {
	case err := <-wrapper.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *WorkerPool) enqueue(ctx context.Context, w taskWrapper) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.submitted.Add(1)
	select {
	case p.tasks <- w:
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for w := range p.tasks {
		if w.ctx.Err() != nil {
			p.finish(w, w.ctx.Err())
			continue
		}
		p.active.Add(1)
		err := p.execute(w)
		p.active.Add(-1)
		p.finish(w, err)
	}
}

func (p *WorkerPool) finish(w taskWrapper, err error) {
	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
	if w.result != nil {
		w.result <- err
	}
}

func (p *WorkerPool) execute(w taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return w.task(w.ctx)
}

// Close stops accepting tasks, drains the queue and waits for the workers.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return
	}
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Active:    int(p.active.Load()),
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
