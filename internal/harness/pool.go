package harness

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrPoolClosed is returned by Submit after Wait has been called.
	ErrPoolClosed = errors.New("pool closed")

	// ErrQueueFull is returned by Submit when the task queue is at capacity.
	ErrQueueFull = errors.New("pool queue full")
)

// Pool runs tasks on a fixed number of workers in submission order.
// A task runs to completion or not at all; nothing is cancelled mid-flight.
type Pool struct {
	tasks  chan func()
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool

	wg sync.WaitGroup
}

// NewPool starts size workers fed by a queue holding up to queue tasks.
func NewPool(size, queue int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue <= 0 {
		queue = size
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		tasks:  make(chan func(), queue),
		logger: logger,
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker", id, "panic", fmt.Sprint(r))
		}
	}()
	task()
}

// Submit queues task without blocking.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait stops accepting tasks, lets the queue drain and joins the workers.
func (p *Pool) Wait() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	p.wg.Wait()
}
