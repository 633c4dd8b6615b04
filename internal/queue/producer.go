package queue

import (
	"errors"

	"github.com/trunov/heroproxy/internal/entities"
)

var (
	ErrQueueFull  = errors.New("queue full")
	ErrPoolClosed = errors.New("worker pool closed")
)

// Submit puts a job on the queue without blocking. If the queue is full it
// returns ErrQueueFull immediately. The returned channel yields exactly one
// Result; it is closed without a value only if the pool shut down before
// any worker picked the job up.
func (p *Pool) Submit(job entities.Job) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	t := task{job: job, reply: make(chan Result, 1)}
	p.queued.Add(1)
	select {
	case p.tasks <- t:
		return t.reply, nil
	default:
		p.queued.Add(-1)
		return nil, ErrQueueFull
	}
}

// Queued is the number of submitted jobs that have not finished yet.
func (p *Pool) Queued() int64 { return p.queued.Load() }

func (p *Pool) QueueCapacity() int { return cap(p.tasks) }
