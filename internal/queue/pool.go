package queue

import (
	"context"
	"log/slog"
	"sync"
)

const (
	defaultWorkers   = 2
	defaultPoolQueue = 256
)

// Pool runs session drains on background workers. A session dropped because
// the job channel was full keeps its pending items and is picked up by the
// next enqueue or recovery sweep.
type Pool struct {
	jobs   chan string
	drain  func(ctx context.Context, externalID string)
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewPool(workers, queueSize int, drain func(ctx context.Context, externalID string), logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultPoolQueue
	}
	p := &Pool{
		jobs:   make(chan string, queueSize),
		drain:  drain,
		logger: logger,
	}
	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

// Enqueue submits a session for draining. Returns false if the pool is full.
func (p *Pool) Enqueue(externalID string) bool {
	select {
	case p.jobs <- externalID:
		p.logger.Debug("drain queued", "session_id", externalID)
		return true
	default:
		p.logger.Warn("drain pool full, drain deferred", "session_id", externalID)
		return false
	}
}

// Close stops accepting work and waits for in-flight drains.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("drain worker started", "worker_id", id)
	for externalID := range p.jobs {
		p.drain(context.Background(), externalID)
	}
	p.logger.Debug("drain worker stopped", "worker_id", id)
}
