package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/approval-watcher/internal/model"
)

// Pool runs a Processor on a fixed number of workers fed by a bounded
// queue, so slow forwards never hold up the mailbox connection.
type Pool struct {
	proc   *Processor
	queue  chan model.RawMessage
	ctx    context.Context
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines. ctx only bounds Submit; messages
// already queued are processed to completion even after ctx is done.
func NewPool(ctx context.Context, proc *Processor, workers, queue int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		proc:   proc,
		queue:  make(chan model.RawMessage, queue),
		ctx:    ctx,
		logger: logger.Named("pool"),
	}

	workCtx := context.WithoutCancel(ctx)
	for range workers {
		p.wg.Add(1)
		go p.work(workCtx)
	}
	return p
}

// Submit queues msg for processing. It blocks while the queue is full and
// returns false if the pool is closed or its context is done.
func (p *Pool) Submit(msg model.RawMessage) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- msg:
		queueDepth.Set(float64(len(p.queue)))
		return true
	case <-p.ctx.Done():
		p.logger.Warn("dropping message on shutdown", zap.Uint32("uid", msg.UID))
		return false
	}
}

// Close stops accepting messages and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()

	for msg := range p.queue {
		queueDepth.Set(float64(len(p.queue)))
		p.proc.Process(ctx, msg)
	}
}
