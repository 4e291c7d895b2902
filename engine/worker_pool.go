package engine

import (
	"context"
	"sync"
)

// TaskHandler processes one task id.
type TaskHandler func(ctx context.Context, id string) error

// WorkerPool runs a handler for every task id received on a channel. The
// number of workers can be changed while the pool is running; a retired
// worker finishes its current task before it exits.
type WorkerPool struct {
	ids     <-chan string
	handler TaskHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	retire []chan struct{}
	wg     sync.WaitGroup
}

// NewWorkerPool creates a pool with no workers. Call Resize to start them.
func NewWorkerPool(ctx context.Context, ids <-chan string, handler TaskHandler) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		ids:     ids,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Resize starts or retires workers until n are running.
func (p *WorkerPool) Resize(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.retire) < n {
		quit := make(chan struct{})
		p.retire = append(p.retire, quit)
		p.wg.Add(1)
		go p.run(quit)
	}
	for len(p.retire) > n {
		last := len(p.retire) - 1
		close(p.retire[last])
		p.retire = p.retire[:last]
	}
}

// Size returns the number of running workers.
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.retire)
}

func (p *WorkerPool) run(quit <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-quit:
			return
		case <-p.ctx.Done():
			return
		case id, ok := <-p.ids:
			if !ok {
				return
			}
			_ = p.handler(p.ctx, id)
		}
	}
}

// Wait blocks until every worker has exited, which happens once the id
// channel is closed and drained.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Stop cancels the handlers' context and waits for the workers to exit.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}
