package server

import (
	"net"
	"sync"

	"go.uber.org/zap"
)

// workerPool is a fixed-size pool of goroutines draining a FIFO queue of
// accepted connections (§4.4). A condition variable wakes idle workers
// when a connection is queued; a buffered channel acts as the counting
// semaphore the accept loop consults to shed load once every worker is
// busy.
type workerPool struct {
	handle func(net.Conn)
	log    *zap.SugaredLogger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []net.Conn
	running bool

	busy chan struct{} // one token per queued or in-service connection; cap == pool size

	wg sync.WaitGroup
}

// newWorkerPool starts n workers, each serving connections via handle
// until the pool is stopped.
func newWorkerPool(n int, handle func(net.Conn), log *zap.SugaredLogger) *workerPool {
	p := &workerPool{
		handle:  handle,
		log:     log,
		running: true,
		busy:    make(chan struct{}, n),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	return p
}

// tryEnqueue attempts to hand conn to the pool without blocking,
// implementing the accept loop's load-shedding: if every worker is
// already busy, the caller should close conn immediately.
func (p *workerPool) tryEnqueue(conn net.Conn) bool {
	select {
	case p.busy <- struct{}{}:
	default:
		return false
	}

	p.mu.Lock()
	p.queue = append(p.queue, conn)
	p.mu.Unlock()
	p.cond.Signal()
	return true
}

// loop implements one worker: wait → dequeue → serve until EOF → give
// back the semaphore token the connection took in tryEnqueue, then
// dequeue the next queued connection or wait again.
func (p *workerPool) loop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && p.running {
			p.cond.Wait()
		}
		if !p.running && len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}

		conn := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.handle(conn)

		// every queued connection took its own token in tryEnqueue, so
		// the token is given back for each one served.
		<-p.busy
	}
}

// stop tells every worker to exit once its queue is empty and waits for
// them to finish. It does not close any in-flight connections; callers
// that want blocked reads interrupted should close conns themselves
// first.
func (p *workerPool) stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	p.cond.Broadcast()
	p.wg.Wait()
}
