package tasksched

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Processor is the top-level façade: it owns a ready book (for ordinary
// submitted tasks) and a separate daemon ready book (for submission
// tasks), plus the worker pools that drain each. Submit auto-routes each
// handle by kind — a submission task always goes to the daemon book,
// everything else to the main book subject to the safe-submission check
// — while SubmitDaemon bypasses that routing and check entirely, placing
// every handle directly in the daemon book.
type Processor struct {
	cfg config

	book       *ReadyBook
	daemonBook *ReadyBook

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	workers       map[int]*Worker
	daemonWorkers map[int]*Worker
	wg            sync.WaitGroup
}

// New constructs a Processor and starts its configured worker pools. The
// returned Processor runs until ctx is cancelled or Shutdown is called.
func New(ctx context.Context, opts ...Option) (*Processor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			panic("tasksched: nil processor option")
		}
		opt(&cfg)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("tasksched: invalid processor config: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	p := &Processor{
		cfg:           cfg,
		book:          NewReadyBook(cfg.MetricsProvider, cfg.Logger),
		daemonBook:    NewReadyBook(cfg.MetricsProvider, cfg.Logger),
		ctx:           runCtx,
		cancel:        cancel,
		workers:       make(map[int]*Worker),
		daemonWorkers: make(map[int]*Worker),
	}

	p.mu.Lock()
	for i := uint(0); i < cfg.NumWorkers; i++ {
		p.spawnWorker(p.workers, p.book, false)
	}
	for i := uint(0); i < cfg.DaemonWorkers; i++ {
		p.spawnWorker(p.daemonWorkers, p.daemonBook, true)
	}
	p.mu.Unlock()

	return p, nil
}

// lowestFreeID returns the smallest positive integer not already a key of
// active, per spec.md's "lowest free positive identifier" (matching
// original_source's _lowest_free_id, which starts its search at 1, not 0).
// Callers must hold p.mu.
func lowestFreeID(active map[int]*Worker) int {
	for i := 1; ; i++ {
		if _, ok := active[i]; !ok {
			return i
		}
	}
}

// spawnWorker must be called with p.mu held.
func (p *Processor) spawnWorker(pool map[int]*Worker, book *ReadyBook, daemon bool) *Worker {
	id := lowestFreeID(pool)
	w := NewWorker(id, book, p.cfg.ReadyBookTimeout, daemon, p.cfg.MetricsProvider, p.cfg.Logger)
	pool[id] = w
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.Run(p.ctx)
	}()
	return w
}

// Submit enqueues every task in handles, routing each one automatically by
// kind per spec §4.7: a submission task (see NewSubmissionTask) always
// goes to the daemon ready book, and is exempt from the safe-submission
// check below, since a daemon worker running it never competes with the
// main pool for a slot. Every other task goes to the main ready book,
// subject to that check: ctx should be the context a task callable
// received, if this call is being made from inside one. Submit fails with
// ErrUnsafeSubmission when a non-submission task is submitted
// synchronously from a goroutine that is one of the main pool's workers
// currently executing a task, since that worker cannot simultaneously
// drain the very queue it would be waiting on — a callable that needs to
// submit further work should be restructured as a submission task
// instead, which this check then lets through unconditionally.
//
// If any handle fails to insert, Submit returns that error immediately
// without attempting the remaining handles.
func (p *Processor) Submit(ctx context.Context, handles ...TaskHandle) error {
	for _, h := range handles {
		if h.isSubmissionKind() {
			if err := p.daemonBook.Insert(h); err != nil {
				return err
			}
			continue
		}
		if m, ok := ctx.Value(workerMarkerKey).(*workerMarker); ok && !m.daemon {
			p.cfg.Logger.Warn().Msg("tasksched: rejected unsafe synchronous submission from a worker goroutine")
			return ErrUnsafeSubmission
		}
		if err := p.book.Insert(h); err != nil {
			return err
		}
	}
	return nil
}

// SubmitDaemon enqueues every task in handles directly into the daemon
// ready book, drained only by daemon workers, bypassing Submit's
// kind-based routing and safe-submission check entirely. Submission tasks
// reach the daemon book via Submit already; SubmitDaemon exists for a
// caller that wants an ordinary task isolated from the main pool's
// backlog regardless of kind.
func (p *Processor) SubmitDaemon(handles ...TaskHandle) error {
	for _, h := range handles {
		if err := p.daemonBook.Insert(h); err != nil {
			return err
		}
	}
	return nil
}

// SetNumWorkers resizes the main worker pool to n (must be > 0), reusing
// the lowest free worker ids when growing and permanently terminating the
// highest-numbered workers when shrinking: a shrunk-away worker is removed
// from the pool for good, so it settles in WorkerTerminate (via
// Worker.Terminate), not the restartable WorkerStopped.
func (p *Processor) SetNumWorkers(n uint) error {
	if n == 0 {
		return ErrMissingArgument
	}
	p.mu.Lock()
	current := uint(len(p.workers))
	var toStop []*Worker
	switch {
	case n > current:
		for i := current; i < n; i++ {
			p.spawnWorker(p.workers, p.book, false)
		}
		p.mu.Unlock()
		return nil
	case n < current:
		ids := make([]int, 0, len(p.workers))
		for id := range p.workers {
			ids = append(ids, id)
		}
		for len(ids) > int(n) {
			hi := 0
			for _, id := range ids {
				if id > hi {
					hi = id
				}
			}
			toStop = append(toStop, p.workers[hi])
			delete(p.workers, hi)
			for i, id := range ids {
				if id == hi {
					ids = append(ids[:i], ids[i+1:]...)
					break
				}
			}
		}
	}
	p.mu.Unlock()

	for _, w := range toStop {
		w.Terminate()
		<-w.Done()
	}
	return nil
}

// NumWorkers reports the current main worker pool size.
func (p *Processor) NumWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// WaitAllDetermined blocks (up to timeout; <= 0 waits forever) until every
// task in handles has reached a terminal state, returning whether they
// all did. It is built from a temporary Barrier tracking exactly the
// given handles.
func (p *Processor) WaitAllDetermined(handles []TaskHandle, timeout time.Duration) bool {
	b := NewBarrier()
	for _, h := range handles {
		b.Add(h)
	}
	return b.WaitAllDetermined(timeout)
}

// ReadyLen reports how many ordinary tasks are currently ready to run.
func (p *Processor) ReadyLen() int { return p.book.ReadyLen() }

// WaitingLen reports how many ordinary tasks are currently waiting on
// prerequisites.
func (p *Processor) WaitingLen() int { return p.book.WaitingLen() }

// Shutdown requests every worker (main and daemon) terminate permanently
// after its current task, then blocks until they have, or until timeout
// elapses (<= 0 waits forever). It also cancels the context workers were
// started with. A Processor does not support being restarted after
// Shutdown: every worker settles in WorkerTerminate, not WorkerStopped.
func (p *Processor) Shutdown(timeout time.Duration) bool {
	p.cancel()

	p.mu.Lock()
	for _, w := range p.workers {
		w.Terminate()
	}
	for _, w := range p.daemonWorkers {
		w.Terminate()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
