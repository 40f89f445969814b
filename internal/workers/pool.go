// Package workers runs analysis off the session goroutines. Requests carry a
// correlation ID and the session context generation so that callers can drop
// results computed for a pair or interval they have since switched away from.
package workers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/errs"
	"crt-trading-engine/internal/logging"
)

// ErrPoolStopped is returned by Submit once the pool is no longer running
var ErrPoolStopped = errors.New("worker pool stopped")

// Request is one analysis job
type Request struct {
	ID         uuid.UUID
	Session    string
	Generation uint64
	Input      analysis.Input
}

// NewRequest creates a request with a fresh correlation ID
func NewRequest(session string, generation uint64, in analysis.Input) Request {
	return Request{ID: uuid.New(), Session: session, Generation: generation, Input: in}
}

// Result is the reply to a Request
type Result struct {
	ID         uuid.UUID
	Session    string
	Generation uint64
	Analysis   analysis.Result
	Err        error
	Duration   time.Duration
}

// AnalyzeFunc computes a result from an input
type AnalyzeFunc func(analysis.Input) analysis.Result

type job struct {
	req   Request
	reply chan<- Result
}

// Pool is a fixed set of analysis workers
type Pool struct {
	size    int
	jobs    chan job
	analyze AnalyzeFunc
	logger  *logging.Logger
	running atomic.Bool
	done    chan struct{}

	processed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool of size workers with a queue of queue pending jobs
func NewPool(size, queue int) *Pool {
	if size < 1 {
		size = 1
	}
	if queue < 1 {
		queue = size * 4
	}
	return &Pool{
		size:    size,
		jobs:    make(chan job, queue),
		analyze: analysis.Analyze,
		logger:  logging.WithComponent("workers"),
		done:    make(chan struct{}),
	}
}

// WithAnalyzer replaces the analysis function. Must be called before Run.
func (p *Pool) WithAnalyzer(fn AnalyzeFunc) *Pool {
	p.analyze = fn
	return p
}

// Size returns the number of workers
func (p *Pool) Size() int { return p.size }

// Run starts the workers and blocks until ctx is cancelled
func (p *Pool) Run(ctx context.Context) error {
	p.running.Store(true)
	defer func() {
		p.running.Store(false)
		close(p.done)
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		id := i
		g.Go(func() error {
			p.worker(gctx, id)
			return nil
		})
	}
	p.logger.Info("Worker pool started", "workers", p.size)
	return g.Wait()
}

// Submit queues req; the result is delivered on reply. It blocks while the
// queue is full until ctx is done.
func (p *Pool) Submit(ctx context.Context, req Request, reply chan<- Result) error {
	select {
	case <-p.done:
		return ErrPoolStopped
	default:
	}
	select {
	case p.jobs <- job{req: req, reply: reply}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolStopped
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	logger := logging.WorkerContext(id)
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			res := p.process(j.req, logger)
			select {
			case j.reply <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// process runs one job, converting a panic into a ComputationError
func (p *Pool) process(req Request, logger *logging.Logger) (res Result) {
	start := time.Now()
	res = Result{ID: req.ID, Session: req.Session, Generation: req.Generation}
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			p.failed.Add(1)
			res.Err = &errs.ComputationError{Stage: "analysis", Err: fmt.Errorf("panic: %v", r)}
			logger.Error("Analysis panicked", "request", req.ID.String(), "session", req.Session,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			return
		}
		p.processed.Add(1)
	}()
	res.Analysis = p.analyze(req.Input)
	return res
}

// Stats returns processed and failed job counts
func (p *Pool) Stats() (processed, failed int64) {
	return p.processed.Load(), p.failed.Load()
}
