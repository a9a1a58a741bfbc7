// Package worker runs the parallel phases of a simulation tick.
//
// A Pool owns a fixed set of goroutines. Each worker keeps its own entity
// views and lock handles, and reads and writes arena slots directly under the
// per-slot mutex. Workers never allocate or free slots and never touch the
// coordinator's lookup tables.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrTaskTimeout is returned when a task misses its context deadline.
	// The worker that held it is retired and replaced.
	ErrTaskTimeout = errors.New("worker task timed out")
	// ErrClosed is returned by dispatch calls after Close.
	ErrClosed = errors.New("worker pool closed")
)

type workerState uint8

const (
	stateIdle workerState = iota
	stateBusy
	stateRetired
)

type job struct {
	task  Task
	seq   int
	reply chan<- reply
}

type reply struct {
	seq int
	res Result
}

type worker struct {
	id    int
	shard int
	tasks chan job
	env   *taskEnv

	mu    sync.Mutex
	state workerState
}

// Pool is a fixed-size set of simulation workers.
type Pool struct {
	env   Env
	size  int
	ready chan *worker
	log   *zap.Logger

	mu      sync.Mutex
	workers []*worker
	nextID  int
	closed  atomic.Bool

	// OnTimeout, if set, is called once per retired worker.
	OnTimeout func()
}

// NewPool starts size workers sharing env.
func NewPool(size int, env Env, log *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		env:     env,
		size:    size,
		ready:   make(chan *worker, size),
		log:     log.Named("workers"),
		workers: make([]*worker, size),
	}
	for i := 0; i < size; i++ {
		p.workers[i] = p.spawn(i)
	}
	p.log.Info("worker pool started", zap.Int("workers", size))
	return p
}

// Size returns the number of worker positions.
func (p *Pool) Size() int { return p.size }

func (p *Pool) spawn(shard int) *worker {
	p.nextID++
	w := &worker{
		id:    p.nextID,
		shard: shard,
		tasks: make(chan job, 1),
		env:   newTaskEnv(p.env, shard, p.size),
	}
	go p.loop(w)
	p.ready <- w
	return w
}

func (p *Pool) loop(w *worker) {
	for j := range w.tasks {
		res := j.task.run(w.env)

		w.mu.Lock()
		retired := w.state == stateRetired
		if !retired {
			w.state = stateIdle
			// Back in the idle set before the reply so that a caller who has
			// collected every reply sees every worker idle.
			p.ready <- w
		}
		w.mu.Unlock()

		j.reply <- reply{seq: j.seq, res: res}
		if retired {
			return
		}
	}
}

// retire replaces w if it is still running a task.
func (p *Pool) retire(w *worker) {
	w.mu.Lock()
	busy := w.state == stateBusy
	if busy {
		w.state = stateRetired
	}
	w.mu.Unlock()
	if !busy {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return
	}
	close(w.tasks)
	p.workers[w.shard] = p.spawn(w.shard)
	p.log.Error("worker stalled, replaced",
		zap.Int("worker", w.id),
		zap.Int("shard", w.shard),
	)
	if p.OnTimeout != nil {
		p.OnTimeout()
	}
}

func (p *Pool) acquire(ctx context.Context) (*worker, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	select {
	case w := <-p.ready:
		w.mu.Lock()
		w.state = stateBusy
		w.mu.Unlock()
		return w, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for an idle worker: %v", ErrTaskTimeout, ctx.Err())
	}
}

// Future is the pending result of one assigned task.
type Future struct {
	pool  *Pool
	w     *worker
	reply chan reply
}

// Wait blocks for the result. If ctx ends first the worker is replaced and
// ErrTaskTimeout is returned.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-f.reply:
		return r.res, nil
	case <-ctx.Done():
		f.pool.retire(f.w)
		return Result{}, fmt.Errorf("%w: worker %d", ErrTaskTimeout, f.w.id)
	}
}

// Assign hands task to the next idle worker, blocking until one is free.
func (p *Pool) Assign(ctx context.Context, task Task) (*Future, error) {
	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	ch := make(chan reply, 1)
	w.tasks <- job{task: task, reply: ch}
	return &Future{pool: p, w: w, reply: ch}, nil
}

// MassAssign streams tasks to idle workers, never more in flight than there
// are workers, and waits for all of them. Results are indexed like tasks.
// On timeout the results gathered so far are returned with ErrTaskTimeout.
func (p *Pool) MassAssign(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}
	replies := make(chan reply, len(tasks))
	inflight := make(map[int]*worker, p.size)

	collect := func(r reply) {
		results[r.seq] = r.res
		delete(inflight, r.seq)
	}
	abort := func(err error) ([]Result, error) {
		for _, w := range inflight {
			p.retire(w)
		}
		return results, err
	}

	for i, t := range tasks {
		w, err := p.acquire(ctx)
		if err != nil {
			return abort(err)
		}
		inflight[i] = w
		w.tasks <- job{task: t, seq: i, reply: replies}

		// Drain whatever has finished so inflight stays small.
		for drained := false; !drained; {
			select {
			case r := <-replies:
				collect(r)
			default:
				drained = true
			}
		}
	}

	for len(inflight) > 0 {
		select {
		case r := <-replies:
			collect(r)
		case <-ctx.Done():
			return abort(fmt.Errorf("%w: %d tasks outstanding", ErrTaskTimeout, len(inflight)))
		}
	}
	return results, nil
}

// AssignAll broadcasts task to every currently idle worker and waits for all
// replies.
func (p *Pool) AssignAll(ctx context.Context, task Task) ([]Result, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	var idle []*worker
	for done := false; !done; {
		select {
		case w := <-p.ready:
			w.mu.Lock()
			w.state = stateBusy
			w.mu.Unlock()
			idle = append(idle, w)
		default:
			done = true
		}
	}

	replies := make(chan reply, len(idle))
	for i, w := range idle {
		w.tasks <- job{task: task, seq: i, reply: replies}
	}

	results := make([]Result, len(idle))
	for got := 0; got < len(idle); got++ {
		select {
		case r := <-replies:
			results[r.seq] = r.res
			idle[r.seq] = nil
		case <-ctx.Done():
			for _, w := range idle {
				if w != nil {
					p.retire(w)
				}
			}
			return results, fmt.Errorf("%w: broadcast", ErrTaskTimeout)
		}
	}
	return results, nil
}

// Close stops every worker once its current task is done.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.mu.Lock()
		if w.state != stateRetired {
			w.state = stateRetired
			close(w.tasks)
		}
		w.mu.Unlock()
	}
	p.log.Info("worker pool stopped")
}
