package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/movasm/vm"
)

var (
	// ErrBusy is returned when every worker is occupied and the queue is full.
	ErrBusy = errors.New("runner: queue full")

	// ErrRunnerStopped is returned once Stop has been called.
	ErrRunnerStopped = errors.New("runner: stopped")
)

// Job describes one machine run.
type Job struct {
	Image []byte
	Input []byte
	Opts  []vm.RunOption
}

// runRequest is a unit of work handed to a worker goroutine.
type runRequest struct {
	ctx  context.Context
	job  Job
	done chan runResult
}

// runResult holds a finished machine and its run error.
type runResult struct {
	machine *vm.Machine
	err     error
}

// Runner executes machines on a fixed pool of goroutines. Each worker owns
// exactly one machine at a time, from construction until it halts.
type Runner struct {
	requests chan runRequest
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewRunner creates a Runner with the given number of workers and starts
// them. Up to queue requests may wait for a free worker.
func NewRunner(workers, queue int) *Runner {
	if workers < 1 {
		workers = 1
	}
	r := &Runner{
		requests: make(chan runRequest, queue),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func() {
			r.loop()
			done <- struct{}{}
		}()
	}
	go func() {
		for i := 0; i < workers; i++ {
			<-done
		}
		close(r.stopped)
	}()
	return r
}

// loop processes run requests until the runner stops.
func (r *Runner) loop() {
	for {
		select {
		case req := <-r.requests:
			req.done <- r.execute(req.ctx, req.job)
		case <-r.quit:
			return
		}
	}
}

// execute builds and runs one machine, recovering from panics.
func (r *Runner) execute(ctx context.Context, job Job) (result runResult) {
	defer func() {
		if p := recover(); p != nil {
			result.err = fmt.Errorf("runner: panic: %v", p)
		}
	}()

	m, err := vm.New(job.Image)
	if err != nil {
		return runResult{err: err}
	}
	m.WriteInput(job.Input)
	return runResult{machine: m, err: m.Run(ctx, job.Opts...)}
}

// Run queues job and blocks until a worker has run it. The machine is nil
// only when the image could not be loaded or the job never ran. A full
// queue fails fast with ErrBusy.
func (r *Runner) Run(ctx context.Context, job Job) (*vm.Machine, error) {
	req := runRequest{
		ctx:  ctx,
		job:  job,
		done: make(chan runResult, 1),
	}

	select {
	case <-r.quit:
		return nil, ErrRunnerStopped
	default:
	}

	select {
	case r.requests <- req:
	default:
		return nil, ErrBusy
	}

	select {
	case result := <-req.done:
		return result.machine, result.err
	case <-r.stopped:
		select {
		case result := <-req.done:
			return result.machine, result.err
		default:
			return nil, ErrRunnerStopped
		}
	}
}

// Stop shuts down the worker goroutines after their current runs finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}
