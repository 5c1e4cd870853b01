package vm

import (
	"context"
	"fmt"
)

// ---------------------------------------------------------------------------
// Execution driver: synchronous runs and isolated tasks
// ---------------------------------------------------------------------------

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	stepLimit uint64 // 0 means unlimited
}

// WithStepLimit halts the machine with ErrStepLimit once it has executed
// n instructions in total. Zero disables the limit.
func WithStepLimit(n uint64) RunOption {
	return func(c *runConfig) { c.stepLimit = n }
}

// Run executes the machine on the calling goroutine until it halts. It
// returns nil when the program counter walks off the end of memory, the
// machine's *Fault on a runtime error, and an error wrapping
// ErrInterrupted when ctx is done or Interrupt is called. The interrupt is
// checked once per cycle.
func (m *Machine) Run(ctx context.Context, opts ...RunOption) error {
	if m.state == Halted {
		return ErrHalted
	}

	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	stop := context.AfterFunc(ctx, m.Interrupt)
	defer stop()

	for m.state == Running {
		if m.interrupt.Load() {
			m.halt(interruptError(ctx))
			break
		}
		if !m.pcInRange() {
			m.state = Halted
			break
		}
		if cfg.stepLimit != 0 && m.steps >= cfg.stepLimit {
			m.halt(fmt.Errorf("%w: %d steps", ErrStepLimit, cfg.stepLimit))
			break
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return m.err
}

func interruptError(ctx context.Context) error {
	if cause := context.Cause(ctx); cause != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, cause)
	}
	return ErrInterrupted
}

// Task is a machine running on its own goroutine. The task owns the
// machine until it finishes; Join hands it back.
type Task struct {
	machine *Machine
	err     error
	done    chan struct{}
}

// Start moves m onto a new goroutine and runs it to completion. The caller
// gives up m: it must not touch the machine again until Join returns it.
func Start(ctx context.Context, m *Machine, opts ...RunOption) *Task {
	t := &Task{machine: m, done: make(chan struct{})}
	go t.run(ctx, opts)
	return t
}

// run executes the machine, turning a panic into a fault so the host
// process survives a misbehaving program.
func (t *Task) run(ctx context.Context, opts []RunOption) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("vm: panic: %v", r)
			t.machine.halt(err)
			t.err = err
		}
	}()
	t.err = t.machine.Run(ctx, opts...)
}

// Interrupt asks the running machine to stop. Safe to call at any time.
func (t *Task) Interrupt() {
	t.machine.Interrupt()
}

// Done is closed once the machine has halted.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Join blocks until the machine halts and returns it together with the
// error from its run.
func (t *Task) Join() (*Machine, error) {
	<-t.done
	return t.machine, t.err
}
