package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfBounds is returned for any word or double-word address that
	// falls outside memory.
	ErrOutOfBounds = errors.New("vm: address out of bounds")

	// ErrInvalidProgramLength is returned when a program image is not a
	// whole number of 4-byte words.
	ErrInvalidProgramLength = errors.New("vm: program length must be a multiple of 4 bytes")

	// ErrIOUnavailable is returned when a device read finds the input
	// stream empty and has no default value to fall back on.
	ErrIOUnavailable = errors.New("vm: input stream is empty")

	// ErrInvalidRegister is returned for a register index outside the
	// register file.
	ErrInvalidRegister = errors.New("vm: register index out of range")

	// ErrHalted is returned when executing a machine that already halted.
	ErrHalted = errors.New("vm: machine has halted")

	// ErrInterrupted halts a machine stopped from outside, either by its
	// context or by Interrupt.
	ErrInterrupted = errors.New("vm: execution interrupted")

	// ErrStepLimit halts a machine that exhausted its step budget.
	ErrStepLimit = errors.New("vm: step limit exceeded")
)

// Fault describes a runtime error that halted a machine: the instruction
// that was executing and the underlying cause.
type Fault struct {
	PC  int64
	Src uint16
	Dst uint16
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("vm: fault at pc=%d (src=%#04x dst=%d): %v", f.PC, f.Src, f.Dst, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}
