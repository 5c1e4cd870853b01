package vm

import (
	"fmt"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Machine: memory + registers + the fetch/execute loop
// ---------------------------------------------------------------------------

const (
	immediateFlag = 0x8000
	operandMask   = 0x7FFF
)

// State is the execution state of a Machine.
type State uint8

const (
	Running State = iota
	Halted
)

func (s State) String() string {
	if s == Halted {
		return "halted"
	}
	return "running"
}

// Machine owns one register file and one memory. A Machine is
// single-threaded: it must be driven by one goroutine at a time. The only
// method safe to call concurrently with execution is Interrupt.
type Machine struct {
	regs  Registers
	mem   *Memory
	state State
	steps uint64
	err   error

	interrupt atomic.Bool
}

// New builds a Machine whose memory holds image at word 0 and whose
// registers carry the built-in triggers. The image must be a whole number
// of words and fit in memory.
func New(image []byte) (*Machine, error) {
	m := &Machine{mem: NewMemory()}
	if err := m.mem.StoreBytes(image, 0); err != nil {
		return nil, fmt.Errorf("loading program image: %w", err)
	}
	m.regs.installBuiltins()
	return m, nil
}

// Step executes a single cycle. Once the program counter leaves memory the
// machine halts and Step returns nil; after that every call returns
// ErrHalted. A failing register or memory access halts the machine with a
// *Fault, which Step returns.
func (m *Machine) Step() error {
	if m.state == Halted {
		return ErrHalted
	}

	pc := m.regs.values[SlotPC]
	if !m.pcInRange() {
		m.state = Halted
		return nil
	}

	src, dst, err := m.mem.LoadOpcode(uint64(pc))
	if err != nil {
		return m.fault(pc, src, dst, err)
	}

	var value int64
	if src&immediateFlag != 0 {
		value = int64(src & operandMask)
	} else {
		value, err = m.regs.Get(int(src&operandMask), m.mem)
		if err != nil {
			return m.fault(pc, src, dst, err)
		}
	}

	m.regs.values[SlotPC] = pc + 1
	m.steps++
	if err := m.regs.Set(int(dst), value, m.mem); err != nil {
		return m.fault(pc, src, dst, err)
	}
	return nil
}

// pcInRange reports whether the program counter addresses a word in memory.
func (m *Machine) pcInRange() bool {
	pc := m.regs.values[SlotPC]
	return pc >= 0 && uint64(pc) < m.mem.Size()
}

func (m *Machine) fault(pc int64, src, dst uint16, err error) error {
	f := &Fault{PC: pc, Src: src, Dst: dst, Err: err}
	m.halt(f)
	return f
}

func (m *Machine) halt(err error) {
	m.state = Halted
	m.err = err
}

// Interrupt asks a running machine to stop at its next cycle. It is safe
// to call from any goroutine.
func (m *Machine) Interrupt() {
	m.interrupt.Store(true)
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// State returns the current execution state.
func (m *Machine) State() State { return m.state }

// Halted reports whether the machine has terminated.
func (m *Machine) Halted() bool { return m.state == Halted }

// Err returns the error that halted the machine, or nil if it is still
// running or walked off the end of memory normally.
func (m *Machine) Err() error { return m.err }

// Steps returns the number of instructions executed.
func (m *Machine) Steps() uint64 { return m.steps }

// PC returns the program counter.
func (m *Machine) PC() int64 { return m.regs.values[SlotPC] }

// Register returns the stored value of slot without firing triggers.
func (m *Machine) Register(slot int) int64 { return m.regs.Value(slot) }

// Registers returns a copy of the register file.
func (m *Machine) Registers() [RegisterCount]int64 { return m.regs.Values() }

// RegisterFile exposes the register file for trigger-aware access.
func (m *Machine) RegisterFile() *Registers { return &m.regs }

// Memory exposes the machine's memory.
func (m *Machine) Memory() *Memory { return m.mem }

// ---------------------------------------------------------------------------
// Host I/O
// ---------------------------------------------------------------------------

// WriteInput appends bytes for the program to read through the input port.
func (m *Machine) WriteInput(p []byte) { m.mem.WriteInput(p) }

// WriteInputString appends s to the input stream.
func (m *Machine) WriteInputString(s string) { m.mem.WriteInput([]byte(s)) }

// ReadOutput drains and returns everything the program has written.
func (m *Machine) ReadOutput() []byte { return m.mem.DrainOutput() }

// ReadOutputString drains the output stream as text.
func (m *Machine) ReadOutputString() string { return string(m.mem.DrainOutput()) }
