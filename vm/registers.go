package vm

import "fmt"

// ---------------------------------------------------------------------------
// Register file and trigger table
// ---------------------------------------------------------------------------

// RegisterCount is the number of slots in the register file.
const RegisterCount = 36

// Well-known slots. Slots not listed here are plain storage.
const (
	SlotAddA       = 0
	SlotAddB       = 1
	SlotSum        = 2
	SlotSubA       = 3
	SlotSubB       = 4
	SlotDifference = 5
	SlotMulA       = 6
	SlotMulB       = 7
	SlotProduct    = 8
	SlotDividend   = 9
	SlotDivisor    = 10
	SlotQuotient   = 11
	SlotRemainder  = 12
	SlotLessA      = 13
	SlotLessB      = 14
	SlotLess       = 15
	SlotOutput     = 18
	SlotInput      = 19
	SlotCondition  = 20
	SlotIfZero     = 21
	SlotIfNonZero  = 22
	SlotSelected   = 23
	SlotMemData    = 24
	SlotMemAddr    = 26
	SlotPC         = 27
)

// Access says which kind of register access fired a trigger.
type Access uint8

const (
	Read Access = iota
	Write
)

func (a Access) String() string {
	if a == Write {
		return "write"
	}
	return "read"
}

// Operation is a side effect bound to a register slot. The set of
// operations is closed: only the variants in this package implement it.
// apply gets exclusive access to the whole register file and memory.
type Operation interface {
	Name() string
	apply(regs *[RegisterCount]int64, mem *Memory, access Access) error
}

type triggers struct {
	onWrite []Operation
	onRead  []Operation
}

// Registers is the register file together with its trigger table.
type Registers struct {
	values [RegisterCount]int64
	table  [RegisterCount]triggers
}

func checkSlot(slot int) error {
	if slot < 0 || slot >= RegisterCount {
		return fmt.Errorf("%w: %d", ErrInvalidRegister, slot)
	}
	return nil
}

// bind appends op to the slot's trigger list for the given access.
func (r *Registers) bind(slot int, access Access, op Operation) {
	t := &r.table[slot]
	if access == Write {
		t.onWrite = append(t.onWrite, op)
	} else {
		t.onRead = append(t.onRead, op)
	}
}

func (r *Registers) fire(ops []Operation, mem *Memory, access Access) error {
	for _, op := range ops {
		if err := op.apply(&r.values, mem, access); err != nil {
			return fmt.Errorf("%s on %s: %w", op.Name(), access, err)
		}
	}
	return nil
}

// Set stores value into slot, then runs the slot's write triggers in
// registration order.
func (r *Registers) Set(slot int, value int64, mem *Memory) error {
	if err := checkSlot(slot); err != nil {
		return err
	}
	r.values[slot] = value
	return r.fire(r.table[slot].onWrite, mem, Write)
}

// Get runs the slot's read triggers in registration order, then returns
// the slot's current value.
func (r *Registers) Get(slot int, mem *Memory) (int64, error) {
	if err := checkSlot(slot); err != nil {
		return 0, err
	}
	if err := r.fire(r.table[slot].onRead, mem, Read); err != nil {
		return 0, err
	}
	return r.values[slot], nil
}

// Value returns the stored value of slot without firing any trigger.
// Out-of-range slots read as zero.
func (r *Registers) Value(slot int) int64 {
	if checkSlot(slot) != nil {
		return 0
	}
	return r.values[slot]
}

// Values returns a copy of every slot, without firing triggers.
func (r *Registers) Values() [RegisterCount]int64 {
	return r.values
}

// Triggers returns the operations bound to slot, in firing order.
func (r *Registers) Triggers(slot int) (onWrite, onRead []Operation) {
	if checkSlot(slot) != nil {
		return nil, nil
	}
	t := r.table[slot]
	return append([]Operation(nil), t.onWrite...), append([]Operation(nil), t.onRead...)
}
