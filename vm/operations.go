package vm

// ---------------------------------------------------------------------------
// Built-in operations
// ---------------------------------------------------------------------------

// newlineByte is what the input port yields when the input stream is empty.
const newlineByte = 10

type arithKind uint8

const (
	arithAdd arithKind = iota
	arithSub
	arithMul
	arithLess
)

// arith computes dst from two operand slots. Integer overflow wraps.
type arith struct {
	kind     arithKind
	lhs, rhs int
	dst      int
}

func (o arith) Name() string {
	switch o.kind {
	case arithAdd:
		return "add"
	case arithSub:
		return "sub"
	case arithMul:
		return "mul"
	default:
		return "less"
	}
}

func (o arith) apply(v *[RegisterCount]int64, _ *Memory, _ Access) error {
	x, y := v[o.lhs], v[o.rhs]
	switch o.kind {
	case arithAdd:
		v[o.dst] = x + y
	case arithSub:
		v[o.dst] = x - y
	case arithMul:
		v[o.dst] = x * y
	case arithLess:
		if x < y {
			v[o.dst] = 1
		} else {
			v[o.dst] = 0
		}
	}
	return nil
}

// divMod writes quotient and remainder. A zero divisor passes the dividend
// through as the quotient with a zero remainder. MinInt64 / -1 wraps.
type divMod struct {
	dividend, divisor   int
	quotient, remainder int
}

func (divMod) Name() string { return "divmod" }

func (o divMod) apply(v *[RegisterCount]int64, _ *Memory, _ Access) error {
	x, y := v[o.dividend], v[o.divisor]
	if y == 0 {
		v[o.quotient] = x
		v[o.remainder] = 0
		return nil
	}
	v[o.quotient] = x / y
	v[o.remainder] = x % y
	return nil
}

// selectOp picks ifZero when cond is zero, otherwise ifNonZero.
type selectOp struct {
	cond, ifZero, ifNonZero int
	dst                     int
}

func (selectOp) Name() string { return "select" }

func (o selectOp) apply(v *[RegisterCount]int64, _ *Memory, _ Access) error {
	if v[o.cond] == 0 {
		v[o.dst] = v[o.ifZero]
	} else {
		v[o.dst] = v[o.ifNonZero]
	}
	return nil
}

// outputPort writes the low byte of its slot to the output stream.
type outputPort struct {
	src int
}

func (outputPort) Name() string { return "output" }

func (o outputPort) apply(v *[RegisterCount]int64, mem *Memory, _ Access) error {
	mem.WriteOutput(byte(v[o.src]))
	return nil
}

// inputPort pops one byte of input into its slot, or a newline when the
// stream is empty.
type inputPort struct {
	dst int
}

func (inputPort) Name() string { return "input" }

func (o inputPort) apply(v *[RegisterCount]int64, mem *Memory, _ Access) error {
	b, err := mem.ReadInput()
	if err != nil {
		b = newlineByte
	}
	v[o.dst] = int64(b)
	return nil
}

// memoryPort moves a double word between the data slot and memory at the
// double-word address held in the address slot. Writes store, reads load.
// Values are reinterpreted bit for bit between int64 and uint64; a
// negative address is out of bounds.
type memoryPort struct {
	data, addr int
}

func (memoryPort) Name() string { return "memory" }

func (o memoryPort) apply(v *[RegisterCount]int64, mem *Memory, access Access) error {
	addr := uint64(v[o.addr])
	if access == Write {
		return mem.StoreDouble(addr, uint64(v[o.data]))
	}
	w, err := mem.LoadDouble(addr)
	if err != nil {
		return err
	}
	v[o.data] = int64(w)
	return nil
}

// installBuiltins wires the fixed operation set. Operand slots trigger on
// write; result slots also recompute on read so they always agree with
// their operands.
func (r *Registers) installBuiltins() {
	wire := func(op Operation, operands []int, results ...int) {
		for _, s := range operands {
			r.bind(s, Write, op)
		}
		for _, s := range results {
			r.bind(s, Read, op)
		}
	}

	wire(arith{kind: arithAdd, lhs: SlotAddA, rhs: SlotAddB, dst: SlotSum},
		[]int{SlotAddA, SlotAddB}, SlotSum)
	wire(arith{kind: arithSub, lhs: SlotSubA, rhs: SlotSubB, dst: SlotDifference},
		[]int{SlotSubA, SlotSubB}, SlotDifference)
	wire(arith{kind: arithMul, lhs: SlotMulA, rhs: SlotMulB, dst: SlotProduct},
		[]int{SlotMulA, SlotMulB}, SlotProduct)
	wire(divMod{dividend: SlotDividend, divisor: SlotDivisor, quotient: SlotQuotient, remainder: SlotRemainder},
		[]int{SlotDividend, SlotDivisor}, SlotQuotient, SlotRemainder)
	wire(arith{kind: arithLess, lhs: SlotLessA, rhs: SlotLessB, dst: SlotLess},
		[]int{SlotLessA, SlotLessB}, SlotLess)
	wire(selectOp{cond: SlotCondition, ifZero: SlotIfZero, ifNonZero: SlotIfNonZero, dst: SlotSelected},
		[]int{SlotCondition, SlotIfZero, SlotIfNonZero}, SlotSelected)

	r.bind(SlotOutput, Write, outputPort{src: SlotOutput})
	r.bind(SlotInput, Read, inputPort{dst: SlotInput})

	port := memoryPort{data: SlotMemData, addr: SlotMemAddr}
	r.bind(SlotMemData, Read, port)
	r.bind(SlotMemData, Write, port)
	r.bind(SlotMemAddr, Write, port)
}
