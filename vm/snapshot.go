package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Snapshot: CBOR encoding of a machine's inspectable state
// ---------------------------------------------------------------------------

// SnapshotVersion is bumped whenever the Snapshot layout changes.
const SnapshotVersion = 1

// cborEncMode uses canonical encoding so equal machines encode to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Page is one non-zero memory page.
type Page struct {
	Index int      `cbor:"1,keyasint"`
	Words []uint32 `cbor:"2,keyasint"`
}

// Snapshot is the state a host can inspect after a run: registers,
// counters, pending I/O and the non-zero pages of memory.
type Snapshot struct {
	Version   int                  `cbor:"1,keyasint"`
	Registers [RegisterCount]int64 `cbor:"2,keyasint"`
	State     State                `cbor:"3,keyasint"`
	Steps     uint64               `cbor:"4,keyasint"`
	Fault     string               `cbor:"5,keyasint,omitempty"`
	Input     []byte               `cbor:"6,keyasint,omitempty"`
	Output    []byte               `cbor:"7,keyasint,omitempty"`
	Pages     []Page               `cbor:"8,keyasint,omitempty"`
}

// Snapshot captures m's state. Pending output is copied, not drained.
func (m *Machine) Snapshot() *Snapshot {
	s := &Snapshot{
		Version:   SnapshotVersion,
		Registers: m.regs.Values(),
		State:     m.state,
		Steps:     m.steps,
		Input:     m.mem.PendingInput(),
		Output:    m.mem.Output(),
	}
	if m.err != nil {
		s.Fault = m.err.Error()
	}
	for i := 0; i < PageCount; i++ {
		page, _ := m.mem.ReadPage(i)
		if !zeroPage(page) {
			s.Pages = append(s.Pages, Page{Index: i, Words: page})
		}
	}
	return s
}

func zeroPage(words []uint32) bool {
	for _, w := range words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Restore rebuilds a machine equivalent to the one captured. A machine
// restored from a halted snapshot stays halted; its fault, if any, is
// available as plain error text.
func (s *Snapshot) Restore() (*Machine, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("vm: unsupported snapshot version %d", s.Version)
	}
	if s.State != Running && s.State != Halted {
		return nil, fmt.Errorf("vm: invalid snapshot state %d", s.State)
	}
	m, err := New(nil)
	if err != nil {
		return nil, err
	}
	for _, p := range s.Pages {
		if err := m.mem.WritePage(p.Index, p.Words); err != nil {
			return nil, fmt.Errorf("vm: restore page: %w", err)
		}
	}
	m.regs.values = s.Registers
	m.steps = s.Steps
	m.state = s.State
	if s.Fault != "" {
		m.err = errors.New(s.Fault)
	}
	m.mem.WriteInput(s.Input)
	m.mem.output.Write(s.Output)
	return m, nil
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
