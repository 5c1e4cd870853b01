package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Memory: fixed-size word store plus device streams
// ---------------------------------------------------------------------------

const (
	// MemorySize is the number of 32-bit words in a machine's memory.
	MemorySize = 1 << 20

	// PageWords is the number of words per page, the unit used by snapshots.
	PageWords = 1024

	// PageCount is the number of pages in memory.
	PageCount = MemorySize / PageWords

	wordBytes = 4
)

// Memory is a contiguous buffer of MemorySize words plus two independent
// byte streams used for device I/O. The streams are plain buffers and are
// not safe for concurrent use.
type Memory struct {
	words  []uint32
	input  bytes.Buffer
	output bytes.Buffer
}

// NewMemory allocates zeroed memory with empty streams.
func NewMemory() *Memory {
	return &Memory{words: make([]uint32, MemorySize)}
}

// Size returns the number of addressable words.
func (m *Memory) Size() uint64 {
	return uint64(len(m.words))
}

func (m *Memory) checkWord(addr uint64) error {
	if addr >= uint64(len(m.words)) {
		return fmt.Errorf("%w: word %d (size %d)", ErrOutOfBounds, addr, len(m.words))
	}
	return nil
}

// LoadWord returns the word at addr.
func (m *Memory) LoadWord(addr uint64) (uint32, error) {
	if err := m.checkWord(addr); err != nil {
		return 0, err
	}
	return m.words[addr], nil
}

// StoreWord writes w at addr.
func (m *Memory) StoreWord(addr uint64, w uint32) error {
	if err := m.checkWord(addr); err != nil {
		return err
	}
	m.words[addr] = w
	return nil
}

// checkDouble validates a double-word address. Double word a occupies
// words 2a and 2a+1, so a must be below half the memory size.
func (m *Memory) checkDouble(addr uint64) error {
	if addr >= uint64(len(m.words))/2 {
		return fmt.Errorf("%w: double word %d (size %d)", ErrOutOfBounds, addr, len(m.words)/2)
	}
	return nil
}

// LoadDouble reads the 64-bit value stored at double-word address addr.
// The word at 2*addr holds the high half.
func (m *Memory) LoadDouble(addr uint64) (uint64, error) {
	if err := m.checkDouble(addr); err != nil {
		return 0, err
	}
	return uint64(m.words[2*addr])<<32 | uint64(m.words[2*addr+1]), nil
}

// StoreDouble writes value at double-word address addr.
func (m *Memory) StoreDouble(addr uint64, value uint64) error {
	if err := m.checkDouble(addr); err != nil {
		return err
	}
	m.words[2*addr] = uint32(value >> 32)
	m.words[2*addr+1] = uint32(value)
	return nil
}

// LoadOpcode decodes the instruction word at addr into its source operand
// (high 16 bits) and destination register (low 16 bits).
func (m *Memory) LoadOpcode(addr uint64) (src, dst uint16, err error) {
	w, err := m.LoadWord(addr)
	if err != nil {
		return 0, 0, err
	}
	return uint16(w >> 16), uint16(w), nil
}

// StoreBytes packs data into memory four bytes per word, most significant
// byte first, starting at word base. The whole image must fit; nothing is
// written when it does not.
func (m *Memory) StoreBytes(data []byte, base uint64) error {
	if len(data)%wordBytes != 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidProgramLength, len(data))
	}
	n := uint64(len(data) / wordBytes)
	size := uint64(len(m.words))
	if base > size || n > size-base {
		return fmt.Errorf("%w: %d words at %d exceed memory size %d", ErrOutOfBounds, n, base, size)
	}
	for i := uint64(0); i < n; i++ {
		m.words[base+i] = binary.BigEndian.Uint32(data[i*wordBytes:])
	}
	return nil
}

// ReadPage returns a copy of page i.
func (m *Memory) ReadPage(i int) ([]uint32, error) {
	if i < 0 || i >= len(m.words)/PageWords {
		return nil, fmt.Errorf("%w: page %d", ErrOutOfBounds, i)
	}
	page := make([]uint32, PageWords)
	copy(page, m.words[i*PageWords:(i+1)*PageWords])
	return page, nil
}

// WritePage overwrites page i with words. Short pages are zero-filled.
func (m *Memory) WritePage(i int, words []uint32) error {
	if i < 0 || i >= len(m.words)/PageWords || len(words) > PageWords {
		return fmt.Errorf("%w: page %d (%d words)", ErrOutOfBounds, i, len(words))
	}
	dst := m.words[i*PageWords : (i+1)*PageWords]
	n := copy(dst, words)
	clear(dst[n:])
	return nil
}

// ---------------------------------------------------------------------------
// Device streams
// ---------------------------------------------------------------------------

// WriteInput appends bytes to the input stream.
func (m *Memory) WriteInput(p []byte) {
	m.input.Write(p)
}

// ReadInput pops the oldest byte from the input stream.
func (m *Memory) ReadInput() (byte, error) {
	b, err := m.input.ReadByte()
	if err != nil {
		return 0, ErrIOUnavailable
	}
	return b, nil
}

// InputLen returns the number of unread input bytes.
func (m *Memory) InputLen() int {
	return m.input.Len()
}

// WriteOutput appends one byte to the output stream.
func (m *Memory) WriteOutput(b byte) {
	m.output.WriteByte(b)
}

// Output returns a copy of the pending output without consuming it.
func (m *Memory) Output() []byte {
	return bytes.Clone(m.output.Bytes())
}

// DrainOutput returns all pending output and empties the stream.
func (m *Memory) DrainOutput() []byte {
	out := bytes.Clone(m.output.Bytes())
	m.output.Reset()
	return out
}

// PendingInput returns a copy of the unread input.
func (m *Memory) PendingInput() []byte {
	return bytes.Clone(m.input.Bytes())
}
