package vm

import (
	"errors"
	"math"
	"testing"
)

func TestMemoryLoadWordBounds(t *testing.T) {
	mem := NewMemory()

	if err := mem.StoreWord(MemorySize-1, 0xDEADBEEF); err != nil {
		t.Fatalf("StoreWord at last address: %v", err)
	}
	w, err := mem.LoadWord(MemorySize - 1)
	if err != nil {
		t.Fatalf("LoadWord at last address: %v", err)
	}
	if w != 0xDEADBEEF {
		t.Errorf("LoadWord = %#x, want 0xdeadbeef", w)
	}

	if _, err := mem.LoadWord(MemorySize); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("LoadWord(MemorySize) error = %v, want ErrOutOfBounds", err)
	}
	if _, err := mem.LoadWord(math.MaxUint64); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("LoadWord(MaxUint64) error = %v, want ErrOutOfBounds", err)
	}
}

func TestMemoryDoubleRoundTrip(t *testing.T) {
	mem := NewMemory()
	values := []uint64{0, 1, math.MaxInt64, 0x9E3779B97F4A7C15, math.MaxUint64}

	for _, v := range values {
		for _, addr := range []uint64{0, 17, MemorySize/2 - 1} {
			if err := mem.StoreDouble(addr, v); err != nil {
				t.Fatalf("StoreDouble(%d, %#x): %v", addr, v, err)
			}
			got, err := mem.LoadDouble(addr)
			if err != nil {
				t.Fatalf("LoadDouble(%d): %v", addr, err)
			}
			if got != v {
				t.Errorf("LoadDouble(%d) = %#x, want %#x", addr, got, v)
			}
		}
	}
}

func TestMemoryDoubleLayout(t *testing.T) {
	mem := NewMemory()
	if err := mem.StoreDouble(3, 0x0000000100000002); err != nil {
		t.Fatal(err)
	}
	hi, _ := mem.LoadWord(6)
	lo, _ := mem.LoadWord(7)
	if hi != 1 || lo != 2 {
		t.Errorf("words 6,7 = %d,%d, want 1,2", hi, lo)
	}
}

func TestMemoryDoubleBounds(t *testing.T) {
	mem := NewMemory()
	for _, addr := range []uint64{MemorySize / 2, MemorySize, math.MaxUint64, math.MaxUint64 / 2} {
		if err := mem.StoreDouble(addr, 1); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("StoreDouble(%d) error = %v, want ErrOutOfBounds", addr, err)
		}
		if _, err := mem.LoadDouble(addr); !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("LoadDouble(%d) error = %v, want ErrOutOfBounds", addr, err)
		}
	}
}

func TestMemoryLoadOpcode(t *testing.T) {
	mem := NewMemory()
	if err := mem.StoreWord(5, 0x8041001B); err != nil {
		t.Fatal(err)
	}
	src, dst, err := mem.LoadOpcode(5)
	if err != nil {
		t.Fatal(err)
	}
	if src != 0x8041 || dst != 0x001B {
		t.Errorf("LoadOpcode = (%#x, %#x), want (0x8041, 0x1b)", src, dst)
	}
	if _, _, err := mem.LoadOpcode(MemorySize); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("LoadOpcode(MemorySize) error = %v, want ErrOutOfBounds", err)
	}
}

func TestMemoryStoreBytes(t *testing.T) {
	mem := NewMemory()
	data := []byte{0x01, 0x02, 0x03, 0x04, 0xFF, 0x00, 0x00, 0x10}
	if err := mem.StoreBytes(data, 10); err != nil {
		t.Fatalf("StoreBytes: %v", err)
	}
	w0, _ := mem.LoadWord(10)
	w1, _ := mem.LoadWord(11)
	if w0 != 0x01020304 {
		t.Errorf("word 10 = %#x, want 0x01020304", w0)
	}
	if w1 != 0xFF000010 {
		t.Errorf("word 11 = %#x, want 0xff000010", w1)
	}
	// The last word of the image is stored too.
	w2, _ := mem.LoadWord(12)
	if w2 != 0 {
		t.Errorf("word 12 = %#x, want 0", w2)
	}
}

func TestMemoryStoreBytesErrors(t *testing.T) {
	mem := NewMemory()

	if err := mem.StoreBytes([]byte{1, 2, 3}, 0); !errors.Is(err, ErrInvalidProgramLength) {
		t.Errorf("3-byte image error = %v, want ErrInvalidProgramLength", err)
	}

	if err := mem.StoreBytes(make([]byte, 8), MemorySize-1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("overflowing image error = %v, want ErrOutOfBounds", err)
	}
	if err := mem.StoreBytes(make([]byte, 4), MemorySize+1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("base past end error = %v, want ErrOutOfBounds", err)
	}

	// A failed store leaves memory untouched.
	w, _ := mem.LoadWord(MemorySize - 1)
	if w != 0 {
		t.Errorf("last word = %#x after rejected store, want 0", w)
	}

	// An image that exactly fills memory is accepted.
	if err := mem.StoreBytes(make([]byte, MemorySize*4), 0); err != nil {
		t.Errorf("full-size image: %v", err)
	}
	// An empty image is a no-op.
	if err := mem.StoreBytes(nil, MemorySize); err != nil {
		t.Errorf("empty image at end: %v", err)
	}
}

func TestMemoryStreams(t *testing.T) {
	mem := NewMemory()

	if _, err := mem.ReadInput(); !errors.Is(err, ErrIOUnavailable) {
		t.Errorf("ReadInput on empty stream error = %v, want ErrIOUnavailable", err)
	}

	mem.WriteInput([]byte("ab"))
	if mem.InputLen() != 2 {
		t.Errorf("InputLen = %d, want 2", mem.InputLen())
	}
	b, err := mem.ReadInput()
	if err != nil || b != 'a' {
		t.Errorf("ReadInput = %q, %v, want 'a'", b, err)
	}
	if string(mem.PendingInput()) != "b" {
		t.Errorf("PendingInput = %q, want %q", mem.PendingInput(), "b")
	}

	mem.WriteOutput('x')
	mem.WriteOutput('y')
	if string(mem.Output()) != "xy" {
		t.Errorf("Output = %q, want xy", mem.Output())
	}
	if string(mem.DrainOutput()) != "xy" {
		t.Error("DrainOutput should return pending output")
	}
	if len(mem.DrainOutput()) != 0 {
		t.Error("DrainOutput should empty the stream")
	}
}

func TestMemoryPages(t *testing.T) {
	mem := NewMemory()
	if err := mem.WritePage(2, []uint32{7, 8}); err != nil {
		t.Fatal(err)
	}
	w, _ := mem.LoadWord(2*PageWords + 1)
	if w != 8 {
		t.Errorf("word in page 2 = %d, want 8", w)
	}
	page, err := mem.ReadPage(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != PageWords || page[0] != 7 || page[2] != 0 {
		t.Errorf("ReadPage(2) = %v..., want [7 8 0 ...]", page[:3])
	}
	if _, err := mem.ReadPage(PageCount); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("ReadPage(PageCount) error = %v, want ErrOutOfBounds", err)
	}
	if err := mem.WritePage(0, make([]uint32, PageWords+1)); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("oversized WritePage error = %v, want ErrOutOfBounds", err)
	}
}
