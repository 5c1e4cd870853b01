package vm

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSnapshotRoundTrip(t *testing.T) {
	m := mustNew(t, append([]uint32{
		move(imm(7), 30),
		move(imm('z'), SlotOutput),
	}, exit()...)...)
	if err := m.Memory().StoreWord(5*PageWords+3, 0xCAFE); err != nil {
		t.Fatal(err)
	}
	m.WriteInputString("pending")
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := m.Snapshot()
	if len(snap.Pages) != 2 || snap.Pages[0].Index != 0 || snap.Pages[1].Index != 5 {
		t.Fatalf("snapshot pages = %d, want pages 0 and 5", len(snap.Pages))
	}

	data, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	again, err := MarshalSnapshot(m.Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("encoding the same machine twice should give identical bytes")
	}

	decoded, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	if diff := cmp.Diff(snap, decoded); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	r, err := decoded.Restore()
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if r.Registers() != m.Registers() || r.Steps() != m.Steps() || !r.Halted() {
		t.Errorf("restored machine differs: steps=%d halted=%v", r.Steps(), r.Halted())
	}
	if w, _ := r.Memory().LoadWord(5*PageWords + 3); w != 0xCAFE {
		t.Errorf("restored word = %#x, want 0xcafe", w)
	}
	if got := r.ReadOutputString(); got != "z" {
		t.Errorf("restored output = %q, want z", got)
	}
	if got := string(r.Memory().PendingInput()); got != "pending" {
		t.Errorf("restored input = %q, want pending", got)
	}
}

func TestSnapshotResumesRunningMachine(t *testing.T) {
	m := mustNew(t, append([]uint32{
		move(imm('a'), SlotOutput),
		move(imm('b'), SlotOutput),
	}, exit()...)...)
	if err := m.Step(); err != nil {
		t.Fatal(err)
	}

	r, err := m.Snapshot().Restore()
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run restored machine: %v", err)
	}
	if got := r.ReadOutputString(); got != "ab" {
		t.Errorf("output = %q, want ab", got)
	}
}

func TestSnapshotKeepsFault(t *testing.T) {
	m := mustNew(t, move(imm(1), 50))
	_ = m.Run(context.Background())

	r, err := m.Snapshot().Restore()
	if err != nil {
		t.Fatal(err)
	}
	if r.Err() == nil || r.Err().Error() != m.Err().Error() {
		t.Errorf("restored fault = %v, want %v", r.Err(), m.Err())
	}
	if err := r.Run(context.Background()); !errors.Is(err, ErrHalted) {
		t.Errorf("Run restored halted machine = %v, want ErrHalted", err)
	}
}

func TestSnapshotRejectsUnknownVersion(t *testing.T) {
	s := &Snapshot{Version: SnapshotVersion + 1}
	if _, err := s.Restore(); err == nil {
		t.Error("Restore should reject an unknown version")
	}
	if _, err := UnmarshalSnapshot([]byte{0xFF, 0x00}); err == nil {
		t.Error("UnmarshalSnapshot should reject garbage")
	}
}

func TestSnapshotRejectsUnknownState(t *testing.T) {
	s := mustNew(t, exit()...).Snapshot()
	s.State = 7
	if m, err := s.Restore(); err == nil {
		t.Errorf("Restore accepted state 7 as %v", m.State())
	}

	data, err := MarshalSnapshot(s)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decoded.Restore(); err == nil {
		t.Error("Restore should reject an unknown state read from CBOR")
	}
}
