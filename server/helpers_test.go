package server

import (
	"context"
	"encoding/binary"
	"net/http/httptest"
	"testing"

	"github.com/chazu/movasm/config"
	"github.com/chazu/movasm/journal"
	"github.com/chazu/movasm/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

func bg() context.Context { return context.Background() }

func move(src, dst uint16) uint32 { return uint32(src)<<16 | uint32(dst) }

func imm(v uint16) uint16 { return 0x8000 | v }

func program(words ...uint32) []byte {
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.BigEndian.AppendUint32(out, w)
	}
	return out
}

// exitWords jumps to MemorySize.
var exitWords = []uint32{
	move(imm(1024), vm.SlotMulA),
	move(imm(1024), vm.SlotMulB),
	move(vm.SlotProduct, vm.SlotPC),
}

// printImage writes s to the output port and halts.
func printImage(s string) []byte {
	var words []uint32
	for _, c := range []byte(s) {
		words = append(words, move(imm(uint16(c)), vm.SlotOutput))
	}
	return program(append(words, exitWords...)...)
}

// echoImage copies n input bytes to the output and halts.
func echoImage(n int) []byte {
	var words []uint32
	for i := 0; i < n; i++ {
		words = append(words, move(vm.SlotInput, vm.SlotOutput))
	}
	return program(append(words, exitWords...)...)
}

// spinImage loops forever.
var spinImage = program(move(imm(0), vm.SlotPC))

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Exec.Workers = 2
	cfg.Exec.TimeoutMs = 0
	return cfg
}

// newTestExec starts an httptest server for a fresh Server and returns a
// client for it.
func newTestExec(t *testing.T, cfg *config.Config, opts ...ServerOption) *ExecServiceClient {
	t.Helper()
	srv := New(cfg, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return NewExecServiceClient(ts.Client(), ts.URL)
}

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(t.TempDir() + "/journal.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}
