// Package vm implements the movasm virtual machine.
//
// The machine has no opcodes in the usual sense. Every instruction is a
// single move from a source (a register or a 15-bit immediate) into a
// destination register, and all computation happens as a side effect of
// those moves: registers carry triggers that fire when they are written or
// read. This package contains:
//   - Word-addressed memory with input/output byte streams
//   - The register file and its trigger table
//   - The built-in operation set (arithmetic, compare, select, I/O, memory port)
//   - The fetch/execute loop
//   - Synchronous and isolated (goroutine) execution with cooperative interrupts
//   - CBOR snapshots of a machine's inspectable state
package vm
