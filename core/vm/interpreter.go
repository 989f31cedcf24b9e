// Copyright 2014 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

package vm

import (
	"github.com/aleth-go/aleth/params"
)

// MaxCallDepth is the nesting limit for sub-calls and creates.
const MaxCallDepth = 1024

// scope is the live state of one call frame as it runs through the main
// loop: stack, memory, the preprocessed code buffer, program counter and
// remaining gas. One scope never outlives one Run.
type scope struct {
	host     Host
	revision params.Revision
	schedule params.GasSchedule
	table    jumpTable
	frame    *Frame
	an       *analysis

	stack  *Stack
	memory *Memory
	pc     int
	gas    int64
	refund int64

	returnData []byte
	static     bool
}

// Run executes one call frame and returns its terminal result. It never
// panics on malformed or adversarial code; every failure path produces a
// Status.
func Run(host Host, revision params.Revision, frame *Frame) *CallResult {
	if frame.Flags&FlagStatic != 0 {
		return run(host, revision, frame, true)
	}
	return run(host, revision, frame, false)
}

func run(host Host, revision params.Revision, frame *Frame, static bool) *CallResult {
	if frame.Depth >= MaxCallDepth {
		return &CallResult{Status: Failure, GasLeft: frame.Gas}
	}
	if len(frame.Code) == 0 {
		return &CallResult{Status: Success, GasLeft: frame.Gas}
	}

	an := analyze(frame.CodeHash, frame.Code)
	if an.forged {
		return &CallResult{Status: UndefinedInstruction}
	}

	sc := &scope{
		host:     host,
		revision: revision,
		schedule: params.Schedule(revision),
		table:    NewJumpTable(revision),
		frame:    frame,
		an:       an,
		stack:    NewStack(),
		memory:   NewMemory(),
		gas:      frame.Gas,
		static:   static,
	}

	for {
		s := sc.step()
		switch s.kind {
		case stepContinue:
			continue
		case stepFail:
			return &CallResult{Status: s.err.toStatus(), GasLeft: 0, GasRefunded: 0}
		case stepTerminate:
			gasRefunded := int64(0)
			if s.status == Success {
				gasRefunded = sc.refund
			}
			return &CallResult{
				Status:      s.status,
				GasLeft:     sc.gas,
				GasRefunded: gasRefunded,
				Output:      s.output,
			}
		}
	}
}

// step fetches, validates and executes the opcode at pc, charging its base
// gas before dispatch. It never advances pc itself for opcodes that set
// their own (jumps); every other opcode's pc++ happens here after a
// successful dispatch.
func (sc *scope) step() step {
	if sc.pc >= len(sc.frame.Code) {
		return terminate(Success, nil)
	}
	op := OpCode(sc.an.code[sc.pc])
	info, ok := sc.table[op]
	if !ok {
		return fail(ErrUndefinedInstruction)
	}
	if err := sc.stack.Require(info.maxStackIn); err != nil {
		return fail(ErrStackUnderflowKind)
	}
	if sc.stack.Len()+info.stackOut > StackLimit {
		return fail(ErrStackOverflowKind)
	}
	if info.writes && sc.static {
		return fail(ErrDisallowedStateChange)
	}
	if !sc.chargeGas(info.constGas) {
		return fail(ErrOutOfGas)
	}

	handler, ok := handlers[op]
	if !ok {
		return fail(ErrUndefinedInstruction)
	}
	s := handler(sc, op)
	if s.kind == stepContinue && !info.jumps {
		sc.pc += sc.opSize(op)
	}
	return s
}

// opSize returns how many bytes in the code buffer op and its immediate (if
// any) occupy, so the main loop can advance pc past it.
func (sc *scope) opSize(op OpCode) int {
	switch {
	case op.IsPush():
		return 1 + op.PushSize()
	case op == PUSHC:
		// fuse rewrites PUSHC in place of a PUSH32, leaving its 32 immediate
		// bytes untouched in the code buffer (only the 4-byte pool index at
		// pc+1:pc+5 is meaningful); pc must still advance past all 32 so it
		// lands on the JUMPC/JUMPCI fuse placed at the original PUSH32's
		// successor, not inside the stale immediate bytes.
		return 1 + 32
	default:
		return 1
	}
}

// chargeGas deducts n from the remaining budget, reporting false (without
// mutating gas) on underflow.
func (sc *scope) chargeGas(n uint64) bool {
	if n > uint64(sc.gas) {
		return false
	}
	sc.gas -= int64(n)
	return true
}

// chargeMemory grows memory to cover size bytes, charging the incremental
// quadratic cost first. Returns false (and does not grow memory) on
// OutOfGas.
func (sc *scope) chargeMemory(size uint64) bool {
	current := uint64(sc.memory.Len())
	if size <= current {
		return true
	}
	cost := MemoryExpansionCost(current, size)
	if !sc.chargeGas(cost) {
		return false
	}
	sc.memory.Resize(size)
	return true
}
