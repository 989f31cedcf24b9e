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
	"encoding/binary"

	"github.com/aleth-go/aleth/common"
	lru "github.com/hashicorp/golang-lru"
)

// analysisCacheSize bounds the number of distinct contract codes whose
// preprocessing result is kept warm across calls.
const analysisCacheSize = 4096

// analysis is the one-time C6 preprocessing result for a piece of code: a
// jump-destination set, and a padded, possibly opcode-fused execution
// buffer.
type analysis struct {
	// jumpdests marks, by code offset, which bytes are valid JUMPDEST
	// targets (JUMPDEST opcodes not inside PUSH immediate data).
	jumpdests bitvec
	// code is a mutable copy of the original code, extended with 32 zero
	// bytes so a PUSH32 immediate running off the end reads zeros without
	// bounds checks. Pass 2 may rewrite PUSH32-then-JUMP(I) sequences into
	// internal PUSHC/JUMPC/JUMPCI opcodes in place.
	code []byte
	// constants holds large PUSH operands moved out of the instruction
	// stream by the PUSHC fusion, indexed by pool position.
	constants []Word
	// forged is set when the ORIGINAL, unpreprocessed code already contains
	// one of the internal fusion opcode bytes at an instruction position
	// (not inside PUSH immediate data). Such code must fail with
	// BadInstruction before the fused buffer is ever executed, keeping
	// PUSHC/JUMPC/JUMPCI unforgeable by user bytecode.
	forged bool
}

var analysisCache, _ = lru.New(analysisCacheSize)

// analyze returns the cached analysis for codeHash, computing and caching it
// on first use.
func analyze(codeHash common.Hash, code []byte) *analysis {
	if v, ok := analysisCache.Get(codeHash); ok {
		return v.(*analysis)
	}
	a := newAnalysis(code)
	analysisCache.Add(codeHash, a)
	return a
}

// newAnalysis runs both preprocessing passes over code.
func newAnalysis(code []byte) *analysis {
	a := &analysis{
		jumpdests: make(bitvec, len(code)/8+1),
		code:      make([]byte, len(code)+32),
	}
	copy(a.code, code)

	// Pass 1: walk the code once, skipping PUSH immediates, marking
	// JUMPDEST positions that are real instructions (not data).
	for pc := 0; pc < len(code); {
		op := OpCode(code[pc])
		if op == JUMPDEST {
			a.jumpdests.set(pc)
			pc++
			continue
		}
		if op == PUSHC || op == JUMPC || op == JUMPCI {
			a.forged = true
			pc++
			continue
		}
		if op.IsPush() {
			pc += 1 + op.PushSize()
			continue
		}
		pc++
	}

	a.fuse()
	return a
}

// fuse is the optional pass 2 performance optimization: a PUSH32 whose
// pushed constant is a valid jump destination, immediately followed by JUMP
// or JUMPI, is rewritten in place into the internal JUMPC/JUMPCI opcode
// (skipping the runtime destination-validity check), and the constant is
// interned into the pool behind a compact PUSHC.
func (a *analysis) fuse() {
	code := a.code
	for pc := 0; pc < len(code)-32; {
		op := OpCode(code[pc])
		if !op.IsPush() {
			pc++
			continue
		}
		size := op.PushSize()
		next := pc + 1 + size
		if op == PUSH32 && next < len(code) {
			nextOp := OpCode(code[next])
			if nextOp == JUMP || nextOp == JUMPI {
				dest := new(Word)
				dest.SetBytes(code[pc+1 : pc+1+32])
				if dest.IsUint64() && a.jumpdests.isSet(int(dest.Uint64())) && int(dest.Uint64()) < len(a.jumpdests)*8 {
					idx := len(a.constants)
					a.constants = append(a.constants, *dest)
					code[pc] = byte(PUSHC)
					binary.BigEndian.PutUint32(code[pc+1:pc+5], uint32(idx))
					if nextOp == JUMP {
						code[next] = byte(JUMPC)
					} else {
						code[next] = byte(JUMPCI)
					}
				}
			}
		}
		pc = next
	}
}

// bitvec is a packed set of code offsets, used to mark valid jump
// destinations.
type bitvec []byte

func (b bitvec) set(pos int)          { b[pos/8] |= 1 << (pos % 8) }
func (b bitvec) isSet(pos int) bool {
	if pos < 0 || pos/8 >= len(b) {
		return false
	}
	return b[pos/8]&(1<<(pos%8)) != 0
}
