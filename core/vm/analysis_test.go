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
	"testing"

	"github.com/aleth-go/aleth/common"
)

func TestAnalyzeMarksJumpdestsNotInsidePushData(t *testing.T) {
	// PUSH1 0x5b (a byte that looks like JUMPDEST, but is push data), then a
	// real JUMPDEST at offset 2.
	code := []byte{byte(PUSH1), byte(JUMPDEST), byte(JUMPDEST)}
	a := newAnalysis(code)
	if a.jumpdests.isSet(1) {
		t.Fatal("offset 1 is PUSH1's immediate data, must not be a valid jumpdest")
	}
	if !a.jumpdests.isSet(2) {
		t.Fatal("offset 2 is a real JUMPDEST, must be marked valid")
	}
}

func TestAnalyzeForgedFusionOpcodeRejected(t *testing.T) {
	for _, op := range []OpCode{PUSHC, JUMPC, JUMPCI} {
		a := newAnalysis([]byte{byte(op)})
		if !a.forged {
			t.Fatalf("user code containing raw %s must be marked forged", op)
		}
	}
}

func TestFusePUSH32JumpIntoJUMPC(t *testing.T) {
	// PUSH32 <dest=34> JUMP JUMPDEST STOP: dest 34 is the JUMPDEST position.
	code := make([]byte, 0, 36)
	code = append(code, byte(PUSH32))
	dest := make([]byte, 32)
	dest[31] = 34
	code = append(code, dest...)
	code = append(code, byte(JUMP), byte(JUMPDEST), byte(STOP))

	a := newAnalysis(code)
	if a.forged {
		t.Fatal("ordinary PUSH32-then-JUMP code must not be marked forged")
	}
	if OpCode(a.code[0]) != PUSHC {
		t.Fatalf("fuse did not rewrite PUSH32 into PUSHC, got opcode %#x", a.code[0])
	}
	jumpPos := 33
	if OpCode(a.code[jumpPos]) != JUMPC {
		t.Fatalf("fuse did not rewrite JUMP into JUMPC at %d, got %#x", jumpPos, a.code[jumpPos])
	}
	if len(a.constants) != 1 || !a.constants[0].Eq(WordFromUint64(34)) {
		t.Fatalf("constant pool = %v, want [34]", a.constants)
	}
}

func TestFuseSkipsPush32ToInvalidDestination(t *testing.T) {
	// dest 99 is never a JUMPDEST in this code, so fuse must leave it alone.
	code := make([]byte, 0, 36)
	code = append(code, byte(PUSH32))
	dest := make([]byte, 32)
	dest[31] = 99
	code = append(code, dest...)
	code = append(code, byte(JUMP), byte(STOP))

	a := newAnalysis(code)
	if OpCode(a.code[0]) != PUSH32 {
		t.Fatalf("fuse rewrote a PUSH32 targeting a non-jumpdest, got opcode %#x", a.code[0])
	}
	if len(a.constants) != 0 {
		t.Fatalf("constant pool = %v, want empty", a.constants)
	}
}

func TestAnalyzeCachesByCodeHash(t *testing.T) {
	code := []byte{byte(PUSH1), 0x01, byte(STOP)}
	var hash common.Hash
	hash[0] = 0x01
	first := analyze(hash, code)
	second := analyze(hash, code)
	if first != second {
		t.Fatal("analyze must return the cached *analysis for a repeated code hash")
	}
}
