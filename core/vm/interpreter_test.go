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
	"bytes"
	"testing"

	"github.com/aleth-go/aleth/common"
	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/params"
)

// fakeHost is a minimal Host that never touches real account/storage state;
// every end-to-end scenario below only needs arithmetic, jumps and memory.
type fakeHost struct{}

func (fakeHost) AccountExists(common.Address) bool                        { return false }
func (fakeHost) GetStorage(common.Address, common.Hash) Word              { return Word{} }
func (fakeHost) SetStorage(common.Address, common.Hash, Word) StorageStatus {
	return StorageUnchanged
}
func (fakeHost) GetBalance(common.Address) Word                    { return Word{} }
func (fakeHost) GetCodeSize(common.Address) uint64                 { return 0 }
func (fakeHost) GetCodeHash(common.Address) common.Hash            { return common.Hash{} }
func (fakeHost) CopyCode(common.Address, uint64, []byte) uint64    { return 0 }
func (fakeHost) Selfdestruct(common.Address, common.Address) bool  { return false }
func (fakeHost) EmitLog(common.Address, []byte, []common.Hash)     {}
func (fakeHost) GetTxContext() TxContext                           { return TxContext{} }
func (fakeHost) GetBlockHash(uint64) common.Hash                   { return common.Hash{} }
func (fakeHost) Call(*Frame) *CallResult                           { return &CallResult{Status: Failure} }

// runCode stamps each call's Frame with its own code's hash so the C6
// preprocessing cache (keyed by CodeHash) never returns another test's
// analysis for an empty/zero hash collision.
func runCode(t *testing.T, code []byte, gas int64) *CallResult {
	t.Helper()
	frame := &Frame{Gas: gas, Code: code, CodeHash: crypto.Keccak256Hash(code)}
	return Run(fakeHost{}, params.Berlin, frame)
}

func TestGasExhaustion(t *testing.T) {
	// PUSH1 1, PUSH1 2, ADD, STOP, with gas = 2 (not enough for the first PUSH1's 3).
	code := []byte{byte(PUSH1), 0x01, byte(PUSH1), 0x02, byte(ADD), byte(STOP)}
	res := runCode(t, code, 2)
	if res.Status != OutOfGas {
		t.Fatalf("status = %s, want OutOfGas", res.Status)
	}
	if res.GasLeft != 0 {
		t.Fatalf("gas_left = %d, want 0", res.GasLeft)
	}
	if len(res.Output) != 0 {
		t.Fatalf("output = %x, want empty", res.Output)
	}
}

func TestSimpleAdd(t *testing.T) {
	code := []byte{byte(PUSH1), 0x01, byte(PUSH1), 0x02, byte(ADD), byte(STOP)}
	res := runCode(t, code, 1000)
	if res.Status != Success {
		t.Fatalf("status = %s, want Success", res.Status)
	}
	if res.GasLeft != 991 {
		t.Fatalf("gas_left = %d, want 991", res.GasLeft)
	}
	if len(res.Output) != 0 {
		t.Fatalf("output = %x, want empty", res.Output)
	}
}

func TestSDivOverflowEndToEnd(t *testing.T) {
	code := make([]byte, 0, 67)
	code = append(code, byte(PUSH32))
	minSignedBytes := make([]byte, 32)
	minSignedBytes[0] = 0x80
	code = append(code, minSignedBytes...)
	code = append(code, byte(PUSH32))
	negOne := bytes.Repeat([]byte{0xff}, 32)
	code = append(code, negOne...)
	code = append(code, byte(SDIV), byte(STOP))

	res := runCode(t, code, 1_000_000)
	if res.Status != Success {
		t.Fatalf("status = %s, want Success", res.Status)
	}
}

func TestBadJumpDestination(t *testing.T) {
	// PUSH1 5, JUMP, JUMPDEST, STOP -- target 5 lands past the end of the code.
	code := []byte{byte(PUSH1), 0x05, byte(JUMP), byte(JUMPDEST), byte(STOP)}
	res := runCode(t, code, 1_000_000)
	if res.Status != BadJumpDestination {
		t.Fatalf("status = %s, want BadJumpDestination", res.Status)
	}
}

func TestReturnOneByte(t *testing.T) {
	// PUSH1 0x42, PUSH1 0, MSTORE8, PUSH1 1, PUSH1 0, RETURN.
	code := []byte{
		byte(PUSH1), 0x42,
		byte(PUSH1), 0x00,
		byte(MSTORE8),
		byte(PUSH1), 0x01,
		byte(PUSH1), 0x00,
		byte(RETURN),
	}
	res := runCode(t, code, 1_000_000)
	if res.Status != Success {
		t.Fatalf("status = %s, want Success", res.Status)
	}
	if !bytes.Equal(res.Output, []byte{0x42}) {
		t.Fatalf("output = %x, want 42", res.Output)
	}
}

func TestEmptyCodeIsSuccess(t *testing.T) {
	res := runCode(t, nil, 100)
	if res.Status != Success {
		t.Fatalf("status = %s, want Success", res.Status)
	}
	if res.GasLeft != 100 {
		t.Fatalf("gas_left = %d, want all gas returned unspent", res.GasLeft)
	}
}

func TestUndefinedInstructionFails(t *testing.T) {
	res := runCode(t, []byte{0x0c}, 1_000_000) // 0x0c is unassigned in every revision
	if res.Status != UndefinedInstruction {
		t.Fatalf("status = %s, want UndefinedInstruction", res.Status)
	}
}

func TestFusedPushJumpExecutesCorrectly(t *testing.T) {
	// PUSH32 <dest=34> JUMP JUMPDEST PUSH1 0x42 PUSH1 0 MSTORE8 PUSH1 1
	// PUSH1 0 RETURN: dest 34 is the JUMPDEST. fuse() rewrites the PUSH32
	// and JUMP into PUSHC/JUMPC; pc must still land exactly on JUMPDEST
	// after the fused PUSHC, not inside its stale immediate bytes.
	code := make([]byte, 0, 44)
	code = append(code, byte(PUSH32))
	dest := make([]byte, 32)
	dest[31] = 34
	code = append(code, dest...)
	code = append(code, byte(JUMP), byte(JUMPDEST))
	code = append(code,
		byte(PUSH1), 0x42,
		byte(PUSH1), 0x00,
		byte(MSTORE8),
		byte(PUSH1), 0x01,
		byte(PUSH1), 0x00,
		byte(RETURN),
	)

	res := runCode(t, code, 1_000_000)
	if res.Status != Success {
		t.Fatalf("status = %s, want Success", res.Status)
	}
	if !bytes.Equal(res.Output, []byte{0x42}) {
		t.Fatalf("output = %x, want 42", res.Output)
	}
}

func TestStackOverflowBeyondLimit(t *testing.T) {
	code := make([]byte, 0, StackLimit+2)
	for i := 0; i < StackLimit+1; i++ {
		code = append(code, byte(ADDRESS))
	}
	code = append(code, byte(STOP))

	res := runCode(t, code, 10_000_000)
	if res.Status != StackOverflow {
		t.Fatalf("status = %s, want StackOverflow", res.Status)
	}
}

func TestCallWithValueUnderStaticIsDisallowed(t *testing.T) {
	// PUSH1 0(retSize) PUSH1 0(retOffset) PUSH1 0(argsSize) PUSH1 0(argsOffset)
	// PUSH1 1(value) PUSH1 0(addr) PUSH2 0xffff(gas) CALL STOP.
	code := []byte{
		byte(PUSH1), 0x00,
		byte(PUSH1), 0x00,
		byte(PUSH1), 0x00,
		byte(PUSH1), 0x00,
		byte(PUSH1), 0x01,
		byte(PUSH1), 0x00,
		byte(PUSH2), 0xff, 0xff,
		byte(CALL),
		byte(STOP),
	}
	frame := &Frame{Gas: 1_000_000, Code: code, CodeHash: crypto.Keccak256Hash(code), Flags: FlagStatic}
	res := Run(fakeHost{}, params.Berlin, frame)
	if res.Status != StaticModeViolation {
		t.Fatalf("status = %s, want StaticModeViolation", res.Status)
	}
}

func TestDepthLimitFailsImmediately(t *testing.T) {
	frame := &Frame{Gas: 1_000_000, Code: []byte{byte(STOP)}, Depth: MaxCallDepth}
	res := Run(fakeHost{}, params.Berlin, frame)
	if res.Status != Failure {
		t.Fatalf("status = %s, want Failure at the call depth limit", res.Status)
	}
}
