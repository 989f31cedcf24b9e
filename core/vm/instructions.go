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
	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/params"
	"github.com/holiman/uint256"
)

type handlerFunc func(sc *scope, op OpCode) step

var handlers map[OpCode]handlerFunc

func init() {
	handlers = map[OpCode]handlerFunc{
		STOP: opStop,

		ADD:        binOp(func(d, x, y *Word) { d.Add(x, y) }),
		MUL:        binOp(func(d, x, y *Word) { d.Mul(x, y) }),
		SUB:        binOp(func(d, x, y *Word) { d.Sub(x, y) }),
		DIV:        binOp(func(d, x, y *Word) { d.Div(x, y) }),
		SDIV:       binOp(func(d, x, y *Word) { d.Set(SDiv(x, y)) }),
		MOD:        binOp(func(d, x, y *Word) { d.Mod(x, y) }),
		SMOD:       binOp(func(d, x, y *Word) { d.Set(SMod(x, y)) }),
		EXP:        opExpOp,
		SIGNEXTEND: binOp(func(d, x, y *Word) { d.Set(SignExtend(x, y)) }),
		ADDMOD:     opAddMod,
		MULMOD:     opMulMod,

		LT:     binOp(func(d, x, y *Word) { setBool(d, x.Lt(y)) }),
		GT:     binOp(func(d, x, y *Word) { setBool(d, x.Gt(y)) }),
		SLT:    binOp(func(d, x, y *Word) { setBool(d, x.Slt(y)) }),
		SGT:    binOp(func(d, x, y *Word) { setBool(d, x.Sgt(y)) }),
		EQ:     binOp(func(d, x, y *Word) { setBool(d, x.Eq(y)) }),
		ISZERO: unOp(func(d, x *Word) { setBool(d, x.IsZero()) }),
		AND:    binOp(func(d, x, y *Word) { d.And(x, y) }),
		OR:     binOp(func(d, x, y *Word) { d.Or(x, y) }),
		XOR:    binOp(func(d, x, y *Word) { d.Xor(x, y) }),
		NOT:    unOp(func(d, x *Word) { d.Not(x) }),
		BYTE:   binOp(func(d, x, y *Word) { d.Set(Byte(x, y)) }),
		SHL:    binOp(func(d, x, y *Word) { d.Set(Shl(x, y)) }),
		SHR:    binOp(func(d, x, y *Word) { d.Set(Shr(x, y)) }),
		SAR:    binOp(func(d, x, y *Word) { d.Set(Sar(x, y)) }),

		SHA3: opSha3,

		ADDRESS:        opAddress,
		BALANCE:        opBalance,
		ORIGIN:         opOrigin,
		CALLER:         opCaller,
		CALLVALUE:      opCallValue,
		CALLDATALOAD:   opCallDataLoad,
		CALLDATASIZE:   opCallDataSize,
		CALLDATACOPY:   opCallDataCopy,
		CODESIZE:       opCodeSize,
		CODECOPY:       opCodeCopy,
		GASPRICE:       opGasPrice,
		EXTCODESIZE:    opExtCodeSize,
		EXTCODECOPY:    opExtCodeCopy,
		RETURNDATASIZE: opReturnDataSize,
		RETURNDATACOPY: opReturnDataCopy,
		EXTCODEHASH:    opExtCodeHash,

		BLOCKHASH:   opBlockHash,
		COINBASE:    opCoinbase,
		TIMESTAMP:   opTimestamp,
		NUMBER:      opNumber,
		DIFFICULTY:  opDifficulty,
		GASLIMIT:    opGasLimit,
		CHAINID:     opChainID,
		SELFBALANCE: opSelfBalance,

		POP:      opPop,
		MLOAD:    opMLoad,
		MSTORE:   opMStore,
		MSTORE8:  opMStore8,
		SLOAD:    opSLoad,
		SSTORE:   opSStore,
		JUMP:     opJump,
		JUMPI:    opJumpi,
		PC:       opPC,
		MSIZE:    opMSize,
		GAS:      opGas,
		JUMPDEST: opNoop,

		JUMPC:  opJumpc,
		JUMPCI: opJumpci,
		PUSHC:  opPushc,

		LOG0: opLog, LOG1: opLog, LOG2: opLog, LOG3: opLog, LOG4: opLog,

		CREATE:       opCreate,
		CALL:         opCall,
		CALLCODE:     opCall,
		RETURN:       opReturn,
		DELEGATECALL: opCall,
		CREATE2:      opCreate,
		STATICCALL:   opCall,
		REVERT:       opRevert,
		SELFDESTRUCT: opSelfDestruct,
	}
	for i := PUSH1; i <= PUSH32; i++ {
		handlers[i] = opPush
	}
	for i := DUP1; i <= DUP16; i++ {
		handlers[i] = opDup
	}
	for i := SWAP1; i <= SWAP16; i++ {
		handlers[i] = opSwap
	}
}

const (
	LOG1 OpCode = 0xa1
	LOG2 OpCode = 0xa2
	LOG3 OpCode = 0xa3
)

// --- generic helpers -------------------------------------------------

// setBool writes the canonical one-or-zero Word for a boolean opcode result.
func setBool(d *Word, cond bool) {
	if cond {
		d.SetOne()
	} else {
		d.Clear()
	}
}

// binOp pops x (the top of stack) then y (the next item down) and pushes
// f(x, y) — the same x, y convention the two-operand opcodes below are
// specified against (e.g. SUB computes x-y, DIV computes x/y).
func binOp(f func(dst, x, y *Word)) handlerFunc {
	return func(sc *scope, op OpCode) step {
		x, _ := sc.stack.Pop()
		y, _ := sc.stack.Pop()
		var d Word
		f(&d, &x, &y)
		sc.stack.Push(&d)
		return cont()
	}
}

func unOp(f func(dst, x *Word)) handlerFunc {
	return func(sc *scope, op OpCode) step {
		x, _ := sc.stack.Pop()
		var d Word
		f(&d, &x)
		sc.stack.Push(&d)
		return cont()
	}
}

// opExpOp charges EXP's dynamic component (ExpByte gas per significant byte
// of the exponent, per-revision rate) before computing the result; its
// constant component was already charged by step() from the jump table.
func opExpOp(sc *scope, op OpCode) step {
	base, _ := sc.stack.Pop()
	exponent, _ := sc.stack.Pop()
	if !sc.chargeGas(uint64(ExpByteLen(&exponent)) * sc.schedule.ExpByte) {
		return fail(ErrOutOfGas)
	}
	sc.stack.Push(Exp(&base, &exponent))
	return cont()
}

func opAddMod(sc *scope, op OpCode) step {
	y, _ := sc.stack.Pop()
	x, _ := sc.stack.Pop()
	m, _ := sc.stack.Pop()
	r := AddMod(&x, &y, &m)
	sc.stack.Push(r)
	return cont()
}

func opMulMod(sc *scope, op OpCode) step {
	y, _ := sc.stack.Pop()
	x, _ := sc.stack.Pop()
	m, _ := sc.stack.Pop()
	r := MulMod(&x, &y, &m)
	sc.stack.Push(r)
	return cont()
}

func opStop(sc *scope, op OpCode) step { return terminate(Success, nil) }
func opNoop(sc *scope, op OpCode) step { return cont() }

func opSha3(sc *scope, op OpCode) step {
	size, _ := sc.stack.Pop()
	offset, _ := sc.stack.Pop()
	sz := size.Uint64()
	off := offset.Uint64()
	if !sc.chargeMemory(off + sz) {
		return fail(ErrOutOfGas)
	}
	if !sc.chargeGas(params.Sha3WordGas * wordCount(sz)) {
		return fail(ErrOutOfGas)
	}
	data := sc.memory.Get(off, sz)
	h := crypto.Keccak256(data)
	w := new(uint256.Int)
	w.SetBytes(h)
	sc.stack.Push(w)
	return cont()
}

func opAddress(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromAddress(sc.frame.Recipient))
	return cont()
}

func opBalance(sc *scope, op OpCode) step {
	a, _ := sc.stack.Pop()
	addr := ToAddress(&a)
	if sc.schedule.EIP2929 {
		sc.chargeGas(params.ColdAccountAccessCostBerlin)
	} else {
		sc.chargeGas(sc.schedule.Balance - sc.table[BALANCE].constGas)
	}
	bal := sc.host.GetBalance(addr)
	sc.stack.Push(&bal)
	return cont()
}

func opOrigin(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromAddress(sc.host.GetTxContext().Origin))
	return cont()
}

func opCaller(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromAddress(sc.frame.Sender))
	return cont()
}

func opCallValue(sc *scope, op OpCode) step {
	v := sc.frame.Value
	sc.stack.Push(&v)
	return cont()
}

func opCallDataLoad(sc *scope, op OpCode) step {
	off, _ := sc.stack.Pop()
	var buf [32]byte
	if off.IsUint64() {
		o := off.Uint64()
		if o < uint64(len(sc.frame.Input)) {
			n := copy(buf[:], sc.frame.Input[o:])
			_ = n
		}
	}
	w := new(uint256.Int)
	w.SetBytes(buf[:])
	sc.stack.Push(w)
	return cont()
}

func opCallDataSize(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(uint64(len(sc.frame.Input))))
	return cont()
}

func opCallDataCopy(sc *scope, op OpCode) step {
	return copyToMemory(sc, sc.frame.Input)
}

func opCodeSize(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(uint64(len(sc.frame.Code))))
	return cont()
}

func opCodeCopy(sc *scope, op OpCode) step {
	return copyToMemory(sc, sc.frame.Code)
}

// copyToMemory implements the common {destOffset, offset, size} copy
// pattern shared by CALLDATACOPY/CODECOPY/RETURNDATACOPY (source-check
// variant is handled separately for RETURNDATACOPY).
func copyToMemory(sc *scope, src []byte) step {
	destOffset, _ := sc.stack.Pop()
	offset, _ := sc.stack.Pop()
	size, _ := sc.stack.Pop()
	sz := size.Uint64()
	dOff := destOffset.Uint64()
	if !sc.chargeMemory(dOff + sz) {
		return fail(ErrOutOfGas)
	}
	if !sc.chargeGas(params.CopyGas * wordCount(sz)) {
		return fail(ErrOutOfGas)
	}
	buf := make([]byte, sz)
	if offset.IsUint64() {
		o := offset.Uint64()
		if o < uint64(len(src)) {
			copy(buf, src[o:])
		}
	}
	sc.memory.Set(dOff, buf)
	return cont()
}

func opGasPrice(sc *scope, op OpCode) step {
	gp := sc.host.GetTxContext().GasPrice
	sc.stack.Push(&gp)
	return cont()
}

func opExtCodeSize(sc *scope, op OpCode) step {
	a, _ := sc.stack.Pop()
	sc.stack.Push(WordFromUint64(sc.host.GetCodeSize(ToAddress(&a))))
	return cont()
}

func opExtCodeCopy(sc *scope, op OpCode) step {
	a, _ := sc.stack.Pop()
	destOffset, _ := sc.stack.Pop()
	offset, _ := sc.stack.Pop()
	size, _ := sc.stack.Pop()
	sz := size.Uint64()
	dOff := destOffset.Uint64()
	if !sc.chargeMemory(dOff + sz) {
		return fail(ErrOutOfGas)
	}
	if !sc.chargeGas(params.CopyGas * wordCount(sz)) {
		return fail(ErrOutOfGas)
	}
	buf := make([]byte, sz)
	sc.host.CopyCode(ToAddress(&a), offset.Uint64(), buf)
	sc.memory.Set(dOff, buf)
	return cont()
}

func opReturnDataSize(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(uint64(len(sc.returnData))))
	return cont()
}

func opReturnDataCopy(sc *scope, op OpCode) step {
	destOffset, _ := sc.stack.Pop()
	offset, _ := sc.stack.Pop()
	size, _ := sc.stack.Pop()
	sz := size.Uint64()
	off := offset.Uint64()
	if off+sz > uint64(len(sc.returnData)) || off+sz < off {
		return fail(ErrInvalidMemoryAccessKind)
	}
	dOff := destOffset.Uint64()
	if !sc.chargeMemory(dOff + sz) {
		return fail(ErrOutOfGas)
	}
	if !sc.chargeGas(params.CopyGas * wordCount(sz)) {
		return fail(ErrOutOfGas)
	}
	sc.memory.Set(dOff, sc.returnData[off:off+sz])
	return cont()
}

func opExtCodeHash(sc *scope, op OpCode) step {
	a, _ := sc.stack.Pop()
	addr := ToAddress(&a)
	if !sc.host.AccountExists(addr) {
		sc.stack.Push(NewWord())
		return cont()
	}
	h := sc.host.GetCodeHash(addr)
	sc.stack.Push(WordFromHash(h))
	return cont()
}

func opBlockHash(sc *scope, op OpCode) step {
	n, _ := sc.stack.Pop()
	h := sc.host.GetBlockHash(n.Uint64())
	sc.stack.Push(WordFromHash(h))
	return cont()
}

func opCoinbase(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromAddress(sc.host.GetTxContext().Coinbase))
	return cont()
}

func opTimestamp(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(sc.host.GetTxContext().Timestamp))
	return cont()
}

func opNumber(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(sc.host.GetTxContext().Number))
	return cont()
}

func opDifficulty(sc *scope, op OpCode) step {
	d := sc.host.GetTxContext().Difficulty
	sc.stack.Push(&d)
	return cont()
}

func opGasLimit(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(sc.host.GetTxContext().GasLimit))
	return cont()
}

func opChainID(sc *scope, op OpCode) step {
	c := sc.host.GetTxContext().ChainID
	sc.stack.Push(&c)
	return cont()
}

func opSelfBalance(sc *scope, op OpCode) step {
	bal := sc.host.GetBalance(sc.frame.Recipient)
	sc.stack.Push(&bal)
	return cont()
}

func opPop(sc *scope, op OpCode) step {
	sc.stack.Pop()
	return cont()
}

func opMLoad(sc *scope, op OpCode) step {
	offset, _ := sc.stack.Pop()
	off := offset.Uint64()
	if !sc.chargeMemory(off + 32) {
		return fail(ErrOutOfGas)
	}
	b := sc.memory.GetPtr(off, 32)
	w := new(uint256.Int)
	w.SetBytes(b)
	sc.stack.Push(w)
	return cont()
}

func opMStore(sc *scope, op OpCode) step {
	offset, _ := sc.stack.Pop()
	val, _ := sc.stack.Pop()
	off := offset.Uint64()
	if !sc.chargeMemory(off + 32) {
		return fail(ErrOutOfGas)
	}
	sc.memory.Set32(off, &val)
	return cont()
}

func opMStore8(sc *scope, op OpCode) step {
	offset, _ := sc.stack.Pop()
	val, _ := sc.stack.Pop()
	off := offset.Uint64()
	if !sc.chargeMemory(off + 1) {
		return fail(ErrOutOfGas)
	}
	sc.memory.Set(off, []byte{byte(val.Uint64())})
	return cont()
}

func opSLoad(sc *scope, op OpCode) step {
	key, _ := sc.stack.Pop()
	if sc.schedule.EIP2929 {
		sc.chargeGas(params.ColdSloadCostBerlin)
	} else {
		sc.chargeGas(sc.schedule.Sload - sc.table[SLOAD].constGas)
	}
	v := sc.host.GetStorage(sc.frame.Recipient, ToHash(&key))
	sc.stack.Push(&v)
	return cont()
}

func opSStore(sc *scope, op OpCode) step {
	key, _ := sc.stack.Pop()
	val, _ := sc.stack.Pop()
	status := sc.host.SetStorage(sc.frame.Recipient, ToHash(&key), val)
	cost, refund := sstoreCostAndRefund(sc.schedule, status)
	if !sc.chargeGas(cost) {
		return fail(ErrOutOfGas)
	}
	sc.refund += refund
	return cont()
}

func opJump(sc *scope, op OpCode) step {
	dest, _ := sc.stack.Pop()
	return sc.doJump(&dest)
}

func opJumpi(sc *scope, op OpCode) step {
	dest, _ := sc.stack.Pop()
	cond, _ := sc.stack.Pop()
	if cond.IsZero() {
		sc.pc += sc.opSize(op)
		return cont()
	}
	return sc.doJump(&dest)
}

func (sc *scope) doJump(dest *Word) step {
	if !dest.IsUint64() {
		return fail(ErrBadJumpDestination)
	}
	d := int(dest.Uint64())
	if d < 0 || d >= len(sc.an.jumpdests)*8 || !sc.an.jumpdests.isSet(d) {
		return fail(ErrBadJumpDestination)
	}
	sc.pc = d
	return cont()
}

// opJumpc/opJumpci are the fused counterparts of JUMP/JUMPI: the
// preprocessor only ever produces them immediately after a PUSHC whose
// constant was already validated as a jump destination, so no runtime
// check is needed.
func opJumpc(sc *scope, op OpCode) step {
	dest, _ := sc.stack.Pop()
	sc.pc = int(dest.Uint64())
	return cont()
}

func opJumpci(sc *scope, op OpCode) step {
	dest, _ := sc.stack.Pop()
	cond, _ := sc.stack.Pop()
	if cond.IsZero() {
		sc.pc += 1
		return cont()
	}
	sc.pc = int(dest.Uint64())
	return cont()
}

func opPushc(sc *scope, op OpCode) step {
	idx := binary.BigEndian.Uint32(sc.an.code[sc.pc+1 : sc.pc+5])
	w := sc.an.constants[idx]
	sc.stack.Push(&w)
	return cont()
}

func opPC(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(uint64(sc.pc)))
	return cont()
}

func opMSize(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(uint64(sc.memory.Len())))
	return cont()
}

func opGas(sc *scope, op OpCode) step {
	sc.stack.Push(WordFromUint64(uint64(sc.gas)))
	return cont()
}

func opPush(sc *scope, op OpCode) step {
	n := op.PushSize()
	buf := sc.an.code[sc.pc+1 : sc.pc+1+n]
	w := new(uint256.Int)
	w.SetBytes(buf)
	sc.stack.Push(w)
	return cont()
}

func opDup(sc *scope, op OpCode) step {
	if err := sc.stack.Dup(op.DupN()); err != nil {
		return fail(ErrStackOverflowKind)
	}
	return cont()
}

func opSwap(sc *scope, op OpCode) step {
	if err := sc.stack.Swap(op.SwapN()); err != nil {
		return fail(ErrStackUnderflowKind)
	}
	return cont()
}

func opLog(sc *scope, op OpCode) step {
	offset, _ := sc.stack.Pop()
	size, _ := sc.stack.Pop()
	n := op.LogTopics()
	topics := make([]common.Hash, n)
	for i := 0; i < n; i++ {
		t, _ := sc.stack.Pop()
		topics[i] = ToHash(&t)
	}
	sz := size.Uint64()
	off := offset.Uint64()
	if !sc.chargeMemory(off + sz) {
		return fail(ErrOutOfGas)
	}
	if !sc.chargeGas(params.LogTopicGas*uint64(n) + params.LogDataGas*sz) {
		return fail(ErrOutOfGas)
	}
	data := sc.memory.Get(off, sz)
	sc.host.EmitLog(sc.frame.Recipient, data, topics)
	return cont()
}

func opReturn(sc *scope, op OpCode) step {
	offset, _ := sc.stack.Pop()
	size, _ := sc.stack.Pop()
	sz := size.Uint64()
	off := offset.Uint64()
	if !sc.chargeMemory(off + sz) {
		return fail(ErrOutOfGas)
	}
	return terminate(Success, sc.memory.Get(off, sz))
}

func opRevert(sc *scope, op OpCode) step {
	offset, _ := sc.stack.Pop()
	size, _ := sc.stack.Pop()
	sz := size.Uint64()
	off := offset.Uint64()
	if !sc.chargeMemory(off + sz) {
		return fail(ErrOutOfGas)
	}
	return terminate(Revert, sc.memory.Get(off, sz))
}

func opSelfDestruct(sc *scope, op OpCode) step {
	b, _ := sc.stack.Pop()
	beneficiary := ToAddress(&b)
	isNew := sc.host.Selfdestruct(sc.frame.Recipient, beneficiary)
	if isNew {
		sc.chargeGas(params.CallNewAccountGas)
	}
	return terminate(Success, nil)
}

// callForward computes the gas forwarded to a sub-call (before any
// value-transfer CallStipend is added): the requested
// amount capped to the all-but-one-64th rule against whatever remains in
// the caller's budget (the 63/64 rule, active from Tangerine Whistle on;
// earlier revisions never trim it, which callForward encodes by comparing
// against a cap equal to the full remaining balance when the rule is off).
func (sc *scope) callForward(requested uint64) uint64 {
	available := uint64(sc.gas)
	if sc.revision.AtLeast(params.TangerineWhistle) {
		available -= available / 64
	}
	if requested > available {
		return available
	}
	return requested
}

// opCall implements CALL, CALLCODE, DELEGATECALL and STATICCALL: they share
// the same gas-forwarding and memory-staging machinery and differ only in
// how many stack arguments they take and which FrameKind/flags they build.
func opCall(sc *scope, op OpCode) step {
	gasArg, _ := sc.stack.Pop()
	a, _ := sc.stack.Pop()
	addr := ToAddress(&a)

	var value Word
	hasValue := op == CALL || op == CALLCODE
	if hasValue {
		v, _ := sc.stack.Pop()
		value = v
	}

	argsOffset, _ := sc.stack.Pop()
	argsSize, _ := sc.stack.Pop()
	retOffset, _ := sc.stack.Pop()
	retSize, _ := sc.stack.Pop()

	argsOff, argsSz := argsOffset.Uint64(), argsSize.Uint64()
	retOff, retSz := retOffset.Uint64(), retSize.Uint64()

	memNeed := argsOff + argsSz
	if r := retOff + retSz; r > memNeed {
		memNeed = r
	}
	if !sc.chargeMemory(memNeed) {
		return fail(ErrOutOfGas)
	}

	sendsValue := hasValue && !value.IsZero()
	if sendsValue && sc.static {
		return fail(ErrDisallowedStateChange)
	}
	if sendsValue {
		if !sc.chargeGas(params.CallValueTransferGas) {
			return fail(ErrOutOfGas)
		}
	}
	if op == CALL && sendsValue && !sc.host.AccountExists(addr) {
		if !sc.chargeGas(params.CallNewAccountGas) {
			return fail(ErrOutOfGas)
		}
	}

	if sc.frame.Depth+1 >= MaxCallDepth {
		sc.stack.Push(NewWord())
		return cont()
	}

	forwarded := sc.callForward(gasArg.Uint64())
	if !sc.chargeGas(forwarded) {
		return fail(ErrOutOfGas)
	}
	gas := forwarded
	if sendsValue {
		gas += params.CallStipend
	}

	frame := &Frame{
		Depth:     sc.frame.Depth + 1,
		Gas:       int64(gas),
		Recipient: addr,
		Sender:    sc.frame.Recipient,
		Input:     sc.memory.Get(argsOff, argsSz),
	}
	switch op {
	case CALL:
		frame.Kind = KindCall
		frame.Value = value
	case CALLCODE:
		frame.Kind = KindCallCode
		frame.Value = value
		frame.Recipient = sc.frame.Recipient
	case DELEGATECALL:
		frame.Kind = KindDelegateCall
		frame.Recipient = sc.frame.Recipient
		frame.Sender = sc.frame.Sender
		frame.Value = sc.frame.Value
	case STATICCALL:
		frame.Kind = KindStaticCall
		frame.Flags |= FlagStatic
	}
	if sc.static {
		frame.Flags |= FlagStatic
	}

	result := sc.host.Call(frame)
	sc.gas += result.GasLeft
	sc.refund += result.GasRefunded
	sc.returnData = result.Output

	if retSz > 0 {
		n := uint64(len(result.Output))
		if n > retSz {
			n = retSz
		}
		sc.memory.Set(retOff, result.Output[:n])
	}

	success := NewWord()
	if result.Status == Success {
		success = WordFromUint64(1)
	}
	sc.stack.Push(success)
	return cont()
}

// opCreate implements CREATE and CREATE2.
func opCreate(sc *scope, op OpCode) step {
	value, _ := sc.stack.Pop()
	offset, _ := sc.stack.Pop()
	size, _ := sc.stack.Pop()
	var salt *Word
	if op == CREATE2 {
		s, _ := sc.stack.Pop()
		salt = &s
	}

	off, sz := offset.Uint64(), size.Uint64()
	if !sc.chargeMemory(off + sz) {
		return fail(ErrOutOfGas)
	}
	if op == CREATE2 {
		if !sc.chargeGas(params.Sha3WordGas * wordCount(sz)) {
			return fail(ErrOutOfGas)
		}
	}

	if sc.frame.Depth+1 >= MaxCallDepth {
		sc.stack.Push(NewWord())
		return cont()
	}

	initCode := sc.memory.Get(off, sz)
	// sc.gas already excludes CREATE/CREATE2's own constGas (charged by step
	// before dispatch) and the memory/hashing cost charged above, so the
	// 63/64 split below applies to gas left after this instruction's own
	// cost, per the all-but-one-64th rule.
	gas := sc.callForward(uint64(sc.gas))
	if !sc.chargeGas(gas) {
		return fail(ErrOutOfGas)
	}

	kind := KindCreate
	if op == CREATE2 {
		kind = KindCreate2
	}
	frame := &Frame{
		Kind:      kind,
		Depth:     sc.frame.Depth + 1,
		Gas:       int64(gas),
		Sender:    sc.frame.Recipient,
		Value:     value,
		Code:      initCode,
		Salt:      salt,
	}
	if sc.static {
		frame.Flags |= FlagStatic
	}

	result := sc.host.Call(frame)
	sc.gas += result.GasLeft
	sc.refund += result.GasRefunded
	sc.returnData = result.Output

	if result.Status == Success && result.CreatedAddress != nil {
		sc.stack.Push(WordFromAddress(*result.CreatedAddress))
	} else {
		sc.stack.Push(NewWord())
	}
	return cont()
}
