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

// Package vm implements the bytecode interpreter: 256-bit word arithmetic,
// the evaluation stack and memory, the gas-metered fetch-decode-execute
// loop, and the storage-cost state machine.
package vm

import (
	"math/big"

	"github.com/aleth-go/aleth/common"
	"github.com/holiman/uint256"
)

// Word is a 256-bit value, exact mod 2^256. Signed interpretation is
// two's-complement with the sign bit at position 255.
type Word = uint256.Int

// NewWord returns the zero Word.
func NewWord() *Word { return new(uint256.Int) }

// WordFromUint64 returns a Word holding n.
func WordFromUint64(n uint64) *Word { return uint256.NewInt(n) }

// WordFromBig returns a Word holding the low 256 bits of b.
func WordFromBig(b *big.Int) *Word {
	w := new(uint256.Int)
	w.SetFromBig(b)
	return w
}

// ToAddress truncates a Word to its low 160 bits, the Address conversion
// rule from the data model.
func ToAddress(w *Word) common.Address {
	var a common.Address
	b := w.Bytes32()
	copy(a[:], b[32-common.AddressLength:])
	return a
}

// ToHash widens a Word to a full 256-bit Hash (big-endian).
func ToHash(w *Word) common.Hash {
	return common.Hash(w.Bytes32())
}

// WordFromHash reads a Hash as a big-endian Word.
func WordFromHash(h common.Hash) *Word {
	w := new(uint256.Int)
	w.SetBytes(h[:])
	return w
}

// WordFromAddress zero-extends an Address into a Word.
func WordFromAddress(a common.Address) *Word {
	w := new(uint256.Int)
	w.SetBytes(a[:])
	return w
}

// SDiv computes x/y using two's-complement signed semantics.
// sdiv(x, 0) = 0. sdiv(MIN_SIGNED, -1) = MIN_SIGNED (saturates instead of
// overflowing).
func SDiv(x, y *Word) *Word {
	out := new(uint256.Int)
	if y.IsZero() || x.IsZero() {
		return out
	}
	xNeg := x.Sign() < 0
	yNeg := y.Sign() < 0

	var xAbs, yAbs uint256.Int
	absWord(&xAbs, x)
	absWord(&yAbs, y)

	out.Div(&xAbs, &yAbs)
	if xNeg != yNeg {
		out.Neg(out)
	}
	return out
}

// SMod computes x mod y using two's-complement signed semantics, with the
// sign of the result following the sign of x (truncated division remainder).
// smod(x, 0) = 0.
func SMod(x, y *Word) *Word {
	out := new(uint256.Int)
	if y.IsZero() || x.IsZero() {
		return out
	}
	xNeg := x.Sign() < 0

	var xAbs, yAbs uint256.Int
	absWord(&xAbs, x)
	absWord(&yAbs, y)

	out.Mod(&xAbs, &yAbs)
	if xNeg {
		out.Neg(out)
	}
	return out
}

// geUint64 reports whether w >= n, without requiring w to fit in a uint64.
func geUint64(w *Word, n uint64) bool {
	if !w.IsUint64() {
		return true
	}
	return w.Uint64() >= n
}

// absWord sets dst to the absolute value of x interpreted as a signed Word.
func absWord(dst, x *uint256.Int) {
	if x.Sign() >= 0 {
		dst.Set(x)
		return
	}
	dst.Neg(x)
}

// Byte returns the i-th big-endian byte of w as a Word, or 0 when i >= 32.
func Byte(i, w *Word) *Word {
	out := new(uint256.Int)
	if geUint64(i, 32) {
		return out
	}
	idx := int(i.Uint64())
	b := w.Bytes32()
	out.SetUint64(uint64(b[idx]))
	return out
}

// SignExtend sign-extends the low 8*(k+1) bits of w when k < 31; otherwise
// returns w unchanged.
func SignExtend(k, w *Word) *Word {
	out := new(uint256.Int)
	if geUint64(k, 32) {
		out.Set(w)
		return out
	}
	kVal := int(k.Uint64())
	bit := uint(kVal*8 + 7)

	b := w.Bytes32()
	signBitSet := b[31-kVal]&0x80 != 0
	for i := 0; i < 32; i++ {
		if uint(i*8) > bit {
			if signBitSet {
				b[31-i] = 0xff
			} else {
				b[31-i] = 0
			}
		}
	}
	out.SetBytes(b[:])
	return out
}

// Sar performs an arithmetic (sign-preserving) right shift by shift bits. A
// shift amount >= 256 yields 0, or all-ones if x is negative.
func Sar(shift, x *Word) *Word {
	out := new(uint256.Int)
	if geUint64(shift, 256) {
		if x.Sign() < 0 {
			out.SetAllOne()
		}
		return out
	}
	n := uint(shift.Uint64())
	if x.Sign() >= 0 {
		out.Rsh(x, n)
		return out
	}
	// Arithmetic shift of a negative value: shift the magnitude's two's
	// complement representation and fill vacated bits with ones.
	out.Rsh(x, n)
	var mask uint256.Int
	mask.SetAllOne()
	mask.Lsh(&mask, 256-n)
	out.Or(out, &mask)
	return out
}

// Shl performs a logical left shift. A shift amount >= 256 yields 0.
func Shl(shift, x *Word) *Word {
	out := new(uint256.Int)
	if geUint64(shift, 256) {
		return out
	}
	return out.Lsh(x, uint(shift.Uint64()))
}

// Shr performs a logical right shift. A shift amount >= 256 yields 0.
func Shr(shift, x *Word) *Word {
	out := new(uint256.Int)
	if geUint64(shift, 256) {
		return out
	}
	return out.Rsh(x, uint(shift.Uint64()))
}

// Exp computes base**exponent mod 2^256 by right-to-left square-and-multiply.
func Exp(base, exponent *Word) *Word {
	out := uint256.NewInt(1)
	var b uint256.Int
	b.Set(base)
	var e uint256.Int
	e.Set(exponent)

	var lsb uint256.Int
	one := uint256.NewInt(1)
	for !e.IsZero() {
		lsb.And(&e, one)
		if !lsb.IsZero() {
			out.Mul(out, &b)
		}
		b.Mul(&b, &b)
		e.Rsh(&e, 1)
	}
	return out
}

// ExpByteLen returns the number of significant bytes in e, used to price
// EXP's dynamic gas component.
func ExpByteLen(e *Word) int {
	bitlen := e.BitLen()
	if bitlen == 0 {
		return 0
	}
	return (bitlen + 7) / 8
}

// AddMod and MulMod reduce modulo m, returning 0 when m is zero. MulMod's
// intermediate product uses 512-bit precision internally (uint256.MulModAlt
// semantics via uint256's own 512-bit scratch space).
func AddMod(x, y, m *Word) *Word {
	out := new(uint256.Int)
	if m.IsZero() {
		return out
	}
	return out.AddMod(x, y, m)
}

func MulMod(x, y, m *Word) *Word {
	out := new(uint256.Int)
	if m.IsZero() {
		return out
	}
	return out.MulMod(x, y, m)
}
