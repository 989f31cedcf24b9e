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
	"math/big"
	"testing"

	"github.com/holiman/uint256"
)

// minSigned is 2^255, the two's-complement minimum signed 256-bit value.
func minSigned() *Word {
	w := new(uint256.Int)
	w.SetOne()
	w.Lsh(w, 255)
	return w
}

func allOnes() *Word {
	w := new(uint256.Int)
	w.SetAllOne()
	return w
}

func TestSDivOverflowSaturates(t *testing.T) {
	got := SDiv(minSigned(), allOnes()) // allOnes is -1 in two's complement
	if !got.Eq(minSigned()) {
		t.Fatalf("sdiv(MIN_SIGNED, -1) = %s, want %s", got.Hex(), minSigned().Hex())
	}
}

func TestSDivByZero(t *testing.T) {
	got := SDiv(WordFromUint64(7), NewWord())
	if !got.IsZero() {
		t.Fatalf("sdiv(x, 0) = %s, want 0", got.Hex())
	}
}

func TestSModByZero(t *testing.T) {
	got := SMod(WordFromUint64(7), NewWord())
	if !got.IsZero() {
		t.Fatalf("smod(x, 0) = %s, want 0", got.Hex())
	}
}

func TestSModSignFollowsDividend(t *testing.T) {
	// smod(-8, 3) = -2, following the sign of the dividend.
	x := new(uint256.Int).Neg(WordFromUint64(8))
	got := SMod(x, WordFromUint64(3))
	want := new(uint256.Int).Neg(WordFromUint64(2))
	if !got.Eq(want) {
		t.Fatalf("smod(-8, 3) = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestExpBoundaryCases(t *testing.T) {
	cases := []struct {
		base, exp uint64
		want      uint64
	}{
		{5, 0, 1},
		{0, 0, 1},
		{2, 10, 1024},
	}
	for _, c := range cases {
		got := Exp(WordFromUint64(c.base), WordFromUint64(c.exp))
		if !got.Eq(WordFromUint64(c.want)) {
			t.Fatalf("exp(%d, %d) = %s, want %d", c.base, c.exp, got.Hex(), c.want)
		}
	}
}

func TestSignExtendIdentityAboveK31(t *testing.T) {
	w := WordFromUint64(0xff)
	got := SignExtend(WordFromUint64(31), w)
	if !got.Eq(w) {
		t.Fatalf("signextend(31, w) = %s, want identity %s", got.Hex(), w.Hex())
	}
	got = SignExtend(WordFromUint64(100), w)
	if !got.Eq(w) {
		t.Fatalf("signextend(k>=31, w) = %s, want identity %s", got.Hex(), w.Hex())
	}
}

func TestSignExtendNegativeByte(t *testing.T) {
	// 0xff in the low byte, sign-extended from byte 0, becomes all-ones.
	got := SignExtend(WordFromUint64(0), WordFromUint64(0xff))
	if !got.Eq(allOnes()) {
		t.Fatalf("signextend(0, 0xff) = %s, want all-ones", got.Hex())
	}
}

func TestShiftsAtOrAbove256(t *testing.T) {
	if got := Shl(WordFromUint64(256), WordFromUint64(1)); !got.IsZero() {
		t.Fatalf("shl(256, 1) = %s, want 0", got.Hex())
	}
	if got := Shr(WordFromUint64(300), WordFromUint64(1)); !got.IsZero() {
		t.Fatalf("shr(300, 1) = %s, want 0", got.Hex())
	}
	if got := Sar(WordFromUint64(256), WordFromUint64(1)); !got.IsZero() {
		t.Fatalf("sar(256, 1) of a non-negative value = %s, want 0", got.Hex())
	}
	if got := Sar(WordFromUint64(256), allOnes()); !got.Eq(allOnes()) {
		t.Fatalf("sar(256, -1) = %s, want all-ones", got.Hex())
	}
}

func TestByteOutOfRange(t *testing.T) {
	if got := Byte(WordFromUint64(32), allOnes()); !got.IsZero() {
		t.Fatalf("byte(32, w) = %s, want 0", got.Hex())
	}
	if got := Byte(WordFromUint64(31), WordFromUint64(0x42)); !got.Eq(WordFromUint64(0x42)) {
		t.Fatalf("byte(31, 0x42) = %s, want 0x42", got.Hex())
	}
}

func TestAddModMulModByZeroModulus(t *testing.T) {
	if got := AddMod(WordFromUint64(3), WordFromUint64(4), NewWord()); !got.IsZero() {
		t.Fatalf("addmod(_, _, 0) = %s, want 0", got.Hex())
	}
	if got := MulMod(WordFromUint64(3), WordFromUint64(4), NewWord()); !got.IsZero() {
		t.Fatalf("mulmod(_, _, 0) = %s, want 0", got.Hex())
	}
}

func TestWordFromBigTruncatesToLow256Bits(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	got := WordFromBig(huge)
	if !got.IsZero() {
		t.Fatalf("WordFromBig(2^300) = %s, want 0 (wraps mod 2^256)", got.Hex())
	}
}

func TestToAddressTruncatesLow160Bits(t *testing.T) {
	w := WordFromUint64(0xdeadbeef)
	addr := ToAddress(w)
	back := WordFromAddress(addr)
	if !back.Eq(w) {
		t.Fatalf("round-trip through Address changed value: got %s, want %s", back.Hex(), w.Hex())
	}
}
