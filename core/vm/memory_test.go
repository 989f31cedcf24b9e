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
)

func TestMemoryResizeRoundsUpToWord(t *testing.T) {
	m := NewMemory()
	m.Resize(1)
	if m.Len() != 32 {
		t.Fatalf("Resize(1) -> Len() = %d, want 32", m.Len())
	}
	m.Resize(33)
	if m.Len() != 64 {
		t.Fatalf("Resize(33) -> Len() = %d, want 64", m.Len())
	}
}

func TestMemoryNeverShrinks(t *testing.T) {
	m := NewMemory()
	m.Resize(64)
	m.Resize(1)
	if m.Len() != 64 {
		t.Fatalf("Resize(1) after Resize(64) -> Len() = %d, want 64 (monotonic)", m.Len())
	}
}

func TestMemorySetAndGet(t *testing.T) {
	m := NewMemory()
	m.Resize(32)
	m.Set(0, []byte{0x01, 0x02, 0x03})
	got := m.Get(0, 3)
	if !bytes.Equal(got, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("Get(0, 3) = %x, want 010203", got)
	}
}

func TestMemorySet32(t *testing.T) {
	m := NewMemory()
	m.Resize(32)
	m.Set32(0, WordFromUint64(0x42))
	got := m.Get(0, 32)
	want := make([]byte, 32)
	want[31] = 0x42
	if !bytes.Equal(got, want) {
		t.Fatalf("Set32/Get round-trip = %x, want %x", got, want)
	}
}

func TestMemoryGasCostZeroSize(t *testing.T) {
	if cost := MemoryGasCost(0); cost != 0 {
		t.Fatalf("MemoryGasCost(0) = %d, want 0", cost)
	}
}

func TestMemoryExpansionCostNoGrowth(t *testing.T) {
	if cost := MemoryExpansionCost(64, 32); cost != 0 {
		t.Fatalf("MemoryExpansionCost(64, 32) = %d, want 0 (no shrink pricing)", cost)
	}
}

func TestMemoryExpansionCostIsIncremental(t *testing.T) {
	full := MemoryGasCost(64)
	incremental := MemoryExpansionCost(0, 32) + MemoryExpansionCost(32, 64)
	if incremental != full {
		t.Fatalf("expanding in two steps costs %d, want %d (matching one big expansion)", incremental, full)
	}
}
