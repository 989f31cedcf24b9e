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

import "github.com/aleth-go/aleth/params"

// Memory is the linear, byte-addressable memory of one call frame.
//
// Design:
//   - Backed by a single flat byte slice that only ever grows.
//   - Length is always a multiple of 32 after any access (data-model
//     invariant); a read or write touching byte index i first expands to
//     ceil((i+len)/32)*32, zero-filling the new tail.
//   - Expansion cost is charged by the caller (the interpreter's gas
//     accounting step), not by Memory itself: Memory.Resize never fails, it
//     is the caller's job to price MemoryGasCost(...) first and refuse the
//     opcode on OutOfGas before calling Resize.
//
// The zero value is ready to use (empty memory).
type Memory struct {
	store []byte
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory { return &Memory{} }

// Len returns the current length in bytes (always a multiple of 32).
func (m *Memory) Len() int { return len(m.store) }

// Words returns the current length in 32-byte words.
func (m *Memory) Words() uint64 { return uint64(len(m.store) / 32) }

// Resize grows the backing store so that it covers at least size bytes,
// rounding up to the next 32-byte word boundary. It is a no-op when the
// memory is already at least that large; Memory never shrinks.
func (m *Memory) Resize(size uint64) {
	if uint64(len(m.store)) >= size {
		return
	}
	words := (size + 31) / 32
	newLen := words * 32
	grown := make([]byte, newLen)
	copy(grown, m.store)
	m.store = grown
}

// Set writes data into memory starting at offset. The caller must have
// already called Resize to cover [offset, offset+len(data)).
func (m *Memory) Set(offset uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	copy(m.store[offset:offset+uint64(len(data))], data)
}

// Set32 writes the big-endian bytes of w as a 32-byte word at offset.
func (m *Memory) Set32(offset uint64, w *Word) {
	b := w.Bytes32()
	copy(m.store[offset:offset+32], b[:])
}

// Get returns a copy of size bytes starting at offset. Bytes beyond the
// current length (but within a Resize-covered range only up to len(store))
// are never read: callers must Resize first.
func (m *Memory) Get(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	out := make([]byte, size)
	copy(out, m.store[offset:offset+size])
	return out
}

// GetPtr returns a slice directly referencing the backing store; callers
// must not retain it across a subsequent Resize.
func (m *Memory) GetPtr(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	return m.store[offset : offset+size]
}

// wordCount returns ceil(size/32), the number of 32-byte words needed to
// cover size bytes.
func wordCount(size uint64) uint64 { return (size + 31) / 32 }

// MemoryGasCost returns the total (not incremental) quadratic memory cost
// for a memory of the given byte size, per the schedule's
// Gm*words + words*words/Dq formula. Overflow-prone inputs saturate to a
// value larger than any realistic gas counter, so the caller's subtraction
// against a signed 63-bit counter reliably detects it as OutOfGas.
func MemoryGasCost(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	words := wordCount(size)
	if words > 0xffffffff { // words*words would overflow
		return ^uint64(0)
	}
	linear := words * params.MemoryGas
	quad := (words * words) / params.QuadCoeffDiv
	total := linear + quad
	if total < linear { // overflow
		return ^uint64(0)
	}
	return total
}

// MemoryExpansionCost returns the incremental gas cost of growing memory
// from currentSize to newSize bytes (both in bytes, newSize >= currentSize
// required by the caller). Returns 0 when newSize does not exceed
// currentSize's already-priced word count.
func MemoryExpansionCost(currentSize, newSize uint64) uint64 {
	if newSize <= currentSize {
		return 0
	}
	return MemoryGasCost(newSize) - MemoryGasCost(currentSize)
}
