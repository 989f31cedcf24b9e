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

import "testing"

func TestStackPushPop(t *testing.T) {
	s := NewStack()
	if err := s.Push(WordFromUint64(7)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	w, err := s.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if !w.Eq(WordFromUint64(7)) {
		t.Fatalf("Pop() = %s, want 7", w.Hex())
	}
	if s.Len() != 0 {
		t.Fatalf("Len() after pop = %d, want 0", s.Len())
	}
}

func TestStackPopEmptyUnderflows(t *testing.T) {
	s := NewStack()
	if _, err := s.Pop(); err != ErrStackUnderflow {
		t.Fatalf("Pop() on empty stack = %v, want ErrStackUnderflow", err)
	}
}

func TestStackOverflowsAtLimit(t *testing.T) {
	s := NewStack()
	for i := 0; i < StackLimit; i++ {
		if err := s.Push(WordFromUint64(uint64(i))); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}
	if err := s.Push(WordFromUint64(0)); err != ErrStackOverflow {
		t.Fatalf("Push at limit = %v, want ErrStackOverflow", err)
	}
}

func TestStackDupAndSwap(t *testing.T) {
	s := NewStack()
	s.Push(WordFromUint64(1))
	s.Push(WordFromUint64(2))
	s.Push(WordFromUint64(3))

	if err := s.Dup(1); err != nil { // DUP1: duplicate the top
		t.Fatalf("Dup(1): %v", err)
	}
	top, _ := s.Peek(0)
	if !top.Eq(WordFromUint64(3)) {
		t.Fatalf("after Dup(1), top = %s, want 3", top.Hex())
	}
	if s.Len() != 4 {
		t.Fatalf("Len() after Dup = %d, want 4", s.Len())
	}

	if err := s.Swap(3); err != nil { // SWAP3: exchange top with 3rd below it
		t.Fatalf("Swap(3): %v", err)
	}
	top, _ = s.Peek(0)
	if !top.Eq(WordFromUint64(1)) {
		t.Fatalf("after Swap(3), top = %s, want 1", top.Hex())
	}
}

func TestStackDupUnderflow(t *testing.T) {
	s := NewStack()
	s.Push(WordFromUint64(1))
	if err := s.Dup(2); err != ErrStackUnderflow {
		t.Fatalf("Dup(2) with only 1 item = %v, want ErrStackUnderflow", err)
	}
}

func TestStackRequire(t *testing.T) {
	s := NewStack()
	s.Push(WordFromUint64(1))
	if err := s.Require(2); err != ErrStackUnderflow {
		t.Fatalf("Require(2) with 1 item = %v, want ErrStackUnderflow", err)
	}
	if err := s.Require(1); err != nil {
		t.Fatalf("Require(1) with 1 item = %v, want nil", err)
	}
}
