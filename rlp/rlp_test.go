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

package rlp

import (
	"bytes"
	"testing"
)

type nestedPayload struct {
	Code     uint64
	Name     string
	Children []uint64
	Raw      []byte
}

func TestEncodeDecodeRoundTripStruct(t *testing.T) {
	original := nestedPayload{
		Code:     0x01,
		Name:     "aleth",
		Children: []uint64{1, 2, 0x100, 56},
		Raw:      bytes.Repeat([]byte{0xab}, 70), // forces the long-string header path
	}

	enc, err := EncodeToBytes(&original)
	if err != nil {
		t.Fatalf("EncodeToBytes: %v", err)
	}

	var decoded nestedPayload
	if err := DecodeBytes(enc, &decoded); err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if decoded.Code != original.Code || decoded.Name != original.Name {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, original)
	}
	if len(decoded.Children) != len(original.Children) {
		t.Fatalf("Children length mismatch: got %d, want %d", len(decoded.Children), len(original.Children))
	}
	for i := range original.Children {
		if decoded.Children[i] != original.Children[i] {
			t.Fatalf("Children[%d] = %d, want %d", i, decoded.Children[i], original.Children[i])
		}
	}
	if !bytes.Equal(decoded.Raw, original.Raw) {
		t.Fatalf("Raw mismatch: got %x, want %x", decoded.Raw, original.Raw)
	}
}

func TestEncodeUint64Canonical(t *testing.T) {
	cases := []struct {
		in   uint64
		want []byte
	}{
		{0, []byte{0x80}},
		{1, []byte{0x01}},
		{0x7f, []byte{0x7f}},
		{0x80, []byte{0x81, 0x80}},
		{0x0400, []byte{0x82, 0x04, 0x00}},
	}
	for _, c := range cases {
		got, err := EncodeToBytes(c.in)
		if err != nil {
			t.Fatalf("EncodeToBytes(%d): %v", c.in, err)
		}
		if !bytes.Equal(got, c.want) {
			t.Fatalf("EncodeToBytes(%d) = %x, want %x", c.in, got, c.want)
		}
	}
}

func TestDecodeBytesRejectsTrailingData(t *testing.T) {
	enc, _ := EncodeToBytes(uint64(5))
	enc = append(enc, 0x00)
	var out uint64
	if err := DecodeBytes(enc, &out); err == nil {
		t.Fatal("DecodeBytes with trailing bytes must fail")
	}
}

func TestDecodeRejectsNonCanonicalSize(t *testing.T) {
	// A long-string header (0xb8) whose length byte is zero violates the
	// minimal-encoding rule and must be rejected rather than silently
	// accepted as a zero-length string.
	bad := []byte{0xb8, 0x00}
	var out []byte
	if err := DecodeBytes(bad, &out); err == nil {
		t.Fatal("DecodeBytes must reject a non-canonical long-string size header")
	}
}

func TestRawValuePassesThroughUninterpreted(t *testing.T) {
	// Session packets concatenate two independently-encoded top-level values
	// (a leading message code, then the body) rather than nesting RawValue
	// inside a struct; this is the pattern decodePacket/encodePacket rely on.
	inner, _ := EncodeToBytes([]uint64{1, 2, 3})
	codeEnc, _ := EncodeToBytes(uint64(7))
	frame := append(append([]byte{}, codeEnc...), inner...)

	s := NewStream(bytes.NewReader(frame), uint64(len(frame)))
	code, err := s.Uint64()
	if err != nil {
		t.Fatalf("Uint64: %v", err)
	}
	if code != 7 {
		t.Fatalf("code = %d, want 7", code)
	}
	raw, err := s.Raw()
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if !bytes.Equal(raw, inner) {
		t.Fatalf("Raw() = %x, want %x", raw, inner)
	}

	var body RawValue
	if err := DecodeBytes(raw, &body); err != nil {
		t.Fatalf("DecodeBytes into RawValue: %v", err)
	}
	if !bytes.Equal(body, inner) {
		t.Fatalf("RawValue round-trip = %x, want %x", body, inner)
	}
}

func TestEncodeNilByteSliceIsEmptyString(t *testing.T) {
	got, err := EncodeToBytes([]byte(nil))
	if err != nil {
		t.Fatalf("EncodeToBytes(nil): %v", err)
	}
	if !bytes.Equal(got, []byte{0x80}) {
		t.Fatalf("EncodeToBytes(nil []byte) = %x, want 80", got)
	}
}
