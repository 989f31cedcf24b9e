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
	"fmt"
	"io"
	"math/big"
	"reflect"
)

// Decoder is implemented by types that want to control their own RLP
// decoding.
type Decoder interface {
	DecodeRLP(*Stream) error
}

// Decode parses RLP-encoded data from r into val, which must be a
// non-nil pointer.
func Decode(r io.Reader, val interface{}) error {
	return NewStream(r, 0).Decode(val)
}

// DecodeBytes parses RLP data from b into val. It returns an error if val is
// not a non-nil pointer. Unlike Decode, input data is required to exactly fit
// the value with no trailing bytes.
func DecodeBytes(b []byte, val interface{}) error {
	s := NewStream(bytes.NewReader(b), uint64(len(b)))
	if err := s.Decode(val); err != nil {
		return err
	}
	if _, err := s.r.ReadByte(); err != io.EOF {
		return ErrMoreThanOneValue
	}
	return nil
}

// Stream reads successive RLP-encoded values from an input stream.
type Stream struct {
	r         *byteReader
	pos       uint64 // total bytes consumed from r
	remaining uint64
	limited   bool
	stack     []uint64 // absolute end position of each enclosing list
}

type byteReader struct {
	io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	_, err := io.ReadFull(b.Reader, b.buf[:])
	return b.buf[0], err
}

// NewStream creates a new Stream reading from r. If inputLimit is nonzero,
// the Stream will only read up to that many bytes.
func NewStream(r io.Reader, inputLimit uint64) *Stream {
	if inputLimit > 0 {
		r = io.LimitReader(r, int64(inputLimit))
	}
	s := &Stream{r: &byteReader{Reader: r}}
	if inputLimit > 0 {
		s.remaining = inputLimit
		s.limited = true
	}
	return s
}

// Kind returns the kind and size of the next value in the stream.
func (s *Stream) Kind() (Kind, uint64, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	s.consumed(1)
	switch {
	case b < 0x80:
		// Size doubles as the byte's own value here: a Byte-kind value is
		// always exactly the single header byte already consumed above.
		return Byte, uint64(b), nil
	case b < 0xB8:
		return String, uint64(b - 0x80), nil
	case b < 0xC0:
		size, err := s.readSize(int(b - 0xB7))
		return String, size, err
	case b < 0xF8:
		return List, uint64(b - 0xC0), nil
	default:
		size, err := s.readSize(int(b - 0xF7))
		return List, size, err
	}
}

func (s *Stream) readSize(n int) (uint64, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return 0, err
	}
	s.consumed(n)
	if n > 1 && buf[0] == 0 {
		return 0, ErrCanonSize
	}
	var size uint64
	for _, b := range buf {
		size = size<<8 | uint64(b)
	}
	if size < 56 {
		return 0, ErrCanonSize
	}
	return size, nil
}

func (s *Stream) consumed(n int) {
	s.pos += uint64(n)
	if s.limited {
		s.remaining -= uint64(n)
	}
}

// List starts decoding a list and returns its content size.
func (s *Stream) List() (uint64, error) {
	k, size, err := s.Kind()
	if err != nil {
		return 0, err
	}
	if k != List {
		return 0, ErrExpectedList
	}
	s.stack = append(s.stack, s.pos+size)
	return size, nil
}

// ListEnd closes the current list, verifying that decoding consumed exactly
// its declared content.
func (s *Stream) ListEnd() error {
	if len(s.stack) == 0 {
		return errNotInList
	}
	end := s.stack[len(s.stack)-1]
	if s.pos != end {
		return errNotAtEOL
	}
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

// moreInList reports whether the innermost enclosing list still has
// undecoded content.
func (s *Stream) moreInList() bool {
	if len(s.stack) == 0 {
		return false
	}
	return s.pos < s.stack[len(s.stack)-1]
}

// Bytes reads an RLP string and returns its contents.
func (s *Stream) Bytes() ([]byte, error) {
	kind, size, err := s.Kind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case Byte:
		var b [1]byte
		// byte value was already consumed as the header in Kind(); the
		// single data byte IS the header byte for small values < 0x80.
		b[0] = byte(size)
		return b[:], nil
	case String:
		buf := make([]byte, size)
		if _, err := io.ReadFull(s.r, buf); err != nil {
			return nil, err
		}
		s.consumed(int(size))
		return buf, nil
	default:
		return nil, ErrExpectedString
	}
}

// Uint64 reads an RLP string and interprets it as a big-endian unsigned
// integer.
func (s *Stream) Uint64() (uint64, error) {
	b, err := s.Bytes()
	if err != nil {
		return 0, err
	}
	if len(b) > 8 {
		return 0, errUintOverflow
	}
	if len(b) > 1 && b[0] == 0 {
		return 0, ErrCanonInt
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// Raw reads the next value's complete encoding (header and content)
// verbatim, without interpreting it, backing rlp.RawValue.
func (s *Stream) Raw() ([]byte, error) {
	kind, size, err := s.Kind()
	if err != nil {
		return nil, err
	}
	if kind == Byte {
		return []byte{byte(size)}, nil
	}
	content := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(s.r, content); err != nil {
			return nil, err
		}
		s.consumed(int(size))
	}
	head := make([]byte, 9)
	var n int
	if kind == String {
		n = puthead(head, 0x80, 0xb7, size)
	} else {
		n = puthead(head, 0xc0, 0xf7, size)
	}
	return append(head[:n], content...), nil
}

// Decode reads the next RLP value and stores it in val, which must be a
// non-nil pointer.
func (s *Stream) Decode(val interface{}) error {
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errNoPointer
	}
	return s.decodeValue(rv.Elem())
}

func (s *Stream) decodeValue(v reflect.Value) error {
	if dec, ok := v.Addr().Interface().(Decoder); ok {
		return dec.DecodeRLP(s)
	}
	switch v.Kind() {
	case reflect.Bool:
		b, err := s.Bytes()
		if err != nil {
			return err
		}
		v.SetBool(len(b) > 0 && b[0] != 0)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := s.Uint64()
		if err != nil {
			return err
		}
		v.SetUint(u)
		return nil
	case reflect.String:
		b, err := s.Bytes()
		if err != nil {
			return err
		}
		v.SetString(string(b))
		return nil
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b, err := s.Bytes()
			if err != nil {
				return err
			}
			v.SetBytes(b)
			return nil
		}
		return s.decodeSlice(v)
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b, err := s.Bytes()
			if err != nil {
				return err
			}
			if len(b) != v.Len() {
				return ErrValueTooLarge
			}
			reflect.Copy(v, reflect.ValueOf(b))
			return nil
		}
		return s.decodeSlice(v)
	case reflect.Struct:
		if v.Type() == reflect.TypeOf(big.Int{}) {
			b, err := s.Bytes()
			if err != nil {
				return err
			}
			v.Set(reflect.ValueOf(*new(big.Int).SetBytes(b)))
			return nil
		}
		return s.decodeStruct(v)
	case reflect.Ptr:
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return s.decodeValue(v.Elem())
	default:
		return fmt.Errorf("rlp: type %v is not RLP-deserializable", v.Type())
	}
}

func (s *Stream) decodeSlice(v reflect.Value) error {
	if _, err := s.List(); err != nil {
		return err
	}
	var items []reflect.Value
	for s.moreInList() {
		elem := reflect.New(v.Type().Elem()).Elem()
		if err := s.decodeValue(elem); err != nil {
			return err
		}
		items = append(items, elem)
	}
	if err := s.ListEnd(); err != nil {
		return err
	}
	if v.Kind() == reflect.Array {
		for i, it := range items {
			if i >= v.Len() {
				break
			}
			v.Index(i).Set(it)
		}
		return nil
	}
	out := reflect.MakeSlice(v.Type(), len(items), len(items))
	for i, it := range items {
		out.Index(i).Set(it)
	}
	v.Set(out)
	return nil
}

func (s *Stream) decodeStruct(v reflect.Value) error {
	if _, err := s.List(); err != nil {
		return err
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).PkgPath != "" {
			continue
		}
		if err := s.decodeValue(v.Field(i)); err != nil {
			return err
		}
	}
	return s.ListEnd()
}
