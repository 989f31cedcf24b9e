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
	"fmt"
	"io"
	"math/big"
	"reflect"
)

// Encoder is implemented by types that want to control their own RLP
// encoding.
type Encoder interface {
	EncodeRLP(io.Writer) error
}

// Encode writes the RLP encoding of val to w.
func Encode(w io.Writer, val interface{}) error {
	b, err := EncodeToBytes(val)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// EncodeToBytes returns the RLP encoding of val.
func EncodeToBytes(val interface{}) ([]byte, error) {
	if enc, ok := val.(Encoder); ok {
		var buf sliceBuffer
		if err := enc.EncodeRLP(&buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	return encodeValue(reflect.ValueOf(val))
}

type sliceBuffer []byte

func (b *sliceBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// encodeValue dispatches on the Go type of v and returns its RLP bytes.
// A value implementing Encoder encodes itself, at any nesting depth.
func encodeValue(v reflect.Value) ([]byte, error) {
	if !v.IsValid() {
		return encodeString(nil), nil
	}
	if v.CanInterface() && !(v.Kind() == reflect.Ptr && v.IsNil()) {
		if enc, ok := v.Interface().(Encoder); ok {
			var buf sliceBuffer
			if err := enc.EncodeRLP(&buf); err != nil {
				return nil, err
			}
			return buf, nil
		}
	}
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			if isByteSliceType(v.Type().Elem()) {
				return encodeString(nil), nil
			}
			return encodeList(nil)
		}
		return encodeValue(v.Elem())
	case reflect.Interface:
		if v.IsNil() {
			return encodeString(nil), nil
		}
		return encodeValue(v.Elem())
	case reflect.Bool:
		if v.Bool() {
			return encodeString([]byte{1}), nil
		}
		return encodeString(nil), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return encodeUint(v.Uint()), nil
	case reflect.String:
		return encodeString([]byte(v.String())), nil
	case reflect.Slice, reflect.Array:
		if isByteSliceType(v.Type().Elem()) && v.Kind() == reflect.Slice {
			return encodeString(v.Bytes()), nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			buf := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(buf), v)
			return encodeString(buf), nil
		}
		items := make([][]byte, v.Len())
		for i := 0; i < v.Len(); i++ {
			b, err := encodeValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = b
		}
		return encodeList(items)
	case reflect.Struct:
		if bi, ok := v.Interface().(big.Int); ok {
			return encodeBigInt(&bi), nil
		}
		t := v.Type()
		var items [][]byte
		for i := 0; i < t.NumField(); i++ {
			if t.Field(i).PkgPath != "" {
				continue // unexported
			}
			b, err := encodeValue(v.Field(i))
			if err != nil {
				return nil, err
			}
			items = append(items, b)
		}
		return encodeList(items)
	default:
		return nil, fmt.Errorf("rlp: type %v is not RLP-serializable", v.Type())
	}
}

func isByteSliceType(t reflect.Type) bool {
	return t.Kind() == reflect.Uint8
}

func encodeBigInt(b *big.Int) []byte {
	if b == nil || b.Sign() == 0 {
		return encodeString(nil)
	}
	if b.Sign() < 0 {
		return nil
	}
	return encodeString(b.Bytes())
}

// encodeUint encodes i using the minimal big-endian byte representation,
// same as a string of that representation would be encoded.
func encodeUint(i uint64) []byte {
	if i == 0 {
		return []byte{0x80}
	}
	if i < 0x80 {
		return []byte{byte(i)}
	}
	var buf [9]byte
	n := putint(buf[1:], i)
	buf[0] = 0x80 + byte(n)
	return buf[:n+1]
}

// encodeString returns the RLP encoding of a string/byte-array value.
func encodeString(s []byte) []byte {
	if len(s) == 1 && s[0] <= 0x7f {
		return []byte{s[0]}
	}
	head := make([]byte, headsize(uint64(len(s))))
	puthead(head, 0x80, 0xb7, uint64(len(s)))
	return append(head, s...)
}

// encodeList returns the RLP encoding of a list whose items are already
// individually RLP-encoded.
func encodeList(items [][]byte) ([]byte, error) {
	var size uint64
	for _, it := range items {
		size += uint64(len(it))
	}
	head := make([]byte, headsize(size))
	puthead(head, 0xc0, 0xf7, size)
	out := make([]byte, 0, len(head)+int(size))
	out = append(out, head...)
	for _, it := range items {
		out = append(out, it...)
	}
	return out, nil
}
