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

// Package enode identifies peers by their 512-bit public key and carries
// their network endpoint, forming the node records used throughout
// discovery and the RLPx transport.
package enode

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/aleth-go/aleth/crypto"
)

// ID is the raw 64-byte (X||Y) uncompressed secp256k1 public key identifying
// a node, per the data model's 512-bit NodeID.
type ID [64]byte

// PubkeyToID strips the leading 0x04 marker off the uncompressed encoding of
// pub, leaving the 64-byte X||Y form used as a node's identity.
func PubkeyToID(pub *ecdsa.PublicKey) ID {
	var id ID
	pubBytes := crypto.FromECDSAPub(pub)
	copy(id[:], pubBytes[1:])
	return id
}

// Pubkey reconstructs the public key this ID was derived from.
func (id ID) Pubkey() (*ecdsa.PublicKey, error) {
	var buf [65]byte
	buf[0] = 0x04
	copy(buf[1:], id[:])
	return crypto.UnmarshalPubkey(buf[:])
}

// Bytes returns the 64-byte raw form.
func (id ID) Bytes() []byte { return id[:] }

// String returns the node ID as a hex string, without 0x prefix (matching
// enode:// URL convention).
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// GoString implements fmt.GoStringer.
func (id ID) GoString() string { return fmt.Sprintf("enode.HexID(%q)", id.String()) }

// DistCmp compares the distances a->target and b->target, returning -1, 0 or
// 1 when a is closer, equidistant, or farther than b.
func DistCmp(target, a, b ID) int {
	for i := range target {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// LogDist returns the logarithmic (bucket-index) distance between a and b:
// the bit position of the highest set bit of a XOR b, i.e. ⌊log2(a⊕b)⌋+1,
// or 0 when a == b.
func LogDist(a, b ID) int {
	lz := 0
	for i := range a {
		x := a[i] ^ b[i]
		if x == 0 {
			lz += 8
			continue
		}
		lz += leadingZeros8(x)
		break
	}
	return len(a)*8 - lz
}

func leadingZeros8(x byte) int {
	n := 0
	for x&0x80 == 0 {
		n++
		x <<= 1
	}
	return n
}
