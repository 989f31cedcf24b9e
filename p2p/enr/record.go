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

// Package enr implements Ethereum Node Records: a small, self-signed,
// versioned key/value envelope advertising a node's transport endpoint and
// capabilities.
package enr

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"sort"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/rlp"
)

// SizeLimit is the maximum encoded size of a record.
const SizeLimit = 300

var (
	ErrInvalidSig   = errors.New("enr: invalid signature")
	ErrDuplicateKey = errors.New("enr: duplicate key in record")
	ErrTooBig       = errors.New("enr: record bigger than SizeLimit")
)

// pair is one key/value entry, value already RLP-encoded.
type pair struct {
	k string
	v []byte
}

// Record is an Ethereum Node Record: a sequence number, a signature, and a
// lexicographically key-ordered set of RLP-encoded values. Invariant: pairs
// are always stored and (re-)serialized sorted by key.
type Record struct {
	seq       uint64
	signature []byte
	raw       []byte // cached encoding of the full signed record
	pairs     []pair

	mu sync.Mutex
}

// recordCache is the process-wide cache of parsed-and-verified records,
// keyed by their signed encoding, avoiding re-verifying a record for every
// discovery packet that relays the same ENR.
var recordCache = fastcache.New(4 * 1024 * 1024)

// Seq returns the sequence number.
func (r *Record) Seq() uint64 {
	if r.seq == 0 {
		return 1
	}
	return r.seq
}

// SetSeq sets the sequence number, invalidating any cached signature.
func (r *Record) SetSeq(s uint64) {
	r.seq = s
	r.signature = nil
	r.raw = nil
}

// Set stores k→v (v RLP-encoded by the caller's type), replacing any
// previous value for the same key, and invalidates the signature.
func (r *Record) Set(k string, value interface{}) error {
	blob, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	r.invalidate()
	for i, p := range r.pairs {
		if p.k == k {
			r.pairs[i].v = blob
			return nil
		}
	}
	r.pairs = append(r.pairs, pair{k, blob})
	sort.Slice(r.pairs, func(i, j int) bool { return r.pairs[i].k < r.pairs[j].k })
	return nil
}

// Load reads the value stored under k into out (via RLP decode), reporting
// whether the key was present.
func (r *Record) Load(k string, out interface{}) bool {
	for _, p := range r.pairs {
		if p.k == k {
			return rlp.DecodeBytes(p.v, out) == nil
		}
	}
	return false
}

func (r *Record) invalidate() {
	r.signature = nil
	r.raw = nil
}

// Signature returns the record's signature bytes, or nil if unsigned.
func (r *Record) Signature() []byte { return append([]byte(nil), r.signature...) }

// id-scheme well-known keys, per the ENR "v4" identity scheme.
const (
	keyID        = "id"
	keySecp256k1 = "secp256k1"
	keyIP        = "ip"
	keyUDP       = "udp"
	keyTCP       = "tcp"
)

// SetIP, SetUDP, SetTCP store the standard endpoint entries.
func (r *Record) SetIP(ip []byte) error   { return r.Set(keyIP, ip) }
func (r *Record) SetUDP(port uint16) error { return r.Set(keyUDP, port) }
func (r *Record) SetTCP(port uint16) error { return r.Set(keyTCP, port) }

// Sign signs the record with priv under the "v4" identity scheme
// (secp256k1 over the keccak256 of the unsigned content list), setting the
// id and secp256k1 entries and caching the resulting signed encoding.
func (r *Record) Sign(priv *ecdsa.PrivateKey) error {
	r.Set(keyID, "v4")
	r.Set(keySecp256k1, crypto.FromECDSAPub(&priv.PublicKey)[1:])

	content, err := r.encodeContent(r.Seq())
	if err != nil {
		return err
	}
	digest := crypto.Keccak256(content)
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return err
	}
	r.signature = sig[:64] // drop recovery id; not part of the v4 scheme's signature field
	return r.finalize()
}

// Verify checks the record's v4 signature against the secp256k1 entry.
func (r *Record) Verify() error {
	if len(r.signature) == 0 {
		return ErrInvalidSig
	}
	var pubBytes []byte
	if !r.Load(keySecp256k1, &pubBytes) {
		return ErrInvalidSig
	}
	pub, err := crypto.UnmarshalPubkey(append([]byte{0x04}, pubBytes...))
	if err != nil {
		return ErrInvalidSig
	}
	content, err := r.encodeContent(r.seq)
	if err != nil {
		return err
	}
	digest := crypto.Keccak256(content)
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), digest, r.signature) {
		return ErrInvalidSig
	}
	return nil
}

// encodeContent RLP-encodes [seq, k1, v1, k2, v2, ...] in sorted-key order,
// the payload that gets signed (and, prefixed with the signature, encoded
// for the wire).
func (r *Record) encodeContent(seq uint64) ([]byte, error) {
	var buf bytes.Buffer
	list := make([]interface{}, 0, 1+2*len(r.pairs))
	list = append(list, seq)
	for _, p := range r.pairs {
		list = append(list, p.k, rlp.RawValue(p.v))
	}
	if err := rlp.Encode(&buf, list); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// finalize rebuilds r.raw, the full wire encoding [signature, seq, k, v, ...].
func (r *Record) finalize() error {
	full := make([]interface{}, 0, 2+2*len(r.pairs))
	full = append(full, r.signature, r.Seq())
	for _, p := range r.pairs {
		full = append(full, p.k, rlp.RawValue(p.v))
	}
	var buf bytes.Buffer
	if err := rlp.Encode(&buf, full); err != nil {
		return err
	}
	if buf.Len() > SizeLimit {
		return ErrTooBig
	}
	r.raw = buf.Bytes()
	return nil
}

// ENREncode returns the full wire encoding, building it from the current
// signature and pairs if it is not already cached. It does not sign.
func (r *Record) ENREncode() ([]byte, error) {
	if r.raw == nil {
		if err := r.finalize(); err != nil {
			return nil, err
		}
	}
	return r.raw, nil
}

// Decode parses a signed record from its wire encoding and verifies it.
func Decode(data []byte) (*Record, error) {
	if len(data) > SizeLimit {
		return nil, ErrTooBig
	}
	verified := recordCache.Has(data)
	s := rlp.NewStream(bytes.NewReader(data), uint64(len(data)))
	if _, err := s.List(); err != nil {
		return nil, err
	}
	var sig []byte
	if err := s.Decode(&sig); err != nil {
		return nil, err
	}
	var seq uint64
	if err := s.Decode(&seq); err != nil {
		return nil, err
	}
	r := &Record{seq: seq, signature: sig}
	for {
		var k string
		if err := s.Decode(&k); err != nil {
			break
		}
		var v rlp.RawValue
		if err := s.Decode(&v); err != nil {
			return nil, err
		}
		if n := len(r.pairs); n > 0 {
			if k == r.pairs[n-1].k {
				return nil, ErrDuplicateKey
			}
			if k < r.pairs[n-1].k {
				return nil, errors.New("enr: record keys not sorted")
			}
		}
		r.pairs = append(r.pairs, pair{k, v})
	}
	if err := s.ListEnd(); err != nil {
		return nil, err
	}
	if !verified {
		if err := r.Verify(); err != nil {
			return nil, err
		}
		recordCache.Set(data, nil)
	}
	r.raw = append([]byte(nil), data...)
	return r, nil
}
