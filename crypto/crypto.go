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

// Package crypto provides the named primitives this module depends on:
// Keccak256 hashing and secp256k1 ECDSA sign/verify/recover, used by the
// discovery packet codec and the RLPx handshake.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/aleth-go/aleth/common"
	"github.com/btcsuite/btcd/btcec"
	"golang.org/x/crypto/sha3"
)

const (
	// DigestLength is the length of a Keccak256 digest.
	DigestLength = 32
	// SignatureLength is the length of a recoverable secp256k1 signature
	// (R || S || recovery-id).
	SignatureLength = 64 + 1
)

var (
	secp256k1N  = btcec.S256().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// Keccak256 computes and returns the Keccak256 hash of the concatenated
// inputs.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// Keccak256Hash computes and returns the Keccak256 hash of the concatenated
// inputs, wrapped in a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Keccak256(data...))
}

// GenerateKey creates a new randomly generated ECDSA private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(btcec.S256(), rand.Reader)
}

// ToECDSA creates a private key using the given D value.
func ToECDSA(d []byte) (*ecdsa.PrivateKey, error) {
	return toECDSA(d, true)
}

// ToECDSAUnsafe blindly converts a binary blob to a private key, skipping
// the curve order validation. Only meant for test vectors.
func ToECDSAUnsafe(d []byte) *ecdsa.PrivateKey {
	priv, _ := toECDSA(d, false)
	return priv
}

func toECDSA(d []byte, strict bool) (*ecdsa.PrivateKey, error) {
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = btcec.S256()
	if strict && 8*len(d) != priv.Params().BitSize {
		return nil, fmt.Errorf("invalid length, need %d bits", priv.Params().BitSize)
	}
	priv.D = new(big.Int).SetBytes(d)

	if priv.D.Cmp(secp256k1N) >= 0 || priv.D.Sign() <= 0 {
		return nil, errors.New("invalid private key, >=N or <=0")
	}
	priv.PublicKey.X, priv.PublicKey.Y = priv.PublicKey.Curve.ScalarBaseMult(d)
	if priv.PublicKey.X == nil {
		return nil, errors.New("invalid private key")
	}
	return priv, nil
}

// FromECDSA exports a private key into a binary dump.
func FromECDSA(priv *ecdsa.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return math256Bytes(priv.D)
}

// UnmarshalPubkey converts bytes to a secp256k1 public key.
func UnmarshalPubkey(pub []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(btcec.S256(), pub)
	if x == nil {
		return nil, errors.New("invalid public key")
	}
	return &ecdsa.PublicKey{Curve: btcec.S256(), X: x, Y: y}, nil
}

// FromECDSAPub marshals a public key to the uncompressed 65-byte form.
func FromECDSAPub(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return elliptic.Marshal(btcec.S256(), pub.X, pub.Y)
}

// PubkeyToAddress derives the 20-byte address from a public key: the low 160
// bits of Keccak256 of the 64-byte (X||Y) uncompressed form.
func PubkeyToAddress(p ecdsa.PublicKey) common.Address {
	pubBytes := FromECDSAPub(&p)
	return common.BytesToAddress(Keccak256(pubBytes[1:])[12:])
}

// Sign produces a 65-byte recoverable ECDSA signature (R || S || V, V in
// {0,1}) of a 32-byte digest.
func Sign(digestHash []byte, prv *ecdsa.PrivateKey) ([]byte, error) {
	if len(digestHash) != DigestLength {
		return nil, fmt.Errorf("hash is required to be exactly 32 bytes (%d)", len(digestHash))
	}
	btcPriv, _ := btcec.PrivKeyFromBytes(btcec.S256(), FromECDSA(prv))
	sig, err := btcec.SignCompact(btcec.S256(), btcPriv, digestHash, false)
	if err != nil {
		return nil, err
	}
	// btcec's compact signature is [recovery-header || R || S]; normalize to
	// [R || S || recovery-id] as used by the wire formats here.
	out := make([]byte, SignatureLength)
	copy(out, sig[1:])
	out[64] = sig[0] - 27
	return out, nil
}

// Ecrecover returns the uncompressed public key that produced the given
// 65-byte recoverable signature over digestHash.
func Ecrecover(digestHash, sig []byte) ([]byte, error) {
	pub, err := sigToPub(digestHash, sig)
	if err != nil {
		return nil, err
	}
	return FromECDSAPub(pub), nil
}

func sigToPub(digestHash, sig []byte) (*ecdsa.PublicKey, error) {
	if len(sig) != SignatureLength {
		return nil, errors.New("invalid signature length")
	}
	btcsig := make([]byte, SignatureLength)
	btcsig[0] = sig[64] + 27
	copy(btcsig[1:], sig)
	pub, _, err := btcec.RecoverCompact(btcec.S256(), btcsig, digestHash)
	if err != nil {
		return nil, err
	}
	return pub.ToECDSA(), nil
}

// SigToPub returns the public key that created the given signature.
func SigToPub(digestHash, sig []byte) (*ecdsa.PublicKey, error) {
	return sigToPub(digestHash, sig)
}

// VerifySignature checks that sig (64-byte R||S, no recovery id) is a valid
// signature of digestHash by the public key pubkey (33 or 65-byte form).
func VerifySignature(pubkey, digestHash, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	pub, err := btcec.ParsePubKey(pubkey, btcec.S256())
	if err != nil {
		return false
	}
	rr := new(big.Int).SetBytes(sig[:32])
	ss := new(big.Int).SetBytes(sig[32:])
	if rr.Sign() <= 0 || ss.Sign() <= 0 || rr.Cmp(secp256k1N) >= 0 || ss.Cmp(secp256k1N) >= 0 {
		return false
	}
	// Reject malleable (high-S) signatures, matching Ethereum's convention.
	if ss.Cmp(secp256k1HalfN) > 0 {
		return false
	}
	return ecdsa.Verify(pub.ToECDSA(), digestHash, rr, ss)
}

// ECDH computes the shared secret of an ECDSA keypair: the 32-byte X
// coordinate of priv.D * pub, used to derive the RLPx handshake secrets.
func ECDH(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) []byte {
	x, _ := btcec.S256().ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	return math256Bytes(x)
}

func math256Bytes(b *big.Int) []byte {
	blob := b.Bytes()
	if len(blob) >= 32 {
		return blob
	}
	padded := make([]byte, 32)
	copy(padded[32-len(blob):], blob)
	return padded
}
