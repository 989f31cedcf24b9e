// Copyright 2016 The go-probeum Authors
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

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec"
)

// ErrInvalidMessage is returned by DecryptECIES when the message is too
// short to contain an ephemeral key, IV and MAC tag.
var ErrInvalidMessage = errors.New("ecies: invalid message")

// ErrMACMismatch is returned by DecryptECIES when the authentication tag
// does not match.
var ErrMACMismatch = errors.New("ecies: MAC mismatch")

const (
	eciesIVLength  = 16
	eciesMACLength = sha256.Size
)

// EncryptECIES encrypts a message for the owner of pub using ECIES: an
// ephemeral ECDH key agreement feeding a concatenation KDF, AES-CTR for
// confidentiality and HMAC-SHA256 for integrity. The output is
// ephemeral-pubkey(65) || IV(16) || ciphertext || MAC(32).
func EncryptECIES(pub *ecdsa.PublicKey, message, sharedMAC1 []byte) ([]byte, error) {
	ephemeral, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	ke, km, err := eciesDeriveKeys(ephemeral, pub)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, eciesIVLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	ciphertext, err := aesCTR(ke, iv, message)
	if err != nil {
		return nil, err
	}

	tag := eciesTag(km, iv, ciphertext, sharedMAC1)

	ephemeralPub := FromECDSAPub(&ephemeral.PublicKey)
	out := make([]byte, 0, len(ephemeralPub)+len(iv)+len(ciphertext)+len(tag))
	out = append(out, ephemeralPub...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// DecryptECIES reverses EncryptECIES using the recipient's private key.
func DecryptECIES(priv *ecdsa.PrivateKey, ciphertext, sharedMAC1 []byte) ([]byte, error) {
	const pubLen = 65
	if len(ciphertext) < pubLen+eciesIVLength+eciesMACLength {
		return nil, ErrInvalidMessage
	}
	ephemeralPubBytes := ciphertext[:pubLen]
	iv := ciphertext[pubLen : pubLen+eciesIVLength]
	tag := ciphertext[len(ciphertext)-eciesMACLength:]
	body := ciphertext[pubLen+eciesIVLength : len(ciphertext)-eciesMACLength]

	ephemeralPub, err := UnmarshalPubkey(ephemeralPubBytes)
	if err != nil {
		return nil, err
	}
	ke, km, err := eciesDeriveKeys(priv, ephemeralPub)
	if err != nil {
		return nil, err
	}

	expected := eciesTag(km, iv, body, sharedMAC1)
	if !hmac.Equal(expected, tag) {
		return nil, ErrMACMismatch
	}
	return aesCTR(ke, iv, body)
}

// eciesDeriveKeys runs ECDH between a private key and a remote public key and
// splits the concatenation-KDF output into an AES key and a MAC key.
func eciesDeriveKeys(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) (ke, km []byte, err error) {
	x, _ := btcec.S256().ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	z := math256Bytes(x)

	kdf := concatKDF(z, nil, 32+32)
	return kdf[:32], kdf[32:], nil
}

// concatKDF implements the NIST SP 800-56 Concatenation Key Derivation
// Function using SHA-256 as the underlying hash.
func concatKDF(z, s1 []byte, length int) []byte {
	h := sha256.New()
	out := make([]byte, 0, length)
	for counter := uint32(1); len(out) < length; counter++ {
		var ctBytes [4]byte
		binary.BigEndian.PutUint32(ctBytes[:], counter)
		h.Reset()
		h.Write(ctBytes[:])
		h.Write(z)
		h.Write(s1)
		out = h.Sum(out)
	}
	return out[:length]
}

func eciesTag(km, iv, ciphertext, sharedMAC2 []byte) []byte {
	mac := hmac.New(sha256.New, km)
	mac.Write(iv)
	mac.Write(ciphertext)
	mac.Write(sharedMAC2)
	return mac.Sum(nil)
}

func aesCTR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}
