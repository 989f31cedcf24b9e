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

package rlpx

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"hash"
	"io"

	"github.com/aleth-go/aleth/rlp"
)

// ErrBadProtocol is returned when a frame's header-MAC or body-MAC fails to
// verify; per §4.11 this drops the session.
var ErrBadProtocol = errors.New("rlpx: frame MAC mismatch")

const headerLen = 16

// FrameRW reads and writes the RLPx wire frame: a 16-byte encrypted header,
// a 16-byte header-MAC, the AES-CTR-encrypted zero-padded body and a
// 16-byte body-MAC, all keyed off a completed handshake's Secrets.
type FrameRW struct {
	conn io.ReadWriter

	enc cipher.Stream
	dec cipher.Stream

	macCipher cipher.Block

	egressMAC  hash.Hash
	ingressMAC hash.Hash
}

// NewFrameRW builds the frame codec from a handshake's derived Secrets. The
// two CTR streams share the single AES key RLPx derives but run independent
// counters, one per direction, starting from a zero IV.
func NewFrameRW(conn io.ReadWriter, sec Secrets) (*FrameRW, error) {
	block, err := aes.NewCipher(sec.AES)
	if err != nil {
		return nil, err
	}
	macBlock, err := aes.NewCipher(sec.MAC)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	return &FrameRW{
		conn:       conn,
		enc:        cipher.NewCTR(block, iv),
		dec:        cipher.NewCTR(block, iv),
		macCipher:  macBlock,
		egressMAC:  sec.EgressMAC,
		ingressMAC: sec.IngressMAC,
	}, nil
}

// WriteFrame writes payload as a single-frame packet. Its message code is
// the first RLP item of payload itself (the p2p and capability layers
// multiplex on that, not on the frame header); the frame header RLP is
// always [0, 0], per §4.11.
func (f *FrameRW) WriteFrame(payload []byte) error {
	headerData, err := rlp.EncodeToBytes([]uint64{0, 0})
	if err != nil {
		return err
	}

	header := make([]byte, headerLen)
	n := len(payload)
	header[0], header[1], header[2] = byte(n>>16), byte(n>>8), byte(n)
	copy(header[3:], headerData)
	f.enc.XORKeyStream(header, header)
	headerMAC := f.updateMAC(f.egressMAC, header)

	padding := (headerLen - len(payload)%headerLen) % headerLen
	body := make([]byte, len(payload)+padding)
	copy(body, payload)
	f.enc.XORKeyStream(body, body)
	f.egressMAC.Write(body)
	bodyMAC := f.updateMAC(f.egressMAC, nil)

	if _, err := f.conn.Write(header); err != nil {
		return err
	}
	if _, err := f.conn.Write(headerMAC); err != nil {
		return err
	}
	if _, err := f.conn.Write(body); err != nil {
		return err
	}
	_, err = f.conn.Write(bodyMAC)
	return err
}

// ReadFrame reads and authenticates the next frame, returning its
// decrypted payload. Any MAC mismatch returns ErrBadProtocol without
// leaking which half failed, per §4.11's drop-the-session rule.
func (f *FrameRW) ReadFrame() ([]byte, error) {
	headerCipher := make([]byte, headerLen)
	if _, err := io.ReadFull(f.conn, headerCipher); err != nil {
		return nil, err
	}
	wantHeaderMAC := make([]byte, headerLen)
	if _, err := io.ReadFull(f.conn, wantHeaderMAC); err != nil {
		return nil, err
	}
	gotHeaderMAC := f.updateMAC(f.ingressMAC, headerCipher)
	if !constantTimeEqual(gotHeaderMAC, wantHeaderMAC) {
		return nil, ErrBadProtocol
	}
	header := make([]byte, headerLen)
	f.dec.XORKeyStream(header, headerCipher)

	bodyLen := int(header[0])<<16 | int(header[1])<<8 | int(header[2])

	padded := bodyLen + (headerLen-bodyLen%headerLen)%headerLen
	bodyCipher := make([]byte, padded)
	if _, err := io.ReadFull(f.conn, bodyCipher); err != nil {
		return nil, err
	}
	wantBodyMAC := make([]byte, headerLen)
	if _, err := io.ReadFull(f.conn, wantBodyMAC); err != nil {
		return nil, err
	}
	f.ingressMAC.Write(bodyCipher)
	gotBodyMAC := f.updateMAC(f.ingressMAC, nil)
	if !constantTimeEqual(gotBodyMAC, wantBodyMAC) {
		return nil, ErrBadProtocol
	}

	body := make([]byte, padded)
	f.dec.XORKeyStream(body, bodyCipher)
	return body[:bodyLen], nil
}

// updateMAC folds seed (or, when nil, the MAC's own current digest) into
// the rolling MAC state and returns the resulting 16-byte digest, per
// §4.11's "encrypt-digest-and-XOR" update rule used symmetrically for
// header and body MACs, on both the sending and receiving side.
func (f *FrameRW) updateMAC(mac hash.Hash, seed []byte) []byte {
	digest := mac.Sum(nil)[:headerLen]
	enc := make([]byte, headerLen)
	f.macCipher.Encrypt(enc, digest)
	xorSrc := seed
	if xorSrc == nil {
		xorSrc = digest
	}
	for i := range enc {
		enc[i] ^= xorSrc[i]
	}
	mac.Write(enc)
	return mac.Sum(nil)[:headerLen]
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
