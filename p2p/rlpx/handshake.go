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

// Package rlpx implements the authenticated transport a session is built on:
// the ECIES-sealed auth/ack handshake that derives per-connection secrets,
// and the encrypted, MAC-protected frame codec built on top of them.
package rlpx

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/rlp"
)

const (
	sigLen    = 65
	pubLen    = 64 // uncompressed public key, X||Y, no 0x04 marker
	nonceLen  = 32
	shaLen    = 32
	eciesOverhead = 65 + 16 + 32 // ephemeral pubkey + IV + HMAC tag

	authMsgLen      = sigLen + shaLen + pubLen + nonceLen + 1
	ackMsgLen       = pubLen + nonceLen + 1
	authCipherLen   = authMsgLen + eciesOverhead
	ackCipherLen    = ackMsgLen + eciesOverhead
)

// Secrets are the per-session keys derived from a completed handshake: one
// AES-CTR key shared by both directions, one MAC key, and a running
// Keccak256 digest state seeded per direction, ready for the frame codec to
// keep folding ciphertext into.
type Secrets struct {
	AES        []byte
	MAC        []byte
	EgressMAC  hash.Hash
	IngressMAC hash.Hash
}

// authMsgEIP8 is the RLP body of the EIP-8 variant of the auth message. The
// random padding EIP-8 appends follows the RLP list rather than belonging to
// it, so it is simply left unread by the stream decode below.
type authMsgEIP8 struct {
	Signature       [sigLen]byte
	InitiatorPubkey [pubLen]byte
	Nonce           [nonceLen]byte
	Version         uint
}

// ackMsgEIP8 is the RLP body of the EIP-8 variant of the ack message; see
// authMsgEIP8 for the trailing-padding note.
type ackMsgEIP8 struct {
	EphemeralPubkey [pubLen]byte
	Nonce           [nonceLen]byte
	Version         uint
}

// handshakeState carries the values both roles need to fold into the
// shared-secret derivation once auth and ack have crossed the wire.
type handshakeState struct {
	initiator bool

	prv           *ecdsa.PrivateKey
	remotePub     *ecdsa.PublicKey // remote's static identity key
	randomPriv    *ecdsa.PrivateKey
	remoteRandPub *ecdsa.PublicKey // remote's ephemeral key, recovered or read

	nonce       [nonceLen]byte
	remoteNonce [nonceLen]byte

	authCipher []byte // exactly what was sent (initiator) or received (recipient)
	ackCipher  []byte // exactly what was sent (recipient) or received (initiator)
}

// InitiatorHandshake runs the RLPx handshake as the connecting side: it
// writes the auth message, reads the ack, and returns the derived secrets
// plus the remote's recovered ephemeral key is folded in but never exposed,
// matching §4.10's New -> WriteHello transition once secrets are in hand.
func InitiatorHandshake(conn io.ReadWriter, prv *ecdsa.PrivateKey, remotePub *ecdsa.PublicKey) (Secrets, error) {
	h := &handshakeState{initiator: true, prv: prv, remotePub: remotePub}
	if err := h.newEphemeral(); err != nil {
		return Secrets{}, err
	}
	if _, err := rand.Read(h.nonce[:]); err != nil {
		return Secrets{}, err
	}

	authMsg, err := h.sealAuth()
	if err != nil {
		return Secrets{}, err
	}
	h.authCipher = authMsg
	if _, err := conn.Write(authMsg); err != nil {
		return Secrets{}, err
	}

	ackCipher, err := readHandshakeMsg(conn, ackCipherLen)
	if err != nil {
		return Secrets{}, err
	}
	if err := h.readAck(conn, ackCipher); err != nil {
		return Secrets{}, err
	}
	return h.secrets()
}

// RecipientHandshake runs the RLPx handshake as the listening side: it reads
// the auth message, writes the ack, and returns the derived secrets together
// with the remote's recovered static public key so the caller can check it
// against an expected node identity.
func RecipientHandshake(conn io.ReadWriter, prv *ecdsa.PrivateKey) (Secrets, *ecdsa.PublicKey, error) {
	h := &handshakeState{initiator: false, prv: prv}

	authCipher, err := readHandshakeMsg(conn, authCipherLen)
	if err != nil {
		return Secrets{}, nil, err
	}
	if err := h.readAuth(conn, authCipher); err != nil {
		return Secrets{}, nil, err
	}

	if err := h.newEphemeral(); err != nil {
		return Secrets{}, nil, err
	}
	if _, err := rand.Read(h.nonce[:]); err != nil {
		return Secrets{}, nil, err
	}
	ackMsg, err := h.sealAck()
	if err != nil {
		return Secrets{}, nil, err
	}
	h.ackCipher = ackMsg
	if _, err := conn.Write(ackMsg); err != nil {
		return Secrets{}, nil, err
	}

	sec, err := h.secrets()
	return sec, h.remotePub, err
}

func (h *handshakeState) newEphemeral() error {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	h.randomPriv = priv
	return nil
}

// sealAuth builds and ECIES-seals the classic (non-EIP-8) auth message:
// sig(ecdhe-priv, static-shared^nonce) || keccak256(ecdhe-pub) || static-pub
// || nonce || 0x0, per §4.10.
func (h *handshakeState) sealAuth() ([]byte, error) {
	staticShared := crypto.ECDH(h.prv, h.remotePub)
	token := xor32(staticShared, h.nonce[:])
	sig, err := crypto.Sign(token, h.randomPriv)
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 0, authMsgLen)
	msg = append(msg, sig...)
	msg = append(msg, crypto.Keccak256(crypto.FromECDSAPub(&h.randomPriv.PublicKey)[1:])...)
	msg = append(msg, crypto.FromECDSAPub(&h.prv.PublicKey)[1:]...)
	msg = append(msg, h.nonce[:]...)
	msg = append(msg, 0)

	return crypto.EncryptECIES(h.remotePub, msg, nil)
}

// readAuth decrypts and parses an inbound auth message, falling back to the
// EIP-8 framing (a 2-byte length prefix used as associated data, followed by
// a variable-length RLP-encoded, padded body) when the fixed-size classic
// layout fails to decrypt.
func (h *handshakeState) readAuth(conn io.Reader, cipher []byte) error {
	if msg, err := crypto.DecryptECIES(h.prv, cipher, nil); err == nil {
		h.authCipher = cipher
		sig := msg[:sigLen]
		remotePubBytes := msg[sigLen+shaLen : sigLen+shaLen+pubLen]
		copy(h.remoteNonce[:], msg[sigLen+shaLen+pubLen:sigLen+shaLen+pubLen+nonceLen])
		remotePub, err := crypto.UnmarshalPubkey(append([]byte{0x04}, remotePubBytes...))
		if err != nil {
			return err
		}
		h.remotePub = remotePub
		return h.recoverRemoteEphemeral(sig)
	}

	full, msg, err := readEIP8(conn, h.prv, cipher)
	if err != nil {
		return err
	}
	var auth authMsgEIP8
	if err := rlp.NewStream(bytes.NewReader(msg), uint64(len(msg))).Decode(&auth); err != nil {
		return err
	}
	h.authCipher = full
	copy(h.remoteNonce[:], auth.Nonce[:])
	remotePub, err := crypto.UnmarshalPubkey(append([]byte{0x04}, auth.InitiatorPubkey[:]...))
	if err != nil {
		return err
	}
	h.remotePub = remotePub
	return h.recoverRemoteEphemeral(auth.Signature[:])
}

// recoverRemoteEphemeral derives the remote's ephemeral public key from the
// auth signature without it ever appearing on the wire: the signer is
// recovered from static-shared-secret^remote-nonce, per §4.10.
func (h *handshakeState) recoverRemoteEphemeral(sig []byte) error {
	sharedSecret := crypto.ECDH(h.prv, h.remotePub)
	token := xor32(sharedSecret, h.remoteNonce[:])
	pub, err := crypto.SigToPub(token, sig)
	if err != nil {
		return err
	}
	h.remoteRandPub = pub
	return nil
}

// sealAck builds and ECIES-seals the classic ack message: ecdhe-pub(64) ||
// nonce(32) || 0x0.
func (h *handshakeState) sealAck() ([]byte, error) {
	msg := make([]byte, 0, ackMsgLen)
	msg = append(msg, crypto.FromECDSAPub(&h.randomPriv.PublicKey)[1:]...)
	msg = append(msg, h.nonce[:]...)
	msg = append(msg, 0)
	return crypto.EncryptECIES(h.remotePub, msg, nil)
}

func (h *handshakeState) readAck(conn io.Reader, cipher []byte) error {
	if msg, err := crypto.DecryptECIES(h.prv, cipher, nil); err == nil {
		h.ackCipher = cipher
		remotePubBytes := msg[:pubLen]
		copy(h.remoteNonce[:], msg[pubLen:pubLen+nonceLen])
		pub, err := crypto.UnmarshalPubkey(append([]byte{0x04}, remotePubBytes...))
		if err != nil {
			return err
		}
		h.remoteRandPub = pub
		return nil
	}

	full, msg, err := readEIP8(conn, h.prv, cipher)
	if err != nil {
		return err
	}
	var ack ackMsgEIP8
	if err := rlp.NewStream(bytes.NewReader(msg), uint64(len(msg))).Decode(&ack); err != nil {
		return err
	}
	h.ackCipher = full
	copy(h.remoteNonce[:], ack.Nonce[:])
	pub, err := crypto.UnmarshalPubkey(append([]byte{0x04}, ack.EphemeralPubkey[:]...))
	if err != nil {
		return err
	}
	h.remoteRandPub = pub
	return nil
}

// readEIP8 reinterprets a just-failed classic decrypt as the head of an
// EIP-8 message: its first two bytes are a big-endian length that doubles as
// the ECIES associated data, so the remaining ciphertext bytes (however many
// that length implies beyond what was already read) are pulled off conn and
// the whole thing is decrypted as one ECIES payload. It returns both the
// full wire bytes (head plus the tail just read, for MAC seeding) and the
// decrypted plaintext body.
func readEIP8(conn io.Reader, prv *ecdsa.PrivateKey, head []byte) (full, msg []byte, err error) {
	size := binary.BigEndian.Uint16(head[:2])
	if int(size)+2 < len(head) {
		return nil, nil, errors.New("rlpx: EIP-8 size prefix shorter than classic fallback read")
	}
	tail := make([]byte, int(size)+2-len(head))
	if _, err := io.ReadFull(conn, tail); err != nil {
		return nil, nil, err
	}
	full = append(append([]byte{}, head...), tail...)
	msg, err = crypto.DecryptECIES(prv, full[2:], full[:2])
	if err != nil {
		return nil, nil, err
	}
	return full, msg, nil
}

// xor32 xors two 32-byte slices.
func xor32(a, b []byte) []byte {
	out := make([]byte, shaLen)
	for i := 0; i < shaLen; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// readHandshakeMsg reads exactly n bytes, the fixed size of a classic
// auth/ack ciphertext; EIP-8 variants are longer and are read by extending
// this buffer once the classic decrypt attempt fails.
func readHandshakeMsg(conn io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// secrets derives the session's AES and MAC keys and seeds the egress and
// ingress MAC states, per §4.10/§4.11:
//
//	ephemeral-shared = ecdh(ecdhe-priv, remote-ecdhe-pub)
//	shared-secret     = keccak256(ephemeral-shared || keccak256(left-nonce || right-nonce))
//	aes-secret         = keccak256(ephemeral-shared || shared-secret)
//	mac-secret          = keccak256(ephemeral-shared || aes-secret)
//
// where left/right order the two nonces so both sides compute the same
// hash regardless of who initiated. Each side seeds its egress MAC with
// mac-secret xored with the remote nonce, followed by the handshake cipher
// text it sent, and its ingress MAC with mac-secret xored with its own
// nonce, followed by the handshake cipher text it received.
func (h *handshakeState) secrets() (Secrets, error) {
	ephemeralShared := crypto.ECDH(h.randomPriv, h.remoteRandPub)

	var leftNonce, rightNonce []byte
	if h.initiator {
		leftNonce, rightNonce = h.remoteNonce[:], h.nonce[:]
	} else {
		leftNonce, rightNonce = h.nonce[:], h.remoteNonce[:]
	}
	hNonce := crypto.Keccak256(leftNonce, rightNonce)
	sharedSecret := crypto.Keccak256(ephemeralShared, hNonce)
	aesSecret := crypto.Keccak256(ephemeralShared, sharedSecret)
	macSecret := crypto.Keccak256(ephemeralShared, aesSecret)

	egressCipher, ingressCipher := h.ackCipher, h.authCipher
	if h.initiator {
		egressCipher, ingressCipher = h.authCipher, h.ackCipher
	}

	egressMac := sha3.NewLegacyKeccak256()
	egressMac.Write(xor32(macSecret, h.remoteNonce[:]))
	egressMac.Write(egressCipher)

	ingressMac := sha3.NewLegacyKeccak256()
	ingressMac.Write(xor32(macSecret, h.nonce[:]))
	ingressMac.Write(ingressCipher)

	return Secrets{
		AES:        aesSecret,
		MAC:        macSecret,
		EgressMAC:  egressMac,
		IngressMAC: ingressMac,
	}, nil
}
