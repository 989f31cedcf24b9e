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
	"bytes"
	"net"
	"testing"

	"github.com/aleth-go/aleth/crypto"
)

// handshakePair runs InitiatorHandshake and RecipientHandshake concurrently
// over an in-memory pipe and returns both sides' derived Secrets.
func handshakePair(t *testing.T) (initSecrets, recvSecrets Secrets) {
	t.Helper()
	initKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	recvKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	initConn, recvConn := net.Pipe()
	errs := make(chan error, 2)

	go func() {
		var err error
		initSecrets, err = InitiatorHandshake(initConn, initKey, &recvKey.PublicKey)
		errs <- err
	}()
	go func() {
		var err error
		recvSecrets, _, err = RecipientHandshake(recvConn, recvKey)
		errs <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}
	return initSecrets, recvSecrets
}

func TestHandshakeDerivesMatchingSecrets(t *testing.T) {
	initSec, recvSec := handshakePair(t)
	if !bytes.Equal(initSec.AES, recvSec.AES) {
		t.Fatal("both sides must derive the same AES secret")
	}
	if !bytes.Equal(initSec.MAC, recvSec.MAC) {
		t.Fatal("both sides must derive the same MAC secret")
	}
}

func TestHandshakeMACsAreCrossed(t *testing.T) {
	// The initiator's egress MAC must seed from the same state as the
	// recipient's ingress MAC, and vice versa, so a frame written by one
	// side authenticates against the other side's matching digest.
	initSec, recvSec := handshakePair(t)
	if !bytes.Equal(initSec.EgressMAC.Sum(nil), recvSec.IngressMAC.Sum(nil)) {
		t.Fatal("initiator egress MAC state must match recipient ingress MAC state")
	}
	if !bytes.Equal(initSec.IngressMAC.Sum(nil), recvSec.EgressMAC.Sum(nil)) {
		t.Fatal("initiator ingress MAC state must match recipient egress MAC state")
	}
}

func TestFrameRoundTripBothDirections(t *testing.T) {
	initSec, recvSec := handshakePair(t)

	a, b := net.Pipe()
	initFrames, err := NewFrameRW(a, initSec)
	if err != nil {
		t.Fatalf("NewFrameRW(initiator): %v", err)
	}
	recvFrames, err := NewFrameRW(b, recvSec)
	if err != nil {
		t.Fatalf("NewFrameRW(recipient): %v", err)
	}

	payload := []byte("hello rlpx")
	done := make(chan error, 1)
	go func() { done <- initFrames.WriteFrame(payload) }()

	got, err := recvFrames.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("ReadFrame() = %q, want %q", got, payload)
	}

	reply := []byte("hello back")
	go func() { done <- recvFrames.WriteFrame(reply) }()
	got, err = initFrames.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame (reply direction): %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame (reply direction): %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Fatalf("ReadFrame() reply = %q, want %q", got, reply)
	}
}

func TestFrameTamperedMACIsRejected(t *testing.T) {
	initSec, recvSec := handshakePair(t)

	var buf bytes.Buffer
	writerConn := &loopbackConn{w: &buf}
	initFrames, err := NewFrameRW(writerConn, initSec)
	if err != nil {
		t.Fatalf("NewFrameRW(initiator): %v", err)
	}
	if err := initFrames.WriteFrame([]byte("tamper me")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0x01 // flip one bit in the body MAC

	readerConn := &loopbackConn{r: bytes.NewReader(raw)}
	recvFrames, err := NewFrameRW(readerConn, recvSec)
	if err != nil {
		t.Fatalf("NewFrameRW(recipient): %v", err)
	}
	if _, err := recvFrames.ReadFrame(); err != ErrBadProtocol {
		t.Fatalf("ReadFrame with a flipped MAC bit = %v, want ErrBadProtocol", err)
	}
}

// loopbackConn satisfies io.ReadWriter by splitting reads and writes across
// independent buffers, for tests that need to corrupt bytes in transit.
type loopbackConn struct {
	w interface {
		Write([]byte) (int, error)
	}
	r interface {
		Read([]byte) (int, error)
	}
}

func (c *loopbackConn) Write(p []byte) (int, error) { return c.w.Write(p) }
func (c *loopbackConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
