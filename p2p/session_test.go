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

package p2p

import (
	"testing"

	"github.com/aleth-go/aleth/p2p/enode"
	"github.com/aleth-go/aleth/rlp"
)

func newTestSession(t *testing.T, caps []*Capability) *Session {
	t.Helper()
	peer := newTestPeer(t, false)
	return NewSession(peer, nil, caps, nil)
}

func TestSessionCapabilityOffsetsStackAfterBase(t *testing.T) {
	caps := []*Capability{
		{Name: "foo", MessageCount: 3},
		{Name: "bar", MessageCount: 2},
	}
	s := newTestSession(t, caps)

	off, ok := s.CapabilityOffset("foo")
	if !ok || off != baseProtocolLength {
		t.Fatalf("foo offset = %d, %v; want %d, true", off, ok, baseProtocolLength)
	}
	off, ok = s.CapabilityOffset("bar")
	if !ok || off != baseProtocolLength+3 {
		t.Fatalf("bar offset = %d, %v; want %d, true", off, ok, baseProtocolLength+3)
	}
	if _, ok := s.CapabilityOffset("baz"); ok {
		t.Fatal("CapabilityOffset(\"baz\") found an offset for an unregistered capability")
	}
}

func TestSessionHandleBaseRoutesDiscAndPing(t *testing.T) {
	s := newTestSession(t, nil)

	if reason, handled := s.handleBase(discMsg, nil); !handled || reason == nil || *reason != DiscRequested {
		t.Fatalf("handleBase(discMsg) = %v, %v; want &DiscRequested, true", reason, handled)
	}
	if reason, handled := s.handleBase(pongMsg, nil); !handled || reason != nil {
		t.Fatalf("handleBase(pongMsg) = %v, %v; want nil, true", reason, handled)
	}
	if reason, handled := s.handleBase(handshakeMsg, nil); !handled || reason == nil || *reason != DiscBadProtocol {
		t.Fatalf("handleBase(handshakeMsg) = %v, %v; want &DiscBadProtocol, true", reason, handled)
	}
	if _, handled := s.handleBase(baseProtocolLength, nil); handled {
		t.Fatal("handleBase must not claim a code at or above baseProtocolLength")
	}
}

func TestSessionRouteDispatchesToOwningCapability(t *testing.T) {
	caps := []*Capability{{
		Name:         "eth",
		MessageCount: 8,
		InterpretPacket: func(peer enode.ID, packetType uint32, payload rlp.RawValue) (bool, error) {
			return true, nil
		},
	}}
	s := newTestSession(t, caps)
	if reason := s.route(baseProtocolLength+2, nil); reason != nil {
		t.Fatalf("route() for a handled packet = %v, want nil", *reason)
	}
}

func TestSessionRouteUnknownCodeIsBadProtocol(t *testing.T) {
	caps := []*Capability{{Name: "eth", MessageCount: 8}}
	s := newTestSession(t, caps)
	reason := s.route(baseProtocolLength+50, nil)
	if reason == nil || *reason != DiscBadProtocol {
		t.Fatalf("route() for an unowned code = %v, want &DiscBadProtocol", reason)
	}
}

func TestSessionRouteDisabledCapabilityIsSilentlyDropped(t *testing.T) {
	called := false
	caps := []*Capability{{
		Name:         "eth",
		MessageCount: 8,
		InterpretPacket: func(peer enode.ID, packetType uint32, payload rlp.RawValue) (bool, error) {
			called = true
			return true, nil
		},
	}}
	s := newTestSession(t, caps)
	s.disabledCaps["eth"] = true

	if reason := s.route(baseProtocolLength+1, nil); reason != nil {
		t.Fatalf("route() for a disabled capability = %v, want nil", *reason)
	}
	if called {
		t.Fatal("a disabled capability's InterpretPacket must not run")
	}
}

func TestSessionRouteSubprotocolErrorDropsWithReason(t *testing.T) {
	caps := []*Capability{{
		Name:         "eth",
		MessageCount: 8,
		InterpretPacket: func(peer enode.ID, packetType uint32, payload rlp.RawValue) (bool, error) {
			return false, nil
		},
	}}
	s := newTestSession(t, caps)
	reason := s.route(baseProtocolLength, nil)
	if reason == nil || *reason != DiscSubprotocolError {
		t.Fatalf("route() when InterpretPacket declines = %v, want &DiscSubprotocolError", reason)
	}
}
