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
	"net"
	"testing"
	"time"

	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/p2p/enode"
)

func newTestPeer(t *testing.T, required bool) *Peer {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	n := enode.NewV4(&key.PublicKey, net.ParseIP("127.0.0.1"), 30303, 30303)
	return NewPeer(n, required)
}

func TestDisconnectReasonCriticalAlwaysCritical(t *testing.T) {
	always := []DisconnectReason{
		DiscBadProtocol, DiscUselessPeer, DiscIncompatibleProtocol,
		DiscUnexpectedIdentity, DiscDuplicatePeer, DiscNullIdentity,
	}
	for _, r := range always {
		if !r.critical(0) {
			t.Fatalf("%s.critical(0) = false, want true", r)
		}
	}
}

func TestDisconnectReasonCriticalThresholds(t *testing.T) {
	cases := []struct {
		reason    DisconnectReason
		threshold uint32
	}{
		{DiscPingTimeout, 10},
		{DiscTCPError, 10},
		{DiscTooManyPeers, 10},
		{DiscClientQuit, 25},
		{DiscUserReason, 25},
	}
	for _, c := range cases {
		if c.reason.critical(c.threshold - 1) {
			t.Fatalf("%s.critical(%d) = true, want false", c.reason, c.threshold-1)
		}
		if !c.reason.critical(c.threshold) {
			t.Fatalf("%s.critical(%d) = false, want true", c.reason, c.threshold)
		}
	}
}

func TestDisconnectReasonCriticalNeverForRequested(t *testing.T) {
	if DiscRequested.critical(1_000_000) {
		t.Fatal("DiscRequested.critical() = true, want false at any attempt count")
	}
}

func TestPeerIsUselessRequiredNeverUseless(t *testing.T) {
	p := newTestPeer(t, true)
	p.noteDisconnect(DiscBadProtocol)
	if p.IsUseless() {
		t.Fatal("a Required peer must never be useless")
	}
}

func TestPeerIsUselessBeforeAnyDisconnect(t *testing.T) {
	p := newTestPeer(t, false)
	if p.IsUseless() {
		t.Fatal("a peer that has never disconnected must not be useless")
	}
}

func TestPeerIsUselessAfterBadProtocol(t *testing.T) {
	p := newTestPeer(t, false)
	p.noteDisconnect(DiscBadProtocol)
	if !p.IsUseless() {
		t.Fatal("DiscBadProtocol must make a non-required peer useless")
	}
}

func TestPeerFallbackSecondsRequiredIsShort(t *testing.T) {
	p := newTestPeer(t, true)
	p.noteDisconnect(DiscBadProtocol)
	if got := p.fallbackSeconds(); got != 5*time.Second {
		t.Fatalf("fallbackSeconds() for a required peer = %s, want 5s", got)
	}
}

func TestPeerFallbackSecondsUselessIsLong(t *testing.T) {
	p := newTestPeer(t, false)
	p.noteDisconnect(DiscBadProtocol)
	if got := p.fallbackSeconds(); got != 360*24*time.Hour {
		t.Fatalf("fallbackSeconds() for a useless peer = %s, want 360d", got)
	}
}

func TestPeerFallbackSecondsGrowsWithAttempts(t *testing.T) {
	p := newTestPeer(t, false)
	p.noteDisconnect(DiscTCPError)
	first := p.fallbackSeconds()
	p.noteDisconnect(DiscTCPError)
	second := p.fallbackSeconds()
	if second <= first {
		t.Fatalf("fallbackSeconds did not grow with failed attempts: %s then %s", first, second)
	}
}

func TestPeerNoteConnectedResetsFailedAttempts(t *testing.T) {
	p := newTestPeer(t, false)
	p.noteDisconnect(DiscTCPError)
	p.noteDisconnect(DiscTCPError)
	if p.FailedAttempts() == 0 {
		t.Fatal("FailedAttempts() should have advanced past 0")
	}
	p.noteConnected()
	if p.FailedAttempts() != 0 {
		t.Fatalf("FailedAttempts() after noteConnected = %d, want 0", p.FailedAttempts())
	}
}

func TestPeerNoteDisconnectRequestedDoesNotCountAsFailure(t *testing.T) {
	p := newTestPeer(t, false)
	p.noteDisconnect(DiscRequested)
	if p.FailedAttempts() != 0 {
		t.Fatalf("FailedAttempts() after DiscRequested = %d, want 0", p.FailedAttempts())
	}
}

func TestPeerHalveReputationOnBadProtocol(t *testing.T) {
	p := newTestPeer(t, false)
	p.AddRating(100)
	p.noteDisconnect(DiscBadProtocol)
	if got := p.Score(); got != 50 {
		t.Fatalf("Score() after DiscBadProtocol halving = %d, want 50", got)
	}
}

func TestPeerShouldReconnectFalseImmediatelyAfterAttempt(t *testing.T) {
	p := newTestPeer(t, false)
	p.noteAttempt()
	if p.ShouldReconnect() {
		t.Fatal("ShouldReconnect() must be false right after an attempt, before any backoff elapses")
	}
}

func TestPeerShouldReconnectFalseWhenUseless(t *testing.T) {
	p := newTestPeer(t, false)
	p.noteDisconnect(DiscBadProtocol)
	if p.ShouldReconnect() {
		t.Fatal("ShouldReconnect() must be false for a useless peer regardless of elapsed time")
	}
}
