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

// Package p2p implements the capability-multiplexed RLPx session (Peer and
// Session, §4.12) and the Host that dials, accepts and manages them (§4.13).
package p2p

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aleth-go/aleth/p2p/enode"
	"github.com/aleth-go/aleth/p2p/rlpx"
	"github.com/aleth-go/aleth/rlp"
)

// p2p-layer packet codes. Every Session reserves the ID range [0,
// baseProtocolLength) for itself; each registered capability is then handed
// a contiguous block starting at baseProtocolLength, per §4.12/§6.5.
const (
	handshakeMsg = 0x00
	discMsg      = 0x01
	pingMsg      = 0x02
	pongMsg      = 0x03

	baseProtocolLength = 0x10
)

// pingInterval is the host-wide cadence at which a Session pings its peer;
// pingTimeout is how long the Session waits for the matching pong before
// treating the connection as dead (§4.12, §5 timeouts).
const (
	pingInterval = 30 * time.Second
	pingTimeout  = 1 * time.Second
)

// DisconnectReason enumerates why a Session was torn down, per §7's
// DisconnectReason taxonomy.
type DisconnectReason uint8

const (
	DiscRequested DisconnectReason = iota
	DiscTCPError
	DiscBadProtocol
	DiscUselessPeer
	DiscTooManyPeers
	DiscDuplicatePeer
	DiscIncompatibleProtocol
	DiscNullIdentity
	DiscClientQuit
	DiscUnexpectedIdentity
	DiscPingTimeout
	DiscUserReason
	DiscSubprotocolError
	discReasonCount
)

var discReasonNames = [...]string{
	DiscRequested:            "disconnect requested",
	DiscTCPError:             "network error",
	DiscBadProtocol:          "breach of protocol",
	DiscUselessPeer:          "useless peer",
	DiscTooManyPeers:         "too many peers",
	DiscDuplicatePeer:        "already connected",
	DiscIncompatibleProtocol: "incompatible p2p protocol version",
	DiscNullIdentity:         "null node identity received",
	DiscClientQuit:           "client quitting",
	DiscUnexpectedIdentity:   "unexpected identity",
	DiscPingTimeout:          "ping timeout",
	DiscUserReason:           "subprotocol reason",
	DiscSubprotocolError:     "subprotocol error",
}

func (d DisconnectReason) String() string {
	if d < discReasonCount {
		return discReasonNames[d]
	}
	return fmt.Sprintf("unknown disconnect reason %d", uint8(d))
}

// critical reports whether d marks the peer as durably useless: per
// Peer.cpp's isUseless(), these reasons earn a near-permanent backoff rather
// than a retry schedule.
func (d DisconnectReason) critical(failedAttempts uint32) bool {
	switch d {
	case DiscBadProtocol, DiscUselessPeer, DiscIncompatibleProtocol, DiscUnexpectedIdentity, DiscDuplicatePeer, DiscNullIdentity:
		return true
	case DiscPingTimeout, DiscTCPError, DiscTooManyPeers:
		return failedAttempts >= 10
	case DiscClientQuit, DiscUserReason:
		return failedAttempts >= 25
	default:
		return false
	}
}

// Capability is the plug-in contract a sub-protocol implements to ride a
// Session, per §6.5.
type Capability struct {
	Name                   string
	Version                uint32
	MessageCount           uint32
	BackgroundWorkInterval time.Duration

	OnConnect        func(peer enode.ID, negotiatedVersion uint32)
	InterpretPacket  func(peer enode.ID, packetType uint32, payload rlp.RawValue) (handled bool, err error)
	OnDisconnect     func(peer enode.ID)
	DoBackgroundWork func()
}

// Peer is the durable, cross-reconnect identity and reputation record: the
// cumulative score, the trending rating, backoff state, and at most one
// live Session (Peer.h/Peer.cpp).
type Peer struct {
	Node     *enode.Node
	Required bool

	score          int32 // cumulative across reconnects, atomic
	rating         int32 // reset each session, atomic
	failedAttempts uint32

	mu              sync.Mutex
	lastConnected   time.Time
	lastAttempted   time.Time
	lastDisconnect  DisconnectReason
	hasDisconnected bool
	session         *Session
}

// NewPeer wraps a discovered node as a fresh, never-connected Peer record.
func NewPeer(n *enode.Node, required bool) *Peer {
	return &Peer{Node: n, Required: required}
}

func (p *Peer) ID() enode.ID { return p.Node.ID() }

// IsOffline reports whether the peer currently has no live Session.
func (p *Peer) IsOffline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session == nil
}

func (p *Peer) setSession(s *Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
}

// Score returns the all-time cumulative score.
func (p *Peer) Score() int32 { return atomic.LoadInt32(&p.score) }

// Rating returns the trending, per-session rating.
func (p *Peer) Rating() int32 { return atomic.LoadInt32(&p.rating) }

// AddRating adjusts both the trending rating and the cumulative score.
func (p *Peer) AddRating(delta int32) {
	atomic.AddInt32(&p.rating, delta)
	atomic.AddInt32(&p.score, delta)
}

// halveReputation halves both counters atomically in place, the penalty
// applied when a Session is dropped for DiscBadProtocol.
func (p *Peer) halveReputation() {
	halveAtomic(&p.rating)
	halveAtomic(&p.score)
}

func halveAtomic(v *int32) {
	for {
		old := atomic.LoadInt32(v)
		if atomic.CompareAndSwapInt32(v, old, old/2) {
			return
		}
	}
}

func (p *Peer) FailedAttempts() uint32 { return atomic.LoadUint32(&p.failedAttempts) }

func (p *Peer) noteAttempt() {
	p.mu.Lock()
	p.lastAttempted = time.Now()
	p.mu.Unlock()
}

func (p *Peer) noteConnected() {
	p.mu.Lock()
	p.lastConnected = time.Now()
	p.mu.Unlock()
	atomic.StoreUint32(&p.failedAttempts, 0)
}

func (p *Peer) noteFailedAttempt() {
	atomic.AddUint32(&p.failedAttempts, 1)
}

func (p *Peer) noteDisconnect(reason DisconnectReason) {
	p.mu.Lock()
	p.lastDisconnect = reason
	p.hasDisconnected = true
	p.session = nil
	p.mu.Unlock()
	if reason != DiscRequested && reason != DiscClientQuit {
		atomic.AddUint32(&p.failedAttempts, 1)
	}
	if reason == DiscBadProtocol {
		p.halveReputation()
	}
}

// IsUseless reports whether reconnecting to this peer is pointless, per
// Peer.cpp's isUseless(): required peers are never useless.
func (p *Peer) IsUseless() bool {
	if p.Required {
		return false
	}
	p.mu.Lock()
	reason, has := p.lastDisconnect, p.hasDisconnected
	p.mu.Unlock()
	if !has {
		return false
	}
	return reason.critical(p.FailedAttempts())
}

// fallbackSeconds returns how long to wait before reattempting a
// connection, mirroring Peer.cpp's fallbackSeconds() reason-weighted
// backoff schedule.
func (p *Peer) fallbackSeconds() time.Duration {
	if p.Required {
		return 5 * time.Second
	}
	if p.IsUseless() {
		return 360 * 24 * time.Hour
	}
	p.mu.Lock()
	reason := p.lastDisconnect
	p.mu.Unlock()
	attempts := time.Duration(p.FailedAttempts() + 1)
	switch reason {
	case DiscTCPError, DiscPingTimeout, DiscTooManyPeers:
		return 15 * time.Second * attempts
	case DiscClientQuit, DiscUserReason:
		return 25 * time.Second * attempts
	default:
		n := p.FailedAttempts()
		switch {
		case n == 0:
			return 5 * time.Second
		case n < 5:
			return time.Duration(n) * 5 * time.Second
		case n < 15:
			return (25 + time.Duration(n-5)*10) * time.Second
		default:
			return (25 + 100 + time.Duration(n-15)*20) * time.Second
		}
	}
}

// ShouldReconnect reports whether enough backoff time has elapsed and the
// peer is not durably useless (Peer.cpp's shouldReconnect()).
func (p *Peer) ShouldReconnect() bool {
	if p.IsUseless() {
		return false
	}
	p.mu.Lock()
	last := p.lastAttempted
	p.mu.Unlock()
	return time.Since(last) > p.fallbackSeconds()
}

// capBinding associates a negotiated capability with the packet-ID range
// the Session routes to it.
type capBinding struct {
	cap    *Capability
	offset uint32
}

// Session is a live, framed RLPx connection to a Peer: it owns the frame
// codec, multiplexes incoming packets to capabilities by ID range, and
// drains a single-writer egress queue (Session.h/Session.cpp).
type Session struct {
	peer *Peer
	conn *rlpx.FrameRW

	capsByName   map[string]*capBinding
	capOffsets   map[string]uint32
	disabledMu   sync.Mutex
	disabledCaps map[string]bool

	writeQueue chan rlp.RawValue
	closeOnce  sync.Once
	closed     chan struct{}

	lastPingSent time.Time
	pongTimer    *time.Timer

	onDrop func(*Session, DisconnectReason)
}

// NewSession builds a Session over an already-handshaked frame codec,
// registering the given capabilities starting at baseProtocolLength.
func NewSession(peer *Peer, conn *rlpx.FrameRW, caps []*Capability, onDrop func(*Session, DisconnectReason)) *Session {
	s := &Session{
		peer:         peer,
		conn:         conn,
		capsByName:   make(map[string]*capBinding, len(caps)),
		capOffsets:   make(map[string]uint32, len(caps)),
		disabledCaps: make(map[string]bool),
		writeQueue:   make(chan rlp.RawValue, 64),
		closed:       make(chan struct{}),
		onDrop:       onDrop,
	}
	offset := uint32(baseProtocolLength)
	for _, c := range caps {
		s.capsByName[c.Name] = &capBinding{cap: c, offset: offset}
		s.capOffsets[c.Name] = offset
		offset += c.MessageCount
	}
	peer.setSession(s)
	return s
}

// CapabilityOffset returns the packet-ID base assigned to name, if
// registered.
func (s *Session) CapabilityOffset(name string) (uint32, bool) {
	off, ok := s.capOffsets[name]
	return off, ok
}

// Start launches the read loop, the write-queue drain loop, and the
// host-wide ping ticker. It returns once the session has been dropped.
func (s *Session) Start() DisconnectReason {
	readErrs := make(chan DisconnectReason, 1)
	go s.readLoop(readErrs)
	go s.writeLoop()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case reason := <-readErrs:
			s.shutdown(reason)
			return reason
		case <-ticker.C:
			s.sendPing()
		case <-s.closed:
			return DiscRequested
		}
	}
}

func (s *Session) readLoop(errs chan<- DisconnectReason) {
	for {
		payload, err := s.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, rlpx.ErrBadProtocol) {
				errs <- DiscBadProtocol
			} else {
				errs <- DiscTCPError
			}
			return
		}
		code, body, err := decodePacket(payload)
		if err != nil {
			errs <- DiscBadProtocol
			return
		}
		if reason, handled := s.handleBase(code, body); handled {
			if reason != nil {
				errs <- *reason
				return
			}
			continue
		}
		if reason := s.route(code, body); reason != nil {
			errs <- *reason
			return
		}
	}
}

func decodePacket(frame []byte) (code uint32, body rlp.RawValue, err error) {
	s := rlp.NewStream(bytes.NewReader(frame), uint64(len(frame)))
	code64, err := s.Uint64()
	if err != nil {
		return 0, nil, err
	}
	raw, err := s.Raw()
	if err != nil {
		return 0, nil, err
	}
	return uint32(code64), rlp.RawValue(raw), nil
}

// handleBase processes a packet addressed to the p2p base layer itself
// (Hello/Disconnect/Ping/Pong); handled is false when code falls outside
// [0, baseProtocolLength) and must be routed to a capability instead.
func (s *Session) handleBase(code uint32, body rlp.RawValue) (*DisconnectReason, bool) {
	if code >= baseProtocolLength {
		return nil, false
	}
	switch code {
	case discMsg:
		reason := DiscRequested
		return &reason, true
	case pingMsg:
		s.sendPong()
		return nil, true
	case pongMsg:
		if s.pongTimer != nil {
			s.pongTimer.Stop()
		}
		return nil, true
	case handshakeMsg:
		reason := DiscBadProtocol
		return &reason, true
	default:
		return nil, true
	}
}

// route dispatches a non-base packet to the capability owning its
// allocated packet-ID range, per §6.1/§6.5.
func (s *Session) route(code uint32, body rlp.RawValue) *DisconnectReason {
	for name, b := range s.capsByName {
		if code < b.offset || code >= b.offset+b.cap.MessageCount {
			continue
		}
		s.disabledMu.Lock()
		disabled := s.disabledCaps[name]
		s.disabledMu.Unlock()
		if disabled {
			return nil
		}
		handled, err := b.cap.InterpretPacket(s.peer.ID(), code-b.offset, body)
		if err != nil || !handled {
			reason := DiscSubprotocolError
			return &reason
		}
		return nil
	}
	reason := DiscBadProtocol
	return &reason
}

func (s *Session) writeLoop() {
	for {
		select {
		case payload := <-s.writeQueue:
			if err := s.conn.WriteFrame(payload); err != nil {
				s.Disconnect(DiscTCPError)
				return
			}
		case <-s.closed:
			return
		}
	}
}

// Send enqueues a capability packet (packetType relative to the
// capability's own numbering) for the single writer goroutine to drain.
func (s *Session) Send(capName string, packetType uint32, data interface{}) error {
	b, ok := s.capsByName[capName]
	if !ok {
		return fmt.Errorf("p2p: unknown capability %q", capName)
	}
	return s.enqueue(b.offset+packetType, data)
}

func (s *Session) enqueue(code uint32, data interface{}) error {
	payload, err := encodePacket(code, data)
	if err != nil {
		return err
	}
	select {
	case s.writeQueue <- payload:
		return nil
	case <-s.closed:
		return io.ErrClosedPipe
	}
}

func encodePacket(code uint32, data interface{}) ([]byte, error) {
	codeEnc, err := rlp.EncodeToBytes(uint64(code))
	if err != nil {
		return nil, err
	}
	bodyEnc, err := rlp.EncodeToBytes(data)
	if err != nil {
		return nil, err
	}
	return append(codeEnc, bodyEnc...), nil
}

func (s *Session) sendPing() {
	s.lastPingSent = time.Now()
	s.enqueue(pingMsg, []byte{})
	s.pongTimer = time.AfterFunc(pingTimeout, func() { s.Disconnect(DiscPingTimeout) })
}

func (s *Session) sendPong() {
	s.enqueue(pongMsg, []byte{})
}

// Disconnect requests an orderly teardown, sending a Disconnect packet if
// the socket is still alive.
func (s *Session) Disconnect(reason DisconnectReason) {
	s.enqueue(discMsg, []uint32{uint32(reason)})
	s.shutdown(reason)
}

func (s *Session) shutdown(reason DisconnectReason) {
	s.closeOnce.Do(func() {
		close(s.closed)
		for _, b := range s.capsByName {
			if b.cap.OnDisconnect != nil {
				b.cap.OnDisconnect(s.peer.ID())
			}
		}
		s.peer.noteDisconnect(reason)
		if s.onDrop != nil {
			s.onDrop(s, reason)
		}
	})
}
