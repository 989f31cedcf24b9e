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
	"errors"
	"sync"

	"github.com/aleth-go/aleth/log"
	"github.com/aleth-go/aleth/p2p/enode"
)

var errUnknownPeer = errors.New("p2p: unknown peer")

// subReputation is one capability's standing for one peer. Of
// original_source/libp2p/Host.h's SubReputation it keeps only isRude.
type subReputation struct {
	isRude bool
}

// ReputationManager tracks per-(peer, sub-capability) standing across
// reconnects, grounded on Host.h's ReputationManager.
type ReputationManager struct {
	mu    sync.Mutex
	nodes map[enode.ID]map[string]*subReputation
}

// NewReputationManager returns an empty manager.
func NewReputationManager() *ReputationManager {
	return &ReputationManager{nodes: make(map[enode.ID]map[string]*subReputation)}
}

func (r *ReputationManager) entry(id enode.ID, sub string) *subReputation {
	subs, ok := r.nodes[id]
	if !ok {
		subs = make(map[string]*subReputation)
		r.nodes[id] = subs
	}
	rep, ok := subs[sub]
	if !ok {
		rep = &subReputation{}
		subs[sub] = rep
	}
	return rep
}

// NoteRude marks id impolite under sub (empty string means the base p2p
// layer itself), matching Host.h's noteRude.
func (r *ReputationManager) NoteRude(id enode.ID, sub string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(id, sub).isRude = true
}

// IsRude reports whether id has previously been marked rude under sub.
func (r *ReputationManager) IsRude(id enode.ID, sub string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, ok := r.nodes[id]
	if !ok {
		return false
	}
	rep, ok := subs[sub]
	return ok && rep.isRude
}

// CapabilityHost is the handle (§6.5) every registered Capability receives:
// it is the only way a capability may touch sessions, since capabilities
// themselves hold no socket or session references.
type CapabilityHost struct {
	srv *Server
}

// NewCapabilityHost returns the handle bound to srv.
func NewCapabilityHost(srv *Server) *CapabilityHost {
	return &CapabilityHost{srv: srv}
}

// Disconnect drops the session with id for the given reason.
func (h *CapabilityHost) Disconnect(id enode.ID, reason DisconnectReason) {
	h.srv.mu.Lock()
	s, ok := h.srv.sessions[id]
	h.srv.mu.Unlock()
	if ok {
		s.Disconnect(reason)
	}
}

// DisableCapability marks capName disabled on id's session: further packets
// addressed to it are silently ignored instead of routed, per Session.cpp's
// disableCapability (used when a capability detects a protocol violation it
// doesn't want to escalate to a full disconnect).
func (h *CapabilityHost) DisableCapability(id enode.ID, capName string, problem string) {
	h.srv.mu.Lock()
	s, ok := h.srv.sessions[id]
	h.srv.mu.Unlock()
	if !ok {
		return
	}
	s.disabledMu.Lock()
	s.disabledCaps[capName] = true
	s.disabledMu.Unlock()
	log.Info("p2p: capability disabled", "peer", id.String()[:16], "cap", capName, "problem", problem)
}

// SendFramed enqueues a capability-relative packet to id's session.
func (h *CapabilityHost) SendFramed(id enode.ID, capName string, packetType uint32, data interface{}) error {
	h.srv.mu.Lock()
	s, ok := h.srv.sessions[id]
	h.srv.mu.Unlock()
	if !ok {
		return errUnknownPeer
	}
	return s.Send(capName, packetType, data)
}

// IsRude reports whether id has previously misbehaved under sub.
func (h *CapabilityHost) IsRude(id enode.ID, sub string) bool {
	return h.srv.reputation.IsRude(id, sub)
}

// SetRude records id as having misbehaved under sub.
func (h *CapabilityHost) SetRude(id enode.ID, sub string) {
	h.srv.reputation.NoteRude(id, sub)
}

// ForEachPeer calls f for every peer currently running capability capName,
// stopping early if f returns false.
func (h *CapabilityHost) ForEachPeer(capName string, f func(enode.ID) bool) {
	h.srv.mu.Lock()
	ids := make([]enode.ID, 0, len(h.srv.sessions))
	for id, s := range h.srv.sessions {
		if _, ok := s.capsByName[capName]; ok {
			ids = append(ids, id)
		}
	}
	h.srv.mu.Unlock()
	for _, id := range ids {
		if !f(id) {
			return
		}
	}
}

// PostWork runs fn on a new goroutine of its own. It is not serialized with
// the Host's network event loop or with other posted work.
func (h *CapabilityHost) PostWork(fn func()) {
	go fn()
}
