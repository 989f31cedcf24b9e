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

package enode

import (
	"crypto/ecdsa"
	"net"
	"sync"

	"github.com/aleth-go/aleth/p2p/enr"
)

// LocalNode produces and maintains this host's own signed record, bumping
// its sequence number whenever the observed endpoint changes.
type LocalNode struct {
	mu   sync.Mutex
	key  *ecdsa.PrivateKey
	seq  uint64
	ip   net.IP
	udp  uint16
	tcp  uint16
	self *Node
}

// NewLocalNode creates a LocalNode signing with key, starting from the given
// sequence number (0 means "start fresh, first Sign call uses seq 1").
func NewLocalNode(key *ecdsa.PrivateKey, seq uint64) *LocalNode {
	ln := &LocalNode{key: key, seq: seq}
	ln.sign()
	return ln
}

// Node returns the current signed record wrapped as a Node.
func (ln *LocalNode) Node() *Node {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	return ln.self
}

// ID returns this host's identity.
func (ln *LocalNode) ID() ID { return PubkeyToID(&ln.key.PublicKey) }

// SetIP updates the advertised IP, resigning with a bumped sequence number
// if it actually changed.
func (ln *LocalNode) SetIP(ip net.IP) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.ip.Equal(ip) {
		return
	}
	ln.ip = ip
	ln.sign()
}

// SetUDP updates the advertised discovery port.
func (ln *LocalNode) SetUDP(port uint16) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.udp == port {
		return
	}
	ln.udp = port
	ln.sign()
}

// SetTCP updates the advertised RLPx listening port.
func (ln *LocalNode) SetTCP(port uint16) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if ln.tcp == port {
		return
	}
	ln.tcp = port
	ln.sign()
}

// sign rebuilds and re-signs the record under ln.mu.
func (ln *LocalNode) sign() {
	ln.seq++
	r := new(enr.Record)
	r.SetSeq(ln.seq)
	if ln.ip != nil {
		if ip4 := ln.ip.To4(); ip4 != nil {
			r.SetIP(ip4)
		} else {
			r.SetIP(ln.ip.To16())
		}
	}
	if ln.udp != 0 {
		r.SetUDP(ln.udp)
	}
	if ln.tcp != 0 {
		r.SetTCP(ln.tcp)
	}
	if err := r.Sign(ln.key); err != nil {
		panic("enode: local record signing failed: " + err.Error())
	}
	n, err := New(r)
	if err != nil {
		panic("enode: local record does not parse back: " + err.Error())
	}
	ln.self = n
}
