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

package discover

import (
	"time"

	"github.com/aleth-go/aleth/p2p/enode"
)

// bucketSize is the maximum number of entries a single bucket holds.
const bucketSize = 16

// nBuckets is the number of XOR-distance buckets. IDs are 512 bits, so
// bucket i holds log distance bucketMinDistance+1+i (see Table.bucketFor),
// and bucket 0 also holds every smaller nonzero distance.
const nBuckets = 255

// BondingLifetime is how long a bonded entry stays eligible to answer
// FindNode and be dialled, measured from its last accepted Pong.
const BondingLifetime = 12 * time.Hour

// node is one entry of the routing table: an enode.Node plus bonding and
// liveness bookkeeping.
type node struct {
	*enode.Node
	addedAt        time.Time
	lastPongRecv   time.Time
	lastPongSent   time.Time
	livenessChecks uint
}

// bonded reports whether this entry's endpoint proof is still fresh.
func (n *node) bonded() bool {
	return !n.lastPongRecv.IsZero() && time.Since(n.lastPongRecv) < BondingLifetime
}

// bucket holds up to bucketSize entries ordered least-recently-confirmed
// first (entries[0] is the next eviction candidate).
type bucket struct {
	entries      []*node
	replacements []*node
}

func (b *bucket) indexOf(id enode.ID) int {
	for i, n := range b.entries {
		if n.ID() == id {
			return i
		}
	}
	return -1
}

// bump moves an already-present entry to the most-recently-seen end.
func (b *bucket) bump(id enode.ID) bool {
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	n := b.entries[i]
	copy(b.entries[i:], b.entries[i+1:])
	b.entries[len(b.entries)-1] = n
	return true
}

// addReplacement records a candidate to take an evicted entry's place,
// keeping at most one slot's worth of spares.
func (b *bucket) addReplacement(n *node) {
	for _, r := range b.replacements {
		if r.ID() == n.ID() {
			return
		}
	}
	b.replacements = append(b.replacements, n)
	if len(b.replacements) > bucketSize {
		b.replacements = b.replacements[1:]
	}
}

// popReplacement removes and returns the most recently queued replacement,
// if any.
func (b *bucket) popReplacement() *node {
	if len(b.replacements) == 0 {
		return nil
	}
	n := b.replacements[len(b.replacements)-1]
	b.replacements = b.replacements[:len(b.replacements)-1]
	return n
}

// deleteEntry removes id from the live entries, reporting success.
func (b *bucket) deleteEntry(id enode.ID) bool {
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return true
}
