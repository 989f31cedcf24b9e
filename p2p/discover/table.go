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

// Package discover implements the Kademlia-like node table: endpoint-proof
// ("bonded") peer bookkeeping driven by UDP Ping/Pong/FindNode/Neighbours
// exchanges.
package discover

import (
	"crypto/rand"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/aleth-go/aleth/log"
	"github.com/aleth-go/aleth/p2p/enode"
)

const (
	alpha              = 3                // concurrent lookup requests
	maxLookupRounds    = 7                 // lookup stops after this many rounds
	refreshInterval    = 7200 * time.Millisecond
	revalidateInterval = 5 * time.Second
	pingTimeout        = 3 * time.Second
)

// transport is the RPC surface the table drives; a real v4wire.Conn backs it
// in production, a fake stands in for tests.
type transport interface {
	self() *enode.Node
	ping(n *node) error
	findnode(n *node, target enode.ID) ([]*node, error)
	close()
}

// Table is the Kademlia routing table: nBuckets buckets of up to bucketSize
// bonded entries each, indexed by XOR-distance bit position from self.
type Table struct {
	mu      sync.Mutex
	buckets [nBuckets]*bucket
	self    enode.ID

	net  transport
	rand *lockedRand
	db   *nodeDB // optional persisted bond state, see ListenUDPWithDB

	closeOnce sync.Once
	closeReq  chan struct{}
	closed    chan struct{}
}

func newTable(t transport, self enode.ID) *Table {
	tab := &Table{
		net:      t,
		self:     self,
		rand:     newLockedRand(),
		closeReq: make(chan struct{}),
		closed:   make(chan struct{}),
	}
	for i := range tab.buckets {
		tab.buckets[i] = &bucket{}
	}
	go tab.loop()
	return tab
}

func (tab *Table) close() {
	tab.closeOnce.Do(func() {
		close(tab.closeReq)
		<-tab.closed
		tab.net.close()
		if tab.db != nil {
			tab.db.close()
		}
	})
}

// seedBonded inserts restored, still-bonded entries directly into their
// buckets at startup, bypassing the ping proof since the database already
// vouches for them (§6.6's restoreNetwork).
func (tab *Table) seedBonded(entries []*node) {
	for _, n := range entries {
		tab.noteActive(n)
	}
}

// Close shuts down the table's background loop and its transport.
func (tab *Table) Close() { tab.close() }

// LookupRandom runs a lookup against a randomly chosen target, the same
// operation the refresh timer performs, exposed for callers (e.g. the Host)
// that want to force a round of discovery on demand.
func (tab *Table) LookupRandom() []*enode.Node {
	var target enode.ID
	tab.rand.Read(target[:])
	return tab.lookup(target)
}

// RandomNodes returns up to n bonded entries from across the table, suitable
// for seeding outbound dial candidates.
func (tab *Table) RandomNodes(n int) []*enode.Node {
	var target enode.ID
	tab.rand.Read(target[:])
	return tab.closest(target, n)
}

// loop runs the table's periodic refresh and revalidation. Buckets are also
// mutated outside it, by noteActive and addThroughPing on their callers'
// goroutines; every bucket access holds tab.mu.
func (tab *Table) loop() {
	defer close(tab.closed)
	refresh := time.NewTicker(refreshInterval)
	revalidate := time.NewTicker(revalidateInterval)
	defer refresh.Stop()
	defer revalidate.Stop()

	tab.doRefresh()
	for {
		select {
		case <-refresh.C:
			tab.doRefresh()
		case <-revalidate.C:
			tab.doRevalidate()
		case <-tab.closeReq:
			return
		}
	}
}

// doRefresh starts a lookup on a random target to keep buckets populated.
func (tab *Table) doRefresh() {
	var target enode.ID
	tab.rand.Read(target[:])
	tab.lookup(target)
}

// doRevalidate is the timeout sweep: expires the least-recently-confirmed
// entry of a random non-empty bucket if it fails to answer a fresh ping,
// promoting a queued replacement in its place.
func (tab *Table) doRevalidate() {
	tab.mu.Lock()
	var candidates []*bucket
	for _, b := range tab.buckets {
		if len(b.entries) > 0 {
			candidates = append(candidates, b)
		}
	}
	tab.mu.Unlock()
	if len(candidates) == 0 {
		return
	}
	b := candidates[tab.rand.Intn(len(candidates))]

	tab.mu.Lock()
	if len(b.entries) == 0 {
		tab.mu.Unlock()
		return
	}
	last := b.entries[0]
	tab.mu.Unlock()

	if err := tab.net.ping(last); err != nil {
		tab.mu.Lock()
		b.deleteEntry(last.ID())
		if r := b.popReplacement(); r != nil {
			b.entries = append(b.entries, r)
		}
		tab.mu.Unlock()
		log.Debug("discover: revalidate ping failed, dropped entry", "id", last.ID())
		return
	}
	last.lastPongRecv = time.Now()
	tab.mu.Lock()
	b.bump(last.ID())
	tab.mu.Unlock()
}

// lookup performs an iterative closest-node search for target, querying up
// to alpha bonded entries concurrently per round for up to maxLookupRounds
// rounds, or until a round surfaces no node it had not seen before.
func (tab *Table) lookup(target enode.ID) []*enode.Node {
	var (
		asked   = mapset.NewSet()
		seen    = mapset.NewSet()
		result  = tab.closest(target, bucketSize)
		reslock sync.Mutex
	)
	asked.Add(tab.self)
	for _, n := range result {
		seen.Add(n.ID())
	}

	for round := 0; round < maxLookupRounds; round++ {
		toAsk := tab.closestUnasked(result, asked, alpha)
		if len(toAsk) == 0 {
			break
		}
		var wg sync.WaitGroup
		progressed := false
		for _, n := range toAsk {
			asked.Add(n.ID())
			wg.Add(1)
			go func(n *node) {
				defer wg.Done()
				found, err := tab.net.findnode(n, target)
				if err != nil {
					return
				}
				reslock.Lock()
				defer reslock.Unlock()
				for _, f := range found {
					if f.ID() == tab.self {
						continue
					}
					if !seen.Contains(f.ID()) {
						seen.Add(f.ID())
						result = append(result, f.Node)
						progressed = true
					}
				}
			}(n)
		}
		wg.Wait()
		if !progressed {
			break
		}
		result = sortByDistance(target, result, bucketSize)
	}
	return result
}

// closest returns up to n entries from the whole table sorted by distance
// to target, bonded entries only.
func (tab *Table) closest(target enode.ID, n int) []*enode.Node {
	tab.mu.Lock()
	var all []*enode.Node
	for _, b := range tab.buckets {
		for _, e := range b.entries {
			if e.bonded() {
				all = append(all, e.Node)
			}
		}
	}
	tab.mu.Unlock()
	return sortByDistance(target, all, n)
}

// BondedEntry is the subset of a node-table entry that §6.6's saveNetwork
// persists: the endpoint/identity plus the two pong timestamps the bonded
// predicate is computed from.
type BondedEntry struct {
	Node         *enode.Node
	LastPongRecv time.Time
	LastPongSent time.Time
}

// AllBonded returns every currently bonded entry across all buckets, for
// the Host's saveNetwork (§6.6).
func (tab *Table) AllBonded() []BondedEntry {
	tab.mu.Lock()
	defer tab.mu.Unlock()
	var out []BondedEntry
	for _, b := range tab.buckets {
		for _, e := range b.entries {
			if e.bonded() {
				out = append(out, BondedEntry{Node: e.Node, LastPongRecv: e.lastPongRecv, LastPongSent: e.lastPongSent})
			}
		}
	}
	return out
}

func (tab *Table) closestUnasked(candidates []*enode.Node, asked mapset.Set, n int) []*node {
	var out []*node
	for _, c := range candidates {
		if asked.Contains(c.ID()) {
			continue
		}
		out = append(out, &node{Node: c})
		if len(out) == n {
			break
		}
	}
	return out
}

func sortByDistance(target enode.ID, nodes []*enode.Node, max int) []*enode.Node {
	less := func(i, j int) bool {
		return enode.DistCmp(target, nodes[i].ID(), nodes[j].ID()) < 0
	}
	insertionSortByLess(nodes, less)
	if len(nodes) > max {
		nodes = nodes[:max]
	}
	return nodes
}

func insertionSortByLess(nodes []*enode.Node, less func(i, j int) bool) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// addThroughPing starts the endpoint proof for an unknown node: only a
// successful Pong (producing a bonded entry) causes it to enter a bucket.
func (tab *Table) addThroughPing(n *enode.Node) {
	if n.ID() == tab.self {
		return
	}
	entry := &node{Node: n, addedAt: time.Now()}
	if err := tab.net.ping(entry); err != nil {
		return
	}
	entry.lastPongRecv = time.Now()
	tab.noteActive(entry)
}

// noteActive records a bonded observation of entry, per §4.9: move to
// most-recently-seen if present, append if room, else ping the oldest entry
// and evict whichever side fails to respond.
func (tab *Table) noteActive(entry *node) {
	if entry.ID() == tab.self || !entry.bonded() {
		return
	}
	b := tab.bucketFor(entry.ID())

	tab.mu.Lock()
	if b.bump(entry.ID()) {
		tab.mu.Unlock()
		tab.persist(entry)
		return
	}
	if len(b.entries) < bucketSize {
		b.entries = append(b.entries, entry)
		tab.mu.Unlock()
		tab.persist(entry)
		return
	}
	oldest := b.entries[0]
	tab.mu.Unlock()

	if err := tab.net.ping(oldest); err == nil {
		oldest.lastPongRecv = time.Now()
		tab.mu.Lock()
		b.bump(oldest.ID())
		tab.mu.Unlock()
		tab.persist(oldest)
		return
	}
	tab.mu.Lock()
	b.deleteEntry(oldest.ID())
	b.entries = append(b.entries, entry)
	tab.mu.Unlock()
	tab.persist(entry)
}

// persist writes entry's record and bond timestamps to the node database,
// if one is attached.
func (tab *Table) persist(entry *node) {
	if tab.db == nil {
		return
	}
	tab.db.storeRecord(entry.Node)
	tab.db.storeBondTimes(entry.ID(), entry.lastPongRecv, entry.lastPongSent)
}

// isBonded reports whether id currently has a live endpoint proof; only
// bonded senders are answered with FindNode results, per §4.8.
func (tab *Table) isBonded(id enode.ID) bool {
	b := tab.bucketFor(id)
	tab.mu.Lock()
	defer tab.mu.Unlock()
	i := b.indexOf(id)
	return i >= 0 && b.entries[i].bonded()
}

func (tab *Table) bucketFor(id enode.ID) *bucket {
	const bucketMinDistance = len(enode.ID{})*8 - nBuckets
	d := enode.LogDist(tab.self, id)
	if d <= bucketMinDistance {
		return tab.buckets[0]
	}
	return tab.buckets[d-bucketMinDistance-1]
}

// lockedRand is a concurrency-safe source of randomness for target
// selection; the table's loop goroutine and lookup workers share it.
type lockedRand struct {
	mu sync.Mutex
}

func newLockedRand() *lockedRand { return &lockedRand{} }

func (r *lockedRand) Read(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rand.Read(b)
}

func (r *lockedRand) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf [8]byte
	rand.Read(buf[:])
	v := uint64(0)
	for _, x := range buf {
		v = v<<8 | uint64(x)
	}
	return int(v % uint64(n))
}
