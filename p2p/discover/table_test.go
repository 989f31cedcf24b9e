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
	"errors"
	"net"
	"testing"
	"time"

	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/p2p/enode"
)

func newTestNode(t *testing.T, port int) *enode.Node {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return enode.NewV4(&key.PublicKey, net.ParseIP("127.0.0.1"), port, port)
}

func TestNodeBondedRequiresRecentPong(t *testing.T) {
	n := &node{Node: newTestNode(t, 30301)}
	if n.bonded() {
		t.Fatal("a node with no recorded pong must not be bonded")
	}
	n.lastPongRecv = time.Now()
	if !n.bonded() {
		t.Fatal("a node with a fresh pong must be bonded")
	}
	n.lastPongRecv = time.Now().Add(-(BondingLifetime + time.Second))
	if n.bonded() {
		t.Fatal("a node whose pong is older than BondingLifetime must not be bonded")
	}
}

func TestBucketNeverGrowsPastBucketSize(t *testing.T) {
	b := &bucket{}
	for i := 0; i < bucketSize+5; i++ {
		n := &node{Node: newTestNode(t, 30000+i), lastPongRecv: time.Now()}
		if len(b.entries) < bucketSize {
			b.entries = append(b.entries, n)
		} else {
			b.addReplacement(n)
		}
	}
	if len(b.entries) != bucketSize {
		t.Fatalf("bucket.entries len = %d, want %d", len(b.entries), bucketSize)
	}
	if len(b.replacements) != 5 {
		t.Fatalf("bucket.replacements len = %d, want 5", len(b.replacements))
	}
}

func TestBucketBumpMovesToMostRecentlySeenEnd(t *testing.T) {
	b := &bucket{}
	n1 := &node{Node: newTestNode(t, 30401)}
	n2 := &node{Node: newTestNode(t, 30402)}
	b.entries = []*node{n1, n2}

	if !b.bump(n1.ID()) {
		t.Fatal("bump on a present id must succeed")
	}
	if b.entries[len(b.entries)-1].ID() != n1.ID() {
		t.Fatal("bump must move the entry to the most-recently-seen end")
	}
	if b.bump(enode.ID{}) {
		t.Fatal("bump on an absent id must report false")
	}
}

func TestBucketDeleteEntry(t *testing.T) {
	b := &bucket{}
	n1 := &node{Node: newTestNode(t, 30501)}
	b.entries = []*node{n1}
	if !b.deleteEntry(n1.ID()) {
		t.Fatal("deleteEntry on a present id must succeed")
	}
	if len(b.entries) != 0 {
		t.Fatalf("entries len after delete = %d, want 0", len(b.entries))
	}
	if b.deleteEntry(n1.ID()) {
		t.Fatal("deleteEntry on an already-removed id must report false")
	}
}

// fakeTransport answers every ping with pingErr (nil means success) and
// findnode with no results, enough to drive noteActive/isBonded without
// real UDP I/O.
type fakeTransport struct {
	selfNode *enode.Node
	pingErr  error
}

func (f *fakeTransport) self() *enode.Node { return f.selfNode }
func (f *fakeTransport) ping(n *node) error { return f.pingErr }
func (f *fakeTransport) findnode(n *node, target enode.ID) ([]*node, error) {
	return nil, nil
}
func (f *fakeTransport) close() {}

func newTestTable(t *testing.T) (*Table, *fakeTransport) {
	t.Helper()
	selfKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	self := enode.NewV4(&selfKey.PublicKey, net.ParseIP("127.0.0.1"), 30300, 30300)
	ft := &fakeTransport{selfNode: self}
	tab := newTable(ft, self.ID())
	t.Cleanup(tab.Close)
	return tab, ft
}

func TestTableNoteActiveOnlyAcceptsBondedEntries(t *testing.T) {
	tab, _ := newTestTable(t)
	n := &node{Node: newTestNode(t, 30601)} // never pinged, not bonded
	tab.noteActive(n)
	if tab.isBonded(n.ID()) {
		t.Fatal("noteActive must ignore an entry with no recorded pong")
	}
}

func TestTableNoteActiveAcceptsFreshlyBondedEntry(t *testing.T) {
	tab, _ := newTestTable(t)
	n := &node{Node: newTestNode(t, 30602), lastPongRecv: time.Now()}
	tab.noteActive(n)
	if !tab.isBonded(n.ID()) {
		t.Fatal("noteActive must accept a freshly bonded entry")
	}
}

func TestTableIsBondedFalseForUnknownID(t *testing.T) {
	tab, _ := newTestTable(t)
	if tab.isBonded(enode.ID{}) {
		t.Fatal("isBonded must be false for an id never seen by the table")
	}
}

func TestTableAllBondedOmitsExpiredEntries(t *testing.T) {
	tab, _ := newTestTable(t)
	fresh := &node{Node: newTestNode(t, 30701), lastPongRecv: time.Now()}
	stale := &node{Node: newTestNode(t, 30702), lastPongRecv: time.Now().Add(-(BondingLifetime + time.Second))}
	tab.noteActive(fresh)

	b := tab.bucketFor(stale.ID())
	tab.mu.Lock()
	b.entries = append(b.entries, stale)
	tab.mu.Unlock()

	all := tab.AllBonded()
	for _, e := range all {
		if e.Node.ID() == stale.ID() {
			t.Fatal("AllBonded must not include an entry past BondingLifetime")
		}
	}
	found := false
	for _, e := range all {
		if e.Node.ID() == fresh.ID() {
			found = true
		}
	}
	if !found {
		t.Fatal("AllBonded must include a freshly bonded entry")
	}
}

func TestTableAddThroughPingSkipsOnFailure(t *testing.T) {
	tab, ft := newTestTable(t)
	ft.pingErr = errors.New("no reply")
	n := newTestNode(t, 30801)
	tab.addThroughPing(n)
	if tab.isBonded(n.ID()) {
		t.Fatal("addThroughPing must not bond a node whose ping fails")
	}
}

func TestTableAddThroughPingBondsOnSuccess(t *testing.T) {
	tab, _ := newTestTable(t)
	n := newTestNode(t, 30802)
	tab.addThroughPing(n)
	if !tab.isBonded(n.ID()) {
		t.Fatal("addThroughPing must bond a node whose ping succeeds")
	}
}
