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
	"encoding/binary"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aleth-go/aleth/p2p/enode"
	"github.com/aleth-go/aleth/p2p/enr"
)

// nodeDB persists the bonded subset of the node table across restarts, so a
// freshly started host can seed its routing table without re-bonding from
// scratch (§6.6).
type nodeDB struct {
	ldb *leveldb.DB
}

const (
	nodeDBVersion      = 8
	versionKey         = "version"
	nodePrefix         = "n:"
	recordSuffix       = ":enr"
	lastPongRecvSuffix = ":lastpongrecv"
	lastPongSentSuffix = ":lastpongsent"
)

// openNodeDB opens (and, if the stored schema is stale, wipes) the
// persisted node database at path. An empty path opens an in-memory store.
func openNodeDB(path string) (*nodeDB, error) {
	if path == "" {
		db, err := leveldb.Open(storage.NewMemStorage(), nil)
		if err != nil {
			return nil, err
		}
		return &nodeDB{ldb: db}, nil
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	n := &nodeDB{ldb: db}
	var want [8]byte
	binary.BigEndian.PutUint64(want[:], nodeDBVersion)
	have, err := db.Get([]byte(versionKey), nil)
	if err == leveldb.ErrNotFound || string(have) != string(want[:]) {
		it := db.NewIterator(nil, nil)
		for it.Next() {
			db.Delete(it.Key(), nil)
		}
		it.Release()
		db.Put([]byte(versionKey), want[:], nil)
	}
	return n, nil
}

func (db *nodeDB) close() { db.ldb.Close() }

func nodeKey(id enode.ID, suffix string) []byte {
	return append(append([]byte(nodePrefix), id.Bytes()...), []byte(suffix)...)
}

// storeRecord persists a node's latest signed record.
func (db *nodeDB) storeRecord(n *enode.Node) error {
	if n.Record() == nil {
		return nil
	}
	enc, err := n.Record().ENREncode()
	if err != nil {
		return err
	}
	return db.ldb.Put(nodeKey(n.ID(), recordSuffix), enc, nil)
}

// storeBondTimes persists the last-received and last-sent pong timestamps
// backing the bonded predicate.
func (db *nodeDB) storeBondTimes(id enode.ID, lastPongRecv, lastPongSent time.Time) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(lastPongRecv.Unix()))
	if err := db.ldb.Put(nodeKey(id, lastPongRecvSuffix), buf[:], nil); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(buf[:], uint64(lastPongSent.Unix()))
	return db.ldb.Put(nodeKey(id, lastPongSentSuffix), buf[:], nil)
}

func (db *nodeDB) bondTimes(id enode.ID) (lastPongRecv, lastPongSent time.Time) {
	if v, err := db.ldb.Get(nodeKey(id, lastPongRecvSuffix), nil); err == nil && len(v) == 8 {
		lastPongRecv = time.Unix(int64(binary.BigEndian.Uint64(v)), 0)
	}
	if v, err := db.ldb.Get(nodeKey(id, lastPongSentSuffix), nil); err == nil && len(v) == 8 {
		lastPongSent = time.Unix(int64(binary.BigEndian.Uint64(v)), 0)
	}
	return
}

// restoreBonded scans the persisted database, returning every node whose
// bond has not yet expired, seeded with its stored pong timestamp so the
// caller can repopulate the routing table without re-proving the endpoint.
func (db *nodeDB) restoreBonded() []*node {
	var out []*node
	it := db.ldb.NewIterator(util.BytesPrefix([]byte(nodePrefix)), nil)
	defer it.Release()
	seen := map[enode.ID]bool{}
	for it.Next() {
		key := it.Key()
		if len(key) < len(nodePrefix)+64 {
			continue
		}
		var id enode.ID
		copy(id[:], key[len(nodePrefix):len(nodePrefix)+64])
		if seen[id] {
			continue
		}
		seen[id] = true
		enc, err := db.ldb.Get(nodeKey(id, recordSuffix), nil)
		if err != nil {
			continue
		}
		r, err := enr.Decode(enc)
		if err != nil {
			continue
		}
		n, err := enode.New(r)
		if err != nil {
			continue
		}
		lastPongRecv, lastPongSent := db.bondTimes(id)
		entry := &node{Node: n, lastPongRecv: lastPongRecv, lastPongSent: lastPongSent}
		if entry.bonded() {
			out = append(out, entry)
		}
	}
	return out
}
