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
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aleth-go/aleth/log"
	"github.com/aleth-go/aleth/p2p/enode"
	"github.com/aleth-go/aleth/p2p/discover/v4wire"
)

var (
	errTimeout = errors.New("discover: RPC timeout")
	errClosed  = errors.New("discover: socket closed")
)

// pending is an outstanding request awaiting a correlated reply, matched by
// (sender id, echoed digest) per the concurrency model's ordering rule.
type pending struct {
	from     enode.ID
	deadline time.Time
	callback func(v4wire.Packet) (matched bool, done bool)
	errc     chan error
}

// UDPv4 drives the discovery socket: it frames, signs, sends and verifies
// Ping/Pong/FindNode/Neighbours datagrams and matches replies to callers
// blocked in ping/findnode.
type UDPv4 struct {
	conn    net.PacketConn
	priv    *ecdsa.PrivateKey
	self    *enode.Node
	limiter *rate.Limiter

	tab *Table

	addpending chan *pending
	gotreply   chan replyMatch

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

type replyMatch struct {
	from enode.ID
	pkt  v4wire.Packet
}

// ListenUDP starts a discovery socket bound to conn, returning the table it
// drives.
func ListenUDP(conn net.PacketConn, priv *ecdsa.PrivateKey, self *enode.Node) (*Table, error) {
	t := &UDPv4{
		conn:       conn,
		priv:       priv,
		self:       self,
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
		addpending: make(chan *pending),
		gotreply:   make(chan replyMatch),
		closeCh:    make(chan struct{}),
	}
	t.tab = newTable(t, self.ID())
	t.wg.Add(2)
	go t.readLoop()
	go t.dispatch()
	return t.tab, nil
}

// ListenUDPWithDB starts a discovery socket like ListenUDP, additionally
// seeding the table from, and persisting newly bonded entries to, a
// nodeDB at dbPath (§6.6's node-table half of saveNetwork/restoreNetwork).
// An empty dbPath keeps the database in memory only.
func ListenUDPWithDB(conn net.PacketConn, priv *ecdsa.PrivateKey, self *enode.Node, dbPath string) (*Table, error) {
	db, err := openNodeDB(dbPath)
	if err != nil {
		return nil, err
	}
	t := &UDPv4{
		conn:       conn,
		priv:       priv,
		self:       self,
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
		addpending: make(chan *pending),
		gotreply:   make(chan replyMatch),
		closeCh:    make(chan struct{}),
	}
	t.tab = newTable(t, self.ID())
	t.tab.db = db
	t.tab.seedBonded(db.restoreBonded())
	t.wg.Add(2)
	go t.readLoop()
	go t.dispatch()
	return t.tab, nil
}

// self implements transport.
func (t *UDPv4) self() *enode.Node { return t.self }

func (t *UDPv4) close() {
	t.closeOnce.Do(func() {
		close(t.closeCh)
		t.conn.Close()
	})
	t.wg.Wait()
}

// dispatch is the single goroutine owning the pending-request list,
// matching replies by (peer_id, digest) and expiring timed-out requests.
func (t *UDPv4) dispatch() {
	defer t.wg.Done()
	var plist []*pending
	timeout := time.NewTimer(0)
	<-timeout.C
	resetTimeout := func() {
		if len(plist) == 0 {
			return
		}
		timeout.Reset(time.Until(plist[0].deadline))
	}
	for {
		resetTimeout()
		select {
		case p := <-t.addpending:
			p.deadline = time.Now().Add(pingTimeout)
			plist = append(plist, p)
		case r := <-t.gotreply:
			for i, p := range plist {
				if p.from == r.from {
					matched, done := p.callback(r.pkt)
					if matched {
						p.errc <- nil
					}
					if done {
						plist = append(plist[:i], plist[i+1:]...)
					}
					break
				}
			}
		case <-timeout.C:
			now := time.Now()
			i := 0
			for _, p := range plist {
				if !p.deadline.After(now) {
					p.errc <- errTimeout
					continue
				}
				plist[i] = p
				i++
			}
			plist = plist[:i]
		case <-t.closeCh:
			for _, p := range plist {
				p.errc <- errClosed
			}
			return
		}
	}
}

func (t *UDPv4) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, v4wire.MaxPacketSize)
	for {
		n, from, err := t.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		t.handlePacket(from, buf[:n])
	}
}

func (t *UDPv4) handlePacket(from net.Addr, buf []byte) {
	packet, fromID, hash, err := v4wire.Decode(buf)
	if err != nil {
		log.Debug("discover: bad packet", "addr", from, "err", err)
		return
	}
	udpAddr, ok := from.(*net.UDPAddr)
	if !ok {
		return
	}
	switch p := packet.(type) {
	case *v4wire.Ping:
		if v4wire.Expired(p.Expiration) {
			return
		}
		t.reply(udpAddr, &v4wire.Pong{
			To:         v4wire.NewEndpoint(udpAddr.IP, p.From.TCP, uint16(udpAddr.Port)),
			ReplyTok:   hash,
			Expiration: uint64(time.Now().Add(20 * time.Second).Unix()),
		})
		if pub, err := fromID.Pubkey(); err == nil && !t.tab.isBonded(fromID) {
			n := enode.NewV4(pub, udpAddr.IP, int(p.From.TCP), udpAddr.Port)
			go t.tab.addThroughPing(n)
		}
	case *v4wire.Findnode:
		if v4wire.Expired(p.Expiration) {
			return
		}
		if !t.tab.isBonded(fromID) {
			return
		}
		closest := t.tab.closest(p.Target, bucketSize)
		// 12 nodes per Neighbors packet keeps each datagram under 1280 bytes.
		const maxNeighbors = 12
		for start := 0; start == 0 || start < len(closest); start += maxNeighbors {
			end := start + maxNeighbors
			if end > len(closest) {
				end = len(closest)
			}
			var reply v4wire.Neighbors
			reply.Expiration = uint64(time.Now().Add(20 * time.Second).Unix())
			for _, n := range closest[start:end] {
				reply.Nodes = append(reply.Nodes, v4wire.Node{
					IP: n.IP(), UDP: uint16(n.UDP()), TCP: uint16(n.TCP()), ID: n.ID(),
				})
			}
			t.reply(udpAddr, &reply)
		}
	default:
		t.gotreply <- replyMatch{from: fromID, pkt: packet}
	}
}

func (t *UDPv4) reply(to *net.UDPAddr, pkt v4wire.Packet) {
	packet, _, err := v4wire.Encode(t.priv, pkt)
	if err != nil {
		return
	}
	t.write(to, packet)
}

func (t *UDPv4) write(to *net.UDPAddr, packet []byte) {
	_ = t.limiter.Wait(context.Background())
	t.conn.WriteTo(packet, to)
}

// ping implements transport: sends a Ping and blocks for the matching Pong.
func (t *UDPv4) ping(n *node) error {
	if n.IP() == nil {
		return errors.New("discover: node has no IP")
	}
	addr := &net.UDPAddr{IP: n.IP(), Port: n.UDP()}
	req := &v4wire.Ping{
		Version:    4,
		From:       v4wire.NewEndpoint(t.self.IP(), uint16(t.self.TCP()), uint16(t.self.UDP())),
		To:         v4wire.NewEndpoint(n.IP(), uint16(n.TCP()), uint16(n.UDP())),
		Expiration: uint64(time.Now().Add(20 * time.Second).Unix()),
	}
	packet, hash, err := v4wire.Encode(t.priv, req)
	if err != nil {
		return err
	}
	errc := t.pending(n.ID(), func(p v4wire.Packet) (bool, bool) {
		pong, ok := p.(*v4wire.Pong)
		if !ok {
			return false, false
		}
		return bytes.Equal(pong.ReplyTok, hash), true
	})
	t.write(addr, packet)
	return <-errc
}

// findnode implements transport: sends a FindNode and collects Neighbours.
func (t *UDPv4) findnode(n *node, target enode.ID) ([]*node, error) {
	if n.IP() == nil {
		return nil, errors.New("discover: node has no IP")
	}
	addr := &net.UDPAddr{IP: n.IP(), Port: n.UDP()}
	req := &v4wire.Findnode{Target: target, Expiration: uint64(time.Now().Add(20 * time.Second).Unix())}
	packet, _, err := v4wire.Encode(t.priv, req)
	if err != nil {
		return nil, err
	}
	var result []*node
	errc := t.pending(n.ID(), func(p v4wire.Packet) (bool, bool) {
		reply, ok := p.(*v4wire.Neighbors)
		if !ok {
			return false, false
		}
		for _, rn := range reply.Nodes {
			pub, err := rn.ID.Pubkey()
			if err != nil {
				continue
			}
			result = append(result, &node{Node: enode.NewV4(pub, rn.IP, int(rn.TCP), int(rn.UDP))})
		}
		return true, true
	})
	t.write(addr, packet)
	if err := <-errc; err != nil {
		return nil, err
	}
	return result, nil
}

func (t *UDPv4) pending(id enode.ID, callback func(v4wire.Packet) (bool, bool)) <-chan error {
	ch := make(chan error, 1)
	p := &pending{from: id, callback: callback, errc: ch}
	select {
	case t.addpending <- p:
	case <-t.closeCh:
		ch <- errClosed
	}
	return ch
}
