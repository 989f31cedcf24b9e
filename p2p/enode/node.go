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
	"fmt"
	"net"

	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/p2p/enr"
)

// Node is a host discoverable on the network: an endpoint (NodeEndpoint, per
// the data model's (ip, udp_port, tcp_port) value type) bound to an identity
// via a signed record.
type Node struct {
	r  *enr.Record
	id ID

	ip      net.IP
	udpPort uint16
	tcpPort uint16
}

// New wraps a signed record into a Node, deriving its ID and endpoint from
// the record's well-known entries.
func New(r *enr.Record) (*Node, error) {
	if err := r.Verify(); err != nil {
		return nil, err
	}
	var pubBytes []byte
	if !r.Load("secp256k1", &pubBytes) {
		return nil, fmt.Errorf("enode: record has no secp256k1 entry")
	}
	pub, err := crypto.UnmarshalPubkey(append([]byte{0x04}, pubBytes...))
	if err != nil {
		return nil, err
	}
	n := &Node{r: r, id: PubkeyToID(pub)}
	var ipBytes []byte
	if r.Load("ip", &ipBytes) {
		n.ip = net.IP(ipBytes)
	}
	var udp uint16
	if r.Load("udp", &udp) {
		n.udpPort = udp
	}
	var tcp uint16
	if r.Load("tcp", &tcp) {
		n.tcpPort = tcp
	}
	return n, nil
}

// NewV4 builds an unsigned, ephemeral Node directly from a discovered
// (pubkey, ip, udpPort, tcpPort) tuple, the shape Ping/Pong/Neighbours carry
// on the wire before a full record has ever been exchanged.
func NewV4(pub *ecdsa.PublicKey, ip net.IP, tcpPort, udpPort int) *Node {
	return &Node{
		id:      PubkeyToID(pub),
		ip:      ip,
		tcpPort: uint16(tcpPort),
		udpPort: uint16(udpPort),
	}
}

// ID returns the node's 512-bit identity.
func (n *Node) ID() ID { return n.id }

// IP returns the node's advertised network address, or nil if unknown.
func (n *Node) IP() net.IP { return n.ip }

// UDP returns the discovery port.
func (n *Node) UDP() int { return int(n.udpPort) }

// TCP returns the RLPx listening port.
func (n *Node) TCP() int { return int(n.tcpPort) }

// Record returns the underlying signed record, or nil for a bare NewV4 node.
func (n *Node) Record() *enr.Record { return n.r }

// Seq returns the record's sequence number, or 0 for a bare NewV4 node.
func (n *Node) Seq() uint64 {
	if n.r == nil {
		return 0
	}
	return n.r.Seq()
}

// String renders the node as an "enode://<id>@<ip>:<tcpPort>?discport=<udpPort>" URL.
func (n *Node) String() string {
	u := fmt.Sprintf("enode://%s@%s", n.id.String(), n.addrString())
	if n.udpPort != 0 && n.udpPort != n.tcpPort {
		u += fmt.Sprintf("?discport=%d", n.udpPort)
	}
	return u
}

func (n *Node) addrString() string {
	if n.ip == nil {
		return fmt.Sprintf(":%d", n.tcpPort)
	}
	return fmt.Sprintf("%s:%d", n.ip.String(), n.tcpPort)
}

