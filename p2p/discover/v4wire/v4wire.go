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

// Package v4wire implements the wire format of the discovery UDP protocol:
// typed, signed, expiring datagrams exchanged by the node table to bond
// peers and look up nodes close to a target.
package v4wire

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"net"
	"time"

	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/p2p/enode"
	"github.com/aleth-go/aleth/rlp"
)

// MaxPacketSize is the discovery layer's datagram size cap; Neighbours is
// split across several packets rather than exceeding it.
const MaxPacketSize = 1280

// Packet type bytes.
const (
	PingPacket = iota + 1
	PongPacket
	FindnodePacket
	NeighborsPacket
)

var (
	ErrPacketTooSmall = errors.New("v4wire: too small")
	ErrBadHash        = errors.New("v4wire: hash mismatch")
	ErrExpired        = errors.New("v4wire: packet expired")
	ErrBadType        = errors.New("v4wire: unknown packet type")
)

// Endpoint is the wire (ip, udp_port, tcp_port) value type.
type Endpoint struct {
	IP  net.IP
	UDP uint16
	TCP uint16
}

// NewEndpoint builds an Endpoint from a node's advertised address.
func NewEndpoint(ip net.IP, tcpPort, udpPort uint16) Endpoint {
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return Endpoint{IP: ip, UDP: udpPort, TCP: tcpPort}
}

// Packet is implemented by each of the four datagram bodies.
type Packet interface {
	Kind() byte
}

// Ping proposes an endpoint and asks the recipient to bond.
type Ping struct {
	Version    uint
	From, To   Endpoint
	Expiration uint64
}

func (*Ping) Kind() byte { return PingPacket }

// Pong echoes back the digest of an outstanding Ping, proving the endpoint.
type Pong struct {
	To         Endpoint
	ReplyTok   []byte
	Expiration uint64
}

func (*Pong) Kind() byte { return PongPacket }

// Findnode asks for the nodes closest to Target.
type Findnode struct {
	Target     enode.ID
	Expiration uint64
}

func (*Findnode) Kind() byte { return FindnodePacket }

// Node is one entry of a Neighbours response.
type Node struct {
	IP  net.IP
	UDP uint16
	TCP uint16
	ID  enode.ID
}

// Neighbors answers a Findnode with nodes close to the requested target.
type Neighbors struct {
	Nodes      []Node
	Expiration uint64
}

func (*Neighbors) Kind() byte { return NeighborsPacket }

// sizes of the fixed header fields, per §4.8: 32-byte digest, 65-byte
// signature, 1-byte type.
const (
	hashSize      = 32
	sigSize       = 65
	headSize      = hashSize + sigSize
)

// Encode wire-frames a packet as
// [ digest | signature | type | body ] with digest = hash(signature||type||body)
// and signature = sign(priv, hash(type||body)).
func Encode(priv *ecdsa.PrivateKey, req Packet) (packet, hash []byte, err error) {
	b := new(bytes.Buffer)
	b.WriteByte(req.Kind())
	if err := rlp.Encode(b, req); err != nil {
		return nil, nil, err
	}
	body := b.Bytes()

	sig, err := crypto.Sign(crypto.Keccak256(body), priv)
	if err != nil {
		return nil, nil, err
	}
	packet = make([]byte, headSize+len(body))
	copy(packet[headSize:], body)
	copy(packet[hashSize:headSize], sig)
	hash = crypto.Keccak256(packet[hashSize:])
	copy(packet[:hashSize], hash)
	return packet, hash, nil
}

// Decode parses a wire packet, verifying its digest and recovering the
// sender's public key from the embedded signature.
func Decode(input []byte) (Packet, enode.ID, []byte, error) {
	if len(input) < headSize+1 {
		return nil, enode.ID{}, nil, ErrPacketTooSmall
	}
	hash, sig, sigdata := input[:hashSize], input[hashSize:headSize], input[headSize:]
	shouldhash := crypto.Keccak256(input[hashSize:])
	if !bytes.Equal(hash, shouldhash) {
		return nil, enode.ID{}, nil, ErrBadHash
	}
	fromPub, err := crypto.Ecrecover(crypto.Keccak256(sigdata), sig)
	if err != nil {
		return nil, enode.ID{}, nil, err
	}
	pubkey, err := crypto.UnmarshalPubkey(fromPub)
	if err != nil {
		return nil, enode.ID{}, nil, err
	}
	fromID := enode.PubkeyToID(pubkey)

	var req Packet
	switch ptype := sigdata[0]; ptype {
	case PingPacket:
		req = new(Ping)
	case PongPacket:
		req = new(Pong)
	case FindnodePacket:
		req = new(Findnode)
	case NeighborsPacket:
		req = new(Neighbors)
	default:
		return nil, fromID, hash, ErrBadType
	}
	if err := rlp.DecodeBytes(sigdata[1:], req); err != nil {
		return nil, fromID, hash, err
	}
	return req, fromID, hash, nil
}

// Expired reports whether a packet's Expiration timestamp has passed.
func Expired(ts uint64) bool {
	return time.Unix(int64(ts), 0).Before(time.Now())
}
