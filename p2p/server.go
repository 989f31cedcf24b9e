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
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aleth-go/aleth/crypto"
	"github.com/aleth-go/aleth/log"
	"github.com/aleth-go/aleth/p2p/discover"
	"github.com/aleth-go/aleth/p2p/enode"
	"github.com/aleth-go/aleth/p2p/nat"
	"github.com/aleth-go/aleth/p2p/rlpx"
	"github.com/aleth-go/aleth/rlp"
)

// tickInterval is the Host's main-loop cadence (§4.13).
const tickInterval = 100 * time.Millisecond

// Default slot-policy and timing constants (§4.13, §5).
const (
	DefaultIdealPeerCount = 11
	DefaultIngressStretch = 7.0 / 11.0 // yields an ingress budget of 7 at the default ideal count
	DefaultMaxPending     = 16

	handshakeTimeout = 15 * time.Second
	logTickInterval  = 30 * time.Second
)

// Config is the explicit struct an embedder builds and hands to NewServer;
// per SPEC_FULL.md §3.3 there is no on-disk configuration or CLI parsing.
type Config struct {
	PrivateKey      *ecdsa.PrivateKey
	ListenAddr      string // TCP RLPx listen address, e.g. "0.0.0.0:30303"
	ClientVersion   string
	Capabilities    []*Capability
	BootstrapNodes  []*enode.Node
	StaticNodes     []*enode.Node
	IdealPeerCount  int
	IngressStretch  float64
	MaxPendingPeers int
	NoDiscovery     bool
	NAT             bool
	NodeDatabase    string // leveldb path for the node table; "" for in-memory
}

func (c *Config) idealPeerCount() int {
	if c.IdealPeerCount > 0 {
		return c.IdealPeerCount
	}
	return DefaultIdealPeerCount
}

func (c *Config) ingressBudget() int {
	stretch := c.IngressStretch
	if stretch <= 0 {
		stretch = DefaultIngressStretch
	}
	return int(float64(c.idealPeerCount())*stretch + 0.5)
}

func (c *Config) maxPending() int {
	if c.MaxPendingPeers > 0 {
		return c.MaxPendingPeers
	}
	return DefaultMaxPending
}

// Server is the Host (C15): it owns the TCP acceptor, the UDP discovery
// table, the peer registry, the capability registry, and the network event
// loop that drives dialing and slot policy (§4.13). Each Session sends its
// own periodic pings.
type Server struct {
	config    Config
	localNode *enode.LocalNode
	table     *discover.Table
	natMapper *nat.Mapper

	listener net.Listener
	udpConn  net.PacketConn

	mu       sync.Mutex
	peers    map[enode.ID]*Peer
	sessions map[enode.ID]*Session
	pending  int // inbound handshakes currently in flight

	reputation *ReputationManager

	quit      chan struct{}
	loopWG    sync.WaitGroup
	closeOnce sync.Once
}

// NewServer constructs a Host from an explicit Config value; it does not
// start networking (see Start).
func NewServer(cfg Config) *Server {
	return &Server{
		config:     cfg,
		peers:      make(map[enode.ID]*Peer),
		sessions:   make(map[enode.ID]*Session),
		reputation: NewReputationManager(),
		quit:       make(chan struct{}),
	}
}

// LocalNode returns the host's own advertised record, valid only after
// Start.
func (srv *Server) LocalNode() *enode.Node { return srv.localNode.Node() }

// Start binds TCP and UDP, opens the node table, maps the external port if
// configured, and kicks off the accept/dial/tick loops (§4.13 step 1-2).
func (srv *Server) Start() error {
	if srv.config.PrivateKey == nil {
		return errors.New("p2p: Config.PrivateKey is required")
	}
	ln, err := net.Listen("tcp", srv.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("p2p: listen tcp: %w", err)
	}
	srv.listener = ln

	tcpAddr := ln.Addr().(*net.TCPAddr)
	srv.localNode = enode.NewLocalNode(srv.config.PrivateKey, 1)
	srv.localNode.SetTCP(uint16(tcpAddr.Port))

	if srv.config.NAT {
		if m, err := nat.Discover(); err == nil {
			srv.natMapper = m
			if err := m.Map(tcpAddr.Port); err != nil {
				log.Warn("p2p: NAT port mapping failed", "err", err)
			} else if ip := m.ExternalIP(); ip != nil {
				srv.localNode.SetIP(ip)
			}
		} else {
			log.Debug("p2p: no NAT gateway found", "err", err)
		}
	}

	if !srv.config.NoDiscovery {
		udpAddr, err := net.ResolveUDPAddr("udp", srv.config.ListenAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("p2p: resolve udp addr: %w", err)
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("p2p: listen udp: %w", err)
		}
		srv.udpConn = conn
		srv.localNode.SetUDP(uint16(conn.LocalAddr().(*net.UDPAddr).Port))

		table, err := discover.ListenUDPWithDB(conn, srv.config.PrivateKey, srv.localNode.Node(), srv.config.NodeDatabase)
		if err != nil {
			ln.Close()
			conn.Close()
			return fmt.Errorf("p2p: start discovery: %w", err)
		}
		srv.table = table
		for _, n := range srv.config.BootstrapNodes {
			srv.AddPeer(n, false)
		}
	}

	for _, n := range srv.config.StaticNodes {
		srv.AddPeer(n, true)
	}

	srv.loopWG.Add(2)
	go srv.acceptLoop()
	go srv.runLoop()
	log.Info("p2p: host started", "enode", srv.localNode.Node().String())
	return nil
}

// Stop tears the Host down: cancels the node table, stops the acceptor, and
// disconnects every live session with ClientQuit (§4.13 step 3).
func (srv *Server) Stop() {
	srv.closeOnce.Do(func() {
		close(srv.quit)
		if srv.listener != nil {
			srv.listener.Close()
		}
		if srv.table != nil {
			srv.table.Close()
		}
		if srv.udpConn != nil {
			srv.udpConn.Close()
		}
		if srv.natMapper != nil {
			srv.natMapper.Unmap()
		}
		srv.loopWG.Wait()

		srv.mu.Lock()
		sessions := make([]*Session, 0, len(srv.sessions))
		for _, s := range srv.sessions {
			sessions = append(sessions, s)
		}
		srv.mu.Unlock()
		for _, s := range sessions {
			s.Disconnect(DiscClientQuit)
		}
	})
}

// AddPeer registers node as a peer the Host should try to stay connected
// to; required marks it as one ShouldReconnect never gives up on. A node
// already tracked is left untouched.
func (srv *Server) AddPeer(n *enode.Node, required bool) *Peer {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if p, ok := srv.peers[n.ID()]; ok {
		return p
	}
	p := NewPeer(n, required)
	srv.peers[n.ID()] = p
	return p
}

// PeerCount returns the number of live sessions.
func (srv *Server) PeerCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

// egressCount reports the number of live sessions whose peer is not
// Required, whichever side dialled. Sessions carry no direction, so
// ingressCount reports the same number.
func (srv *Server) egressCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	n := 0
	for id := range srv.sessions {
		if p, ok := srv.peers[id]; ok && p.Required {
			continue
		}
		n++
	}
	return n
}

func (srv *Server) ingressCount() int {
	return srv.egressCount()
}

// acceptLoop accepts inbound TCP connections and hands each to a handshake
// goroutine; connections arriving past the ingress slot budget are kept
// just long enough to send TooManyPeers (§4.13 Slot policy).
func (srv *Server) acceptLoop() {
	defer srv.loopWG.Done()
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.quit:
				return
			default:
				log.Warn("p2p: accept error", "err", err)
				continue
			}
		}
		go srv.handleInbound(conn)
	}
}

func (srv *Server) handleInbound(conn net.Conn) {
	defer conn.Close()

	srv.mu.Lock()
	if srv.pending >= srv.config.maxPending() {
		srv.mu.Unlock()
		conn.Close()
		return
	}
	srv.pending++
	srv.mu.Unlock()
	defer func() {
		srv.mu.Lock()
		srv.pending--
		srv.mu.Unlock()
	}()

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	secrets, remotePub, err := rlpx.RecipientHandshake(conn, srv.config.PrivateKey)
	if err != nil {
		log.Debug("p2p: inbound handshake failed", "addr", conn.RemoteAddr(), "err", err)
		return
	}
	conn.SetDeadline(time.Time{})

	id := enode.PubkeyToID(remotePub)
	n := enode.NewV4(remotePub, conn.RemoteAddr().(*net.TCPAddr).IP, 0, 0)
	peer := srv.AddPeer(n, false)

	if srv.ingressCount() >= srv.config.ingressBudget() && !peer.Required {
		srv.sendTooManyPeers(conn, secrets)
		return
	}

	srv.establishSession(conn, secrets, peer, id)
}

// sendTooManyPeers writes a single p2p Disconnect(TooManyPeers) frame and
// closes the socket, the §4.13 behaviour for ingress connections that
// arrive past the slot budget.
func (srv *Server) sendTooManyPeers(conn net.Conn, secrets rlpx.Secrets) {
	rw, err := rlpx.NewFrameRW(conn, secrets)
	if err != nil {
		return
	}
	payload, err := encodePacket(discMsg, []uint32{uint32(DiscTooManyPeers)})
	if err == nil {
		rw.WriteFrame(payload)
	}
}

// dialPeer performs an outbound TCP connection and initiator handshake to
// peer, then establishes a Session on success.
func (srv *Server) dialPeer(peer *Peer) error {
	peer.noteAttempt()
	addr := net.JoinHostPort(peer.Node.IP().String(), fmt.Sprintf("%d", peer.Node.TCP()))
	conn, err := net.DialTimeout("tcp", addr, handshakeTimeout)
	if err != nil {
		peer.noteFailedAttempt()
		return err
	}

	remotePub, err := peer.Node.ID().Pubkey()
	if err != nil {
		conn.Close()
		peer.noteFailedAttempt()
		return err
	}

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	secrets, err := rlpx.InitiatorHandshake(conn, srv.config.PrivateKey, remotePub)
	if err != nil {
		conn.Close()
		peer.noteDisconnect(DiscIncompatibleProtocol)
		return err
	}
	conn.SetDeadline(time.Time{})

	srv.establishSession(conn, secrets, peer, peer.ID())
	return nil
}

// establishSession builds the frame codec and Session over an
// already-handshaked socket, registers it, and runs it until it drops.
func (srv *Server) establishSession(conn net.Conn, secrets rlpx.Secrets, peer *Peer, id enode.ID) {
	rw, err := rlpx.NewFrameRW(conn, secrets)
	if err != nil {
		conn.Close()
		peer.noteDisconnect(DiscTCPError)
		return
	}

	srv.mu.Lock()
	if _, dup := srv.sessions[id]; dup {
		srv.mu.Unlock()
		conn.Close()
		return
	}
	sess := NewSession(peer, rw, srv.config.Capabilities, srv.onSessionDrop)
	srv.sessions[id] = sess
	srv.mu.Unlock()

	peer.noteConnected()
	for _, c := range srv.config.Capabilities {
		if c.OnConnect != nil {
			c.OnConnect(id, c.Version)
		}
	}
	log.Info("p2p: session established", "peer", id.String()[:16], "addr", conn.RemoteAddr())
	sess.Start()
}

func (srv *Server) onSessionDrop(s *Session, reason DisconnectReason) {
	srv.mu.Lock()
	delete(srv.sessions, s.peer.ID())
	srv.mu.Unlock()
	if reason == DiscBadProtocol {
		srv.reputation.NoteRude(s.peer.ID(), "")
	}
	log.Info("p2p: session dropped", "peer", s.peer.ID().String()[:16], "reason", reason)
}

// runLoop is the network event thread: a 100ms tick drives dial attempts
// (and with them the egress slot budget, §4.13 step 2), and a coarser
// ticker drives the peer-count log line.
func (srv *Server) runLoop() {
	defer srv.loopWG.Done()
	tick := time.NewTicker(tickInterval)
	logTick := time.NewTicker(logTickInterval)
	defer tick.Stop()
	defer logTick.Stop()

	for {
		select {
		case <-srv.quit:
			return
		case <-tick.C:
			srv.dialRound()
		case <-logTick.C:
			log.Info("p2p: active peers", "count", srv.PeerCount())
		}
	}
}

// dialRound fans out concurrent dial attempts, bounded by the remaining
// egress slot budget (idealPeerCount minus egressCount), to every known
// Peer whose backoff has elapsed (§4.13 step 2).
func (srv *Server) dialRound() {
	budget := srv.config.idealPeerCount() - srv.egressCount()
	if budget <= 0 {
		return
	}

	srv.mu.Lock()
	candidates := make([]*Peer, 0, len(srv.peers))
	for id, p := range srv.peers {
		if _, connected := srv.sessions[id]; connected {
			continue
		}
		if p.ShouldReconnect() {
			candidates = append(candidates, p)
		}
	}
	srv.mu.Unlock()

	if len(candidates) > budget {
		candidates = candidates[:budget]
	}
	if len(candidates) == 0 {
		return
	}

	var g errgroup.Group
	for _, p := range candidates {
		p := p
		attemptID := uuid.New()
		g.Go(func() error {
			if err := srv.dialPeer(p); err != nil {
				log.Debug("p2p: dial failed", "peer", p.ID().String()[:16], "attempt", attemptID, "err", err)
			}
			return nil
		})
	}
	g.Wait()
}

// ---- §6.6 persisted network state ----

type persistedBonded struct {
	IP           []byte
	UDPPort      uint16
	TCPPort      uint16
	ID           []byte
	LastPongRecv uint64
	LastPongSent uint64
}

type persistedPeer struct {
	IP             []byte
	UDPPort        uint16
	TCPPort        uint16
	ID             []byte
	Required       bool
	LastConnected  uint64
	LastAttempted  uint64
	FailedAttempts uint32
	LastDisconnect uint8
	Score          int32
	Rating         int32
}

type persistedNetwork struct {
	ProtocolVersion uint64
	NodeKey         []byte
	Bonded          []persistedBonded
	Peers           []persistedPeer
}

const persistedNetworkVersion = 1

// SaveNetwork serializes this host's node key, bonded node-table entries
// and recently-connected peer records as an RLP list (§6.6).
func (srv *Server) SaveNetwork() ([]byte, error) {
	state := persistedNetwork{
		ProtocolVersion: persistedNetworkVersion,
		NodeKey:         crypto.FromECDSA(srv.config.PrivateKey),
	}

	if srv.table != nil {
		for _, e := range srv.table.AllBonded() {
			state.Bonded = append(state.Bonded, persistedBonded{
				IP:           []byte(e.Node.IP()),
				UDPPort:      uint16(e.Node.UDP()),
				TCPPort:      uint16(e.Node.TCP()),
				ID:           e.Node.ID().Bytes(),
				LastPongRecv: uint64(e.LastPongRecv.Unix()),
				LastPongSent: uint64(e.LastPongSent.Unix()),
			})
		}
	}

	srv.mu.Lock()
	cutoff := time.Now().Add(-48 * time.Hour)
	for _, p := range srv.peers {
		p.mu.Lock()
		lastConnected, lastAttempted, lastDisconnect := p.lastConnected, p.lastAttempted, p.lastDisconnect
		p.mu.Unlock()
		if p.Node.IP() == nil || lastConnected.Before(cutoff) {
			continue
		}
		state.Peers = append(state.Peers, persistedPeer{
			IP:             []byte(p.Node.IP()),
			UDPPort:        uint16(p.Node.UDP()),
			TCPPort:        uint16(p.Node.TCP()),
			ID:             p.ID().Bytes(),
			Required:       p.Required,
			LastConnected:  uint64(lastConnected.Unix()),
			LastAttempted:  uint64(lastAttempted.Unix()),
			FailedAttempts: p.FailedAttempts(),
			LastDisconnect: uint8(lastDisconnect),
			Score:          p.Score(),
			Rating:         p.Rating(),
		})
	}
	srv.mu.Unlock()

	return rlp.EncodeToBytes(&state)
}

// RestoreNetwork decodes a SaveNetwork blob and repopulates the peer
// registry from its peer records (§6.6). The blob's bonded node-table
// entries and node key are not applied; the discovery table is seeded
// separately, from p2p/discover's own node database.
func (srv *Server) RestoreNetwork(data []byte) error {
	var state persistedNetwork
	if err := rlp.DecodeBytes(data, &state); err != nil {
		return fmt.Errorf("p2p: decode persisted network state: %w", err)
	}

	for _, pp := range state.Peers {
		pub, err := bytesToPubkey(pp.ID)
		if err != nil {
			continue
		}
		n := enode.NewV4(pub, net.IP(pp.IP), int(pp.TCPPort), int(pp.UDPPort))
		peer := srv.AddPeer(n, pp.Required)
		peer.mu.Lock()
		peer.lastConnected = time.Unix(int64(pp.LastConnected), 0)
		peer.lastAttempted = time.Unix(int64(pp.LastAttempted), 0)
		peer.lastDisconnect = DisconnectReason(pp.LastDisconnect)
		peer.mu.Unlock()
		atomic.StoreUint32(&peer.failedAttempts, pp.FailedAttempts)
		atomic.StoreInt32(&peer.score, pp.Score)
		atomic.StoreInt32(&peer.rating, pp.Rating)
	}
	return nil
}

func bytesToPubkey(raw []byte) (*ecdsa.PublicKey, error) {
	var id enode.ID
	if len(raw) != len(id) {
		return nil, fmt.Errorf("p2p: bad node id length %d", len(raw))
	}
	copy(id[:], raw)
	return id.Pubkey()
}
