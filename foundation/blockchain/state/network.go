package state

import (
	"context"
	"errors"
	"net/url"
	"runtime/debug"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/network"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

// shutdownTimeout bounds closing the peer server.
const shutdownTimeout = 5 * time.Second

type eventKind int

const (
	eventConnected eventKind = iota
	eventMessage
	eventClosed
)

// peerEvent is everything a connection reports, in a single queue so the
// events of one connection are handled in the order they happened.
type peerEvent struct {
	kind eventKind
	conn *network.Conn
	msg  network.Message
	err  error
}

type probeResult struct {
	peerID  string
	address string
	foundID string
	err     error
}

type dialFailure struct {
	address string
	err     error
}

// netState exists while the network is started.
type netState struct {
	cfg      StartNetwork
	server   *network.Server
	ctx      context.Context
	cancel   context.CancelFunc
	conns    map[string]*network.Conn
	dialing  map[string]struct{}
	external string
}

// advertised is the address other nodes should dial to reach this node.
func (n *netState) advertised() string {
	if n.external != "" {
		return n.external
	}
	return n.server.Address()
}

// isOwn reports whether the address points at this node.
func (n *netState) isOwn(address string) bool {
	return address == n.server.Address() || address == n.external
}

// =============================================================================

func (s *State) startNetwork(cmd StartNetwork) {
	if s.net != nil {
		s.alert(SeverityWarning, "Network is already running at %s", s.net.server.Address())
		return
	}

	if s.Worker == nil {
		s.evHandler("state: startNetwork: no worker running")
		s.alert(SeverityError, "Network can't start without a running worker")
		return
	}

	server, err := network.StartServer(network.ServerConfig{
		Host:       cmd.Host,
		Port:       cmd.Port,
		Hello:      s.hello,
		OnConnect:  s.PeerConnected,
		OnMessage:  s.PeerMessage,
		OnClose:    s.PeerClosed,
		Middleware: s.peerMW,
		EvHandler:  s.evHandler,
	})
	if err != nil {
		s.alert(SeverityError, "Error occurred during P2P server listening: %s", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.net = &netState{
		cfg:     cmd,
		server:  server,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[string]*network.Conn),
		dialing: make(map[string]struct{}),
	}

	s.notifyServer(true, server.Address())
	s.alert(SeveritySuccess, "Your server was created successfully. Your internal address: %s", server.Address())

	if cmd.TunnelAddress != "" {
		tunnel, err := network.NormalizeAddress(cmd.TunnelAddress)
		if err != nil {
			s.alert(SeverityError, "Tunnel address %s can't be used: %s", cmd.TunnelAddress, err)
		} else {
			s.net.external = tunnel
			s.alert(SeverityInfo, "Your server external address is %s", tunnel)
		}
	}

	for _, address := range cmd.Peers {
		s.dial(address)
	}
}

func (s *State) stopNetwork() {
	if s.net == nil {
		return
	}

	n := s.net
	s.net = nil

	s.cancelVote("network stopped")
	n.cancel()

	for _, conn := range n.conns {
		conn.CloseIntentional()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := n.server.Shutdown(ctx); err != nil {
		s.evHandler("state: stopNetwork: ERROR: %s", err)
	}

	if s.peers.Clear() {
		s.notifyPeers()
	}

	var minersChanged bool
	for _, id := range s.miners.Copy() {
		if id != s.nodeID && s.miners.Remove(id) {
			minersChanged = true
		}
	}
	if minersChanged {
		s.notifyMiners()
	}

	s.notifyServer(false, n.server.Address())
	s.alert(SeverityInfo, "Your server at %s was stopped", n.server.Address())
}

// restartNetwork brings the network back from a clean state with its last
// configuration.
func (s *State) restartNetwork() {
	if s.net == nil {
		return
	}

	cfg := s.net.cfg
	if cfg.Port == 0 {
		cfg.Port = s.net.server.Port()
	}

	s.stopNetwork()
	s.startNetwork(cfg)
}

// hello identifies this node to the peer server. It runs on the server's
// goroutines so it only reads immutable fields.
func (s *State) hello() network.Handshake {
	return network.Handshake{PeerID: s.nodeID}
}

// dial asks the worker to connect when the address is new and an outbound
// slot is free.
func (s *State) dial(address string) {
	if s.net == nil {
		return
	}

	address, err := network.NormalizeAddress(address)
	if err != nil {
		s.evHandler("state: dial: %s", err)
		return
	}

	if s.net.isOwn(address) {
		return
	}

	if _, exists := s.net.dialing[address]; exists || s.peers.HasAddress(address) {
		return
	}

	if s.peers.OutboundSlots()-len(s.net.dialing) <= 0 {
		s.evHandler("state: dial: %s: no outbound slots", address)
		return
	}

	s.net.dialing[address] = struct{}{}

	hello := network.Handshake{
		PeerID:          s.nodeID,
		ExternalAddress: s.net.advertised(),
	}

	s.evHandler("state: dial: %s: connecting", address)
	s.Worker.SignalConnect(s.net.ctx, address, hello)
}

// =============================================================================

func (s *State) handlePeerEvent(ev peerEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.evHandler("state: handlePeerEvent: PANIC: %v\n%s", r, debug.Stack())
			s.alert(SeverityError, "Internal network failure, restarting the network")
			s.restartNetwork()
		}
	}()

	switch ev.kind {
	case eventConnected:
		s.peerConnected(ev.conn)

	case eventMessage:
		s.peerMessage(ev.conn, ev.msg)

	case eventClosed:
		s.peerClosed(ev.conn, ev.err)
	}
}

func (s *State) peerConnected(conn *network.Conn) {
	if s.net == nil {
		conn.CloseIntentional()
		return
	}

	id := conn.PeerID()
	role := conn.Role()

	if role == peer.RoleOutbound {
		delete(s.net.dialing, conn.Address())
	}

	switch {
	case id == s.nodeID:
		s.evHandler("state: peerConnected: %s: closing connection to self", conn.Address())
		conn.CloseIntentional()
		return

	case s.peers.Has(id) && !s.replaceDuplicate(id, conn):
		s.evHandler("state: peerConnected: peer[%s]: closing duplicate %s connection", id, role)
		conn.CloseIntentional()
		return

	case role == peer.RoleInbound && !s.peers.CanAcceptInbound():
		s.evHandler("state: peerConnected: peer[%s]: inbound capacity reached", id)
		s.sendPeers(conn)
		conn.CloseIntentional()
		return

	case role == peer.RoleOutbound && s.peers.OutboundSlots() == 0:
		s.evHandler("state: peerConnected: peer[%s]: outbound capacity reached", id)
		conn.CloseIntentional()
		return
	}

	p := peer.Peer{
		ID:        id,
		Address:   conn.Address(),
		Protocol:  protocol(conn.Address()),
		Role:      role,
		Available: role == peer.RoleOutbound,
	}

	if !s.peers.Add(p) {
		conn.CloseIntentional()
		return
	}
	s.net.conns[id] = conn

	s.evHandler("state: peerConnected: peer[%s] role[%s] address[%s]", id, role, conn.Address())

	if role == peer.RoleOutbound {
		s.adoptObservedAddress(conn.Observed())
	}

	if role == peer.RoleInbound && conn.Address() != "" {
		s.peers.Update(id, func(p *peer.Peer) { p.Checking = true })
		s.Worker.SignalProbe(s.net.ctx, id, conn.Address())
	}

	s.notifyPeers()

	s.send(conn, network.NewMessage(network.TypeChain, network.Chain{Chain: s.chain.Blocks()}))
	s.send(conn, network.NewMessage(network.TypeTransactionPool, network.TransactionPool{Transactions: s.mempool.Copy()}))
	s.sendPeers(conn)
	s.send(conn, network.NewMessage(network.TypeMiners, network.Miners{MinerIDs: s.miners.Copy()}))
}

// replaceDuplicate drops the existing connection to the peer in favor of conn
// when conn is the preferred one and there is room for its role. It reports
// whether conn should be registered.
func (s *State) replaceDuplicate(id string, conn *network.Conn) bool {
	existing, exists := s.peers.Get(id)
	if !exists || !preferNewConn(s.nodeID, id, existing.Role, conn.Role()) {
		return false
	}

	switch conn.Role() {
	case peer.RoleInbound:
		if existing.Role != peer.RoleInbound && !s.peers.CanAcceptInbound() {
			return false
		}
	case peer.RoleOutbound:
		if existing.Role != peer.RoleOutbound && s.peers.OutboundSlots() == 0 {
			return false
		}
	}

	s.evHandler("state: peerConnected: peer[%s]: replacing %s connection with %s", id, existing.Role, conn.Role())

	s.peers.Remove(id)
	if old, exists := s.net.conns[id]; exists {
		delete(s.net.conns, id)
		old.CloseIntentional()
	}

	return true
}

// preferNewConn decides between two connections with the same peer. Both
// nodes keep the connection dialed by the node with the lower id, so they
// settle on the same one. Two connections in the same direction keep the
// first.
func preferNewConn(localID string, remoteID string, existingRole string, newRole string) bool {
	if existingRole == newRole {
		return false
	}

	dialer := remoteID
	if newRole == peer.RoleOutbound {
		dialer = localID
	}

	return dialer == min(localID, remoteID)
}

// adoptObservedAddress takes the address a peer observed this node at as
// the advertised address unless a tunnel is configured.
func (s *State) adoptObservedAddress(observed string) {
	if observed == "" || s.net.cfg.TunnelAddress != "" || observed == s.net.external {
		return
	}

	s.net.external = observed
	s.alert(SeverityInfo, "Your external address: %s", observed)
}

func (s *State) peerClosed(conn *network.Conn, err error) {
	if s.net == nil {
		return
	}

	id := conn.PeerID()
	if current, exists := s.net.conns[id]; !exists || current != conn {
		return
	}
	delete(s.net.conns, id)

	switch {
	case err == nil:
		s.evHandler("state: peerClosed: peer[%s]: closed", id)
	case errors.Is(err, network.ErrProtocol):
		s.evHandler("state: peerClosed: peer[%s]: protocol violation: %s", id, err)
	default:
		s.evHandler("state: peerClosed: peer[%s]: %s", id, err)
	}

	if s.peers.Remove(id) {
		s.notifyPeers()
	}

	if s.miners.Remove(id) {
		s.notifyMiners()
	}

	if len(s.net.conns) == 0 {
		s.alert(SeverityWarning, "Connection with %s was broken. It was your last connection.", conn.Address())
	}

	if conn.Role() == peer.RoleOutbound && !conn.Intentional() {
		s.evHandler("state: peerClosed: peer[%s]: reconnecting to %s", id, conn.Address())
		s.dial(conn.Address())
	}
}

func (s *State) handleProbe(pr probeResult) {
	available := pr.err == nil && pr.foundID == pr.peerID

	switch {
	case pr.err != nil:
		s.evHandler("state: handleProbe: peer[%s] address[%s]: unreachable: %s", pr.peerID, pr.address, pr.err)
	case !available:
		s.evHandler("state: handleProbe: peer[%s] address[%s]: answered as %s", pr.peerID, pr.address, pr.foundID)
	}

	changed := s.peers.Update(pr.peerID, func(p *peer.Peer) {
		if p.Address != pr.address {
			return
		}
		p.Checking = false
		p.Available = available
	})

	if changed {
		s.notifyPeers()
	}
}

func (s *State) handleDialFailure(df dialFailure) {
	if s.net == nil {
		return
	}

	delete(s.net.dialing, df.address)
	s.evHandler("state: handleDialFailure: %s: giving up: %s", df.address, df.err)

	if !errors.Is(df.err, context.Canceled) {
		s.alert(SeverityWarning, "Could not connect to peer %s", df.address)
	}
}

// =============================================================================

func (s *State) send(conn *network.Conn, msg network.Message) {
	if err := conn.Send(msg); err != nil {
		s.evHandler("state: send: peer[%s] type[%s]: ERROR: %s", conn.PeerID(), msg.Type, err)
	}
}

// broadcast sends the message to every connected peer except one.
func (s *State) broadcast(msg network.Message, except string) {
	if s.net == nil {
		return
	}

	for id, conn := range s.net.conns {
		if id == except {
			continue
		}
		s.send(conn, msg)
	}
}

// sendPeers shares the reachable peer addresses, leaving out the receiver.
func (s *State) sendPeers(conn *network.Conn) {
	addresses := s.peers.Copy(conn.Address())
	if len(addresses) == 0 {
		return
	}

	s.send(conn, network.NewMessage(network.TypePeers, network.Peers{Addresses: addresses}))
}

func protocol(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return ""
	}
	return u.Scheme
}
