package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/web"
	"github.com/gorilla/websocket"
)

// ServerConfig represents the configuration required to accept peers.
type ServerConfig struct {
	Host       string
	Port       int
	Hello      func() Handshake
	OnConnect  func(*Conn)
	OnMessage  func(*Conn, Message)
	OnClose    func(*Conn, error)
	Middleware []web.Middleware
	EvHandler  func(v string, args ...any)
}

// ProbeResponse is returned by the probe route so a dialer can confirm the
// address reaches the expected node.
type ProbeResponse struct {
	PeerID string `json:"peerId"`
}

// Server accepts inbound peer connections.
type Server struct {
	cfg      ServerConfig
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	address  string
}

// StartServer binds the listener and serves peers until Shutdown is called.
// A port of zero binds an ephemeral port.
func StartServer(cfg ServerConfig) (*Server, error) {
	if cfg.EvHandler == nil {
		cfg.EvHandler = func(v string, args ...any) {}
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: listen: %w", ErrNetwork, err)
	}

	s := Server{
		cfg:      cfg,
		listener: listener,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		address: serverAddress(cfg.Host, listener.Addr()),
	}

	app := web.NewApp(nil, cfg.Middleware...)
	app.Handle(http.MethodGet, "", "/", s.connect)
	app.Handle(http.MethodGet, "v1", "/probe", s.probe)

	s.http = &http.Server{
		Handler:           app,
		ReadHeaderTimeout: handshakeTimeout,
	}

	go func() {
		cfg.EvHandler("network: server: started: %s", s.address)
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cfg.EvHandler("network: server: ERROR: %s", err)
		}
	}()

	return &s, nil
}

// Address returns the websocket address peers can dial.
func (s *Server) Address() string {
	return s.address
}

// Port returns the bound port.
func (s *Server) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Shutdown stops accepting peers. Established connections are owned by the
// caller and are not affected.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cfg.EvHandler("network: server: stopping: %s", s.address)

	if err := s.http.Shutdown(ctx); err != nil {
		s.http.Close()
		return fmt.Errorf("%w: shutdown: %w", ErrNetwork, err)
	}

	return nil
}

// =============================================================================

// connect upgrades the request and performs the inbound handshake. It
// blocks for the lifetime of the connection.
func (s *Server) connect(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn, err := s.accept(ws, r.RemoteAddr)
	if err != nil {
		s.cfg.EvHandler("network: connect: handshake: remote[%s]: ERROR: %s", r.RemoteAddr, err)
		ws.Close()
		return nil
	}

	s.cfg.EvHandler("network: connect: inbound: peer[%s] address[%s]", conn.PeerID(), conn.Address())

	s.cfg.OnConnect(conn)
	conn.Run(s.cfg.OnMessage, s.cfg.OnClose)

	return nil
}

// probe identifies this node to a dialer.
func (s *Server) probe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := ProbeResponse{
		PeerID: s.cfg.Hello().PeerID,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// accept reads the handshake request and answers with this node's id and the
// address the dialer was observed at.
func (s *Server) accept(ws *websocket.Conn, remoteAddr string) (*Conn, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))

	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: read handshake: %w", ErrNetwork, err)
	}

	msg, err := Decode(data)
	if err != nil {
		return nil, err
	}

	req, ok := msg.Payload.(*Handshake)
	if msg.Type != TypeHandshakeRequest || !ok {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrProtocol, TypeHandshakeRequest, msg.Type)
	}

	if req.ConnectionRole != peer.RoleOutbound {
		return nil, fmt.Errorf("%w: unexpected connection role %q", ErrProtocol, req.ConnectionRole)
	}

	hello := s.cfg.Hello()
	resp := Handshake{
		PeerID:          hello.PeerID,
		ConnectionRole:  peer.RoleInbound,
		ExternalAddress: observedAddress(remoteAddr, req.ExternalAddress),
	}

	out, err := Encode(NewMessage(TypeHandshakeResponse, resp))
	if err != nil {
		return nil, err
	}

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
		return nil, fmt.Errorf("%w: write handshake: %w", ErrNetwork, err)
	}

	ws.SetReadDeadline(time.Time{})
	ws.SetWriteDeadline(time.Time{})

	var address string
	if req.ExternalAddress != "" {
		if address, err = NormalizeAddress(req.ExternalAddress); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
		}
	}

	return newConn(ws, req.PeerID, peer.RoleInbound, address, ""), nil
}

// observedAddress combines the remote ip of the connection with the scheme
// and port the dialer advertised.
func observedAddress(remoteAddr string, advertised string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return ""
	}

	u, err := url.Parse(advertised)
	if err != nil || u.Port() == "" {
		return ""
	}

	scheme := u.Scheme
	switch scheme {
	case "http":
		scheme = "ws"
	case "https":
		scheme = "wss"
	}

	return scheme + "://" + net.JoinHostPort(host, u.Port())
}

// serverAddress builds the dialable address for the listener.
func serverAddress(host string, addr net.Addr) string {
	port := "0"
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}

	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}

	return "ws://" + net.JoinHostPort(host, port)
}
