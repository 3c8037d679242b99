package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/gorilla/websocket"
)

// probeTimeout bounds a single reachability probe.
const probeTimeout = 5 * time.Second

// Dial connects to the address and performs the outbound handshake. The
// hello carries this node's id and advertised server address.
func Dial(ctx context.Context, address string, hello Handshake) (*Conn, error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrNetwork, address, err)
	}

	conn, err := handshake(ws, address, hello)
	if err != nil {
		ws.Close()
		return nil, err
	}

	return conn, nil
}

func handshake(ws *websocket.Conn, address string, hello Handshake) (*Conn, error) {
	hello.ConnectionRole = peer.RoleOutbound

	out, err := Encode(NewMessage(TypeHandshakeRequest, hello))
	if err != nil {
		return nil, err
	}

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, out); err != nil {
		return nil, fmt.Errorf("%w: write handshake: %w", ErrNetwork, err)
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: read handshake: %w", ErrNetwork, err)
	}

	msg, err := Decode(data)
	if err != nil {
		return nil, err
	}

	resp, ok := msg.Payload.(*Handshake)
	if msg.Type != TypeHandshakeResponse || !ok {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrProtocol, TypeHandshakeResponse, msg.Type)
	}

	if resp.ConnectionRole != peer.RoleInbound {
		return nil, fmt.Errorf("%w: unexpected connection role %q", ErrProtocol, resp.ConnectionRole)
	}

	ws.SetReadDeadline(time.Time{})
	ws.SetWriteDeadline(time.Time{})

	return newConn(ws, resp.PeerID, peer.RoleOutbound, address, resp.ExternalAddress), nil
}

// Probe asks the node behind the address for its id over plain HTTP.
func Probe(ctx context.Context, address string) (string, error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/v1/probe"

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: probe %s: %w", ErrNetwork, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: probe %s: status %d", ErrNetwork, address, resp.StatusCode)
	}

	var pr ProbeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("%w: probe %s: %w", ErrProtocol, address, err)
	}

	return pr.PeerID, nil
}

// NormalizeAddress converts an address to the websocket form used as the
// identity of a peer address. http maps to ws and https maps to wss.
func NormalizeAddress(address string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: address %q: %w", ErrNetwork, address, err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: address %q: unsupported scheme", ErrNetwork, address)
	}

	if u.Hostname() == "" || u.Port() == "" {
		return "", fmt.Errorf("%w: address %q: host and port required", ErrNetwork, address)
	}

	return u.Scheme + "://" + u.Host, nil
}
