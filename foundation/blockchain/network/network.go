// Package network implements the peer wire protocol: JSON tagged messages
// exchanged over one websocket per peer.
package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
)

// Set of error variables for peer communication.
var (
	ErrNetwork  = errors.New("network error")
	ErrProtocol = errors.New("protocol error")
	ErrClosed   = errors.New("connection closed")
)

// Set of message types exchanged between peers.
const (
	TypeHandshakeRequest   = "HANDSHAKE_REQUEST"
	TypeHandshakeResponse  = "HANDSHAKE_RESPONSE"
	TypeChain              = "CHAIN"
	TypeTransaction        = "TRANSACTION"
	TypeTransactionPool    = "TRANSACTION_POOL"
	TypePeers              = "PEERS"
	TypeRequestChainCheck  = "REQUEST_CHAIN_CHECK"
	TypeResponseChainCheck = "RESPONSE_CHAIN_CHECK"
	TypeMiningStarted      = "MINING_STARTED"
	TypeMiningStopped      = "MINING_STOPPED"
	TypeMiners             = "MINERS"
)

// =============================================================================

// Handshake establishes identity and role on a new connection. In a request
// the external address is the dialer's advertised server address. In a
// response it is the dialer's address as observed by the responder.
type Handshake struct {
	PeerID          string `json:"peerId" validate:"required,max=128"`
	ConnectionRole  string `json:"connectionRole" validate:"required,oneof=inbound outbound"`
	ExternalAddress string `json:"externalAddress" validate:"omitempty,url"`
}

// Chain carries a full copy of the sender's chain.
type Chain struct {
	Chain []database.Block `json:"chain" validate:"required,min=1"`
}

// Transaction carries a single pending transaction.
type Transaction struct {
	Transaction database.Tx `json:"transaction"`
}

// TransactionPool carries the sender's pending transactions.
type TransactionPool struct {
	Transactions []database.Tx `json:"transactions"`
}

// Peers carries addresses of reachable nodes.
type Peers struct {
	Addresses []string `json:"addresses" validate:"dive,url"`
}

// RequestChainCheck asks a peer for its block at a height during a fork vote.
type RequestChainCheck struct {
	ChainLength int `json:"chainLength" validate:"min=2"`
}

// ResponseChainCheck answers a RequestChainCheck. Block is nil when the peer's
// chain is shorter than the requested length.
type ResponseChainCheck struct {
	ChainLength int             `json:"chainLength" validate:"min=2"`
	Block       *database.Block `json:"block"`
}

// MiningStarted announces a node started mining.
type MiningStarted struct {
	MinerID string `json:"minerId" validate:"required"`
}

// MiningStopped announces a node stopped mining.
type MiningStopped struct {
	MinerID string `json:"minerId" validate:"required"`
}

// Miners carries the sender's known miner ids.
type Miners struct {
	MinerIDs []string `json:"minerIds" validate:"dive,required"`
}

// payloads maps each message type to a constructor for its payload.
var payloads = map[string]func() any{
	TypeHandshakeRequest:   func() any { return &Handshake{} },
	TypeHandshakeResponse:  func() any { return &Handshake{} },
	TypeChain:              func() any { return &Chain{} },
	TypeTransaction:        func() any { return &Transaction{} },
	TypeTransactionPool:    func() any { return &TransactionPool{} },
	TypePeers:              func() any { return &Peers{} },
	TypeRequestChainCheck:  func() any { return &RequestChainCheck{} },
	TypeResponseChainCheck: func() any { return &ResponseChainCheck{} },
	TypeMiningStarted:      func() any { return &MiningStarted{} },
	TypeMiningStopped:      func() any { return &MiningStopped{} },
	TypeMiners:             func() any { return &Miners{} },
}

// =============================================================================

// Message is a decoded message. Payload holds a pointer to the payload type
// registered for the message type.
type Message struct {
	Type    string
	Payload any
}

// NewMessage constructs a message for sending.
func NewMessage(typ string, payload any) Message {
	return Message{
		Type:    typ,
		Payload: payload,
	}
}

// envelope is the representation on the wire.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode marshals the message for the wire.
func Encode(msg Message) ([]byte, error) {
	if _, exists := payloads[msg.Type]; !exists {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrProtocol, msg.Type)
	}

	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	return json.Marshal(envelope{Type: msg.Type, Data: data})
}

// Decode unmarshals and validates a message from the wire. Any failure is
// reported as ErrProtocol.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	newPayload, exists := payloads[env.Type]
	if !exists {
		return Message{}, fmt.Errorf("%w: unknown message type %q", ErrProtocol, env.Type)
	}

	if len(env.Data) == 0 {
		return Message{}, fmt.Errorf("%w: %s: missing data", ErrProtocol, env.Type)
	}

	payload := newPayload()
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return Message{}, fmt.Errorf("%w: %s: %w", ErrProtocol, env.Type, err)
	}

	if err := Check(payload); err != nil {
		return Message{}, fmt.Errorf("%s: %w", env.Type, err)
	}

	return Message{Type: env.Type, Payload: payload}, nil
}
