// Package state is the core API for the blockchain and implements all the
// business rules and processing. A single goroutine started by Run owns the
// chain, the mempool, the peer sets and the mining flags. The host talks to it
// with commands and listens on typed notification channels. Connections,
// mining and dialing report back through events.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/powchain/foundation/blockchain/mempool/selector"
	"github.com/ardanlabs/powchain/foundation/blockchain/network"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/wallet"
	"github.com/ardanlabs/powchain/foundation/web"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrShutdown is returned when a command is submitted after Run returned.
var ErrShutdown = errors.New("state is shut down")

// Set of queue sizes for the core loop inputs.
const (
	commandQueue = 32
	peerQueue    = 1024
	resultQueue  = 8
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of the node.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining, dialing peers and probing addresses.
type Worker interface {
	Shutdown()
	SignalStartMining(job MiningJob)
	SignalCancelMining()
	SignalConnect(ctx context.Context, address string, hello network.Handshake)
	SignalProbe(ctx context.Context, peerID string, address string)
}

// MiningJob is the work handed to the worker: find a block extending
// LastBlock that carries Data.
type MiningJob struct {
	ID        uint64
	LastBlock database.Block
	Data      []database.Tx
	MineRate  int64
}

// MiningResult reports the outcome of a mining job.
type MiningResult struct {
	JobID    uint64
	Block    database.Block
	Duration time.Duration
	Err      error
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Genesis        genesis.Genesis
	Wallet         *wallet.Wallet
	NodeID         string
	SelectStrategy string
	FeeThreshold   decimal.Decimal
	MaxInbounds    int
	MaxOutbounds   int
	VoteTimeout    time.Duration
	PeerMiddleware []web.Middleware
	EvHandler      EventHandler
}

// State manages the blockchain node.
type State struct {
	nodeID       string
	evHandler    EventHandler
	genesis      genesis.Genesis
	feeThreshold decimal.Decimal
	voteTimeout  time.Duration
	peerMW       []web.Middleware

	chain   *database.Chain
	mempool *mempool.Mempool
	wallet  *wallet.Wallet
	peers   *peer.PeerSet
	miners  *peer.MinerSet

	commands   chan Command
	peerEvents chan peerEvent
	results    chan MiningResult
	probes     chan probeResult
	dialFails  chan dialFailure
	shut       chan struct{}

	notify notifier

	net    *netState
	vote   *vote
	mining *miningState
	jobSeq uint64

	Worker Worker
}

// New constructs the node state. The Worker is not set here. The call to
// worker.Run will assign itself.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Wallet == nil {
		return nil, errors.New("wallet is required")
	}

	if err := cfg.Genesis.Validate(); err != nil {
		return nil, err
	}

	if cfg.SelectStrategy == "" {
		cfg.SelectStrategy = selector.StrategyFee
	}

	// Construct a mempool with the specified select strategy.
	mp, err := mempool.NewWithStrategy(cfg.SelectStrategy)
	if err != nil {
		return nil, err
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	if cfg.VoteTimeout <= 0 {
		cfg.VoteTimeout = 5 * time.Second
	}

	s := State{
		nodeID:       nodeID,
		evHandler:    ev,
		genesis:      cfg.Genesis,
		feeThreshold: cfg.FeeThreshold,
		voteTimeout:  cfg.VoteTimeout,
		peerMW:       cfg.PeerMiddleware,

		chain:   database.NewChain(cfg.Genesis, ev),
		mempool: mp,
		wallet:  cfg.Wallet,
		peers:   peer.NewPeerSet(cfg.MaxInbounds, cfg.MaxOutbounds),
		miners:  peer.NewMinerSet(),

		commands:   make(chan Command, commandQueue),
		peerEvents: make(chan peerEvent, peerQueue),
		results:    make(chan MiningResult, resultQueue),
		probes:     make(chan probeResult, resultQueue),
		dialFails:  make(chan dialFailure, resultQueue),
		shut:       make(chan struct{}),

		notify: newNotifier(),
	}

	return &s, nil
}

// NodeID returns the id this node uses on the network.
func (s *State) NodeID() string {
	return s.nodeID
}

// Address returns the wallet address rewards are paid to.
func (s *State) Address() string {
	return s.wallet.Address()
}

// Genesis returns the consensus parameters.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// Notifications returns the channels the host listens on.
func (s *State) Notifications() Notifications {
	return s.notify.public()
}

// Submit hands a command to the core loop.
func (s *State) Submit(ctx context.Context, cmd Command) error {
	select {
	case s.commands <- cmd:
		return nil
	case <-s.shut:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes commands and events until the context is cancelled. It
// stops mining, closes the network and shuts the worker down before
// returning.
func (s *State) Run(ctx context.Context) error {
	s.evHandler("state: Run: started: node[%s] address[%s]", s.nodeID, s.wallet.Address())

	defer func() {
		s.stopMining()
		s.stopNetwork()
		close(s.shut)

		if s.Worker != nil {
			s.Worker.Shutdown()
		}

		s.evHandler("state: Run: completed")
	}()

	s.notifyChain()
	s.notifyPool()

	for {
		var voteC <-chan time.Time
		if s.vote != nil {
			voteC = s.vote.timer.C
		}

		select {
		case <-ctx.Done():
			return nil

		case cmd := <-s.commands:
			s.handleCommand(cmd)

		case ev := <-s.peerEvents:
			s.handlePeerEvent(ev)

		case res := <-s.results:
			s.handleMiningResult(res)

		case pr := <-s.probes:
			s.handleProbe(pr)

		case df := <-s.dialFails:
			s.handleDialFailure(df)

		case <-voteC:
			s.resolveVote()
		}
	}
}

// =============================================================================
// These methods are called by the worker and the network goroutines.

// MiningResult delivers the outcome of a mining job.
func (s *State) MiningResult(res MiningResult) {
	select {
	case s.results <- res:
	case <-s.shut:
	}
}

// PeerConnected delivers a handshaken connection.
func (s *State) PeerConnected(conn *network.Conn) {
	s.enqueue(peerEvent{kind: eventConnected, conn: conn})
}

// PeerMessage delivers a message received on a connection.
func (s *State) PeerMessage(conn *network.Conn, msg network.Message) {
	s.enqueue(peerEvent{kind: eventMessage, conn: conn, msg: msg})
}

// PeerClosed delivers the end of a connection.
func (s *State) PeerClosed(conn *network.Conn, err error) {
	s.enqueue(peerEvent{kind: eventClosed, conn: conn, err: err})
}

// ProbeResult delivers the id found behind a peer's advertised address.
func (s *State) ProbeResult(peerID string, address string, foundID string, err error) {
	select {
	case s.probes <- probeResult{peerID: peerID, address: address, foundID: foundID, err: err}:
	case <-s.shut:
	}
}

// DialFailed reports an address the worker gave up on.
func (s *State) DialFailed(address string, err error) {
	select {
	case s.dialFails <- dialFailure{address: address, err: err}:
	case <-s.shut:
	}
}

func (s *State) enqueue(ev peerEvent) {
	select {
	case s.peerEvents <- ev:
	case <-s.shut:
		if ev.kind == eventConnected {
			ev.conn.CloseIntentional()
		}
	}
}
