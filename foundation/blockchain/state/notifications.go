package state

import (
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
)

// Severity classifies an alert for display.
type Severity string

// Set of alert severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert is a user visible message about a network or mining transition.
type Alert struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ServerEvent reports the peer server starting or stopping.
type ServerEvent struct {
	Started bool   `json:"started"`
	Address string `json:"address"`
}

// PeersEvent carries the connected peers by role.
type PeersEvent struct {
	Inbounds  []peer.Peer `json:"inbounds"`
	Outbounds []peer.Peer `json:"outbounds"`
}

// Notifications are the channels the host listens on. Chain, Pool, Peers
// and Miners carry snapshots and only hold the latest one. The other
// channels are buffered and drop values when the host falls behind.
type Notifications struct {
	Server       <-chan ServerEvent
	Alerts       <-chan Alert
	Chain        <-chan []database.Block
	Pool         <-chan []database.Tx
	Peers        <-chan PeersEvent
	Miners       <-chan []string
	Blocks       <-chan database.Block
	MiningErrors <-chan error
}

// notifier holds the sending side of the notification channels.
type notifier struct {
	server       chan ServerEvent
	alerts       chan Alert
	chain        chan []database.Block
	pool         chan []database.Tx
	peers        chan PeersEvent
	miners       chan []string
	blocks       chan database.Block
	miningErrors chan error
}

func newNotifier() notifier {
	return notifier{
		server:       make(chan ServerEvent, 16),
		alerts:       make(chan Alert, 64),
		chain:        make(chan []database.Block, 1),
		pool:         make(chan []database.Tx, 1),
		peers:        make(chan PeersEvent, 1),
		miners:       make(chan []string, 1),
		blocks:       make(chan database.Block, 16),
		miningErrors: make(chan error, 16),
	}
}

func (n notifier) public() Notifications {
	return Notifications{
		Server:       n.server,
		Alerts:       n.alerts,
		Chain:        n.chain,
		Pool:         n.pool,
		Peers:        n.peers,
		Miners:       n.miners,
		Blocks:       n.blocks,
		MiningErrors: n.miningErrors,
	}
}

// latest replaces whatever snapshot is still waiting in the channel.
func latest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}

		select {
		case <-ch:
		default:
		}
	}
}

// offer sends the value if the channel has room.
func offer[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

// =============================================================================

func (s *State) alert(severity Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.evHandler("state: alert: %s: %s", severity, msg)

	if !offer(s.notify.alerts, Alert{Severity: severity, Message: msg}) {
		s.evHandler("state: alert: queue full, alert dropped")
	}
}

func (s *State) notifyChain() {
	latest(s.notify.chain, s.chain.Blocks())
}

func (s *State) notifyPool() {
	latest(s.notify.pool, s.mempool.Copy())
}

func (s *State) notifyPeers() {
	latest(s.notify.peers, PeersEvent{
		Inbounds:  s.peers.Inbounds(),
		Outbounds: s.peers.Outbounds(),
	})
}

func (s *State) notifyMiners() {
	latest(s.notify.miners, s.miners.Copy())
}

func (s *State) notifyServer(started bool, address string) {
	offer(s.notify.server, ServerEvent{Started: started, Address: address})
}
