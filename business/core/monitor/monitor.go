// Package monitor consumes the node notifications. It keeps the latest
// snapshots for the API, updates the metrics and fans every notification out
// to event subscribers.
package monitor

import (
	"context"
	"errors"
	"sync"

	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/metrics"
	"go.uber.org/zap"
)

// Set of event types sent to subscribers.
const (
	TypeServer      = "server"
	TypeAlert       = "alert"
	TypeChain       = "chain"
	TypePool        = "pool"
	TypePeers       = "peers"
	TypeMiners      = "miners"
	TypeBlock       = "block"
	TypeMiningError = "miningError"
)

// defaultMaxAlerts bounds the alerts kept for the API.
const defaultMaxAlerts = 50

// Publisher sends events outside the process.
type Publisher interface {
	Emit(ev events.Event) error
}

// Snapshot is the latest view of the node the monitor has seen.
type Snapshot struct {
	Server state.ServerEvent `json:"server"`
	Chain  []database.Block  `json:"chain"`
	Pool   []database.Tx     `json:"pool"`
	Peers  state.PeersEvent  `json:"peers"`
	Miners []string          `json:"miners"`
	Alerts []state.Alert     `json:"alerts"`
}

// Config represents the systems the monitor reports to. Metrics, Events and
// Publisher are optional.
type Config struct {
	Log       *zap.SugaredLogger
	Metrics   *metrics.Metrics
	Events    *events.Events
	Publisher Publisher
	MaxAlerts int
}

// Monitor manages the latest snapshot of the node.
type Monitor struct {
	cfg Config

	mu   sync.RWMutex
	snap Snapshot
}

// New constructs a monitor.
func New(cfg Config) *Monitor {
	if cfg.MaxAlerts <= 0 {
		cfg.MaxAlerts = defaultMaxAlerts
	}

	return &Monitor{
		cfg: cfg,
		snap: Snapshot{
			Peers: state.PeersEvent{
				Inbounds:  []peer.Peer{},
				Outbounds: []peer.Peer{},
			},
			Miners: []string{},
			Alerts: []state.Alert{},
		},
	}
}

// Snapshot returns the latest view of the node.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snap
	snap.Alerts = append([]state.Alert(nil), m.snap.Alerts...)

	return snap
}

// Run consumes the notifications until the context is cancelled.
func (m *Monitor) Run(ctx context.Context, n state.Notifications) error {
	m.cfg.Log.Infow("monitor", "status", "started")
	defer m.cfg.Log.Infow("monitor", "status", "stopped")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-n.Server:
			m.update(func(s *Snapshot) { s.Server = ev })
			m.cfg.Log.Infow("monitor", "server", ev.Started, "address", ev.Address)
			m.publish(TypeServer, ev)

		case alert := <-n.Alerts:
			m.update(func(s *Snapshot) {
				s.Alerts = append(s.Alerts, alert)
				if len(s.Alerts) > m.cfg.MaxAlerts {
					s.Alerts = s.Alerts[len(s.Alerts)-m.cfg.MaxAlerts:]
				}
			})
			m.cfg.Log.Infow("monitor", "alert", alert.Message, "severity", alert.Severity)
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.Alerts.WithLabelValues(string(alert.Severity)).Inc()
			}
			m.publish(TypeAlert, alert)

		case chain := <-n.Chain:
			m.update(func(s *Snapshot) { s.Chain = chain })
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.ChainHeight.Set(float64(len(chain)))
			}
			m.publish(TypeChain, chain)

		case pool := <-n.Pool:
			m.update(func(s *Snapshot) { s.Pool = pool })
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.PoolSize.Set(float64(len(pool)))
			}
			m.publish(TypePool, pool)

		case peers := <-n.Peers:
			m.update(func(s *Snapshot) { s.Peers = peers })
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.Peers.WithLabelValues(peer.RoleInbound).Set(float64(len(peers.Inbounds)))
				m.cfg.Metrics.Peers.WithLabelValues(peer.RoleOutbound).Set(float64(len(peers.Outbounds)))
			}
			m.publish(TypePeers, peers)

		case miners := <-n.Miners:
			m.update(func(s *Snapshot) { s.Miners = miners })
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.Miners.Set(float64(len(miners)))
			}
			m.publish(TypeMiners, miners)

		case block := <-n.Blocks:
			m.cfg.Log.Infow("monitor", "mined", block.Hash, "difficulty", block.Difficulty, "txs", len(block.Data))
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.BlocksMined.Inc()
			}
			m.publish(TypeBlock, block)

		case err := <-n.MiningErrors:
			m.cfg.Log.Errorw("monitor", "status", "mining stopped", "ERROR", err)
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.MiningErrors.Inc()
			}
			m.publish(TypeMiningError, map[string]string{"error": err.Error()})
		}
	}
}

// =============================================================================

func (m *Monitor) update(fn func(s *Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(&m.snap)
}

func (m *Monitor) publish(typ string, data any) {
	ev := events.New(typ, data)

	var errs []error
	if m.cfg.Events != nil {
		errs = append(errs, m.cfg.Events.Send(ev))
	}
	if m.cfg.Publisher != nil {
		errs = append(errs, m.cfg.Publisher.Emit(ev))
	}

	if err := errors.Join(errs...); err != nil {
		m.cfg.Log.Errorw("monitor", "status", "publish failed", "type", typ, "ERROR", err)
	}
}
