// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"net/http"
	"time"

	"github.com/ardanlabs/powchain/business/core/monitor"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/wallet"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/metrics"
	"github.com/ardanlabs/powchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Node is the identity information the handlers need from the node state.
type Node interface {
	NodeID() string
	Address() string
	Genesis() genesis.Genesis
}

// Handlers manages the set of node query endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Node    Node
	Monitor *monitor.Monitor
	Evts    *events.Events
	Metrics *metrics.Metrics
	WS      websocket.Upgrader
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	if h.Metrics != nil {
		h.Metrics.EventListeners.Inc()
		defer h.Metrics.EventListeners.Dec()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Info returns the identity of the node and its consensus values.
func (h Handlers) Info(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	snap := h.Monitor.Snapshot()

	resp := node{
		ID:      h.Node.NodeID(),
		Address: h.Node.Address(),
		Server:  snap.Server,
		Height:  len(snap.Chain),
		Genesis: h.Node.Genesis(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Chain returns the blocks of the local chain.
func (h Handlers) Chain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Monitor.Snapshot().Chain, http.StatusOK)
}

// Pool returns the set of pending transactions.
func (h Handlers) Pool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Monitor.Snapshot().Pool, http.StatusOK)
}

// Peers returns the connected peers by role.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Monitor.Snapshot().Peers, http.StatusOK)
}

// Miners returns the ids of the nodes known to be mining.
func (h Handlers) Miners(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Monitor.Snapshot().Miners, http.StatusOK)
}

// Alerts returns the most recent alerts.
func (h Handlers) Alerts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Monitor.Snapshot().Alerts, http.StatusOK)
}

// Balance returns the balance of any address from the latest chain and pool
// snapshots.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := web.Param(r, "address")
	snap := h.Monitor.Snapshot()

	confirmed := database.CalculateBalance(snap.Chain, address, h.Node.Genesis().InitialBalance)

	resp := balance{
		Address:   address,
		Confirmed: confirmed,
		Pending:   wallet.BalanceWithPool(snap.Pool, confirmed, address),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
