// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/powchain/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/powchain/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/powchain/business/core/monitor"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/metrics"
	"github.com/ardanlabs/powchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	State   *state.State
	Monitor *monitor.Monitor
	Evts    *events.Events
	Metrics *metrics.Metrics
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:     cfg.Log,
		Node:    cfg.State,
		Monitor: cfg.Monitor,
		Evts:    cfg.Evts,
		Metrics: cfg.Metrics,
		WS:      websocket.Upgrader{},
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/node", pbl.Info)
	app.Handle(http.MethodGet, version, "/chain", pbl.Chain)
	app.Handle(http.MethodGet, version, "/pool", pbl.Pool)
	app.Handle(http.MethodGet, version, "/peers", pbl.Peers)
	app.Handle(http.MethodGet, version, "/miners", pbl.Miners)
	app.Handle(http.MethodGet, version, "/alerts", pbl.Alerts)
	app.Handle(http.MethodGet, version, "/balance/:address", pbl.Balance)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:  cfg.Log,
		Node: cfg.State,
	}

	app.Handle(http.MethodPost, version, "/network/start", prv.StartNetwork)
	app.Handle(http.MethodPost, version, "/network/stop", prv.StopNetwork)
	app.Handle(http.MethodPost, version, "/mining/start", prv.StartMining)
	app.Handle(http.MethodPost, version, "/mining/stop", prv.StopMining)
	app.Handle(http.MethodPost, version, "/tx/send", prv.SendTransaction)
	app.Handle(http.MethodPost, version, "/tx/add", prv.AddTransaction)
	app.Handle(http.MethodPost, version, "/block/add", prv.AddBlock)
	app.Handle(http.MethodGet, version, "/wallet/balance", prv.Balance)
}
