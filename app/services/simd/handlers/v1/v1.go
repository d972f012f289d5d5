// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/chainmesh/gossipsim/app/services/simd/handlers/v1/simgrp"
	"github.com/chainmesh/gossipsim/foundation/events"
	"github.com/chainmesh/gossipsim/foundation/gossip/sim"
	"github.com/chainmesh/gossipsim/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log  *zap.SugaredLogger
	Sim  *sim.Simulation
	Evts *events.Events
}

// Routes binds all the version 1 routes.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	sgh := simgrp.Handlers{
		Log:  cfg.Log,
		Sim:  cfg.Sim,
		WS:   websocket.Upgrader{},
		Evts: cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", sgh.Events)
	app.Handle(http.MethodGet, version, "/sim/tick", sgh.QueryTick)
	app.Handle(http.MethodGet, version, "/peers/list", sgh.QueryPeers)
	app.Handle(http.MethodGet, version, "/chains/list", sgh.QueryChains)
	app.Handle(http.MethodGet, version, "/identities/list", sgh.QueryIdentities)
	app.Handle(http.MethodGet, version, "/owners/list/:identity", sgh.QueryOwned)
	app.Handle(http.MethodGet, version, "/stats", sgh.QueryStats)
	app.Handle(http.MethodPost, version, "/sim/start", sgh.Start)
	app.Handle(http.MethodPost, version, "/sim/stop", sgh.Stop)
	app.Handle(http.MethodPost, version, "/sim/pause", sgh.Pause)
	app.Handle(http.MethodPost, version, "/sim/resume", sgh.Resume)
	app.Handle(http.MethodPost, version, "/transfer/submit", sgh.SubmitTransfer)
}
