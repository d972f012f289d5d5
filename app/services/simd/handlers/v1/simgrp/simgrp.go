// Package simgrp maintains the group of handlers for simulation access.
package simgrp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chainmesh/gossipsim/business/web/errs"
	"github.com/chainmesh/gossipsim/foundation/events"
	"github.com/chainmesh/gossipsim/foundation/gossip/identity"
	"github.com/chainmesh/gossipsim/foundation/gossip/sim"
	"github.com/chainmesh/gossipsim/foundation/validate"
	"github.com/chainmesh/gossipsim/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of simulation endpoints.
type Handlers struct {
	Log  *zap.SugaredLogger
	Sim  *sim.Simulation
	WS   websocket.Upgrader
	Evts *events.Events
}

// Events handles a web socket to provide simulation events to a client.
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

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteJSON(evt); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// QueryTick returns the current simulation tick.
func (h Handlers) QueryTick(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	resp := struct {
		Tick int `json:"tick"`
	}{
		Tick: h.Sim.Tick(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// QueryPeers returns a snapshot of the peer population.
func (h Handlers) QueryPeers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Sim.Peers(), http.StatusOK)
}

// QueryChains returns a snapshot of the known chains.
func (h Handlers) QueryChains(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Sim.Chains(), http.StatusOK)
}

// QueryIdentities returns the set of user identities in the simulation.
func (h Handlers) QueryIdentities(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Sim.Identities(), http.StatusOK)
}

// QueryOwned returns the chain ids owned by the specified identity.
func (h Handlers) QueryOwned(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := identity.ToID(web.Param(r, "identity"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		IdentityID string   `json:"identity_id"`
		Chains     []string `json:"chains"`
	}{
		IdentityID: string(id),
		Chains:     h.Sim.OwnedBy(id),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// QueryStats returns a snapshot of the simulation statistics.
func (h Handlers) QueryStats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Sim.Stats(), http.StatusOK)
}

// Start brings up the simulation clock. Calling it on a running
// simulation has no effect.
func (h Handlers) Start(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.Sim.Start()
	return web.Respond(ctx, w, status("running"), http.StatusOK)
}

// Stop terminates the simulation clock. The simulation state stays
// queryable afterward.
func (h Handlers) Stop(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.Sim.Stop()
	return web.Respond(ctx, w, status("stopped"), http.StatusOK)
}

// Pause suspends the simulation clock.
func (h Handlers) Pause(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.Sim.Pause()
	return web.Respond(ctx, w, status("paused"), http.StatusOK)
}

// Resume releases a paused simulation clock.
func (h Handlers) Resume(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.Sim.Resume()
	return web.Respond(ctx, w, status("running"), http.StatusOK)
}

// SubmitTransfer originates a new transfer block at one of the owner's
// hosting peers.
func (h Handlers) SubmitTransfer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req newTransfer
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}
	if err := validate.Check(req); err != nil {
		return err
	}

	ownerID, err := identity.ToID(req.OwnerID)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("owner: %w", err), http.StatusBadRequest)
	}
	targetID, err := identity.ToID(req.TargetID)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("target: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("submit transfer", "traceid", v.TraceID, "owner", ownerID, "chain", req.ChainID, "target", targetID)

	if err := h.Sim.SubmitTransfer(ownerID, req.ChainID, targetID); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, status("transfer submitted"), http.StatusOK)
}

// status builds the uniform response body for control endpoints.
func status(s string) any {
	return struct {
		Status string `json:"status"`
	}{
		Status: s,
	}
}
