// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/ardanlabs/evmchain/app/services/node/handlers/v1/private"
	"github.com/ardanlabs/evmchain/app/services/node/handlers/v1/public"
	"github.com/ardanlabs/evmchain/app/services/node/handlers/v1/rpcgrp"
	"github.com/ardanlabs/evmchain/business/core/faucet"
	"github.com/ardanlabs/evmchain/foundation/blockchain/peer"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/events"
	"github.com/ardanlabs/evmchain/foundation/nameservice"
	"github.com/ardanlabs/evmchain/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log     *zap.SugaredLogger
	State   *state.State
	NS      *nameservice.NameService
	Network *peer.Network
	Faucet  *faucet.Faucet
	Evts    *events.Events[string]
}

// PublicRoutes binds all the version 1 public routes. The JSON-RPC
// endpoint lives at the root so standard Ethereum clients can use the
// node url as is.
func PublicRoutes(app *web.App, cfg Config) {
	rpc := rpcgrp.New(cfg.Log, cfg.State, cfg.NS, cfg.Faucet)

	app.Handle(http.MethodPost, "", "/", rpc.Serve)
	app.Handle(http.MethodGet, "", "/", rpc.Subscribe)

	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis/list", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/accounts/list", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/accounts/list/:account", pbl.Accounts)
	app.Handle(http.MethodGet, version, "/tx/list/:account", pbl.TransactionsByAccount)
	app.Handle(http.MethodGet, version, "/tx/get/:hash", pbl.Transaction)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Mempool)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list/:account", pbl.Mempool)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:     cfg.Log,
		State:   cfg.State,
		Network: cfg.Network,
	}

	if cfg.Network != nil {
		app.HandleRaw(http.MethodGet, "", peer.Path, cfg.Network)
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/peers", prv.Peers)
	app.Handle(http.MethodGet, version, "/node/block/list/:from/:to", prv.BlocksByNumber)
	app.Handle(http.MethodPost, version, "/node/block/propose", prv.ProposeBlock)
	app.Handle(http.MethodPost, version, "/node/tx/submit", prv.SubmitNodeTransaction)
	app.Handle(http.MethodGet, version, "/node/tx/list", prv.Mempool)
}
