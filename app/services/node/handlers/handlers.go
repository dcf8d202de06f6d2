// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/ardanlabs/evmchain/app/services/node/handlers/debug/checkgrp"
	v1 "github.com/ardanlabs/evmchain/app/services/node/handlers/v1"
	"github.com/ardanlabs/evmchain/business/core/faucet"
	"github.com/ardanlabs/evmchain/business/sys/metrics"
	"github.com/ardanlabs/evmchain/business/web/mid"
	"github.com/ardanlabs/evmchain/foundation/blockchain/peer"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/events"
	"github.com/ardanlabs/evmchain/foundation/nameservice"
	"github.com/ardanlabs/evmchain/foundation/web"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	State    *state.State
	NS       *nameservice.NameService
	Network  *peer.Network
	Faucet   *faucet.Faucet
	Evts     *events.Events[string]
}

// PublicMux constructs the handler for wallets, explorers and JSON-RPC
// clients. Every route carries the CORS headers.
func PublicMux(cfg MuxConfig) http.Handler {
	app := newApp(cfg, mid.Cors("*"))
	v1.PublicRoutes(app, cfg.v1())

	return app
}

// PrivateMux constructs the handler for node to node traffic, including the
// websocket peer mesh.
func PrivateMux(cfg MuxConfig) http.Handler {
	app := newApp(cfg)
	v1.PrivateRoutes(app, cfg.v1())

	return app
}

// newApp builds a web.App with the middleware shared by both muxes. Extra
// middleware runs after the error handling and before panic recovery.
func newApp(cfg MuxConfig, extra ...web.Middleware) *web.App {
	mw := []web.Middleware{
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Metrics(),
	}
	mw = append(mw, extra...)
	mw = append(mw, mid.Panics())

	app := web.NewApp(cfg.Shutdown, mw...)

	// Preflight requests get an empty response with the CORS headers.
	preflight := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return nil
	}
	app.Handle(http.MethodOptions, "", "/*", preflight, mid.Cors("*"))

	return app
}

func (cfg MuxConfig) v1() v1.Config {
	return v1.Config{
		Log:     cfg.Log,
		State:   cfg.State,
		NS:      cfg.NS,
		Network: cfg.Network,
		Faucet:  cfg.Faucet,
		Evts:    cfg.Evts,
	}
}

// DebugStandardLibraryMux registers pprof, expvar and the prometheus scrape
// endpoint on a fresh mux. The DefaultServeMux is never used so imported
// packages can't register handlers on the debug port.
func DebugStandardLibraryMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/metrics", metrics.Handler())

	return mux
}

// DebugMux adds the readiness and liveness checks to the standard library
// debug routes.
func DebugMux(build string, log *zap.SugaredLogger, st *state.State) http.Handler {
	mux := DebugStandardLibraryMux()

	cgh := checkgrp.Handlers{
		Build: build,
		Log:   log,
		State: st,
	}
	mux.HandleFunc("/debug/readiness", cgh.Readiness)
	mux.HandleFunc("/debug/liveness", cgh.Liveness)

	return mux
}
