package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/evmchain/app/services/node/handlers"
	"github.com/ardanlabs/evmchain/business/core/faucet"
	"github.com/ardanlabs/evmchain/business/sys/metrics"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/evmchain/foundation/blockchain/peer"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/blockchain/storage/bolt"
	"github.com/ardanlabs/evmchain/foundation/blockchain/storage/disk"
	"github.com/ardanlabs/evmchain/foundation/blockchain/worker"
	"github.com/ardanlabs/evmchain/foundation/events"
	"github.com/ardanlabs/evmchain/foundation/logger"
	"github.com/ardanlabs/evmchain/foundation/nameservice"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			ProducerName   string   `conf:"default:miner1"`
			GenesisPath    string   `conf:"default:zblock/genesis.yaml"`
			DBPath         string   `conf:"default:zblock/miner1/"`
			Storage        string   `conf:"default:disk,help:disk or bolt"`
			SelectStrategy string   `conf:"default:roundrobin"`
			KnownPeers     []string `conf:"default:0.0.0.0:9080;0.0.0.0:9180"`
		}
		Mempool struct {
			MaxAge        time.Duration `conf:"default:1h"`
			SweepInterval time.Duration `conf:"default:1m"`
		}
		Network struct {
			NodeID            string        `conf:"help:defaults to a generated id"`
			AdvertiseHost     string        `conf:"default:0.0.0.0:9080"`
			Role              string        `conf:"default:validator"`
			MaxPeers          int           `conf:"default:25"`
			Heartbeat         time.Duration `conf:"default:10s"`
			TimeoutMultiple   int           `conf:"default:3"`
			DialTimeout       time.Duration `conf:"default:5s"`
			DiscoveryInterval time.Duration `conf:"default:30s"`
			Permit            []string
		}
		NameService struct {
			Folder string `conf:"default:zblock/accounts/"`
		}
		Faucet struct {
			Name   string `conf:"default:faucet,help:empty turns the faucet off"`
			Amount string `conf:"default:1000000000000000000"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Network.NodeID == "" {
		cfg.Network.NodeID = uuid.NewString()
	}

	// =========================================================================
	// App Starting

	fmt.Println(`  _______     ____  __    ____ _   _    _    ___ _   _ `)
	fmt.Println(` | ____\ \   / /  \/  |  / ___| | | |  / \  |_ _| \ | |`)
	fmt.Println(` |  _|  \ \ / /| |\/| | | |   | |_| | / _ \  | ||  \| |`)
	fmt.Println(` | |___  \ V / | |  | | | |___|  _  |/ ___ \ | || |\  |`)
	fmt.Println(` |_____|  \_/  |_|  |_|  \____|_| |_/_/   \_\___|_| \_|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Genesis Support

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	log.Infow("startup", "status", "genesis", "chainid", gen.ChainID, "blocktime", gen.BlockTime(), "validators", len(gen.Validators))

	// =========================================================================
	// Name Service Support

	// The nameservice package provides name resolution for account addresses.
	// The names come from the file names in the zblock/accounts folder.
	ns, err := nameservice.New(cfg.NameService.Folder)
	if err != nil {
		return fmt.Errorf("unable to load account name service: %w", err)
	}

	// Logging the accounts for documentation in the logs.
	for account, name := range ns.Copy() {
		log.Infow("startup", "status", "nameservice", "name", name, "account", account)
	}

	// =========================================================================
	// Blockchain Support

	// Need to load the private key for the configured producer so the account
	// can get credited with fees and rewards.
	privateKey, err := ns.PrivateKey(cfg.State.ProducerName)
	if err != nil {
		return fmt.Errorf("unable to load private key for node: %w", err)
	}

	// A peer set is a collection of known nodes in the network so transactions
	// and blocks can be shared.
	peerSet := peer.NewPeerSet()
	for _, host := range cfg.State.KnownPeers {
		peerSet.Add(peer.New(host))
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. For now, these raw messages are sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New[string]()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	// The storage value is how the chain is written to and read back from
	// the file system.
	var strg database.Serializer
	switch cfg.State.Storage {
	case "bolt":
		strg, err = bolt.New(filepath.Join(cfg.State.DBPath, "chain.db"), gen.ChainID)
	default:
		strg, err = disk.New(cfg.State.DBPath, gen.ChainID)
	}
	if err != nil {
		return fmt.Errorf("unable to open %s storage: %w", cfg.State.Storage, err)
	}

	// The state value represents the blockchain node and manages the blockchain
	// database and provides an API for application support.
	st, err := state.New(state.Config{
		Producer:       crypto.PubkeyToAddress(privateKey.PublicKey),
		Genesis:        gen,
		Storage:        strg,
		SelectStrategy: cfg.State.SelectStrategy,
		MempoolMaxAge:  cfg.Mempool.MaxAge,
		KnownPeers:     peerSet,
		EvHandler:      ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// The network maintains the websocket connections with the other nodes.
	netCfg := peer.Config{
		NodeID:            cfg.Network.NodeID,
		Host:              cfg.Network.AdvertiseHost,
		Role:              peer.Role(cfg.Network.Role),
		MaxPeers:          cfg.Network.MaxPeers,
		HeartbeatInterval: cfg.Network.Heartbeat,
		TimeoutMultiple:   cfg.Network.TimeoutMultiple,
		DialTimeout:       cfg.Network.DialTimeout,
		KnownPeers:        peerSet,
		EvHandler:         ev,
	}
	if len(cfg.Network.Permit) > 0 {
		netCfg.Permit = peer.PermitNodes(cfg.Network.Permit...)
	}
	network := peer.NewNetwork(netCfg, st)
	defer network.Shutdown()

	// The worker package implements the different workflows such as block
	// production, transaction peer sharing, and peer updates. The worker will
	// register itself with the state.
	worker.Run(st, network, worker.Config{
		BlockTime:         gen.BlockTime(),
		SweepInterval:     cfg.Mempool.SweepInterval,
		HeartbeatInterval: cfg.Network.Heartbeat,
		DiscoveryInterval: cfg.Network.DiscoveryInterval,
	}, ev)

	// The faucet hands out a fixed amount to addresses that ask for it.
	var fct *faucet.Faucet
	if cfg.Faucet.Name != "" {
		fct, err = newFaucet(st, ns, cfg.Faucet.Name, cfg.Faucet.Amount)
		if err != nil {
			return fmt.Errorf("unable to start faucet: %w", err)
		}
		log.Infow("startup", "status", "faucet", "account", fct.Address())
	}

	// Keep the chain gauges current as blocks are committed.
	heads := st.SubscribeHeads("metrics")
	go func() {
		for block := range heads {
			metrics.SetBlockHeight(block.Header.Number)
			metrics.SetMempoolSize(st.QueryMempoolLength())
			metrics.SetPeerCount(network.Count())
		}
	}()

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		NS:       ns,
		Faucet:   fct,
		Evts:     evts,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Construct the mux for the private API calls.
	privateMux := handlers.PrivateMux(handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Network:  network,
	})

	// Construct a server to service the requests against the mux.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      privateMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// newFaucet loads the faucet key from the name service and constructs the
// faucet with the genesis gas price.
func newFaucet(st *state.State, ns *nameservice.NameService, name string, amount string) (*faucet.Faucet, error) {
	privateKey, err := ns.PrivateKey(name)
	if err != nil {
		return nil, err
	}

	value, err := database.ParseAmount(amount)
	if err != nil {
		return nil, err
	}

	return faucet.New(faucet.Config{
		Chain:      st,
		PrivateKey: privateKey,
		Amount:     value,
		GasPrice:   st.Genesis().SuggestedGasPrice(),
	})
}
