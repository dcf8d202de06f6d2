// This program performs administrative tasks against the chain data a node
// has written to storage. The node must be stopped first.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/evmchain/app/tooling/admin/commands"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/storage/bolt"
	"github.com/ardanlabs/evmchain/foundation/blockchain/storage/disk"
	"github.com/ardanlabs/evmchain/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
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
	cfg := struct {
		conf.Version
		Args    conf.Args
		DBPath  string `conf:"default:zblock/miner1/"`
		Storage string `conf:"default:disk,help:disk or bolt"`
		ChainID uint64 `conf:"default:1337"`
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	const prefix = "ADMIN"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	var strg database.Serializer
	switch cfg.Storage {
	case "bolt":
		strg, err = bolt.New(filepath.Join(cfg.DBPath, "chain.db"), cfg.ChainID)
	default:
		strg, err = disk.New(cfg.DBPath, cfg.ChainID)
	}
	if err != nil {
		return err
	}
	defer strg.Close()

	log.Infow("startup", "storage", cfg.Storage, "path", cfg.DBPath, "chainid", cfg.ChainID)

	return processCommands(cfg.Args, strg)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args conf.Args, strg database.Serializer) error {
	switch args.Num(0) {
	case "bals":
		if err := commands.Balances(args, strg); err != nil {
			return fmt.Errorf("getting balances: %w", err)
		}

	case "trans":
		if err := commands.Transactions(args, strg); err != nil {
			return fmt.Errorf("getting transactions: %w", err)
		}

	case "reset":
		if err := strg.Reset(); err != nil {
			return fmt.Errorf("resetting storage: %w", err)
		}
		fmt.Println("chain data removed, the node starts from genesis")

	default:
		fmt.Println("bals [account]: show the persisted account balances")
		fmt.Println("trans [account]: show the committed transactions")
		fmt.Println("reset: remove the persisted chain data")
	}

	return nil
}
