// Package worker implements block production, persistence, peer upkeep,
// and sharing of blocks and transactions for the blockchain.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
)

// maxTxShareRequests represents the max number of pending tx network share
// requests that can be outstanding before share requests are dropped.
const maxTxShareRequests = 100

// maxBlockShareRequests is the same limit for committed blocks.
const maxBlockShareRequests = 10

// Network represents the behavior the worker needs from the peer network.
type Network interface {
	BroadcastBlock(block database.Block)
	BroadcastTx(tx database.SignedTx)
	Heartbeat()
	Discover(ctx context.Context)
}

// Config represents the intervals the worker runs on. A zero interval
// turns the operation off.
type Config struct {
	BlockTime         time.Duration
	SweepInterval     time.Duration
	HeartbeatInterval time.Duration
	DiscoveryInterval time.Duration
}

// =============================================================================

// Worker manages the PoA workflows for the blockchain.
type Worker struct {
	state        *state.State
	net          Network
	cfg          Config
	wg           sync.WaitGroup
	shut         chan struct{}
	persist      chan bool
	txSharing    chan database.SignedTx
	blockSharing chan database.Block
	evHandler    state.EventHandler
}

// Run creates a worker, registers the worker with the state package, and
// starts up all the background processes. The network can be nil for a
// node that runs alone.
func Run(st *state.State, net Network, cfg Config, evHandler state.EventHandler) *Worker {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	w := Worker{
		state:        st,
		net:          net,
		cfg:          cfg,
		shut:         make(chan struct{}),
		persist:      make(chan bool, 1),
		txSharing:    make(chan database.SignedTx, maxTxShareRequests),
		blockSharing: make(chan database.Block, maxBlockShareRequests),
		evHandler:    evHandler,
	}

	// Register this worker with the state package.
	st.Worker = &w

	// Connect to the known peers before starting any support G's.
	if net != nil {
		net.Discover(context.Background())
	}

	// Load the set of operations we need to run.
	operations := []func(){
		w.persistOperations,
		w.shareTxOperations,
		w.shareBlockOperations,
	}

	if cfg.BlockTime > 0 {
		operations = append(operations, w.produceOperations)
	}
	if cfg.SweepInterval > 0 {
		operations = append(operations, w.sweepOperations)
	}
	if net != nil && cfg.HeartbeatInterval > 0 {
		operations = append(operations, w.heartbeatOperations)
	}
	if net != nil && cfg.DiscoveryInterval > 0 {
		operations = append(operations, w.discoveryOperations)
	}

	// Set waitgroup to match the number of G's we need for the set
	// of operations we have.
	g := len(operations)
	w.wg.Add(g)

	// We don't want to return until we know all the G's are up and running.
	hasStarted := make(chan bool)

	// Start all the operational G's.
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}

	// Wait for the G's to report they are running.
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// =============================================================================
// These methods implement the state.Worker interface.

// Shutdown terminates the goroutines performing work.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	w.evHandler("worker: shutdown: terminate goroutines")
	close(w.shut)
	w.wg.Wait()
}

// SignalPersist requests the chain be written to storage. If there is
// already a signal pending in the channel, just return since a write will
// pick up the latest chain anyway.
func (w *Worker) SignalPersist() {
	select {
	case w.persist <- true:
	default:
	}
}

// SignalShareTx signals a share transaction operation. If
// maxTxShareRequests signals exist in the channel, we won't send these.
func (w *Worker) SignalShareTx(tx database.SignedTx) {
	select {
	case w.txSharing <- tx:
		w.evHandler("worker: SignalShareTx: share Tx signaled")
	default:
		w.evHandler("worker: SignalShareTx: queue full, transactions won't be shared.")
	}
}

// SignalShareBlock signals a share block operation.
func (w *Worker) SignalShareBlock(block database.Block) {
	select {
	case w.blockSharing <- block:
		w.evHandler("worker: SignalShareBlock: share blk[%d] signaled", block.Header.Number)
	default:
		w.evHandler("worker: SignalShareBlock: queue full, blk[%d] won't be shared.", block.Header.Number)
	}
}

// =============================================================================

// isShutdown is used to test if a shutdown has been signaled.
func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}
