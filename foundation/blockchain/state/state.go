// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/executor"
	"github.com/ardanlabs/evmchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/evmchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/evmchain/foundation/blockchain/peer"
	"github.com/ardanlabs/evmchain/foundation/events"
	"github.com/ethereum/go-ethereum/common"
)

// Set of errors returned by the state API.
var (
	ErrNotRunning       = errors.New("node is not running")
	ErrNotScheduled     = errors.New("node is not the scheduled producer")
	ErrKnownBlock       = errors.New("block already known")
	ErrConflictingBlock = errors.New("block conflicts with the chain")
	ErrFutureBlock      = errors.New("block is ahead of the chain")
	ErrWrongProducer    = errors.New("block produced out of turn")
	ErrStateMismatch    = errors.New("block result does not match its header")
	ErrGenesisMismatch  = errors.New("stored chain has a different genesis")
	ErrNotFound         = errors.New("not found")
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for block production, persistence, and sharing
// with peers.
type Worker interface {
	Shutdown()
	SignalPersist()
	SignalShareTx(tx database.SignedTx)
	SignalShareBlock(block database.Block)
}

// Status represents where the node is in its life cycle.
type Status int32

// Set of statuses the node moves through.
const (
	StatusInitializing Status = iota
	StatusRunning
	StatusStopped
)

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	}
	return "unknown"
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	Producer       common.Address
	Genesis        genesis.Genesis
	Storage        database.Serializer
	SelectStrategy string
	MempoolMaxAge  time.Duration
	KnownPeers     *peer.PeerSet
	EvHandler      EventHandler
}

// State manages the blockchain database.
type State struct {
	producer   common.Address
	genesis    genesis.Genesis
	validators []common.Address
	evHandler  EventHandler
	status     atomic.Int32

	knownPeers *peer.PeerSet
	storage    database.Serializer
	db         *database.Database
	executor   *executor.Executor
	mempool    *mempool.Mempool

	// produceMu serializes everything that changes the chain so only one
	// block is executed and committed at a time.
	produceMu sync.Mutex

	// mu guards the chain indexes below.
	mu       sync.RWMutex
	blocks   map[common.Hash]database.Block
	numbers  []common.Hash
	receipts map[common.Hash]database.Receipt
	txBlocks map[common.Hash]common.Hash

	heads   *events.Events[database.Block]
	pending *events.Events[database.PendingTx]

	Worker Worker
}

// New constructs a new blockchain for data management. The chain is loaded
// from storage when data exists, otherwise the genesis block is created.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Storage == nil {
		return nil, errors.New("storage is required")
	}

	// A genesis value can be built in code without going through Load.
	if err := cfg.Genesis.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	validators, err := cfg.Genesis.ValidatorAddresses()
	if err != nil {
		return nil, fmt.Errorf("genesis validators: %w", err)
	}

	allocations, err := cfg.Genesis.Allocations()
	if err != nil {
		return nil, fmt.Errorf("genesis balances: %w", err)
	}

	// Construct a mempool with the specified select strategy.
	mpool, err := mempool.New(mempool.Config{
		MaxSize:        cfg.Genesis.MempoolMax,
		MaxPerAccount:  cfg.Genesis.MempoolPerAccount,
		MaxAge:         cfg.MempoolMaxAge,
		SelectStrategy: cfg.SelectStrategy,
	})
	if err != nil {
		return nil, err
	}

	knownPeers := cfg.KnownPeers
	if knownPeers == nil {
		knownPeers = peer.NewPeerSet()
	}

	db := database.New(allocations)

	// Create the State to provide support for managing the blockchain.
	state := State{
		producer:   cfg.Producer,
		genesis:    cfg.Genesis,
		validators: validators,
		evHandler:  ev,

		knownPeers: knownPeers,
		storage:    cfg.Storage,
		db:         db,
		executor:   executor.New(db, executor.EventHandler(ev)),
		mempool:    mpool,

		blocks:   make(map[common.Hash]database.Block),
		receipts: make(map[common.Hash]database.Receipt),
		txBlocks: make(map[common.Hash]common.Hash),

		heads:   events.New[database.Block](),
		pending: events.New[database.PendingTx](),

		// The Worker is replaced by the call to worker.Run.
		Worker: noWorker{},
	}

	state.status.Store(int32(StatusInitializing))

	data, err := cfg.Storage.Read()
	switch {
	case errors.Is(err, database.ErrNoChainData):
		ev("state: New: no chain data: creating genesis")
		state.commit(state.genesisBlock(), nil)

	case err != nil:
		return nil, fmt.Errorf("reading chain data: %w", err)

	default:
		if err := state.load(data); err != nil {
			return nil, err
		}
		ev("state: New: loaded chain: latest blk[%d]", data.LatestBlock)
	}

	state.status.Store(int32(StatusRunning))

	return &state, nil
}

// Shutdown cleanly brings the node down. The chain is persisted one last
// time before the storage is closed.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the storage is properly closed.
	defer func() {
		s.storage.Close()
	}()

	s.status.Store(int32(StatusStopped))

	// Stop all blockchain writing activity.
	s.Worker.Shutdown()

	s.heads.Shutdown()
	s.pending.Shutdown()

	return s.Persist()
}

// Status returns where the node is in its life cycle.
func (s *State) Status() Status {
	return Status(s.status.Load())
}

// Producer returns the address this node produces blocks with.
func (s *State) Producer() common.Address {
	return s.producer
}

// Genesis returns a copy of the genesis information.
func (s *State) Genesis() genesis.Genesis {
	return s.genesis
}

// ChainID returns the id of the chain this node is running.
func (s *State) ChainID() uint64 {
	return s.genesis.ChainID
}

// KnownPeers returns the set of peers this node knows about.
func (s *State) KnownPeers() *peer.PeerSet {
	return s.knownPeers
}

// =============================================================================

// SubscribeHeads returns a channel that receives every committed block.
func (s *State) SubscribeHeads(id string) <-chan database.Block {
	return s.heads.Acquire(id)
}

// UnsubscribeHeads releases the channel acquired by SubscribeHeads.
func (s *State) UnsubscribeHeads(id string) error {
	return s.heads.Release(id)
}

// SubscribePending returns a channel that receives every admitted
// transaction.
func (s *State) SubscribePending(id string) <-chan database.PendingTx {
	return s.pending.Acquire(id)
}

// UnsubscribePending releases the channel acquired by SubscribePending.
func (s *State) UnsubscribePending(id string) error {
	return s.pending.Release(id)
}

// =============================================================================

// genesisBlock builds the first block from the genesis information.
func (s *State) genesisBlock() database.Block {
	return database.Genesis(s.genesis.ChainID, uint64(s.genesis.Date.UnixMilli()), s.genesis.GasLimit)
}

// noWorker is used until a worker registers itself.
type noWorker struct{}

func (noWorker) Shutdown()                       {}
func (noWorker) SignalPersist()                  {}
func (noWorker) SignalShareTx(database.SignedTx) {}
func (noWorker) SignalShareBlock(database.Block) {}
