// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/mempool/selector"
	"github.com/ethereum/go-ethereum/common"
)

// Set of errors returned when a transaction is not admitted.
var (
	ErrDuplicate    = errors.New("duplicate transaction")
	ErrPoolFull     = errors.New("mempool is full")
	ErrAccountLimit = errors.New("too many pending transactions for account")
	ErrNotFound     = errors.New("transaction not found")
)

// Config represents the limits of the mempool.
type Config struct {
	MaxSize        int
	MaxPerAccount  int
	MaxAge         time.Duration
	SelectStrategy string
}

// Stats summarizes the content of the mempool.
type Stats struct {
	Pending  int `json:"pending"`
	Senders  int `json:"senders"`
	Capacity int `json:"capacity"`
}

// Mempool represents a cache of transactions keyed by transaction hash with
// a second index of the transactions per sender.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[common.Hash]database.PendingTx
	accounts map[common.Address]map[common.Hash]struct{}
	cfg      Config
	selectFn selector.Func
	now      func() time.Time
}

// New constructs a new mempool using the configured select strategy.
func New(cfg Config) (*Mempool, error) {
	if cfg.SelectStrategy == "" {
		cfg.SelectStrategy = selector.StrategyRoundRobin
	}

	selectFn, err := selector.Retrieve(cfg.SelectStrategy)
	if err != nil {
		return nil, err
	}

	if cfg.MaxSize <= 0 || cfg.MaxPerAccount <= 0 {
		return nil, fmt.Errorf("mempool limits must be positive, size %d, per account %d", cfg.MaxSize, cfg.MaxPerAccount)
	}

	mp := Mempool{
		pool:     make(map[common.Hash]database.PendingTx),
		accounts: make(map[common.Address]map[common.Hash]struct{}),
		cfg:      cfg,
		selectFn: selectFn,
		now:      time.Now,
	}

	return &mp, nil
}

// Admit validates the transaction against the account state and stores it.
// The nonce must equal the sender's on-chain nonce, so several pooled
// transactions of one sender are alternatives for the same slot and each
// is checked against the full balance. When the pool is full
// the cheapest transaction is evicted if the new one pays a higher price.
func (mp *Mempool) Admit(tx database.SignedTx, view selector.StateView) (database.PendingTx, error) {
	hash := tx.Hash()

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[hash]; exists {
		return database.PendingTx{}, fmt.Errorf("%w: %s", ErrDuplicate, hash)
	}

	var evict *database.PendingTx
	if len(mp.pool) >= mp.cfg.MaxSize {
		cheapest, ok := mp.cheapest()
		if !ok || cheapest.GasPrice.Cmp(tx.GasPrice) >= 0 {
			return database.PendingTx{}, fmt.Errorf("%w: capacity %d", ErrPoolFull, mp.cfg.MaxSize)
		}
		evict = &cheapest
	}

	if n := len(mp.accounts[tx.From]); n >= mp.cfg.MaxPerAccount {
		return database.PendingTx{}, fmt.Errorf("%w: %s has %d", ErrAccountLimit, tx.From, n)
	}

	if err := tx.ValidateAgainst(view.Balance(tx.From), view.Nonce(tx.From)); err != nil {
		return database.PendingTx{}, err
	}

	if evict != nil {
		mp.remove(evict.TxHash)
	}

	ptx := database.NewPendingTx(tx, mp.now())
	mp.pool[hash] = ptx

	hashes, exists := mp.accounts[tx.From]
	if !exists {
		hashes = make(map[common.Hash]struct{})
		mp.accounts[tx.From] = hashes
	}
	hashes[hash] = struct{}{}

	return ptx, nil
}

// SelectForBlock uses the configured select strategy to return the
// transactions for the next block within the gas limit.
func (mp *Mempool) SelectForBlock(gasLimit uint64, view selector.StateView) []database.PendingTx {

	// Group the transactions by account.
	m := make(map[common.Address][]database.PendingTx)
	mp.mu.RLock()
	{
		for _, tx := range mp.pool {
			m[tx.From] = append(m[tx.From], tx)
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, gasLimit, view)
}

// Remove deletes the transactions from the mempool.
func (mp *Mempool) Remove(hashes []common.Hash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, hash := range hashes {
		mp.remove(hash)
	}
}

// RemoveStale deletes transactions whose nonce has already been used on
// chain and returns how many were removed.
func (mp *Mempool) RemoveStale(view selector.StateView) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	var removed int
	for from, hashes := range mp.accounts {
		nonce := view.Nonce(from)
		for hash := range hashes {
			if mp.pool[hash].Nonce < nonce {
				mp.remove(hash)
				removed++
			}
		}
	}

	return removed
}

// Sweep deletes transactions older than the configured age ceiling and
// returns them.
func (mp *Mempool) Sweep(now time.Time) []database.PendingTx {
	if mp.cfg.MaxAge <= 0 {
		return nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	var expired []database.PendingTx
	for hash, tx := range mp.pool {
		if now.Sub(tx.ArrivedAt) > mp.cfg.MaxAge {
			expired = append(expired, tx)
			mp.remove(hash)
		}
	}

	return expired
}

// Get returns the pending transaction for the hash.
func (mp *Mempool) Get(hash common.Hash) (database.PendingTx, error) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	tx, exists := mp.pool[hash]
	if !exists {
		return database.PendingTx{}, ErrNotFound
	}

	return tx, nil
}

// Pending returns a copy of the transactions in arrival order.
func (mp *Mempool) Pending() []database.PendingTx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.PendingTx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		txs = append(txs, tx)
	}

	sort.Slice(txs, func(i, j int) bool {
		return txs[i].ArrivedAt.Before(txs[j].ArrivedAt)
	})

	return txs
}

// PendingNonce reports the nonce that follows the sender's pooled
// transactions. It answers the pending tag only and plays no part in
// admission.
func (mp *Mempool) PendingNonce(from common.Address, onChain uint64) uint64 {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return mp.pendingNonce(from, onChain)
}

// Count returns the current number of transaction in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Stats returns a summary of the pool.
func (mp *Mempool) Stats() Stats {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return Stats{
		Pending:  len(mp.pool),
		Senders:  len(mp.accounts),
		Capacity: mp.cfg.MaxSize,
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[common.Hash]database.PendingTx)
	mp.accounts = make(map[common.Address]map[common.Hash]struct{})
}

// =============================================================================

// remove deletes the transaction from both indexes. The caller must hold
// the write lock.
func (mp *Mempool) remove(hash common.Hash) {
	tx, exists := mp.pool[hash]
	if !exists {
		return
	}

	delete(mp.pool, hash)

	hashes := mp.accounts[tx.From]
	delete(hashes, hash)
	if len(hashes) == 0 {
		delete(mp.accounts, tx.From)
	}
}

// cheapest finds the transaction with the lowest gas price. The latest
// arrival loses a tie. The caller must hold a lock.
func (mp *Mempool) cheapest() (database.PendingTx, bool) {
	var found bool
	var low database.PendingTx

	for _, tx := range mp.pool {
		switch {
		case !found:
		case tx.GasPrice.Lt(low.GasPrice):
		case tx.GasPrice.Eq(low.GasPrice) && tx.ArrivedAt.After(low.ArrivedAt):
		default:
			continue
		}

		low = tx
		found = true
	}

	return low, found
}

// pendingNonce walks the sender's pooled nonces up from the on-chain nonce.
// The caller must hold a lock.
func (mp *Mempool) pendingNonce(from common.Address, nonce uint64) uint64 {
	hashes := mp.accounts[from]
	if len(hashes) == 0 {
		return nonce
	}

	nonces := make(map[uint64]bool, len(hashes))
	for hash := range hashes {
		nonces[mp.pool[hash].Nonce] = true
	}

	for nonces[nonce] {
		nonce++
	}

	return nonce
}
