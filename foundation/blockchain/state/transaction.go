package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
)

// ErrExceedsBlockGas is returned when a transaction could never fit in a block.
var ErrExceedsBlockGas = errors.New("gas limit exceeds block gas limit")

// UpsertWalletTransaction accepts a transaction from a wallet for inclusion.
func (s *State) UpsertWalletTransaction(tx database.SignedTx) (database.PendingTx, error) {
	return s.upsert("UpsertWalletTransaction", tx)
}

// UpsertNodeTransaction accepts a transaction from a peer for inclusion.
func (s *State) UpsertNodeTransaction(tx database.SignedTx) (database.PendingTx, error) {
	return s.upsert("UpsertNodeTransaction", tx)
}

// upsert validates the signature and admits the transaction to the mempool.
// Admitted transactions are shared with the peers and the subscribers.
func (s *State) upsert(source string, tx database.SignedTx) (database.PendingTx, error) {
	if s.Status() != StatusRunning {
		return database.PendingTx{}, ErrNotRunning
	}

	// Check the signed transaction has a proper signature, the from matches
	// the signature, and the from and to fields are properly formatted.
	if err := tx.Validate(s.genesis.ChainID); err != nil {
		return database.PendingTx{}, err
	}

	if tx.GasLimit > s.genesis.GasLimit {
		return database.PendingTx{}, fmt.Errorf("%w: limit %d, block %d", ErrExceedsBlockGas, tx.GasLimit, s.genesis.GasLimit)
	}

	ptx, err := s.mempool.Admit(tx, s.db)
	if err != nil {
		return database.PendingTx{}, err
	}

	s.evHandler("state: %s: tx[%s] from[%s] nonce[%d]: admitted", source, ptx.TxHash, tx.From, tx.Nonce)

	s.Worker.SignalShareTx(tx)
	s.pending.Send(ptx)

	return ptx, nil
}

// SweepMempool drops the transactions that waited longer than the
// configured age.
func (s *State) SweepMempool() int {
	expired := s.mempool.Sweep(time.Now())
	for _, tx := range expired {
		s.evHandler("state: SweepMempool: tx[%s]: expired", tx.TxHash)
	}

	return len(expired)
}
