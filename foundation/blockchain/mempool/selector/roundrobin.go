package selector

import (
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// sender tracks what is left for one account while packing a block.
type sender struct {
	txs     []database.PendingTx
	next    int
	nonce   uint64
	balance *uint256.Int
	stalled bool
}

// roundRobinSelect sweeps the senders in gas price order taking one
// transaction from each per pass. A sender drops out of the rotation the
// first time its next transaction has the wrong nonce, doesn't fit the gas
// left in the block or can't be paid for.
var roundRobinSelect = func(m map[common.Address][]database.PendingTx, gasLimit uint64, view StateView) []database.PendingTx {
	ordered := orderSenders(m)

	senders := make([]*sender, len(ordered))
	for i, txs := range ordered {
		from := txs[0].From
		senders[i] = &sender{
			txs:     txs,
			nonce:   view.Nonce(from),
			balance: view.Balance(from).Clone(),
		}
	}

	final := []database.PendingTx{}
	gasLeft := gasLimit

	for gasLeft >= database.TxGas {
		progress := false

		for _, s := range senders {
			if s.stalled {
				continue
			}

			tx, ok := s.take(gasLeft)
			if !ok {
				s.stalled = true
				continue
			}

			final = append(final, tx)
			gasLeft -= tx.IntrinsicGas()
			progress = true
		}

		if !progress {
			break
		}
	}

	return final
}

// take returns the sender's next transaction if it can be included.
func (s *sender) take(gasLeft uint64) (database.PendingTx, bool) {
	for s.next < len(s.txs) {
		tx := s.txs[s.next]

		// Transactions already covered by the on-chain nonce are skipped.
		if tx.Nonce < s.nonce {
			s.next++
			continue
		}

		if tx.Nonce != s.nonce {
			return database.PendingTx{}, false
		}

		intrinsic := tx.IntrinsicGas()
		if intrinsic > gasLeft {
			return database.PendingTx{}, false
		}

		cost, err := tx.Cost()
		if err != nil || s.balance.Lt(cost) {
			return database.PendingTx{}, false
		}

		// The sender keeps the refund of unused gas so only the value and
		// the intrinsic gas are spent.
		spent := new(uint256.Int).Mul(tx.GasPrice, uint256.NewInt(intrinsic))
		spent.Add(spent, tx.Value)
		s.balance.Sub(s.balance, spent)

		s.nonce++
		s.next++

		return tx, true
	}

	return database.PendingTx{}, false
}
