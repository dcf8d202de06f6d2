// Package selector provides different transaction selecting algorithms.
package selector

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// List of different select strategies.
const (
	StrategyRoundRobin = "roundrobin"
)

// Map of different select strategies with functions.
var strategies = map[string]Func{
	StrategyRoundRobin: roundRobinSelect,
}

// StateView is the account state a selection is checked against.
type StateView interface {
	Balance(address common.Address) *uint256.Int
	Nonce(address common.Address) uint64
}

// Func defines a function that takes a mempool of transactions grouped by
// address and selects the transactions for a block in an order based on the
// function's strategy. All selector functions MUST respect nonce ordering,
// MUST NOT exceed the gas limit with the intrinsic gas of the selection and
// MUST NOT select more than a sender can pay for.
type Func func(transactions map[common.Address][]database.PendingTx, gasLimit uint64, view StateView) []database.PendingTx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}
	return fn, nil
}

// =============================================================================

// byNonce provides sorting support by the transaction nonce value.
type byNonce []database.PendingTx

// Len returns the number of transactions in the list.
func (bn byNonce) Len() int {
	return len(bn)
}

// Less helps to sort the list by nonce in ascending order to keep the
// transactions in the right order of processing. Arrival breaks ties.
func (bn byNonce) Less(i, j int) bool {
	if bn[i].Nonce != bn[j].Nonce {
		return bn[i].Nonce < bn[j].Nonce
	}
	return bn[i].ArrivedAt.Before(bn[j].ArrivedAt)
}

// Swap moves transactions in the order of the nonce value.
func (bn byNonce) Swap(i, j int) {
	bn[i], bn[j] = bn[j], bn[i]
}

// =============================================================================

// byGasPrice provides sorting support by the gas price of the first
// transaction of each sender.
type byGasPrice [][]database.PendingTx

// Len returns the number of senders in the list.
func (bg byGasPrice) Len() int {
	return len(bg)
}

// Less helps to sort the senders by gas price in descending order to pick
// the transactions that provide the best reward. Arrival and then the
// address break ties so the order is deterministic.
func (bg byGasPrice) Less(i, j int) bool {
	a, b := bg[i][0], bg[j][0]

	if cmp := a.GasPrice.Cmp(b.GasPrice); cmp != 0 {
		return cmp > 0
	}

	if !a.ArrivedAt.Equal(b.ArrivedAt) {
		return a.ArrivedAt.Before(b.ArrivedAt)
	}

	return bytes.Compare(a.From[:], b.From[:]) < 0
}

// Swap moves senders in the order of the gas price value.
func (bg byGasPrice) Swap(i, j int) {
	bg[i], bg[j] = bg[j], bg[i]
}

// orderSenders sorts each sender's transactions by nonce and returns the
// senders ordered by the gas price of their lowest nonce transaction.
func orderSenders(m map[common.Address][]database.PendingTx) [][]database.PendingTx {
	senders := make([][]database.PendingTx, 0, len(m))
	for _, txs := range m {
		if len(txs) == 0 {
			continue
		}

		sorted := make([]database.PendingTx, len(txs))
		copy(sorted, txs)
		sort.Sort(byNonce(sorted))

		senders = append(senders, sorted)
	}

	sort.Sort(byGasPrice(senders))

	return senders
}
