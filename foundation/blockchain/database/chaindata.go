package database

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoChainData is returned by a Serializer when nothing has been persisted.
var ErrNoChainData = errors.New("no chain data")

// Serializer interface represents the behavior required to be implemented by any
// package providing support for storing and reading the blockchain.
type Serializer interface {
	Write(data ChainData) error
	Read() (ChainData, error)
	Close() error
	Reset() error
}

// ChainData is the document written for a network. It holds the block and
// receipt indexes of the chain plus a full snapshot of the account state.
type ChainData struct {
	ChainID     uint64                           `json:"chain_id"`
	Blocks      []Pair[common.Hash, Block]       `json:"blocks"`
	Numbers     []Pair[uint64, common.Hash]      `json:"block_numbers"`
	Receipts    []Pair[common.Hash, Receipt]     `json:"receipts"`
	TxBlocks    []Pair[common.Hash, common.Hash] `json:"tx_blocks"`
	LatestBlock uint64                           `json:"latest_block"`
	State       Snapshot                         `json:"state"`
}
