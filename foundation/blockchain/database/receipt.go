package database

import (
	"github.com/ardanlabs/evmchain/foundation/blockchain/merkle"
	"github.com/ardanlabs/evmchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Receipt status values.
const (
	ReceiptStatusFailed  uint64 = 0
	ReceiptStatusSuccess uint64 = 1
)

// Log is an event emitted while executing a transaction.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"transaction_hash"`
	TxIndex     uint64         `json:"transaction_index"`
	LogIndex    uint64         `json:"log_index"`
}

// Receipt is the recorded outcome of executing one transaction.
type Receipt struct {
	TxHash            common.Hash     `json:"transaction_hash"`
	TxIndex           uint64          `json:"transaction_index"`
	BlockNumber       uint64          `json:"block_number"`
	BlockHash         common.Hash     `json:"block_hash"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to"`
	ContractAddress   *common.Address `json:"contract_address"`
	GasUsed           uint64          `json:"gas_used"`
	CumulativeGasUsed uint64          `json:"cumulative_gas_used"`
	Status            uint64          `json:"status"`
	Logs              []Log           `json:"logs"`
	LogsBloom         types.Bloom     `json:"logs_bloom"`
	Error             string          `json:"error,omitempty"`
}

// Succeeded reports whether the transaction executed successfully.
func (r Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccess
}

// Hash returns the hash of the receipt. The block hash is left out since
// the receipts root is part of the header the block hash is computed from.
func (r Receipt) Hash() common.Hash {
	r.BlockHash = common.Hash{}
	return signature.Hash(r)
}

// CreateBloom builds the logs bloom for the set of logs.
func CreateBloom(logs []Log) types.Bloom {
	var bloom types.Bloom
	for _, log := range logs {
		bloom.Add(log.Address.Bytes())
		for _, topic := range log.Topics {
			bloom.Add(topic.Bytes())
		}
	}

	return bloom
}

// ReceiptsRoot computes the merkle root over the receipt hashes.
func ReceiptsRoot(receipts []Receipt) common.Hash {
	hashes := make([]common.Hash, len(receipts))
	for i, r := range receipts {
		hashes[i] = r.Hash()
	}

	return merkle.RootOf(hashes)
}
