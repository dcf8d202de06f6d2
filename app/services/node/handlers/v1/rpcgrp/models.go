package rpcgrp

import (
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// rpcBlock is the JSON-RPC representation of a block. Transactions hold
// either hashes or full transaction objects.
type rpcBlock struct {
	Number           hexutil.Uint64 `json:"number"`
	Hash             common.Hash    `json:"hash"`
	ParentHash       common.Hash    `json:"parentHash"`
	Nonce            hexutil.Uint64 `json:"nonce"`
	MixHash          common.Hash    `json:"mixHash"`
	StateRoot        common.Hash    `json:"stateRoot"`
	TransactionsRoot common.Hash    `json:"transactionsRoot"`
	ReceiptsRoot     common.Hash    `json:"receiptsRoot"`
	Miner            common.Address `json:"miner"`
	Difficulty       hexutil.Uint64 `json:"difficulty"`
	ExtraData        hexutil.Bytes  `json:"extraData"`
	Size             hexutil.Uint64 `json:"size"`
	GasLimit         hexutil.Uint64 `json:"gasLimit"`
	GasUsed          hexutil.Uint64 `json:"gasUsed"`
	Timestamp        hexutil.Uint64 `json:"timestamp"`
	Transactions     []any          `json:"transactions,omitempty"`
	Uncles           []common.Hash  `json:"uncles"`
}

// toBlock converts a block. The header timestamp is kept in milliseconds
// and reported in seconds like every Ethereum client does.
func toBlock(block database.Block, fullTx bool) rpcBlock {
	hdr := block.Header

	extra := hdr.ExtraData
	if extra == nil {
		extra = hexutil.Bytes{}
	}

	b := rpcBlock{
		Number:           hexutil.Uint64(hdr.Number),
		Hash:             block.Hash,
		ParentHash:       hdr.ParentHash,
		Nonce:            hexutil.Uint64(hdr.Nonce),
		MixHash:          hdr.MixHash,
		StateRoot:        hdr.StateRoot,
		TransactionsRoot: hdr.TransactionsRoot,
		ReceiptsRoot:     hdr.ReceiptsRoot,
		Miner:            hdr.Producer,
		Difficulty:       hexutil.Uint64(hdr.Difficulty),
		ExtraData:        extra,
		Size:             hexutil.Uint64(block.Size),
		GasLimit:         hexutil.Uint64(hdr.GasLimit),
		GasUsed:          hexutil.Uint64(hdr.GasUsed),
		Timestamp:        hexutil.Uint64(hdr.Timestamp / 1000),
		Transactions:     make([]any, len(block.Transactions)),
		Uncles:           []common.Hash{},
	}

	for i, tx := range block.Transactions {
		if !fullTx {
			b.Transactions[i] = tx.Hash()
			continue
		}

		b.Transactions[i] = toTransaction(state.BlockTx{
			Tx:          tx,
			BlockHash:   block.Hash,
			BlockNumber: hdr.Number,
			TxIndex:     uint64(i),
		})
	}

	return b
}

// toHeader converts a block without its transactions for the newHeads
// subscription.
func toHeader(block database.Block) rpcBlock {
	b := toBlock(block, false)
	b.Transactions = nil
	return b
}

// rpcTransaction is the JSON-RPC representation of a transaction. The
// block fields are null while the transaction is pending.
type rpcTransaction struct {
	Hash             common.Hash     `json:"hash"`
	Nonce            hexutil.Uint64  `json:"nonce"`
	BlockHash        *common.Hash    `json:"blockHash"`
	BlockNumber      *hexutil.Uint64 `json:"blockNumber"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
	From             common.Address  `json:"from"`
	To               *common.Address `json:"to"`
	Value            *hexutil.Big    `json:"value"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	Gas              hexutil.Uint64  `json:"gas"`
	Input            hexutil.Bytes   `json:"input"`
	ChainID          hexutil.Uint64  `json:"chainId"`
	V                *hexutil.Big    `json:"v"`
	R                *hexutil.Big    `json:"r"`
	S                *hexutil.Big    `json:"s"`
}

func toTransaction(btx state.BlockTx) rpcTransaction {
	tx := btx.Tx

	input := hexutil.Bytes(tx.Data)
	if input == nil {
		input = hexutil.Bytes{}
	}

	t := rpcTransaction{
		Hash:     tx.Hash(),
		Nonce:    hexutil.Uint64(tx.Nonce),
		From:     tx.From,
		To:       tx.To,
		Value:    toBig(tx.Value),
		GasPrice: toBig(tx.GasPrice),
		Gas:      hexutil.Uint64(tx.GasLimit),
		Input:    input,
		ChainID:  hexutil.Uint64(tx.ChainID),
		V:        (*hexutil.Big)(tx.V),
		R:        (*hexutil.Big)(tx.R),
		S:        (*hexutil.Big)(tx.S),
	}

	if !btx.Pending {
		blockHash := btx.BlockHash
		number := hexutil.Uint64(btx.BlockNumber)
		index := hexutil.Uint64(btx.TxIndex)

		t.BlockHash = &blockHash
		t.BlockNumber = &number
		t.TransactionIndex = &index
	}

	return t
}

// rpcLog is the JSON-RPC representation of a log.
type rpcLog struct {
	Address          common.Address `json:"address"`
	Topics           []common.Hash  `json:"topics"`
	Data             hexutil.Bytes  `json:"data"`
	BlockNumber      hexutil.Uint64 `json:"blockNumber"`
	BlockHash        common.Hash    `json:"blockHash"`
	TransactionHash  common.Hash    `json:"transactionHash"`
	TransactionIndex hexutil.Uint64 `json:"transactionIndex"`
	LogIndex         hexutil.Uint64 `json:"logIndex"`
	Removed          bool           `json:"removed"`
}

func toLog(log database.Log, blockHash common.Hash) rpcLog {
	topics := log.Topics
	if topics == nil {
		topics = []common.Hash{}
	}

	data := log.Data
	if data == nil {
		data = hexutil.Bytes{}
	}

	return rpcLog{
		Address:          log.Address,
		Topics:           topics,
		Data:             data,
		BlockNumber:      hexutil.Uint64(log.BlockNumber),
		BlockHash:        blockHash,
		TransactionHash:  log.TxHash,
		TransactionIndex: hexutil.Uint64(log.TxIndex),
		LogIndex:         hexutil.Uint64(log.LogIndex),
	}
}

// rpcReceipt is the JSON-RPC representation of a receipt.
type rpcReceipt struct {
	TransactionHash   common.Hash     `json:"transactionHash"`
	TransactionIndex  hexutil.Uint64  `json:"transactionIndex"`
	BlockHash         common.Hash     `json:"blockHash"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to"`
	ContractAddress   *common.Address `json:"contractAddress"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	Status            hexutil.Uint64  `json:"status"`
	Logs              []rpcLog        `json:"logs"`
	LogsBloom         types.Bloom     `json:"logsBloom"`
	Type              hexutil.Uint64  `json:"type"`
}

func toReceipt(r database.Receipt, gasPrice *uint256.Int) rpcReceipt {
	logs := make([]rpcLog, len(r.Logs))
	for i, log := range r.Logs {
		logs[i] = toLog(log, r.BlockHash)
	}

	return rpcReceipt{
		TransactionHash:   r.TxHash,
		TransactionIndex:  hexutil.Uint64(r.TxIndex),
		BlockHash:         r.BlockHash,
		BlockNumber:       hexutil.Uint64(r.BlockNumber),
		From:              r.From,
		To:                r.To,
		ContractAddress:   r.ContractAddress,
		GasUsed:           hexutil.Uint64(r.GasUsed),
		CumulativeGasUsed: hexutil.Uint64(r.CumulativeGasUsed),
		EffectiveGasPrice: toBig(gasPrice),
		Status:            hexutil.Uint64(r.Status),
		Logs:              logs,
		LogsBloom:         r.LogsBloom,
	}
}

// validator is an entry of the poa_getValidators result.
type validator struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Next    bool           `json:"next"`
}

func toBig(v *uint256.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(uint256.Int).ToBig())
	}
	return (*hexutil.Big)(v.ToBig())
}
