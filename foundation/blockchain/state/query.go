package state

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/executor"
	"github.com/ardanlabs/evmchain/foundation/blockchain/mempool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// QueryLatest represents to query the latest block in the chain.
const QueryLatest = ^uint64(0) >> 1

// MaxBlockRange is the largest number of blocks a range query can cover.
const MaxBlockRange = 1000

// Set of block tags accepted in place of a block number. Pending has no
// speculative view and reads the latest block.
const (
	TagLatest   = "latest"
	TagEarliest = "earliest"
	TagPending  = "pending"
)

// ErrRangeTooLarge is returned when a range query covers too many blocks.
var ErrRangeTooLarge = errors.New("block range too large")

// BlockTx is a transaction and where it lives in the chain. Pending
// transactions have no block yet.
type BlockTx struct {
	Tx          database.SignedTx
	BlockHash   common.Hash
	BlockNumber uint64
	TxIndex     uint64
	Pending     bool
}

// LogFilter selects logs over a range of blocks. An empty address list
// matches any address. Topics match by position and an empty position
// matches any topic.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []common.Address
	Topics    [][]common.Hash
}

// =============================================================================

// LatestBlock returns the last block committed to the chain.
func (s *State) LatestBlock() database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.blocks[s.numbers[len(s.numbers)-1]]
}

// ParseBlockTag converts a block tag or a hex quantity into a block number.
func (s *State) ParseBlockTag(tag string) (uint64, error) {
	switch tag {
	case "", TagLatest, TagPending:
		return s.LatestBlock().Header.Number, nil
	case TagEarliest:
		return 0, nil
	}

	number, err := hexutil.DecodeUint64(tag)
	if err != nil {
		return 0, fmt.Errorf("invalid block tag %q: %w", tag, err)
	}

	return number, nil
}

// QueryBlockByNumber returns the block with the specified number.
func (s *State) QueryBlockByNumber(number uint64) (database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if number == QueryLatest {
		number = uint64(len(s.numbers) - 1)
	}

	if number >= uint64(len(s.numbers)) {
		return database.Block{}, fmt.Errorf("%w: blk[%d]", ErrNotFound, number)
	}

	return s.blocks[s.numbers[number]], nil
}

// QueryBlockByHash returns the block with the specified hash.
func (s *State) QueryBlockByHash(hash common.Hash) (database.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, exists := s.blocks[hash]
	if !exists {
		return database.Block{}, fmt.Errorf("%w: blk %s", ErrNotFound, hash)
	}

	return block, nil
}

// QueryBlocksByNumber returns the set of blocks based on block numbers. The
// range is cut at the latest block and at MaxBlockRange blocks.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) []database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := uint64(len(s.numbers) - 1)
	if from == QueryLatest {
		from = latest
		to = from
	}
	if to == QueryLatest || to > latest {
		to = latest
	}
	if to >= from && to-from >= MaxBlockRange {
		to = from + MaxBlockRange - 1
	}

	var out []database.Block
	for i := from; i <= to; i++ {
		out = append(out, s.blocks[s.numbers[i]])
	}

	return out
}

// QueryRecentBlocks returns up to n blocks starting with the latest.
func (s *State) QueryRecentBlocks(n int) []database.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n = min(n, len(s.numbers), MaxBlockRange)

	out := make([]database.Block, 0, n)
	for i := len(s.numbers) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.blocks[s.numbers[i]])
	}

	return out
}

// =============================================================================

// QueryTransaction returns a committed or pending transaction.
func (s *State) QueryTransaction(hash common.Hash) (BlockTx, error) {
	s.mu.RLock()
	blockHash, committed := s.txBlocks[hash]
	block := s.blocks[blockHash]
	s.mu.RUnlock()

	if committed {
		for i, tx := range block.Transactions {
			if tx.Hash() == hash {
				return BlockTx{
					Tx:          tx,
					BlockHash:   block.Hash,
					BlockNumber: block.Header.Number,
					TxIndex:     uint64(i),
				}, nil
			}
		}
	}

	ptx, err := s.mempool.Get(hash)
	if err != nil {
		return BlockTx{}, fmt.Errorf("%w: tx %s", ErrNotFound, hash)
	}

	return BlockTx{Tx: ptx.SignedTx, Pending: true}, nil
}

// QueryTransactionByIndex returns the transaction at the index of a block.
func (s *State) QueryTransactionByIndex(number uint64, index uint64) (BlockTx, error) {
	block, err := s.QueryBlockByNumber(number)
	if err != nil {
		return BlockTx{}, err
	}

	if index >= uint64(len(block.Transactions)) {
		return BlockTx{}, fmt.Errorf("%w: blk[%d] tx index %d", ErrNotFound, number, index)
	}

	return BlockTx{
		Tx:          block.Transactions[index],
		BlockHash:   block.Hash,
		BlockNumber: number,
		TxIndex:     index,
	}, nil
}

// QueryReceipt returns the receipt for a committed transaction.
func (s *State) QueryReceipt(hash common.Hash) (database.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, exists := s.receipts[hash]
	if !exists {
		return database.Receipt{}, fmt.Errorf("%w: receipt %s", ErrNotFound, hash)
	}

	return receipt, nil
}

// QueryTransactionsByAddress returns the committed transactions sent from
// or to the address. Every block is scanned.
func (s *State) QueryTransactionsByAddress(address common.Address) []BlockTx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []BlockTx
	for number, hash := range s.numbers {
		block := s.blocks[hash]
		for i, tx := range block.Transactions {
			if tx.From == address || (tx.To != nil && *tx.To == address) {
				out = append(out, BlockTx{
					Tx:          tx,
					BlockHash:   hash,
					BlockNumber: uint64(number),
					TxIndex:     uint64(i),
				})
			}
		}
	}

	return out
}

// QueryLogs returns the logs matching the filter. The range must not
// cover more than MaxBlockRange blocks.
func (s *State) QueryLogs(filter LogFilter) ([]database.Log, error) {
	latest := s.LatestBlock().Header.Number

	if filter.ToBlock == QueryLatest || filter.ToBlock > latest {
		filter.ToBlock = latest
	}
	if filter.FromBlock > filter.ToBlock {
		return []database.Log{}, nil
	}
	if filter.ToBlock-filter.FromBlock >= MaxBlockRange {
		return nil, fmt.Errorf("%w: %d blocks, max %d", ErrRangeTooLarge, filter.ToBlock-filter.FromBlock+1, MaxBlockRange)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []database.Log{}
	for number := filter.FromBlock; number <= filter.ToBlock; number++ {
		block := s.blocks[s.numbers[number]]
		for _, tx := range block.Transactions {
			receipt := s.receipts[tx.Hash()]
			if !filter.mayContain(receipt) {
				continue
			}

			for _, log := range receipt.Logs {
				if filter.match(log) {
					out = append(out, log)
				}
			}
		}
	}

	return out, nil
}

// mayContain uses the receipt bloom to skip receipts that can't match.
func (f LogFilter) mayContain(receipt database.Receipt) bool {
	if len(receipt.Logs) == 0 {
		return false
	}

	if len(f.Addresses) == 0 {
		return true
	}

	for _, address := range f.Addresses {
		if receipt.LogsBloom.Test(address.Bytes()) {
			return true
		}
	}

	return false
}

// match checks the log against the address and topic positions.
func (f LogFilter) match(log database.Log) bool {
	if len(f.Addresses) > 0 && !slices.Contains(f.Addresses, log.Address) {
		return false
	}

	for i, options := range f.Topics {
		if len(options) == 0 {
			continue
		}
		if i >= len(log.Topics) || !slices.Contains(options, log.Topics[i]) {
			return false
		}
	}

	return true
}

// =============================================================================

// QueryAccount returns a copy of the account from the database. Unknown
// addresses return an empty account.
func (s *State) QueryAccount(address common.Address) database.Account {
	return s.db.GetAccount(address)
}

// QueryBalance returns the balance of the address.
func (s *State) QueryBalance(address common.Address) *uint256.Int {
	return s.db.Balance(address)
}

// QueryNonce returns the next nonce of the address on chain.
func (s *State) QueryNonce(address common.Address) uint64 {
	return s.db.Nonce(address)
}

// QueryPendingNonce returns the next nonce of the address counting its
// transactions waiting in the mempool.
func (s *State) QueryPendingNonce(address common.Address) uint64 {
	return s.mempool.PendingNonce(address, s.db.Nonce(address))
}

// QueryCode returns the code stored at the address.
func (s *State) QueryCode(address common.Address) []byte {
	return s.db.Code(address)
}

// QueryStorage returns the value of a storage slot at the address.
func (s *State) QueryStorage(address common.Address, key common.Hash) common.Hash {
	return s.db.GetStorage(address, key)
}

// QueryStateRoot returns the current state root.
func (s *State) QueryStateRoot() common.Hash {
	return s.db.StateRoot()
}

// QueryValidators returns a copy of the validators in schedule order.
func (s *State) QueryValidators() []common.Address {
	return slices.Clone(s.validators)
}

// QueryMempool returns a copy of the mempool in arrival order.
func (s *State) QueryMempool() []database.PendingTx {
	return s.mempool.Pending()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryMempoolStats returns a summary of the mempool.
func (s *State) QueryMempoolStats() mempool.Stats {
	return s.mempool.Stats()
}

// Call runs a read only message against the latest state.
func (s *State) Call(msg executor.Message) ([]byte, error) {
	return s.executor.Call(msg)
}

// EstimateGas returns the gas limit a client should use for the message.
func (s *State) EstimateGas(msg executor.Message) (uint64, error) {
	return s.executor.EstimateGas(msg)
}
