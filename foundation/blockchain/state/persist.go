package state

import (
	"fmt"
	"sort"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
)

// Persist writes the chain and a snapshot of the state to storage. The
// data is gathered while no block is being executed and written after the
// locks are released.
func (s *State) Persist() error {
	data := s.chainData()

	if err := s.storage.Write(data); err != nil {
		s.evHandler("state: Persist: ERROR: latest blk[%d]: %s", data.LatestBlock, err)
		return fmt.Errorf("persist: %w", err)
	}

	s.evHandler("state: Persist: latest blk[%d]: written", data.LatestBlock)

	return nil
}

// chainData builds the document written to storage.
func (s *State) chainData() database.ChainData {
	s.produceMu.Lock()
	defer s.produceMu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	data := database.ChainData{
		ChainID:     s.genesis.ChainID,
		Blocks:      make([]database.Pair[common.Hash, database.Block], 0, len(s.numbers)),
		Numbers:     make([]database.Pair[uint64, common.Hash], 0, len(s.numbers)),
		Receipts:    make([]database.Pair[common.Hash, database.Receipt], 0, len(s.receipts)),
		TxBlocks:    make([]database.Pair[common.Hash, common.Hash], 0, len(s.txBlocks)),
		LatestBlock: uint64(len(s.numbers) - 1),
		State:       s.db.Snapshot(),
	}

	for number, hash := range s.numbers {
		data.Blocks = append(data.Blocks, database.Pair[common.Hash, database.Block]{Key: hash, Value: s.blocks[hash]})
		data.Numbers = append(data.Numbers, database.Pair[uint64, common.Hash]{Key: uint64(number), Value: hash})

		for _, tx := range s.blocks[hash].Transactions {
			txHash := tx.Hash()
			data.Receipts = append(data.Receipts, database.Pair[common.Hash, database.Receipt]{Key: txHash, Value: s.receipts[txHash]})
			data.TxBlocks = append(data.TxBlocks, database.Pair[common.Hash, common.Hash]{Key: txHash, Value: hash})
		}
	}

	return data
}

// load rebuilds the chain indexes and the state from stored data. The
// stored chain must start with the genesis block built from the genesis
// file and the state must match the latest block.
func (s *State) load(data database.ChainData) error {
	if data.ChainID != s.genesis.ChainID {
		return fmt.Errorf("%w: stored chain id %d, genesis chain id %d", ErrGenesisMismatch, data.ChainID, s.genesis.ChainID)
	}

	blocks := make(map[common.Hash]database.Block, len(data.Blocks))
	for _, pair := range data.Blocks {
		blocks[pair.Key] = pair.Value
	}

	numbers := make([]database.Pair[uint64, common.Hash], len(data.Numbers))
	copy(numbers, data.Numbers)
	sort.Slice(numbers, func(i, j int) bool {
		return numbers[i].Key < numbers[j].Key
	})

	if len(numbers) == 0 || uint64(len(numbers)-1) != data.LatestBlock {
		return fmt.Errorf("stored chain has %d block numbers, latest blk[%d]", len(numbers), data.LatestBlock)
	}

	index := make([]common.Hash, len(numbers))
	for i, pair := range numbers {
		if pair.Key != uint64(i) {
			return fmt.Errorf("stored chain is missing blk[%d]", i)
		}

		block, exists := blocks[pair.Value]
		if !exists || block.Hash != pair.Value || block.Header.Number != pair.Key {
			return fmt.Errorf("stored chain has a bad entry for blk[%d]", i)
		}

		index[i] = pair.Value
	}

	if genesis := s.genesisBlock(); index[0] != genesis.Hash {
		return fmt.Errorf("%w: stored %s, genesis file %s", ErrGenesisMismatch, index[0], genesis.Hash)
	}

	if err := s.db.Restore(data.State); err != nil {
		return fmt.Errorf("restoring state: %w", err)
	}

	latest := blocks[index[len(index)-1]]
	if !latest.IsGenesis() && latest.Header.StateRoot != s.db.StateRoot() {
		return fmt.Errorf("%w: stored state root %s, latest block %s", ErrStateMismatch, s.db.StateRoot(), latest.Header.StateRoot)
	}

	receipts := make(map[common.Hash]database.Receipt, len(data.Receipts))
	for _, pair := range data.Receipts {
		receipts[pair.Key] = pair.Value
	}

	txBlocks := make(map[common.Hash]common.Hash, len(data.TxBlocks))
	for _, pair := range data.TxBlocks {
		txBlocks[pair.Key] = pair.Value
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks = blocks
	s.numbers = index
	s.receipts = receipts
	s.txBlocks = txBlocks

	return nil
}
