package state

import (
	"fmt"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/executor"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// maxClockDrift is how far in the future a peer block's timestamp may be.
const maxClockDrift = 15 * time.Second

// ScheduledProducer returns the validator whose turn it is to produce the
// block with the specified number.
func (s *State) ScheduledProducer(number uint64) common.Address {
	return s.validators[number%uint64(len(s.validators))]
}

// ProduceBlock builds, executes and commits the next block when it is this
// node's turn. A node out of turn gets ErrNotScheduled and nothing changes.
func (s *State) ProduceBlock() (database.Block, error) {
	if s.Status() != StatusRunning {
		return database.Block{}, ErrNotRunning
	}

	s.produceMu.Lock()
	defer s.produceMu.Unlock()

	parent := s.LatestBlock()
	number := parent.Header.Number + 1

	if scheduled := s.ScheduledProducer(number); scheduled != s.producer {
		return database.Block{}, fmt.Errorf("%w: blk[%d] belongs to %s", ErrNotScheduled, number, scheduled)
	}

	s.evHandler("state: ProduceBlock: blk[%d]: producing", number)

	pending := s.mempool.SelectForBlock(s.genesis.GasLimit, s.db)

	trans := make([]database.SignedTx, len(pending))
	for i, tx := range pending {
		trans[i] = tx.SignedTx
	}

	snapshot := s.db.Snapshot()

	receipts, gasUsed, err := s.executeTransactions(number, s.producer, trans)
	if err != nil {

		// The selection respects nonce order so this means the mempool
		// and the database disagree.
		if rerr := s.db.Restore(snapshot); rerr != nil {
			s.evHandler("state: ProduceBlock: blk[%d]: ERROR: restore: %s", number, rerr)
		}
		return database.Block{}, err
	}

	s.creditReward(s.producer, gasUsed)

	block := database.NewBlock(database.BlockArgs{
		Parent:       parent,
		Transactions: trans,
		Producer:     s.producer,
		StateRoot:    s.db.StateRoot(),
		ReceiptsRoot: database.ReceiptsRoot(receipts),
		GasLimit:     s.genesis.GasLimit,
		GasUsed:      gasUsed,
	})

	s.commit(block, receipts)
	s.finalize(block)

	s.evHandler("state: ProduceBlock: blk[%d]: committed: hash[%s] txs[%d] gas[%d]", number, block.Hash, len(trans), gasUsed)

	return block, nil
}

// ProcessPeerBlock validates a block produced by a peer, replays its
// transactions and commits it when the result matches the header. Any
// mismatch puts the state back the way it was before the block.
func (s *State) ProcessPeerBlock(block database.Block) error {
	if s.Status() != StatusRunning {
		return ErrNotRunning
	}

	s.produceMu.Lock()
	defer s.produceMu.Unlock()

	parent := s.LatestBlock()
	number := block.Header.Number

	switch {
	case number <= parent.Header.Number:
		known, err := s.QueryBlockByNumber(number)
		if err == nil && known.Hash == block.Hash {
			return ErrKnownBlock
		}
		return fmt.Errorf("%w: blk[%d] hash %s", ErrConflictingBlock, number, block.Hash)

	case number > parent.Header.Number+1:
		return fmt.Errorf("%w: blk[%d], latest blk[%d]", ErrFutureBlock, number, parent.Header.Number)
	}

	s.evHandler("state: ProcessPeerBlock: blk[%d]: validating", number)

	if err := block.ValidateBlock(parent, s.evHandler); err != nil {
		return err
	}

	if block.Header.GasLimit != s.genesis.GasLimit {
		return fmt.Errorf("%w: gas limit %d, exp %d", database.ErrInvalidBlock, block.Header.GasLimit, s.genesis.GasLimit)
	}

	if limit := uint64(time.Now().Add(maxClockDrift).UnixMilli()); block.Header.Timestamp > limit {
		return fmt.Errorf("%w: timestamp %d is in the future", database.ErrInvalidBlock, block.Header.Timestamp)
	}

	if scheduled := s.ScheduledProducer(number); block.Header.Producer != scheduled {
		return fmt.Errorf("%w: blk[%d] produced by %s, scheduled %s", ErrWrongProducer, number, block.Header.Producer, scheduled)
	}

	for _, tx := range block.Transactions {
		if err := tx.Validate(s.genesis.ChainID); err != nil {
			return fmt.Errorf("%w: tx[%s]: %v", database.ErrInvalidBlock, tx.Hash(), err)
		}
	}

	snapshot := s.db.Snapshot()

	rollback := func(err error) error {
		if rerr := s.db.Restore(snapshot); rerr != nil {
			s.evHandler("state: ProcessPeerBlock: blk[%d]: ERROR: restore: %s", number, rerr)
		}
		return err
	}

	receipts, gasUsed, err := s.executeTransactions(number, block.Header.Producer, block.Transactions)
	if err != nil {
		return rollback(fmt.Errorf("%w: %v", database.ErrInvalidBlock, err))
	}

	s.creditReward(block.Header.Producer, gasUsed)

	if gasUsed != block.Header.GasUsed {
		return rollback(fmt.Errorf("%w: gas used %d, header %d", ErrStateMismatch, gasUsed, block.Header.GasUsed))
	}

	if root := database.ReceiptsRoot(receipts); root != block.Header.ReceiptsRoot {
		return rollback(fmt.Errorf("%w: receipts root %s, header %s", ErrStateMismatch, root, block.Header.ReceiptsRoot))
	}

	if root := s.db.StateRoot(); root != block.Header.StateRoot {
		return rollback(fmt.Errorf("%w: state root %s, header %s", ErrStateMismatch, root, block.Header.StateRoot))
	}

	s.commit(block, receipts)
	s.finalize(block)

	s.evHandler("state: ProcessPeerBlock: blk[%d]: committed: hash[%s] txs[%d]", number, block.Hash, len(block.Transactions))

	return nil
}

// =============================================================================

// executeTransactions runs the transactions in order. A transaction whose
// nonce is not the sender's next nonce stops the run with an error.
func (s *State) executeTransactions(number uint64, producer common.Address, trans []database.SignedTx) ([]database.Receipt, uint64, error) {
	env := executor.Env{
		BlockNumber: number,
		Producer:    producer,
	}

	receipts := make([]database.Receipt, 0, len(trans))
	for i, tx := range trans {
		if nonce := s.db.Nonce(tx.From); tx.Nonce != nonce {
			return nil, 0, fmt.Errorf("tx[%s]: nonce %d, account nonce %d", tx.Hash(), tx.Nonce, nonce)
		}

		env.TxIndex = uint64(i)
		receipt := s.executor.Execute(env, tx)

		env.CumulativeGasUsed = receipt.CumulativeGasUsed
		env.LogIndex += uint64(len(receipt.Logs))

		receipts = append(receipts, receipt)
	}

	return receipts, env.CumulativeGasUsed, nil
}

// creditReward pays the base reward to the producer plus the congestion
// bonus when more than half the block's gas was used. Fees were already
// paid per transaction by the executor.
func (s *State) creditReward(producer common.Address, gasUsed uint64) {
	base, bonus := s.genesis.Rewards()

	reward := new(uint256.Int).Set(base)
	if gasUsed*2 > s.genesis.GasLimit {
		reward.Add(reward, bonus)
	}

	if err := s.db.AddBalance(producer, reward); err != nil {
		s.evHandler("state: creditReward: ERROR: %s", err)
	}
}

// commit adds the block and its receipts to the chain indexes.
func (s *State) commit(block database.Block, receipts []database.Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, receipt := range receipts {
		receipt.BlockHash = block.Hash
		s.receipts[receipt.TxHash] = receipt
		s.txBlocks[receipt.TxHash] = block.Hash
	}

	s.blocks[block.Hash] = block
	s.numbers = append(s.numbers, block.Hash)
}

// finalize cleans the mempool after a commit and lets the worker and the
// subscribers know about the new block.
func (s *State) finalize(block database.Block) {
	hashes := make([]common.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		hashes[i] = tx.Hash()
	}

	s.mempool.Remove(hashes)
	if n := s.mempool.RemoveStale(s.db); n > 0 {
		s.evHandler("state: finalize: blk[%d]: removed %d stale transactions", block.Header.Number, n)
	}

	s.Worker.SignalPersist()
	s.Worker.SignalShareBlock(block)
	s.heads.Send(block)
}
