package worker

import (
	"errors"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
)

// CORE NOTE: Block production is driven by a single ticker on the block
// time. Every tick asks the state to produce the next block. Only the
// validator scheduled for that block number produces anything, every
// other node gets ErrNotScheduled and waits for the block from the
// network. A tick runs to completion before the next one is read.

// produceOperations handles block production.
func (w *Worker) produceOperations() {
	w.evHandler("worker: produceOperations: G started")
	defer w.evHandler("worker: produceOperations: G completed")

	ticker := time.NewTicker(w.cfg.BlockTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runProduceOperation()
			}
		case <-w.shut:
			w.evHandler("worker: produceOperations: received shut signal")
			return
		}
	}
}

// runProduceOperation attempts to produce the next block.
func (w *Worker) runProduceOperation() {
	t := time.Now()

	block, err := w.state.ProduceBlock()
	if err != nil {
		switch {
		case errors.Is(err, state.ErrNotScheduled):
		case errors.Is(err, state.ErrNotRunning):
			w.evHandler("worker: runProduceOperation: node not running")
		default:
			w.evHandler("worker: runProduceOperation: ERROR: %s", err)
		}
		return
	}

	w.evHandler("worker: runProduceOperation: blk[%d]: produced: txs[%d] duration[%v]", block.Header.Number, len(block.Transactions), time.Since(t))
}
