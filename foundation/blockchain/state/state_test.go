package state_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/evmchain/foundation/blockchain/mempool"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/blockchain/storage/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	chainID  = 7001
)

var (
	kennedy = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	pavel   = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	miner   = common.HexToAddress("0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8")
)

var validators = []string{
	"0x1000000000000000000000000000000000000001",
	"0x2000000000000000000000000000000000000002",
	"0x3000000000000000000000000000000000000003",
	"0x4000000000000000000000000000000000000004",
	"0x5000000000000000000000000000000000000005",
}

// =============================================================================

func Test_BadGenesis(t *testing.T) {
	t.Log("Given the need to refuse a genesis value that was never validated.")
	{
		gen := newGenesis(miner.Hex())
		gen.BaseReward = "seven hundred"

		_, err := state.New(state.Config{
			Producer: miner,
			Genesis:  gen,
			Storage:  memory.New(),
		})
		if err == nil {
			t.Fatalf("\t%s\tShould refuse to start with a bad base reward.", failed)
		}
		t.Logf("\t%s\tShould refuse to start with a bad base reward: %v", success, err)
	}
}

func Test_RoundRobin(t *testing.T) {
	t.Log("Given the need to take turns producing blocks with five validators.")
	{
		gen := newGenesis(validators...)

		var nodes []*state.State
		for _, v := range validators {
			nodes = append(nodes, newState(t, gen, common.HexToAddress(v), memory.New()))
		}

		counts := make(map[common.Address]int)

		for number := uint64(1); number <= 10; number++ {
			var block database.Block
			var produced int

			for _, node := range nodes {
				b, err := node.ProduceBlock()
				switch {
				case err == nil:
					block = b
					produced++
				case !errors.Is(err, state.ErrNotScheduled):
					t.Fatalf("\t%s\tblk[%d]:\tShould only fail with not scheduled: %v", failed, number, err)
				}
			}

			if produced != 1 {
				t.Fatalf("\t%s\tblk[%d]:\tShould have exactly one producer, got %d.", failed, number, produced)
			}

			for _, node := range nodes {
				if node.Producer() == block.Header.Producer {
					continue
				}
				if err := node.ProcessPeerBlock(block); err != nil {
					t.Fatalf("\t%s\tblk[%d]:\tShould accept the peer block: %v", failed, number, err)
				}
			}

			counts[block.Header.Producer]++

			if number == 7 {
				exp := common.HexToAddress(validators[2])
				if block.Header.Producer != exp {
					t.Logf("\t%s\tgot: %s", failed, block.Header.Producer)
					t.Logf("\t%s\texp: %s", failed, exp)
					t.Fatalf("\t%s\tShould have validators[2] produce block 7.", failed)
				}
				t.Logf("\t%s\tShould have validators[2] produce block 7.", success)
			}
		}

		for _, v := range validators {
			if c := counts[common.HexToAddress(v)]; c != 2 {
				t.Fatalf("\t%s\tShould have %s produce 2 of 10 blocks, got %d.", failed, v, c)
			}
		}
		t.Logf("\t%s\tShould have every validator produce 2 of 10 blocks.", success)

		root := nodes[0].QueryStateRoot()
		for i, node := range nodes {
			if node.LatestBlock().Hash != nodes[0].LatestBlock().Hash || node.QueryStateRoot() != root {
				t.Fatalf("\t%s\tShould have node %d agree on the chain.", failed, i)
			}
		}
		t.Logf("\t%s\tShould have every node agree on the chain.", success)
	}
}

func Test_Transactions(t *testing.T) {
	t.Log("Given the need to submit transactions and produce a block.")
	{
		node := newState(t, newGenesis(miner.Hex()), miner, memory.New())

		tx := sign(t, 0, &pavel, 1_000, 2, 30_000, nil)
		if _, err := node.UpsertWalletTransaction(tx); err != nil {
			t.Fatalf("\t%s\tShould admit the transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould admit the transaction.", success)

		if _, err := node.UpsertWalletTransaction(tx); !errors.Is(err, mempool.ErrDuplicate) {
			t.Fatalf("\t%s\tShould reject the same transaction twice: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject the same transaction twice.", success)

		low := sign(t, 0, &pavel, 1_000, 2, 20_000, nil)
		if _, err := node.UpsertWalletTransaction(low); !errors.Is(err, database.ErrGasLimitTooLow) {
			t.Fatalf("\t%s\tShould reject a gas limit under the intrinsic gas: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a gas limit under the intrinsic gas.", success)

		if n := node.QueryPendingNonce(kennedy); n != 1 {
			t.Fatalf("\t%s\tShould count the pending nonce, got %d.", failed, n)
		}

		next := sign(t, 1, &pavel, 1_000, 2, 30_000, nil)
		if _, err := node.UpsertWalletTransaction(next); !errors.Is(err, database.ErrNonceTooHigh) {
			t.Fatalf("\t%s\tShould reject a nonce that is not on chain yet: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a nonce that is not on chain yet.", success)

		block, err := node.ProduceBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould produce a block: %v", failed, err)
		}
		t.Logf("\t%s\tShould produce a block.", success)

		if len(block.Transactions) != 1 || block.Header.GasUsed != database.TxGas {
			t.Fatalf("\t%s\tShould include the transaction, got %d.", failed, len(block.Transactions))
		}
		t.Logf("\t%s\tShould include the transaction.", success)

		if node.QueryMempoolLength() != 0 {
			t.Fatalf("\t%s\tShould empty the mempool.", failed)
		}
		t.Logf("\t%s\tShould empty the mempool.", success)

		receipt, err := node.QueryReceipt(tx.Hash())
		if err != nil || !receipt.Succeeded() || receipt.BlockHash != block.Hash {
			t.Fatalf("\t%s\tShould store a successful receipt: %v", failed, err)
		}
		t.Logf("\t%s\tShould store a successful receipt.", success)

		btx, err := node.QueryTransaction(tx.Hash())
		if err != nil || btx.Pending || btx.BlockNumber != 1 {
			t.Fatalf("\t%s\tShould find the transaction in block 1: %v", failed, err)
		}
		t.Logf("\t%s\tShould find the transaction in block 1.", success)

		if got := node.QueryBalance(kennedy).Uint64(); got != 1_000_000-1_000-42_000 {
			t.Fatalf("\t%s\tShould charge the sender, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould charge the sender.", success)

		if got := node.QueryBalance(miner).Uint64(); got != 700+42_000 {
			t.Fatalf("\t%s\tShould pay the producer the reward plus fees, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould pay the producer the reward plus fees.", success)

		if node.QueryNonce(kennedy) != 1 {
			t.Fatalf("\t%s\tShould move the nonce.", failed)
		}
		t.Logf("\t%s\tShould move the nonce.", success)

		if _, err := node.UpsertWalletTransaction(next); err != nil {
			t.Fatalf("\t%s\tShould admit the next nonce after the block: %v", failed, err)
		}
		t.Logf("\t%s\tShould admit the next nonce after the block.", success)

		if txs := node.QueryTransactionsByAddress(pavel); len(txs) != 1 {
			t.Fatalf("\t%s\tShould find the transaction by address, got %d.", failed, len(txs))
		}
		t.Logf("\t%s\tShould find the transaction by address.", success)

		number, err := node.ParseBlockTag(state.TagPending)
		if err != nil || number != 1 {
			t.Fatalf("\t%s\tShould read pending as latest, got %d.", failed, number)
		}
		t.Logf("\t%s\tShould read pending as latest.", success)
	}
}

func Test_Persistence(t *testing.T) {
	t.Log("Given the need to restart a node from storage.")
	{
		strg := memory.New()
		gen := newGenesis(miner.Hex())
		node := newState(t, gen, miner, strg)

		if _, err := node.UpsertWalletTransaction(sign(t, 0, nil, 0, 1, 100_000, []byte{0x60, 0x80, 0x60, 0x40})); err != nil {
			t.Fatalf("\t%s\tShould admit the contract creation: %v", failed, err)
		}
		if _, err := node.ProduceBlock(); err != nil {
			t.Fatalf("\t%s\tShould produce block 1: %v", failed, err)
		}

		if _, err := node.UpsertWalletTransaction(sign(t, 1, &pavel, 5_000, 1, 21_000, nil)); err != nil {
			t.Fatalf("\t%s\tShould admit the transfer: %v", failed, err)
		}
		if _, err := node.ProduceBlock(); err != nil {
			t.Fatalf("\t%s\tShould produce block 2: %v", failed, err)
		}

		if err := node.Persist(); err != nil {
			t.Fatalf("\t%s\tShould persist the chain: %v", failed, err)
		}
		t.Logf("\t%s\tShould persist the chain.", success)

		contract := crypto.CreateAddress(kennedy, 0)

		restored := newState(t, gen, miner, strg)

		if restored.LatestBlock().Hash != node.LatestBlock().Hash {
			t.Fatalf("\t%s\tShould restore the latest block.", failed)
		}
		t.Logf("\t%s\tShould restore the latest block.", success)

		if restored.QueryStateRoot() != node.QueryStateRoot() {
			t.Fatalf("\t%s\tShould restore the state root.", failed)
		}
		t.Logf("\t%s\tShould restore the state root.", success)

		for _, a := range []common.Address{kennedy, pavel, miner} {
			if !restored.QueryBalance(a).Eq(node.QueryBalance(a)) || restored.QueryNonce(a) != node.QueryNonce(a) {
				t.Fatalf("\t%s\tShould restore the account %s.", failed, a)
			}
		}
		t.Logf("\t%s\tShould restore the balances and nonces.", success)

		if len(restored.QueryCode(contract)) != 4 {
			t.Fatalf("\t%s\tShould restore the contract code.", failed)
		}
		t.Logf("\t%s\tShould restore the contract code.", success)

		if _, err := restored.QueryReceipt(node.LatestBlock().Transactions[0].Hash()); err != nil {
			t.Fatalf("\t%s\tShould restore the receipts: %v", failed, err)
		}
		t.Logf("\t%s\tShould restore the receipts.", success)

		other := newGenesis(miner.Hex())
		other.ChainID = 7002
		if _, err := state.New(state.Config{Producer: miner, Genesis: other, Storage: strg}); !errors.Is(err, state.ErrGenesisMismatch) {
			t.Fatalf("\t%s\tShould refuse data from another chain: %v", failed, err)
		}
		t.Logf("\t%s\tShould refuse data from another chain.", success)
	}
}

func Test_PeerBlocks(t *testing.T) {
	t.Log("Given the need to reject bad blocks from peers.")
	{
		gen := newGenesis(validators...)
		node := newState(t, gen, common.HexToAddress(validators[0]), memory.New())

		parent := node.LatestBlock()
		root := node.QueryStateRoot()
		scheduled := node.ScheduledProducer(1)

		build := func(producer common.Address, stateRoot common.Hash) database.Block {
			return database.NewBlock(database.BlockArgs{
				Parent:       parent,
				Producer:     producer,
				StateRoot:    stateRoot,
				ReceiptsRoot: database.ReceiptsRoot(nil),
				GasLimit:     gen.GasLimit,
			})
		}

		t.Logf("\tTest 0:\tWhen the state root does not match.")
		{
			err := node.ProcessPeerBlock(build(scheduled, common.Hash{1}))
			if !errors.Is(err, state.ErrStateMismatch) {
				t.Fatalf("\t%s\tTest 0:\tShould reject the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the block.", success)

			if node.QueryStateRoot() != root || !node.QueryBalance(scheduled).IsZero() {
				t.Fatalf("\t%s\tTest 0:\tShould put the state back.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould put the state back.", success)

			if node.LatestBlock().Hash != parent.Hash {
				t.Fatalf("\t%s\tTest 0:\tShould not commit the block.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould not commit the block.", success)
		}

		t.Logf("\tTest 1:\tWhen the block is produced out of turn.")
		{
			err := node.ProcessPeerBlock(build(common.HexToAddress(validators[3]), common.Hash{}))
			if !errors.Is(err, state.ErrWrongProducer) {
				t.Fatalf("\t%s\tTest 1:\tShould reject the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject the block.", success)
		}

		t.Logf("\tTest 2:\tWhen the block is valid.")
		{
			reward := uint256.NewInt(700)
			expRoot := expectedRoot(t, gen, scheduled, reward)

			block := build(scheduled, expRoot)
			if err := node.ProcessPeerBlock(block); err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould accept the block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould accept the block.", success)

			if err := node.ProcessPeerBlock(block); !errors.Is(err, state.ErrKnownBlock) {
				t.Fatalf("\t%s\tTest 2:\tShould report a known block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould report a known block.", success)
		}

		t.Logf("\tTest 3:\tWhen the block skips ahead.")
		{
			parent = node.LatestBlock()
			next := build(node.ScheduledProducer(2), common.Hash{})
			parent = next
			future := build(node.ScheduledProducer(3), common.Hash{})

			if err := node.ProcessPeerBlock(future); !errors.Is(err, state.ErrFutureBlock) {
				t.Fatalf("\t%s\tTest 3:\tShould report a future block: %v", failed, err)
			}
			t.Logf("\t%s\tTest 3:\tShould report a future block.", success)
		}
	}
}

// =============================================================================

func newGenesis(validators ...string) genesis.Genesis {
	return genesis.Genesis{
		Date:              time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:           chainID,
		BlockTimeMS:       1000,
		GasLimit:          30_000_000,
		GasPrice:          "1",
		BaseReward:        "700",
		CongestionBonus:   "100",
		MempoolMax:        100,
		MempoolPerAccount: 10,
		Validators:        validators,
		Balances: map[string]string{
			kennedy.Hex(): "1000000",
		},
	}
}

func newState(t *testing.T, gen genesis.Genesis, producer common.Address, strg database.Serializer) *state.State {
	st, err := state.New(state.Config{
		Producer: producer,
		Genesis:  gen,
		Storage:  strg,
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to start the node: %v", failed, err)
	}

	return st
}

// expectedRoot computes the state root after paying the reward to the
// producer on top of the genesis balances.
func expectedRoot(t *testing.T, gen genesis.Genesis, producer common.Address, reward *uint256.Int) common.Hash {
	allocs, err := gen.Allocations()
	if err != nil {
		t.Fatalf("\t%s\tShould read the allocations: %v", failed, err)
	}

	db := database.New(allocs)
	if err := db.AddBalance(producer, reward); err != nil {
		t.Fatalf("\t%s\tShould add the reward: %v", failed, err)
	}

	return db.StateRoot()
}

func sign(t *testing.T, nonce uint64, to *common.Address, value uint64, gasPrice uint64, gasLimit uint64, data []byte) database.SignedTx {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the private key: %v", failed, err)
	}

	tx, err := database.NewTx(chainID, nonce, kennedy, to, uint256.NewInt(value), uint256.NewInt(gasPrice), gasLimit, data)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the transaction: %v", failed, err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}

	return signedTx
}
