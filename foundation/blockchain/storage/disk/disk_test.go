package disk_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/storage/disk"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func Test_ReadWrite(t *testing.T) {
	t.Log("Given the need to persist the chain data.")
	{
		dir := t.TempDir()

		strg, err := disk.New(dir, 7001)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the storage: %v", failed, err)
		}
		defer strg.Close()

		if _, err := strg.Read(); !errors.Is(err, database.ErrNoChainData) {
			t.Fatalf("\t%s\tShould get no chain data before a write: %v", failed, err)
		}
		t.Logf("\t%s\tShould get no chain data before a write.", success)

		data := chainData()
		if err := strg.Write(data); err != nil {
			t.Fatalf("\t%s\tShould be able to write: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to write.", success)

		got, err := strg.Read()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to read: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to read.", success)

		if got.LatestBlock != data.LatestBlock || got.Blocks[0].Key != data.Blocks[0].Key {
			t.Fatalf("\t%s\tShould read back the same blocks.", failed)
		}
		t.Logf("\t%s\tShould read back the same blocks.", success)

		db := database.New(nil)
		if err := db.Restore(got.State); err != nil {
			t.Fatalf("\t%s\tShould be able to restore the state: %v", failed, err)
		}

		if bal := db.Balance(holder); bal.Uint64() != 1_000_000 {
			t.Fatalf("\t%s\tShould read back the balances, got %d.", failed, bal.Uint64())
		}
		t.Logf("\t%s\tShould read back the balances.", success)

		if err := strg.Reset(); err != nil {
			t.Fatalf("\t%s\tShould be able to reset: %v", failed, err)
		}

		if _, err := strg.Read(); !errors.Is(err, database.ErrNoChainData) {
			t.Fatalf("\t%s\tShould get no chain data after a reset: %v", failed, err)
		}
		t.Logf("\t%s\tShould get no chain data after a reset.", success)
	}
}

var holder = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")

func chainData() database.ChainData {
	db := database.New(map[common.Address]*uint256.Int{
		holder: uint256.NewInt(1_000_000),
	})

	genesis := database.Genesis(7001, 1_700_000_000_000, 30_000_000)

	return database.ChainData{
		ChainID:     7001,
		Blocks:      []database.Pair[common.Hash, database.Block]{{Key: genesis.Hash, Value: genesis}},
		Numbers:     []database.Pair[uint64, common.Hash]{{Key: 0, Value: genesis.Hash}},
		Receipts:    []database.Pair[common.Hash, database.Receipt]{},
		TxBlocks:    []database.Pair[common.Hash, common.Hash]{},
		LatestBlock: 0,
		State:       db.Snapshot(),
	}
}
