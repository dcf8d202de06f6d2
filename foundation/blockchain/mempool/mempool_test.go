package mempool_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/mempool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const chainID = 7001

// Keys for the accounts used in the tests.
const (
	signKennedy = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	signBill    = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
	signEd      = "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb"
)

var to = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")

// =============================================================================

func Test_Admit(t *testing.T) {
	t.Log("Given the need to admit transactions into the mempool.")
	{
		mp := newMempool(t, 10, 2, time.Hour)

		// Exactly covers 5 + 21000 * 1.
		db := database.New(map[common.Address]*uint256.Int{address(t, signKennedy): uint256.NewInt(21_005)})

		t.Logf("\tTest 0:\tWhen the balance covers the cost exactly.")
		{
			tx := sign(t, signKennedy, 0, 5, 1, 21_000)

			if _, err := mp.Admit(tx, db); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould admit the transaction: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould admit the transaction.", success)

			if _, err := mp.Admit(tx, db); !errors.Is(err, mempool.ErrDuplicate) {
				t.Fatalf("\t%s\tTest 0:\tShould reject the duplicate, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould reject the duplicate.", success)
		}

		t.Logf("\tTest 1:\tWhen the gas limit is below the floor.")
		{
			tx := sign(t, signKennedy, 0, 0, 1, 20_000)

			if _, err := mp.Admit(tx, db); !errors.Is(err, database.ErrGasLimitTooLow) {
				t.Fatalf("\t%s\tTest 1:\tShould reject the gas limit, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 1:\tShould reject the gas limit.", success)

			if mp.Count() != 1 {
				t.Fatalf("\t%s\tTest 1:\tShould not reach the pool.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould not reach the pool.", success)
		}

		t.Logf("\tTest 2:\tWhen the nonce is not the on-chain nonce.")
		{
			if _, err := mp.Admit(sign(t, signKennedy, 3, 0, 1, 21_000), db); !errors.Is(err, database.ErrNonceTooHigh) {
				t.Fatalf("\t%s\tTest 2:\tShould reject a nonce gap, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould reject a nonce gap.", success)

			// Nonce 0 is pooled but not committed, so 1 is still a gap. This
			// sender's second transaction would cost 42_010 against 21_005.
			if _, err := mp.Admit(sign(t, signKennedy, 1, 5, 1, 21_000), db); !errors.Is(err, database.ErrNonceTooHigh) {
				t.Fatalf("\t%s\tTest 2:\tShould reject the nonce after a pooled one, got %v", failed, err)
			}
			t.Logf("\t%s\tTest 2:\tShould reject the nonce after a pooled one.", success)

			if mp.Count() != 1 {
				t.Fatalf("\t%s\tTest 2:\tShould keep one transaction for the sender, got %d", failed, mp.Count())
			}
			t.Logf("\t%s\tTest 2:\tShould keep one transaction for the sender.", success)

			if n := mp.PendingNonce(address(t, signKennedy), 0); n != 1 {
				t.Fatalf("\t%s\tTest 2:\tShould still report the pending nonce, got %d", failed, n)
			}
			t.Logf("\t%s\tTest 2:\tShould still report the pending nonce.", success)
		}
	}
}

func Test_Limits(t *testing.T) {
	t.Log("Given the need to bound the mempool.")
	{
		mp := newMempool(t, 3, 2, time.Hour)

		db := database.New(map[common.Address]*uint256.Int{
			address(t, signKennedy): uint256.NewInt(1_000_000),
			address(t, signBill):    uint256.NewInt(1_000_000),
			address(t, signEd):      uint256.NewInt(1_000_000),
		})

		admit := func(hexKey string, nonce uint64, gasPrice uint64) error {
			_, err := mp.Admit(sign(t, hexKey, nonce, 0, gasPrice, 21_000), db)
			return err
		}

		if err := admit(signKennedy, 0, 1); err != nil {
			t.Fatalf("\t%s\tShould admit: %v", failed, err)
		}
		if err := admit(signKennedy, 1, 2); !errors.Is(err, database.ErrNonceTooHigh) {
			t.Fatalf("\t%s\tShould not queue the next nonce, got %v", failed, err)
		}
		t.Logf("\t%s\tShould not queue the next nonce.", success)

		if err := admit(signKennedy, 0, 2); err != nil {
			t.Fatalf("\t%s\tShould admit a replacement for the same nonce: %v", failed, err)
		}
		t.Logf("\t%s\tShould admit a replacement for the same nonce.", success)

		if err := admit(signKennedy, 0, 3); !errors.Is(err, mempool.ErrAccountLimit) {
			t.Fatalf("\t%s\tShould enforce the per account limit, got %v", failed, err)
		}
		t.Logf("\t%s\tShould enforce the per account limit.", success)

		if err := admit(signBill, 0, 2); err != nil {
			t.Fatalf("\t%s\tShould admit until full: %v", failed, err)
		}

		if err := admit(signEd, 0, 1); !errors.Is(err, mempool.ErrPoolFull) {
			t.Fatalf("\t%s\tShould reject when nothing cheaper can go, got %v", failed, err)
		}
		t.Logf("\t%s\tShould reject when nothing cheaper can go.", success)

		if err := admit(signEd, 0, 5); err != nil {
			t.Fatalf("\t%s\tShould evict the cheapest for a better price: %v", failed, err)
		}
		t.Logf("\t%s\tShould evict the cheapest for a better price.", success)

		cheapest := sign(t, signKennedy, 0, 0, 1, 21_000).Hash()
		if _, err := mp.Get(cheapest); !errors.Is(err, mempool.ErrNotFound) || mp.Count() != 3 {
			t.Fatalf("\t%s\tShould have evicted the lowest price.", failed)
		}
		t.Logf("\t%s\tShould have evicted the lowest price.", success)

		if expired := mp.Sweep(time.Now().Add(2 * time.Hour)); len(expired) != 3 || mp.Count() != 0 {
			t.Fatalf("\t%s\tShould sweep old transactions, got %d", failed, len(expired))
		}
		t.Logf("\t%s\tShould sweep old transactions.", success)
	}
}

func Test_SelectForBlock(t *testing.T) {
	t.Log("Given the need to pack transactions into a block.")
	{
		mp := newMempool(t, 100, 10, time.Hour)

		kennedy := address(t, signKennedy)
		bill := address(t, signBill)
		ed := address(t, signEd)

		db := database.New(map[common.Address]*uint256.Int{
			kennedy: uint256.NewInt(1_000_000),
			bill:    uint256.NewInt(1_000_000),
			ed:      uint256.NewInt(30_000),
		})

		txs := []database.SignedTx{
			sign(t, signKennedy, 0, 0, 5, 21_000),
			sign(t, signBill, 0, 0, 7, 21_000),
			sign(t, signEd, 0, 0, 1, 21_000),
		}

		for _, tx := range txs {
			if _, err := mp.Admit(tx, db); err != nil {
				t.Fatalf("\t%s\tShould admit %s: %v", failed, tx, err)
			}
		}

		got := mp.SelectForBlock(30_000_000, db)

		exp := []common.Address{bill, kennedy, ed}

		if len(got) != len(exp) {
			t.Fatalf("\t%s\tShould select %d transactions, got %d", failed, len(exp), len(got))
		}
		for i, from := range exp {
			if got[i].From != from || got[i].Nonce != 0 {
				t.Fatalf("\t%s\tShould select by gas price, pos %d got %s", failed, i, got[i])
			}
		}
		t.Logf("\t%s\tShould select by gas price.", success)

		got = mp.SelectForBlock(2*database.TxGas+100, db)
		if len(got) != 2 {
			t.Fatalf("\t%s\tShould stay within the gas limit, got %d", failed, len(got))
		}
		t.Logf("\t%s\tShould stay within the gas limit.", success)

		db.IncrementNonce(kennedy)
		mp.Remove([]common.Hash{txs[1].Hash()})
		if removed := mp.RemoveStale(db); removed != 1 || mp.Count() != 1 {
			t.Fatalf("\t%s\tShould drop committed transactions, removed %d, left %d", failed, removed, mp.Count())
		}
		t.Logf("\t%s\tShould drop committed transactions.", success)

		if _, err := mp.Admit(sign(t, signKennedy, 1, 0, 5, 21_000), db); err != nil {
			t.Fatalf("\t%s\tShould admit the next nonce once it is on chain: %v", failed, err)
		}
		t.Logf("\t%s\tShould admit the next nonce once it is on chain.", success)
	}
}

// =============================================================================

func newMempool(t *testing.T, size int, perAccount int, maxAge time.Duration) *mempool.Mempool {
	t.Helper()

	mp, err := mempool.New(mempool.Config{MaxSize: size, MaxPerAccount: perAccount, MaxAge: maxAge})
	if err != nil {
		t.Fatalf("Should be able to construct the mempool: %v", err)
	}

	return mp
}

func address(t *testing.T, hexKey string) common.Address {
	t.Helper()

	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %v", err)
	}

	return crypto.PubkeyToAddress(pk.PublicKey)
}

func sign(t *testing.T, hexKey string, nonce uint64, value uint64, gasPrice uint64, gasLimit uint64) database.SignedTx {
	t.Helper()

	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load the private key: %v", err)
	}

	tx, err := database.NewTx(chainID, nonce, crypto.PubkeyToAddress(pk.PublicKey), &to, uint256.NewInt(value), uint256.NewInt(gasPrice), gasLimit, nil)
	if err != nil {
		t.Fatalf("Should be able to construct the transaction: %v", err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %v", err)
	}

	return signedTx
}
