package faucet_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ardanlabs/evmchain/business/core/faucet"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
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

var pavel = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")

func Test_Fund(t *testing.T) {
	t.Log("Given the need to fund addresses from a faucet.")
	{
		pk, err := crypto.HexToECDSA(pkHexKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to load the private key: %v", failed, err)
		}

		chain := chain{nonces: make(map[common.Address]uint64)}

		fct, err := faucet.New(faucet.Config{
			Chain:      &chain,
			PrivateKey: pk,
			Amount:     uint256.NewInt(5_000),
			GasPrice:   uint256.NewInt(1),
		})
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct the faucet: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to construct the faucet.", success)

		hash, err := fct.Fund(pavel)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to fund an address: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to fund an address.", success)

		if len(chain.txs) != 1 || chain.txs[0].Hash() != hash {
			t.Fatalf("\t%s\tShould submit one signed transaction.", failed)
		}
		t.Logf("\t%s\tShould submit one signed transaction.", success)

		tx := chain.txs[0]
		if err := tx.Validate(chainID); err != nil {
			t.Fatalf("\t%s\tShould sign a valid transaction: %v", failed, err)
		}
		if *tx.To != pavel || tx.Value.Uint64() != 5_000 || tx.GasLimit != database.TxGas || tx.Nonce != 0 {
			t.Fatalf("\t%s\tShould transfer the faucet amount: %v", failed, tx)
		}
		t.Logf("\t%s\tShould transfer the faucet amount.", success)

		if _, err := fct.Fund(pavel); !errors.Is(err, faucet.ErrAlreadyFunded) {
			t.Fatalf("\t%s\tShould only fund an address once: %v", failed, err)
		}
		t.Logf("\t%s\tShould only fund an address once.", success)

		if _, err := fct.Fund(fct.Address()); !errors.Is(err, faucet.ErrSelf) {
			t.Fatalf("\t%s\tShould not fund itself: %v", failed, err)
		}
		t.Logf("\t%s\tShould not fund itself.", success)

		other := common.HexToAddress("0x0000000000000000000000000000000000000042")
		if _, err := fct.Fund(other); err != nil {
			t.Fatalf("\t%s\tShould fund a second address: %v", failed, err)
		}
		if chain.txs[1].Nonce != 1 {
			t.Fatalf("\t%s\tShould use the next pending nonce, got %d.", failed, chain.txs[1].Nonce)
		}
		t.Logf("\t%s\tShould use the next pending nonce.", success)

		chain.reject = errors.New("mempool is full")
		third := common.HexToAddress("0x0000000000000000000000000000000000000043")
		if _, err := fct.Fund(third); err == nil {
			t.Fatalf("\t%s\tShould return the chain error.", failed)
		}
		if _, funded := fct.Funded(third); funded {
			t.Fatalf("\t%s\tShould not record a failed funding.", failed)
		}
		t.Logf("\t%s\tShould not record a failed funding.", success)
	}
}

// =============================================================================

type chain struct {
	nonces map[common.Address]uint64
	txs    []database.SignedTx
	reject error
}

func (c *chain) ChainID() uint64 {
	return chainID
}

func (c *chain) QueryPendingNonce(address common.Address) uint64 {
	return c.nonces[address]
}

func (c *chain) UpsertWalletTransaction(tx database.SignedTx) (database.PendingTx, error) {
	if c.reject != nil {
		return database.PendingTx{}, c.reject
	}

	c.txs = append(c.txs, tx)
	c.nonces[tx.From]++

	return database.NewPendingTx(tx, time.Now()), nil
}
