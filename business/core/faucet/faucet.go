// Package faucet hands out a fixed amount of coins to an address, once.
package faucet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Set of errors returned by the faucet.
var (
	ErrAlreadyFunded = errors.New("address already funded by the faucet")
	ErrSelf          = errors.New("faucet can't fund itself")
)

// Chain is the behavior the faucet needs to submit transactions.
type Chain interface {
	ChainID() uint64
	QueryPendingNonce(address common.Address) uint64
	UpsertWalletTransaction(tx database.SignedTx) (database.PendingTx, error)
}

// Config represents what is required to construct a faucet.
type Config struct {
	Chain      Chain
	PrivateKey *ecdsa.PrivateKey
	Amount     *uint256.Int
	GasPrice   *uint256.Int
}

// Faucet signs transfers from its own account to addresses that ask.
type Faucet struct {
	chain    Chain
	key      *ecdsa.PrivateKey
	address  common.Address
	amount   *uint256.Int
	gasPrice *uint256.Int

	mu     sync.Mutex
	funded map[common.Address]common.Hash
}

// New constructs a faucet for the account of the private key.
func New(cfg Config) (*Faucet, error) {
	if cfg.Chain == nil || cfg.PrivateKey == nil {
		return nil, errors.New("faucet requires a chain and a private key")
	}

	if cfg.Amount == nil || cfg.Amount.IsZero() {
		return nil, errors.New("faucet amount must be greater than zero")
	}

	gasPrice := cfg.GasPrice
	if gasPrice == nil {
		gasPrice = new(uint256.Int)
	}

	f := Faucet{
		chain:    cfg.Chain,
		key:      cfg.PrivateKey,
		address:  database.PublicKeyToAddress(cfg.PrivateKey.PublicKey),
		amount:   cfg.Amount.Clone(),
		gasPrice: gasPrice.Clone(),
		funded:   make(map[common.Address]common.Hash),
	}

	return &f, nil
}

// Address returns the account the faucet pays from.
func (f *Faucet) Address() common.Address {
	return f.address
}

// Fund submits a transfer of the faucet amount to the address. An address
// is funded at most once for the life of the node.
func (f *Faucet) Fund(to common.Address) (common.Hash, error) {
	if to == f.address {
		return common.Hash{}, ErrSelf
	}

	// The lock is held across the submit so two requests don't sign with
	// the same nonce.
	f.mu.Lock()
	defer f.mu.Unlock()

	if hash, exists := f.funded[to]; exists {
		return common.Hash{}, fmt.Errorf("%w: tx %s", ErrAlreadyFunded, hash)
	}

	nonce := f.chain.QueryPendingNonce(f.address)

	tx, err := database.NewTx(f.chain.ChainID(), nonce, f.address, &to, f.amount, f.gasPrice, database.TxGas, nil)
	if err != nil {
		return common.Hash{}, err
	}

	signedTx, err := tx.Sign(f.key)
	if err != nil {
		return common.Hash{}, err
	}

	pending, err := f.chain.UpsertWalletTransaction(signedTx)
	if err != nil {
		return common.Hash{}, err
	}

	f.funded[to] = pending.TxHash

	return pending.TxHash, nil
}

// Funded returns the transaction hash used to fund the address.
func (f *Faucet) Funded(address common.Address) (common.Hash, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hash, exists := f.funded[address]
	return hash, exists
}
