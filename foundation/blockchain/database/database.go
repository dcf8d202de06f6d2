// Package database handles all the lower level support for maintaining the
// account state of the blockchain and the types that are recorded in it.
package database

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ardanlabs/evmchain/foundation/blockchain/merkle"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Set of errors returned by the balance operations.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

// Database manages data related to accounts who have transacted on the
// blockchain. Every mutation recomputes the state root over all accounts.
type Database struct {
	mu sync.RWMutex

	accounts  map[common.Address]Account
	storage   map[common.Address]map[common.Hash]common.Hash
	code      map[common.Address][]byte
	stateRoot common.Hash
}

// New constructs a new database and applies the genesis allocations.
func New(balances map[common.Address]*uint256.Int) *Database {
	db := Database{
		accounts: make(map[common.Address]Account),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		code:     make(map[common.Address][]byte),
	}

	for address, balance := range balances {
		account := newAccount(address)
		account.Balance = balance.Clone()
		db.accounts[address] = account
	}

	db.commit()

	return &db
}

// GetAccount returns the account for the address. Unknown addresses return
// an empty account which is not stored.
func (db *Database) GetAccount(address common.Address) Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.account(address)
}

// SetAccount upserts the account.
func (db *Database) SetAccount(account Account) {
	db.mu.Lock()
	defer db.mu.Unlock()

	account = account.clone()
	if account.CodeHash == (common.Hash{}) {
		account.CodeHash = EmptyCodeHash
	}

	db.accounts[account.Address] = account
	db.commit()
}

// Balance returns the balance for the address.
func (db *Database) Balance(address common.Address) *uint256.Int {
	return db.GetAccount(address).Balance
}

// Nonce returns the current nonce for the address.
func (db *Database) Nonce(address common.Address) uint64 {
	return db.GetAccount(address).Nonce
}

// AddBalance credits the amount to the address.
func (db *Database) AddBalance(address common.Address, amount *uint256.Int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	account := db.account(address)

	sum, overflow := new(uint256.Int).AddOverflow(account.Balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	account.Balance = sum

	db.accounts[address] = account
	db.commit()

	return nil
}

// SubtractBalance debits the amount from the address. The state is left
// unchanged when the balance can't cover the amount.
func (db *Database) SubtractBalance(address common.Address, amount *uint256.Int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	account := db.account(address)

	if account.Balance.Lt(amount) {
		return fmt.Errorf("%w: balance %s, needed %s", ErrInsufficientFunds, account.Balance.Dec(), amount.Dec())
	}
	account.Balance = new(uint256.Int).Sub(account.Balance, amount)

	db.accounts[address] = account
	db.commit()

	return nil
}

// Transfer moves the amount between two accounts. The state is left
// unchanged when the sender can't cover the amount.
func (db *Database) Transfer(from common.Address, to common.Address, amount *uint256.Int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	fromAccount := db.account(from)
	if fromAccount.Balance.Lt(amount) {
		return fmt.Errorf("%w: balance %s, needed %s", ErrInsufficientFunds, fromAccount.Balance.Dec(), amount.Dec())
	}

	if from == to {
		return nil
	}

	toAccount := db.account(to)
	sum, overflow := new(uint256.Int).AddOverflow(toAccount.Balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}

	fromAccount.Balance = new(uint256.Int).Sub(fromAccount.Balance, amount)
	toAccount.Balance = sum

	db.accounts[from] = fromAccount
	db.accounts[to] = toAccount
	db.commit()

	return nil
}

// IncrementNonce moves the nonce for the address forward by one.
func (db *Database) IncrementNonce(address common.Address) uint64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	account := db.account(address)
	account.Nonce++

	db.accounts[address] = account
	db.commit()

	return account.Nonce
}

// SetCode stores the code for the address.
func (db *Database) SetCode(address common.Address, code []byte) {
	db.mu.Lock()
	defer db.mu.Unlock()

	account := db.account(address)
	account.CodeHash = crypto.Keccak256Hash(code)

	db.code[address] = bytes.Clone(code)
	db.accounts[address] = account
	db.commit()
}

// HasCode reports whether the address holds code. This is what makes an
// address a contract.
func (db *Database) HasCode(address common.Address) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return len(db.code[address]) > 0
}

// Code returns a copy of the code stored for the address.
func (db *Database) Code(address common.Address) []byte {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return bytes.Clone(db.code[address])
}

// GetStorage returns the storage value for the key. Unknown keys return the
// zero hash.
func (db *Database) GetStorage(address common.Address, key common.Hash) common.Hash {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.storage[address][key]
}

// SetStorage stores the value for the key and updates the storage root of
// the account.
func (db *Database) SetStorage(address common.Address, key common.Hash, value common.Hash) {
	db.mu.Lock()
	defer db.mu.Unlock()

	slots, exists := db.storage[address]
	if !exists {
		slots = make(map[common.Hash]common.Hash)
		db.storage[address] = slots
	}
	slots[key] = value

	account := db.account(address)
	account.StorageRoot = storageRoot(slots)

	db.accounts[address] = account
	db.commit()
}

// StateRoot returns the current state root.
func (db *Database) StateRoot() common.Hash {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.stateRoot
}

// CopyAccounts makes a copy of the current accounts in the database.
func (db *Database) CopyAccounts() map[common.Address]Account {
	db.mu.RLock()
	defer db.mu.RUnlock()

	accounts := make(map[common.Address]Account, len(db.accounts))
	for address, account := range db.accounts {
		accounts[address] = account.clone()
	}

	return accounts
}

// =============================================================================

// account returns a copy of the stored account or an empty one. The caller
// must hold the lock.
func (db *Database) account(address common.Address) Account {
	account, exists := db.accounts[address]
	if !exists {
		return newAccount(address)
	}

	return account.clone()
}

// commit recomputes the state root from every account. The caller must hold
// the write lock.
func (db *Database) commit() {
	db.stateRoot = stateRoot(db.accounts)
}

// stateRoot computes the merkle root over the hash of every account ordered
// by address.
func stateRoot(accounts map[common.Address]Account) common.Hash {
	addresses := sortedAddresses(accounts)

	hashes := make([]common.Hash, len(addresses))
	for i, address := range addresses {
		hashes[i] = accounts[address].Hash()
	}

	return merkle.RootOf(hashes)
}

// storageRoot computes the merkle root over the storage slots ordered by key.
func storageRoot(slots map[common.Hash]common.Hash) common.Hash {
	keys := make([]common.Hash, 0, len(slots))
	for key := range slots {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i][:], keys[j][:]) < 0
	})

	hashes := make([]common.Hash, len(keys))
	for i, key := range keys {
		value := slots[key]
		hashes[i] = crypto.Keccak256Hash(key[:], value[:])
	}

	return merkle.RootOf(hashes)
}

// sortedAddresses returns the keys of the map in ascending byte order.
func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	addresses := make([]common.Address, 0, len(m))
	for address := range m {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return bytes.Compare(addresses[i][:], addresses[j][:]) < 0
	})

	return addresses
}
