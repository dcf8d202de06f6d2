package database

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Snapshot is a full copy of the account, storage and code maps. It is used
// to persist the state and to put the state back when a block from a peer
// doesn't replay to the expected root.
type Snapshot struct {
	Accounts []Pair[common.Address, Account]                         `json:"accounts"`
	Storage  []Pair[common.Address, []Pair[common.Hash, common.Hash]] `json:"storage"`
	Code     []Pair[common.Address, hexutil.Bytes]                   `json:"code"`
}

// Snapshot exports the entire state. Entries are ordered by address so the
// same state always produces the same document.
func (db *Database) Snapshot() Snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var snap Snapshot

	for _, address := range sortedAddresses(db.accounts) {
		snap.Accounts = append(snap.Accounts, Pair[common.Address, Account]{Key: address, Value: db.accounts[address].clone()})
	}

	for _, address := range sortedAddresses(db.storage) {
		slots := db.storage[address]

		var entries []Pair[common.Hash, common.Hash]
		for key, value := range slots {
			entries = append(entries, Pair[common.Hash, common.Hash]{Key: key, Value: value})
		}
		sortSlots(entries)

		snap.Storage = append(snap.Storage, Pair[common.Address, []Pair[common.Hash, common.Hash]]{Key: address, Value: entries})
	}

	for _, address := range sortedAddresses(db.code) {
		snap.Code = append(snap.Code, Pair[common.Address, hexutil.Bytes]{Key: address, Value: bytes.Clone(db.code[address])})
	}

	return snap
}

// Restore replaces the entire state with the snapshot. The snapshot is
// checked before anything is replaced so a bad snapshot leaves the current
// state in place.
func (db *Database) Restore(snap Snapshot) error {
	accounts := make(map[common.Address]Account, len(snap.Accounts))
	for _, entry := range snap.Accounts {
		if entry.Value.Address != entry.Key {
			return fmt.Errorf("snapshot account %s is stored under %s", entry.Value.Address, entry.Key)
		}
		accounts[entry.Key] = entry.Value.clone()
	}

	storage := make(map[common.Address]map[common.Hash]common.Hash, len(snap.Storage))
	for _, entry := range snap.Storage {
		slots := make(map[common.Hash]common.Hash, len(entry.Value))
		for _, slot := range entry.Value {
			slots[slot.Key] = slot.Value
		}
		storage[entry.Key] = slots
	}

	code := make(map[common.Address][]byte, len(snap.Code))
	for _, entry := range snap.Code {
		account, exists := accounts[entry.Key]
		if exists && account.CodeHash != crypto.Keccak256Hash(entry.Value) {
			return fmt.Errorf("snapshot code for %s does not match its code hash", entry.Key)
		}
		code[entry.Key] = bytes.Clone(entry.Value)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.accounts = accounts
	db.storage = storage
	db.code = code
	db.commit()

	return nil
}

// sortSlots orders storage entries by key.
func sortSlots(entries []Pair[common.Hash, common.Hash]) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Key[:], entries[j].Key[:]) < 0
	})
}
