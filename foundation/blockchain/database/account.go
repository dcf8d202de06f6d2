package database

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EmptyCodeHash is the code hash of an account that holds no code.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// ErrInvalidAddress is returned when a string is not a hex encoded address.
var ErrInvalidAddress = errors.New("invalid address format")

// Account represents information stored in the database for an individual account.
type Account struct {
	Address     common.Address
	Balance     *uint256.Int
	Nonce       uint64
	CodeHash    common.Hash
	StorageRoot common.Hash
}

// newAccount constructs the zero value account for the address.
func newAccount(address common.Address) Account {
	return Account{
		Address:  address,
		Balance:  new(uint256.Int),
		CodeHash: EmptyCodeHash,
	}
}

// clone returns a copy that shares no memory with the original.
func (a Account) clone() Account {
	if a.Balance == nil {
		a.Balance = new(uint256.Int)
		return a
	}

	a.Balance = a.Balance.Clone()
	return a
}

// Hash returns the hash of the account's canonical serialization.
func (a Account) Hash() common.Hash {
	data, err := json.Marshal(a)
	if err != nil {
		return common.Hash{}
	}

	return crypto.Keccak256Hash(data)
}

type accountJSON struct {
	Address     common.Address `json:"address"`
	Balance     string         `json:"balance"`
	Nonce       uint64         `json:"nonce"`
	CodeHash    common.Hash    `json:"code_hash"`
	StorageRoot common.Hash    `json:"storage_root"`
}

// MarshalJSON implements the json.Marshaler interface.
func (a Account) MarshalJSON() ([]byte, error) {
	return json.Marshal(accountJSON{
		Address:     a.Address,
		Balance:     FormatAmount(a.Balance),
		Nonce:       a.Nonce,
		CodeHash:    a.CodeHash,
		StorageRoot: a.StorageRoot,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (a *Account) UnmarshalJSON(data []byte) error {
	var aj accountJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return err
	}

	balance, err := ParseAmount(aj.Balance)
	if err != nil {
		return err
	}

	*a = Account{
		Address:     aj.Address,
		Balance:     balance,
		Nonce:       aj.Nonce,
		CodeHash:    aj.CodeHash,
		StorageRoot: aj.StorageRoot,
	}

	return nil
}

// =============================================================================

// ToAddress converts a hex-encoded string to an address and validates the
// hex-encoded string is formatted correctly. The address is returned in its
// checksummed form by common.Address.String.
func ToAddress(hex string) (common.Address, error) {
	hex = strings.TrimSpace(hex)
	if !common.IsHexAddress(hex) {
		return common.Address{}, ErrInvalidAddress
	}

	return common.HexToAddress(hex), nil
}

// PublicKeyToAddress converts the public key to an address value.
func PublicKeyToAddress(pk ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(pk)
}
