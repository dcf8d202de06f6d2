// Package nameservice reads a folder of .ecdsa key files and creates a name
// service lookup for the addresses they control.
package nameservice

import (
	"crypto/ecdsa"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NameService maintains a map of addresses for name lookup.
type NameService struct {
	names map[common.Address]string
	keys  map[string]*ecdsa.PrivateKey
}

// New constructs a name service with the keys found under the root folder.
func New(root string) (*NameService, error) {
	ns := NameService{
		names: make(map[common.Address]string),
		keys:  make(map[string]*ecdsa.PrivateKey),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return fmt.Errorf("loading %s: %w", fileName, err)
		}

		name := strings.TrimSuffix(path.Base(fileName), ".ecdsa")
		ns.names[crypto.PubkeyToAddress(privateKey.PublicKey)] = name
		ns.keys[name] = privateKey

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified address or the address itself
// when no key file exists for it.
func (ns *NameService) Lookup(address common.Address) string {
	name, exists := ns.names[address]
	if !exists {
		return address.Hex()
	}
	return name
}

// PrivateKey returns the key loaded from the file with the given name.
func (ns *NameService) PrivateKey(name string) (*ecdsa.PrivateKey, error) {
	pk, exists := ns.keys[name]
	if !exists {
		return nil, fmt.Errorf("no key named %q", name)
	}
	return pk, nil
}

// Copy returns a copy of the map of names and addresses.
func (ns *NameService) Copy() map[common.Address]string {
	cpy := make(map[common.Address]string, len(ns.names))
	for address, name := range ns.names {
		cpy[address] = name
	}
	return cpy
}
