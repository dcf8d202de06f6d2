// Package disk implements the ability to read and write the chain data to
// a single JSON document on disk.
package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
)

// Disk represents the serialization implementation for reading and storing
// the chain data in one file per network. This implements the
// database.Serializer interface.
type Disk struct {
	mu     sync.Mutex
	dbPath string
	file   string
}

// New constructs a Disk value for use. The file for the network is named
// after the chain id inside the dbPath folder.
func New(dbPath string, chainID uint64) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	d := Disk{
		dbPath: dbPath,
		file:   filepath.Join(dbPath, "chain-"+strconv.FormatUint(chainID, 10)+".json"),
	}

	return &d, nil
}

// Close in this implementation has nothing to do since the file is written
// and closed on every write.
func (d *Disk) Close() error {
	return nil
}

// Write replaces the document on disk. The data is written to a temporary
// file first and renamed over the old one so a crash never leaves a
// partial document behind.
func (d *Disk) Write(data database.ChainData) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Marshal the chain for writing to disk in a more human readable format.
	doc, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal chain data: %w", err)
	}

	tmp, err := os.CreateTemp(d.dbPath, "chain-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), d.file)
}

// Read loads the document from disk.
func (d *Disk) Read() (database.ChainData, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(d.file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return database.ChainData{}, database.ErrNoChainData
		}
		return database.ChainData{}, err
	}
	defer f.Close()

	var data database.ChainData
	if err := json.NewDecoder(f).Decode(&data); err != nil {
		return database.ChainData{}, fmt.Errorf("decode %s: %w", d.file, err)
	}

	return data, nil
}

// Reset will clear out the chain data on disk.
func (d *Disk) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(d.file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}
