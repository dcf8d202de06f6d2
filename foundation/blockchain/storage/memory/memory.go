// Package memory implements the ability to read and write the chain data
// to memory.
package memory

import (
	"encoding/json"
	"sync"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
)

// Memory represents the serialization implementation for reading and storing
// the chain data in memory. The data is kept encoded so a read never shares
// values with the writer. This implements the database.Serializer interface.
type Memory struct {
	mu     sync.RWMutex
	doc    []byte
	writes int
}

// New constructs a Memory value for use.
func New() *Memory {
	return &Memory{}
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// Write takes the specified chain data and stores it in memory.
func (m *Memory) Write(data database.ChainData) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc = doc
	m.writes++

	return nil
}

// Read returns the last chain data written.
func (m *Memory) Read() (database.ChainData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.doc == nil {
		return database.ChainData{}, database.ErrNoChainData
	}

	var data database.ChainData
	if err := json.Unmarshal(m.doc, &data); err != nil {
		return database.ChainData{}, err
	}

	return data, nil
}

// Writes returns the number of successful writes.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.writes
}

// Reset will clear out the chain data.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doc = nil
	return nil
}
