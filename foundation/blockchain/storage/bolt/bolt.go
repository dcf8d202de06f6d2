// Package bolt implements the ability to read and write the chain data to
// a bbolt database file.
package bolt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	bolt "go.etcd.io/bbolt"
)

var bucketChain = []byte("chain")

// Bolt represents the serialization implementation for reading and storing
// the chain data inside a bbolt bucket keyed by chain id. This implements
// the database.Serializer interface.
type Bolt struct {
	db  *bolt.DB
	key []byte
}

// New opens or creates the database file.
func New(path string, chainID uint64) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketChain)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	b := Bolt{
		db:  db,
		key: []byte(strconv.FormatUint(chainID, 10)),
	}

	return &b, nil
}

// Close releases the database file.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Write replaces the document for the chain in a single transaction.
func (b *Bolt) Write(data database.ChainData) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal chain data: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChain).Put(b.key, doc)
	})
}

// Read loads the document for the chain.
func (b *Bolt) Read() (database.ChainData, error) {
	var data database.ChainData

	err := b.db.View(func(tx *bolt.Tx) error {
		doc := tx.Bucket(bucketChain).Get(b.key)
		if doc == nil {
			return database.ErrNoChainData
		}

		// The slice is only valid for the life of the transaction and
		// decoding copies what it needs.
		return json.Unmarshal(doc, &data)
	})
	if err != nil {
		return database.ChainData{}, err
	}

	return data, nil
}

// Reset removes the document for the chain.
func (b *Bolt) Reset() error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChain).Delete(b.key)
	})
}
