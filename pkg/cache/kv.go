// Package cache provides the read-mostly, single-writer-multi-reader
// caches spec §5 calls for: the known-unit set and the static-unit-
// property cache. A durable KV (cometbft-db) backs the known-unit set so
// ingestion can survive a restart without replaying the whole DAG; an
// in-process ristretto cache sits in front of it for the hot path.
package cache

import (
	dbm "github.com/cometbft/cometbft-db"
)

// KV is the narrow persistence interface the durable layer exposes.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Has(key []byte) (bool, error)
}

// KVAdapter wraps a cometbft-db dbm.DB, adapted from
// pkg/kvdb/adapter.go (which wrapped the same library for the anchor
// ledger) to serve the known-unit/quarantine cache instead.
type KVAdapter struct {
	db dbm.DB
}

// NewKVAdapter creates a new KVAdapter for the given underlying DB.
func NewKVAdapter(db dbm.DB) *KVAdapter {
	return &KVAdapter{db: db}
}

// Get implements KV.Get.
func (a *KVAdapter) Get(key []byte) ([]byte, error) {
	if a.db == nil {
		return nil, nil
	}
	return a.db.Get(key)
}

// Set implements KV.Set, using SetSync for durability across restarts.
func (a *KVAdapter) Set(key, value []byte) error {
	if a.db == nil {
		return nil
	}
	return a.db.SetSync(key, value)
}

// Has implements KV.Has.
func (a *KVAdapter) Has(key []byte) (bool, error) {
	if a.db == nil {
		return false, nil
	}
	return a.db.Has(key)
}

// NewMemDB returns an in-memory cometbft-db instance, useful for tests
// and for the is_light deployment mode where no durable DAG cache is
// needed.
func NewMemDB() dbm.DB {
	return dbm.NewMemDB()
}
