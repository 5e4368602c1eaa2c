// Package store is the pebble-backed document store behind the message,
// conversation, block and actor adapters. Keys are namespaced by prefix:
//
//	actor:<kind>:<id>             actor profile JSON
//	msg:<id>                      canonical message row
//	conv:<convID>:meta            conversation metadata JSON
//	conv:<convID>:msg:<ts>-<id>   time-ordered index entry (value: msg id)
//	block:<blocker>|<blocked>     directed block edge JSON
//
// All mutations are single-document read-modify-write; there are no
// cross-document transactions.
package store

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/cockroachdb/pebble"

	"chatrelay/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string
)

// Pebble writes are atomic per key, but the adapters read a whole
// document, modify it and write it back. docLock serializes those
// sequences per document so two concurrent mutations of the same
// document cannot lose an update. Locks are striped by key hash; no
// code path holds more than one stripe at a time.
var docLocks [64]sync.Mutex

func docLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &docLocks[h.Sum32()%uint32(len(docLocks))]
}

// Open opens (or creates) a pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Metrics returns a snapshot of pebble's internal metrics, or nil when
// the store is not open. Used by the telemetry sampler.
func Metrics() *pebble.Metrics {
	if db == nil {
		return nil
	}
	return db.Metrics()
}

var errNotOpen = fmt.Errorf("pebble not opened; call store.Open first")

// getJSON reads and unmarshals a single document. Returns
// pebble.ErrNotFound untouched so callers can map it to their taxonomy.
func getJSON(key string, v any) error {
	if db == nil {
		return errNotOpen
	}
	b, closer, err := db.Get([]byte(key))
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("corrupt document at %s: %w", key, err)
	}
	return nil
}

// setJSON marshals and writes a single document synchronously.
func setJSON(key string, v any) error {
	if db == nil {
		return errNotOpen
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal document for %s: %w", key, err)
	}
	return db.Set([]byte(key), b, pebble.Sync)
}

// unmarshalValue copies an iterator value before decoding; pebble may
// reuse the backing array on the next step.
func unmarshalValue(b []byte, v any) error {
	cp := append([]byte(nil), b...)
	return json.Unmarshal(cp, v)
}

func deleteKey(key string) error {
	if db == nil {
		return errNotOpen
	}
	return db.Delete([]byte(key), pebble.Sync)
}
