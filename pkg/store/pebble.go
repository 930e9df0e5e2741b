package store

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/open-chat-labs/open-chat-sub009/pkg/logger"

	"github.com/cockroachdb/pebble"
)

// DB wraps one shard's pebble keyspace. The store object is created at shard
// start and passed by reference into every component; there are no package
// globals.
type DB struct {
	pdb         *pebble.DB
	path        string
	walDisabled bool
}

// Options tune the underlying pebble instance.
type Options struct {
	DisableWAL bool
	// CacheBytes sizes pebble's block cache; zero keeps pebble's default.
	CacheBytes int64
}

// Open opens or creates the shard keyspace at path.
func Open(path string, o Options) (*DB, error) {
	opts := &pebble.Options{
		DisableWAL: o.DisableWAL,
	}
	if o.CacheBytes > 0 {
		cache := pebble.NewCache(o.CacheBytes)
		defer cache.Unref()
		opts.Cache = cache
	}
	if o.DisableWAL {
		logger.Warn("durability_disabled", "path", path)
	}
	pdb, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &DB{pdb: pdb, path: path, walDisabled: o.DisableWAL}, nil
}

func (d *DB) Close() error {
	if d.pdb == nil {
		return nil
	}
	err := d.pdb.Close()
	d.pdb = nil
	return err
}

func (d *DB) Path() string { return d.path }

// IsNotFound reports whether err is pebble's missing-key error.
func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

// Get returns a copy of the value for key.
func (d *DB) Get(key string) ([]byte, error) {
	if d.pdb == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := d.pdb.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, nil
}

func (d *DB) Set(key string, value []byte) error {
	if d.pdb == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := d.pdb.Set([]byte(key), value, d.WriteOpt(true)); err != nil {
		logger.Error("set_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

func (d *DB) Delete(key string) error {
	if d.pdb == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := d.pdb.Delete([]byte(key), d.WriteOpt(true)); err != nil {
		logger.Error("delete_key_failed", "key", key, "error", err)
		return err
	}
	return nil
}

// NewBatch starts a write batch; apply with ApplyBatch for atomicity.
func (d *DB) NewBatch() *pebble.Batch {
	return d.pdb.NewBatch()
}

// ApplyBatch commits a batch as one atomic unit of work.
func (d *DB) ApplyBatch(batch *pebble.Batch) error {
	if d.pdb == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := d.pdb.Apply(batch, d.WriteOpt(true)); err != nil {
		logger.Error("pebble_apply_batch_failed", "error", err)
		return err
	}
	return nil
}

func (d *DB) WriteOpt(requestSync bool) *pebble.WriteOptions {
	if requestSync && !d.walDisabled {
		return pebble.Sync
	}
	return pebble.NoSync
}

// IterPrefix walks all keys with the given prefix in order. fn returns false
// to stop early.
func (d *DB) IterPrefix(prefix string, fn func(key string, value []byte) bool) error {
	if d.pdb == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := d.pdb.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	pfx := []byte(prefix)
	for iter.SeekGE(pfx); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), pfx) {
			break
		}
		k := string(iter.Key())
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}

// IterRange walks keys in [start, end) in order. fn returns false to stop.
func (d *DB) IterRange(start, end string, fn func(key string, value []byte) bool) error {
	if d.pdb == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	iter, err := d.pdb.NewIter(&pebble.IterOptions{
		LowerBound: []byte(start),
		UpperBound: []byte(end),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		v := append([]byte(nil), iter.Value()...)
		if !fn(k, v) {
			break
		}
	}
	return iter.Error()
}
