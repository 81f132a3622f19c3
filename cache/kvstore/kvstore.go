// Package kvstore implements a persistent key-value cache for immutable
// node responses, so repeated block scans do not re-fetch the same data.
package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/akrylysov/pogreb"

	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/metrics"
)

// A key in the KVStore.
type CacheKey []byte

func GenerateCacheKey(methodName string, params ...interface{}) CacheKey {
	raw, err := json.Marshal([]interface{}{methodName, params})
	if err != nil {
		// Keys are built from plain strings and integers, so this is unreachable.
		return CacheKey(fmt.Sprintf("%s:%v", methodName, params))
	}
	return CacheKey(raw)
}

// A key-value store. Additional method-like functions that give a typed interface
// to the store (i.e. with typed values/keys instead of []byte) are provided below,
// taking KVStore as the first argument so they can use generics.
type KVStore interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Close() error
}

type pogrebKVStore struct {
	db *pogreb.DB

	path    string
	logger  *log.Logger
	metrics *metrics.CacheMetrics // if nil, no metrics are emitted

	// Address of the atomic variable that indicates whether the store is initialized.
	// Synchronisation is required because the store is opened in a background goroutine.
	initialized uint32
}

var _ KVStore = (*pogrebKVStore)(nil)

func (s *pogrebKVStore) isInitialized() bool {
	return atomic.LoadUint32(&s.initialized) == 1
}

// Get implements KVStore.
// NOTE: Cache hit/miss metrics are not captured if you call this method directly.
// Consider using the Get*FromCacheOrCall() methods instead.
func (s *pogrebKVStore) Get(key []byte) ([]byte, error) {
	if !s.isInitialized() {
		return nil, fmt.Errorf("kvstore: not initialized yet")
	}
	return s.db.Get(key)
}

// Has implements KVStore.
func (s *pogrebKVStore) Has(key []byte) (bool, error) {
	if !s.isInitialized() {
		return false, nil
	}
	return s.db.Has(key)
}

// Put implements KVStore.
func (s *pogrebKVStore) Put(key []byte, value []byte) error {
	if !s.isInitialized() {
		// If the store is not initialized yet, skip writing to it.
		s.logger.Debug("skipping write to uninitialized KVStore", "key", key)
		return nil
	}
	return s.db.Put(key, value)
}

// Close implements KVStore.
func (s *pogrebKVStore) Close() error {
	if !s.isInitialized() {
		// If pogreb is in the middle of recovery in the background, it will
		// die and have to start over next time.
		s.logger.Warn("skipping closing uninitialized KVStore")
		return nil
	}
	s.logger.Info("closing KVStore", "path", s.path)
	return s.db.Close()
}

// Deletes all files that match the glob pattern.
func deleteFiles(pattern string) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("unable to glob for files %s to delete: %w", pattern, err)
	}
	var lastErr error
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			lastErr = fmt.Errorf("unable to delete file %s: %w", f, err)
		}
	}
	return lastErr
}

func (s *pogrebKVStore) init() error {
	// Pogreb backs up its indices into <oldname>.bac; ".bac" becomes ".bac.bac" on
	// the next crash, and so on. If the process loop-crashes, the filenames grow
	// too long for the filesystem and pogreb can no longer initialize without
	// manual intervention. The cached data is cheap to re-fetch from the node,
	// so stale backups are simply removed before opening the store.
	if err := deleteFiles(filepath.Join(s.path, "*.bac.bac")); err != nil {
		s.logger.Warn("failed to delete excessively backed-up pogreb index files", "err", err)
	}

	// Open the DB. If a reindex is needed, this can take a while.
	s.logger.Info("(re)opening KVStore", "path", s.path)
	db, err := pogreb.Open(s.path, &pogreb.Options{BackgroundSyncInterval: -1})
	if err != nil {
		s.logger.Error("failed to initialize pogreb store", "err", err)
		return err
	}

	s.db = db
	atomic.StoreUint32(&s.initialized, 1)
	s.logger.Info(fmt.Sprintf("KVStore has %d entries", db.Count()))
	return nil
}

// Initializes a new KVStore backed by a database at `path`, or opens an existing one.
// `metrics` can be `nil`, in which case no metrics are emitted during operation.
func OpenKVStore(logger *log.Logger, path string, metrics *metrics.CacheMetrics) (KVStore, error) {
	store := &pogrebKVStore{
		logger:  logger,
		path:    path,
		metrics: metrics,
	}

	// Open the database in background as it is possible it will do a full-reindex
	// on startup after a crash:
	// https://github.com/akrylysov/pogreb/issues/35
	initErrCh := make(chan error)
	go func() {
		initErrCh <- store.init()
	}()

	select {
	case err := <-initErrCh:
		// Database initialized in time.
		if err != nil {
			return nil, err
		}
		return store, nil
	case <-time.After(30 * time.Second):
		// Database is likely doing a full-reindex after a crash, which can take a
		// long time. Continue without cache while the database is reindexing in
		// the background. Once it's done, the cache will be used.
		// NOTE: A failure during the reindex is logged but otherwise ignored; the
		// cache then stays uninitialized for the lifetime of the process.
		logger.Warn("KVStore initialization timed out, continuing without cache while the database is reindexing in the background")
		return store, nil
	}
}

// Pretty returns a pretty-printed, human-readable version of the cache key.
// It tries to interpret it as JSON and returns the compacted document, otherwise
// it returns the key's raw bytes as hex.
// Intended only for debugging. Not guaranteed to be a stable representation.
func (cacheKey CacheKey) Pretty() string {
	var pretty string
	var parsed interface{}
	if err := json.Unmarshal(cacheKey, &parsed); err == nil {
		pretty = fmt.Sprintf("%+v", parsed)
	} else {
		pretty = fmt.Sprintf("%x", []byte(cacheKey))
	}
	if len(pretty) > 100 {
		pretty = pretty[:95] + "[...]"
	}
	return pretty
}

var errNoSuchKey = fmt.Errorf("no such key")

func increaseReadCounter(cache KVStore, status metrics.CacheReadStatus) {
	// Make sure the cache supports metric-gathering.
	if metricsCache, ok := cache.(*pogrebKVStore); ok && metricsCache.metrics != nil {
		metricsCache.metrics.LocalCacheReads(status).Inc()
	}
}

// fetchTypedValue fetches the value of `cacheKey` from the cache, interpreted as a `Value`.
func fetchTypedValue[Value any](cache KVStore, key CacheKey, value *Value) error {
	isCached, err := cache.Has(key)
	if err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return err
	}
	if !isCached {
		increaseReadCounter(cache, metrics.CacheReadStatusMiss)
		return errNoSuchKey
	}
	raw, err := cache.Get(key)
	if err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusError)
		return fmt.Errorf("failed to fetch key %s from cache: %v", key.Pretty(), err)
	}
	if err = json.Unmarshal(raw, value); err != nil {
		increaseReadCounter(cache, metrics.CacheReadStatusBadValue)
		return fmt.Errorf("failed to unmarshal the value for key %s from cache into %T: %v; raw value was %x", key.Pretty(), value, err, raw)
	}
	increaseReadCounter(cache, metrics.CacheReadStatusHit)

	return nil
}

// GetFromCacheOrCall fetches the value of `cacheKey` from the cache if it exists,
// interpreted as a `Value`. If it does not exist, it calls `valueFunc` to get the
// value, and caches it before returning it.
// If `cache` is nil or `volatile` is true, `valueFunc` is always called, and the
// result is not cached.
func GetFromCacheOrCall[Value any](cache KVStore, volatile bool, key CacheKey, valueFunc func() (*Value, error)) (*Value, error) {
	// Values tied to the moving chain tip are not cacheable, so hit the backing API.
	if cache == nil || volatile {
		return valueFunc()
	}

	// If the value is cached, return it.
	var cached Value
	switch err := fetchTypedValue(cache, key, &cached); err {
	case nil:
		return &cached, nil
	case errNoSuchKey: // Regular cache miss; continue below.
	default:
		// Log unexpected error and continue to call the backing API.
		if loggingCache, ok := cache.(*pogrebKVStore); ok {
			loggingCache.logger.Warn(fmt.Sprintf("error fetching %s from cache: %v", key.Pretty(), err))
		}
	}

	// The value is not cached or couldn't be restored from the cache. Call the backing API to get it.
	computed, err := valueFunc()
	if err != nil {
		return nil, err
	}
	if computed == nil {
		// Absent values are not cached; the lookup may succeed later.
		return nil, nil
	}

	// Store value in cache for later use.
	raw, mErr := json.Marshal(computed)
	if mErr != nil {
		// Values are plain JSON-encodable structs; treat failure as non-cacheable.
		return computed, nil
	}
	return computed, cache.Put(key, raw)
}

// Like GetFromCacheOrCall, but for slice-typed return values.
func GetSliceFromCacheOrCall[Response any](cache KVStore, volatile bool, key CacheKey, valueFunc func() ([]Response, error)) ([]Response, error) {
	// Use `GetFromCacheOrCall()` to avoid duplicating the cache update logic.
	responsePtr, err := GetFromCacheOrCall(cache, volatile, key, func() (*[]Response, error) {
		response, err := valueFunc()
		if response == nil {
			return nil, err
		}
		// Return the response wrapped in a pointer to conform to the signature of `GetFromCacheOrCall()`.
		return &response, err
	})
	if responsePtr == nil {
		return nil, err
	}
	// Undo the pointer wrapping.
	return *responsePtr, err
}
