// Package store caches identification results in BadgerDB so batch runs can
// skip functions already identified against the same forest.
//
// Keys are "result/<forest>/<descriptor key>", where forest is a fingerprint
// of the training artifacts. Rebuilding the forest from different artifacts
// therefore starts from an empty cache without deleting anything.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/joshuapare/binsleuth/internal/metrics"
	"github.com/joshuapare/binsleuth/pkg/types"
)

// Config configures Open.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in memory; for tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// TTL expires results after this long; 0 keeps them forever.
	TTL time.Duration
	// Logger receives Badger's own log lines; nil silences them.
	Logger *slog.Logger
}

// Result is one cached identification.
type Result struct {
	Function     types.FunctionDescriptor `json:"function"`
	Node         int                      `json:"node"`
	Classes      []types.DescriptorEntry  `json:"classes,omitempty"`
	RunID        string                   `json:"run_id,omitempty"`
	IdentifiedAt time.Time                `json:"identified_at"`
}

// Store is a result cache.
type Store struct {
	db  *badger.DB
	ttl time.Duration
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens or creates the cache.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, types.Errorf(types.ErrKindConfig, "store: path is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Store{db: db, ttl: cfg.TTL}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

func prefix(forest string) []byte { return []byte("result/" + forest + "/") }

func key(forest string, desc types.FunctionDescriptor) []byte {
	return fmt.Appendf(prefix(forest), "%016x", desc.Key())
}

// Put records r for forest.
func (s *Store) Put(forest string, r Result) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: encode result: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key(forest, r.Function), val)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Get returns the cached result for desc, if any.
func (s *Store) Get(forest string, desc types.FunctionDescriptor) (Result, bool, error) {
	var r Result
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(forest, desc))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.RecordCacheLookup(false)
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("store: get %s: %w", desc, err)
	}
	metrics.RecordCacheLookup(true)
	return r, true, nil
}

// List returns every result cached for forest, ordered by descriptor key.
func (s *Store) List(forest string) ([]Result, error) {
	var out []Result
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix(forest)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var r Result
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("%s: %w", it.Item().Key(), err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// Purge drops every result cached for forest.
func (s *Store) Purge(forest string) error {
	return s.db.DropPrefix(prefix(forest))
}

// Fingerprint identifies a forest by the content of its artifact files, in
// the order given.
func Fingerprint(paths ...string) (string, error) {
	h := sha256.New()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", fmt.Errorf("fingerprint %s: %w", p, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:12]), nil
}
