package graph

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dd0wney/cluso-reliability/pkg/logging"
	"github.com/dd0wney/cluso-reliability/pkg/metrics"
)

const nodeKeyPrefix = "n/"

// BadgerConfig holds configuration for a badger-backed store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM. Used by tests.
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal log lines. Nil disables them.
	Logger logging.Logger
}

// InMemoryBadgerConfig returns a configuration that touches no disk.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerStore is an Accessor persisted in badger. Each node is one key
// holding EncodeNode output; a batch is one badger transaction.
type BadgerStore struct {
	db      *badger.DB
	closed  atomic.Bool
	metrics *metrics.Registry
}

type badgerLogger struct {
	logger logging.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens or creates a store. reg may be nil.
func OpenBadger(cfg BadgerConfig, reg *metrics.Registry) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger.With(logging.Component("badger"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db, metrics: reg}, nil
}

func nodeKey(semantic string) []byte {
	return []byte(nodeKeyPrefix + semantic)
}

func (s *BadgerStore) record(op string, err error, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStoreOperation("badger", op, err, time.Since(start))
	}
}

func (s *BadgerStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func getNode(txn *badger.Txn, op, semantic string) (*Node, error) {
	item, err := txn.Get(nodeKey(semantic))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, NotFoundError(op, semantic)
	}
	if err != nil {
		return nil, NewError(op).Semantic(semantic).Cause(err).Err()
	}
	var n *Node
	err = item.Value(func(val []byte) error {
		var derr error
		n, derr = DecodeNode(val)
		return derr
	})
	return n, err
}

// Fetch returns the stored node.
func (s *BadgerStore) Fetch(ctx context.Context, semantic string) (n *Node, err error) {
	defer func(start time.Time) { s.record("fetch", err, start) }(time.Now())
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		var gerr error
		n, gerr = getNode(txn, "fetch", semantic)
		return gerr
	})
	return n, err
}

// FetchLayer returns the node's children from a single read transaction.
func (s *BadgerStore) FetchLayer(ctx context.Context, semantic string) (layer []*Node, err error) {
	defer func(start time.Time) { s.record("fetch_layer", err, start) }(time.Now())
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	err = s.db.View(func(txn *badger.Txn) error {
		parent, err := getNode(txn, "fetch_layer", semantic)
		if err != nil {
			return err
		}
		layer = make([]*Node, 0, len(parent.Children))
		for _, c := range parent.Children {
			child, err := getNode(txn, "fetch_layer", c)
			if err != nil {
				return err
			}
			layer = append(layer, child)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	SortLayer(layer)
	return layer, nil
}

// Write applies the batch in one transaction.
func (s *BadgerStore) Write(ctx context.Context, edits ...Edit) (err error) {
	defer func(start time.Time) { s.record("write", err, start) }(time.Now())
	if err := s.check(ctx); err != nil {
		return err
	}
	if err := validateEdits(edits); err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for _, e := range edits {
			var have uint64
			stored, err := getNode(txn, "write", e.Semantic)
			switch {
			case err == nil:
				have = stored.Version
			case errors.Is(err, ErrNodeNotFound) && e.Op == EditPut:
			default:
				return err
			}
			if have != e.ExpectVersion {
				return ConflictError(e.Semantic, e.ExpectVersion, have)
			}

			switch e.Op {
			case EditPut:
				n := e.Node.Clone()
				n.Version = e.ExpectVersion + 1
				data, err := EncodeNode(n)
				if err != nil {
					return err
				}
				if err := txn.Set(nodeKey(e.Semantic), data); err != nil {
					return NewError("write").Semantic(e.Semantic).Cause(err).Err()
				}
			case EditDelete:
				if err := txn.Delete(nodeKey(e.Semantic)); err != nil {
					return NewError("write").Semantic(e.Semantic).Cause(err).Err()
				}
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return NewError("write").Context("concurrent transaction").Cause(ErrConflict).Err()
	}
	return err
}

// Close flushes and closes the database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
