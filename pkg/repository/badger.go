package repository

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

const (
	// value log GC runs every gcInterval saves and on Close
	gcInterval     = 16
	gcDiscardRatio = 0.5
)

// Badger stores both artifacts as keys of an embedded Badger database. Both keys are
// written in a single transaction, so a reader never sees a mixed pair.
type Badger struct {
	db    *badger.DB
	saves atomic.Uint64
}

// NewBadger opens (or creates) a Badger database at dir
func NewBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts, dir)
}

// NewBadgerInMemory opens a Badger database without a backing directory
func NewBadgerInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.ERROR)
	return openBadger(opts, "")
}

func openBadger(opts badger.Options, dir string) (*Badger, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open badger database", goerr.V("dir", dir), goerr.T(model.ErrTagPersistence))
	}
	return &Badger{db: db}, nil
}

func (x *Badger) Save(ctx context.Context, snapshot *model.Snapshot) error {
	data, err := encodeDocument(snapshot)
	if err != nil {
		return err
	}

	err = x.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(IndexKey), snapshot.Index); err != nil {
			return err
		}
		return txn.Set([]byte(MetadataKey), data)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to save snapshot", goerr.V("version", snapshot.Version), goerr.T(model.ErrTagPersistence))
	}

	if x.saves.Add(1)%gcInterval == 0 {
		if _, err := x.CollectGarbage(ctx); err != nil {
			logging.From(ctx).Warn("failed to collect badger value log", logging.ErrAttr(err))
		}
	}
	return nil
}

// CollectGarbage rewrites value log files until none has enough stale data. It returns
// the number of rewritten files. An in-memory database has nothing to collect.
func (x *Badger) CollectGarbage(ctx context.Context) (int, error) {
	var n int
	for {
		err := x.db.RunValueLogGC(gcDiscardRatio)
		switch {
		case err == nil:
			n++
		case errors.Is(err, badger.ErrNoRewrite),
			errors.Is(err, badger.ErrRejected),
			errors.Is(err, badger.ErrGCInMemoryMode):
			if n > 0 {
				logging.From(ctx).Debug("badger value log collected", "files", n)
			}
			return n, nil
		default:
			return n, goerr.Wrap(err, "failed to run value log GC", goerr.T(model.ErrTagPersistence))
		}
	}
}

func (x *Badger) Load(ctx context.Context) (*model.Snapshot, error) {
	var meta, idx []byte
	var metaFound, idxFound bool

	err := x.db.View(func(txn *badger.Txn) error {
		var err error
		if meta, metaFound, err = getValue(txn, MetadataKey); err != nil {
			return err
		}
		if idx, idxFound, err = getValue(txn, IndexKey); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load snapshot", goerr.T(model.ErrTagPersistence))
	}

	if !metaFound || !idxFound {
		if metaFound != idxFound {
			logging.From(ctx).Warn("incomplete persisted state, treating as absent",
				"metadata_found", metaFound,
				"index_found", idxFound,
			)
		}
		return nil, nil
	}

	return decodeDocument(meta, idx)
}

func getValue(txn *badger.Txn, key string) ([]byte, bool, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}

	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (x *Badger) Close() error {
	if _, err := x.CollectGarbage(context.Background()); err != nil {
		logging.Default().Warn("failed to collect badger value log", logging.ErrAttr(err))
	}
	if err := x.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close badger database", goerr.T(model.ErrTagPersistence))
	}
	return nil
}
