package repository

import (
	"context"
	"io"
	"path"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// Blob stores the two artifacts as objects of an adapter.Storage (local directory or
// Cloud Storage bucket).
type Blob struct {
	storage adapter.Storage
	prefix  string
}

// NewBlob creates a blob repository. Objects are named "<prefix>/memory_index.bin" and
// "<prefix>/memory_metadata.json".
func NewBlob(storage adapter.Storage, prefix string) *Blob {
	return &Blob{storage: storage, prefix: prefix}
}

// NewFile creates a blob repository on a local directory
func NewFile(dir string) (*Blob, error) {
	storage, err := adapter.NewLocalStorage(dir)
	if err != nil {
		return nil, err
	}
	return NewBlob(storage, ""), nil
}

func (x *Blob) key(name string) string {
	if x.prefix == "" {
		return name
	}
	return path.Join(x.prefix, name)
}

func (x *Blob) Save(ctx context.Context, snapshot *model.Snapshot) error {
	data, err := encodeDocument(snapshot)
	if err != nil {
		return err
	}

	if err := x.write(ctx, x.key(IndexKey), snapshot.Index); err != nil {
		return err
	}
	if err := x.write(ctx, x.key(MetadataKey), data); err != nil {
		return err
	}
	return nil
}

func (x *Blob) write(ctx context.Context, key string, data []byte) error {
	w, err := x.storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to create writer", goerr.V("key", key), goerr.T(model.ErrTagPersistence))
	}
	if _, err := w.Write(data); err != nil {
		if abortErr := w.Abort(); abortErr != nil {
			logging.From(ctx).Warn("failed to abort writer", "key", key, logging.ErrAttr(abortErr))
		}
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key), goerr.T(model.ErrTagPersistence))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close writer", goerr.V("key", key), goerr.T(model.ErrTagPersistence))
	}
	return nil
}

func (x *Blob) read(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := x.storage.Get(ctx, key)
	if err != nil {
		if goerr.HasTag(err, model.ErrTagNotFound) {
			return nil, false, nil
		}
		return nil, false, goerr.Wrap(err, "failed to open object", goerr.V("key", key), goerr.T(model.ErrTagPersistence))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, goerr.Wrap(err, "failed to read object", goerr.V("key", key), goerr.T(model.ErrTagPersistence))
	}
	return data, true, nil
}

func (x *Blob) Load(ctx context.Context) (*model.Snapshot, error) {
	meta, metaFound, err := x.read(ctx, x.key(MetadataKey))
	if err != nil {
		return nil, err
	}
	idx, idxFound, err := x.read(ctx, x.key(IndexKey))
	if err != nil {
		return nil, err
	}

	if !metaFound || !idxFound {
		if metaFound != idxFound {
			logging.From(ctx).Warn("incomplete persisted state, treating as absent",
				"metadata_found", metaFound,
				"index_found", idxFound,
				"prefix", x.prefix,
			)
		}
		return nil, nil
	}

	return decodeDocument(meta, idx)
}

func (x *Blob) Close() error {
	return nil
}
