package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/index"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// persister serializes saves. A snapshot older than the last saved one is dropped, so a
// slow writer can never overwrite newer state.
type persister struct {
	repo  interfaces.Repository
	mu    sync.Mutex
	saved uint64
}

func (x *persister) save(ctx context.Context, snapshot *model.Snapshot) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if snapshot.Version <= x.saved {
		logging.From(ctx).Debug("skip stale snapshot", "version", snapshot.Version, "saved", x.saved)
		return nil
	}
	if err := x.repo.Save(ctx, snapshot); err != nil {
		return goerr.Wrap(err, "failed to save snapshot", goerr.V("version", snapshot.Version), goerr.T(model.ErrTagPersistence))
	}
	x.saved = snapshot.Version
	return nil
}

// pending reports whether version has not been saved yet
func (x *persister) pending(version uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return version > x.saved
}

// snapshotLocked captures the current state. The caller must hold u.mu for writing.
func (u *UseCase) snapshotLocked() (*model.Snapshot, error) {
	u.version++

	collections := make(map[string]*model.Collection, len(u.registry.cols))
	for name, col := range u.registry.cols {
		collections[name] = col.Copy()
	}

	blob, err := u.index.MarshalBinary()
	if err != nil {
		return nil, err
	}

	return &model.Snapshot{
		Version:     u.version,
		Memories:    maps.Clone(u.store.items),
		Collections: collections,
		Index:       blob,
	}, nil
}

// commitLocked takes a snapshot for persist. The caller must hold u.mu for writing.
func (u *UseCase) commitLocked(ctx context.Context) *model.Snapshot {
	if u.persister == nil {
		return nil
	}
	snapshot, err := u.snapshotLocked()
	if err != nil {
		logging.From(ctx).Error("failed to take snapshot", logging.ErrAttr(err))
		return nil
	}
	return snapshot
}

// persist saves snapshot after u.mu is released. A failure is logged and does not roll
// back the in-memory state.
func (u *UseCase) persist(ctx context.Context, snapshot *model.Snapshot) {
	if snapshot == nil {
		return
	}
	if err := u.persister.save(ctx, snapshot); err != nil {
		logging.From(ctx).Error("failed to persist memory state",
			"version", snapshot.Version,
			logging.ErrAttr(err),
		)
	}
}

// Flush saves changes whose save failed before and reports a save failure to the caller.
// Nothing is written when every change is already saved, so a store that started empty
// after a failed load never overwrites the persisted state.
func (u *UseCase) Flush(ctx context.Context) error {
	if u.persister == nil {
		return nil
	}

	u.mu.Lock()
	if !u.persister.pending(u.version) {
		u.mu.Unlock()
		return nil
	}
	snapshot, err := u.snapshotLocked()
	u.mu.Unlock()
	if err != nil {
		return goerr.Wrap(err, "failed to take snapshot", goerr.T(model.ErrTagPersistence))
	}

	return u.persister.save(ctx, snapshot)
}

// restore loads persisted state. Absent or unreadable state leaves the store empty;
// vectors that do not fit the embedder are fatal unless reindexOnMismatch is set.
func (u *UseCase) restore(ctx context.Context) error {
	if u.repo == nil {
		return nil
	}
	logger := logging.From(ctx)

	snapshot, err := u.repo.Load(ctx)
	if err != nil {
		logger.Warn("failed to load persisted state, starting empty", logging.ErrAttr(err))
		return nil
	}
	if snapshot == nil {
		logger.Debug("no persisted state, starting empty")
		return nil
	}

	store := newItemStore()
	for _, mem := range snapshot.Memories {
		store.put(mem)
	}
	reg := newRegistry(u.clock)
	for name, col := range snapshot.Collections {
		restored := col.Copy()
		restored.Name = name
		reg.cols[name] = restored
	}
	reg.ensure(model.DefaultCollection)
	reg.recount(store.countBy())

	u.store = store
	u.registry = reg
	u.version = snapshot.Version
	u.persister.saved = snapshot.Version

	flat, err := u.restoreIndex(ctx, snapshot.Index)
	if err == nil {
		if dim := u.embedderDim(); dim > 0 && flat.Len() > 0 && flat.Dim() != dim {
			err = goerr.New("persisted vectors do not match the embedder dimension",
				goerr.V("persisted", flat.Dim()),
				goerr.V("embedder", dim),
				goerr.T(model.ErrTagDimensionMismatch))
		}
	}

	if err != nil {
		if !goerr.HasTag(err, model.ErrTagDimensionMismatch) {
			return goerr.Wrap(err, "failed to restore index")
		}
		if !u.reindexOnMismatch {
			return goerr.Wrap(err, "failed to restore index, reindex is required")
		}

		logger.Warn("persisted vectors do not fit the embedder, reindexing", logging.ErrAttr(err))
		u.index = index.NewFlat(u.embedderDim())
		if _, err := u.Reindex(ctx); err != nil {
			return err
		}
	} else {
		u.index = flat
	}

	logger.Info("restored memory state",
		"version", snapshot.Version,
		"memories", store.len(),
		"collections", len(reg.cols),
		"indexed", u.index.Len(),
	)
	return nil
}

// restoreIndex decodes blob and checks it against the restored store. A missing or
// inconsistent blob is rebuilt from the stored embeddings.
func (u *UseCase) restoreIndex(ctx context.Context, blob []byte) (*index.Flat, error) {
	entries := u.store.entries()
	if len(entries) == 0 {
		return index.NewFlat(u.embedderDim()), nil
	}

	if len(blob) > 0 {
		flat := index.NewFlat(0)
		err := flat.UnmarshalBinary(blob)
		if err == nil && indexMatches(flat, entries) {
			return flat, nil
		}
		logging.From(ctx).Warn("persisted index is inconsistent with memories, rebuilding",
			"rows", flat.Len(),
			"memories", len(entries),
			logging.ErrAttr(err),
		)
	}

	flat := index.NewFlat(0)
	if err := flat.Rebuild(entries); err != nil {
		return nil, err
	}
	return flat, nil
}

func indexMatches(flat *index.Flat, entries []index.Entry) bool {
	if flat.Len() != len(entries) {
		return false
	}
	for _, e := range entries {
		vec, ok := flat.Vector(e.ID)
		if !ok || !slices.Equal(vec, e.Vector) {
			return false
		}
	}
	return true
}
