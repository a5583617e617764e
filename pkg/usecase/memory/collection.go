package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// CreateCollection creates an empty collection. An existing name is a Conflict and the
// existing collection is left as is.
func (u *UseCase) CreateCollection(ctx context.Context, name string, metadata model.Metadata) error {
	if err := model.ValidateCollectionName(name); err != nil {
		return err
	}
	if err := metadata.Validate(); err != nil {
		return goerr.Wrap(err, "invalid collection metadata", goerr.V("name", name))
	}

	u.mu.Lock()
	if !u.registry.create(name, metadata) {
		u.mu.Unlock()
		return goerr.New("collection already exists", goerr.V("name", name), goerr.T(model.ErrTagConflict))
	}
	snapshot := u.commitLocked(ctx)
	u.mu.Unlock()

	u.persist(ctx, snapshot)
	return nil
}

// DeleteCollection deletes a collection and every memory in it. The default collection
// can not be deleted.
func (u *UseCase) DeleteCollection(ctx context.Context, name string) error {
	if name == model.DefaultCollection {
		return goerr.New("default collection can not be deleted", goerr.T(model.ErrTagConflict))
	}

	u.mu.Lock()
	if !u.registry.exists(name) {
		u.mu.Unlock()
		return goerr.New("collection not found", goerr.V("name", name), goerr.T(model.ErrTagNotFound))
	}

	var removed []*model.Memory
	for _, mem := range u.store.all() {
		if mem.Collection == name {
			removed = append(removed, u.store.remove(mem.ID))
		}
	}
	if err := u.rebuildIndex(); err != nil {
		for _, mem := range removed {
			u.store.put(mem)
		}
		u.mu.Unlock()
		return goerr.Wrap(err, "failed to rebuild index", goerr.V("name", name))
	}
	u.registry.delete(name)
	snapshot := u.commitLocked(ctx)
	u.mu.Unlock()

	u.persist(ctx, snapshot)

	logging.From(ctx).Debug("collection deleted", "name", name, "memories", len(removed))
	return nil
}

// ListCollections returns every collection ordered by name
func (u *UseCase) ListCollections(ctx context.Context) []*model.Collection {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.registry.list()
}
