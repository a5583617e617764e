package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// Delete removes a memory and rebuilds the index from the remaining memories. An unknown
// id changes nothing and returns a NotFound error.
func (u *UseCase) Delete(ctx context.Context, id model.MemoryID) error {
	u.mu.Lock()
	mem := u.store.remove(id)
	if mem == nil {
		u.mu.Unlock()
		return goerr.New("memory not found", goerr.V("id", id), goerr.T(model.ErrTagNotFound))
	}
	u.registry.decrement(mem.Collection)

	if err := u.rebuildIndex(); err != nil {
		// remaining rows already had valid dimensions; this can only mean corrupted state
		u.store.put(mem)
		u.registry.increment(mem.Collection)
		u.mu.Unlock()
		return goerr.Wrap(err, "failed to rebuild index", goerr.V("id", id))
	}
	snapshot := u.commitLocked(ctx)
	u.mu.Unlock()

	u.persist(ctx, snapshot)

	logging.From(ctx).Debug("memory deleted", "id", id, "collection", mem.Collection)
	return nil
}
