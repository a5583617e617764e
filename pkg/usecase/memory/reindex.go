package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/index"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// Reindex re-embeds every memory from its content and rebuilds the index from scratch.
// It is required after the embedding provider or its dimension changed. If any embedding
// fails nothing is changed. It returns the number of re-embedded memories.
func (u *UseCase) Reindex(ctx context.Context) (int, error) {
	if u.embedder == nil {
		return 0, goerr.New("embedding provider is not configured", goerr.T(model.ErrTagProviderUnavailable))
	}

	u.mu.RLock()
	items := u.store.all()
	u.mu.RUnlock()

	type reembedded struct {
		content string
		vec     []float32
	}
	vectors := make(map[model.MemoryID]reembedded, len(items))
	for i, mem := range items {
		vec, err := u.embed(ctx, mem.Content)
		if err != nil {
			return 0, goerr.Wrap(err, "failed to re-embed memory", goerr.V("id", mem.ID), goerr.V("done", i))
		}
		vectors[mem.ID] = reembedded{content: mem.Content, vec: vec}
	}

	now := u.clock()
	u.mu.Lock()
	var originals []*model.Memory
	for id, r := range vectors {
		current := u.store.get(id)
		// content changed meanwhile: the update already embedded it with the same provider
		if current == nil || current.Content != r.content {
			continue
		}
		next := current.Copy()
		next.Embedding = r.vec
		next.UpdatedAt = now
		originals = append(originals, current)
		u.store.put(next)
	}

	next := index.NewFlat(u.embedderDim())
	if u.store.len() > 0 {
		next = index.NewFlat(0)
		if err := next.Rebuild(u.store.entries()); err != nil {
			for _, mem := range originals {
				u.store.put(mem)
			}
			u.mu.Unlock()
			return 0, goerr.Wrap(err, "failed to rebuild index")
		}
	}
	u.index = next
	snapshot := u.commitLocked(ctx)
	u.mu.Unlock()

	u.persist(ctx, snapshot)

	logging.From(ctx).Info("reindexed memories", "count", len(originals), "dim", next.Dim())
	return len(originals), nil
}
