package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// UpdateInput contains changes of a memory. nil fields are left unchanged.
type UpdateInput struct {
	Content  *string
	Metadata model.Metadata // merged key by key into the current metadata
	Tags     *[]string      // replaces the current tags
}

// Get returns a copy of the memory
func (u *UseCase) Get(ctx context.Context, id model.MemoryID) (*model.Memory, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	mem := u.store.get(id)
	if mem == nil {
		return nil, goerr.New("memory not found", goerr.V("id", id), goerr.T(model.ErrTagNotFound))
	}
	return mem.Copy(), nil
}

// Update changes a memory. New content passes the admission policy and is re-embedded
// before anything is changed; if either fails the memory is left untouched.
func (u *UseCase) Update(ctx context.Context, id model.MemoryID, input UpdateInput) (*model.Memory, error) {
	before, err := u.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := input.Metadata.Validate(); err != nil {
		return nil, goerr.Wrap(err, "memory is unchanged", goerr.V("id", id))
	}

	var (
		vec          []float32
		admittedTags []string
	)
	if input.Content != nil {
		if strings.TrimSpace(*input.Content) == "" {
			return nil, goerr.New("content must not be empty", goerr.V("id", id), goerr.T(model.ErrTagInvalidInput))
		}

		tags := before.Tags
		if input.Tags != nil {
			tags = model.NormalizeTags(*input.Tags)
		}
		admitted, err := u.admit(ctx, &interfaces.AdmissionInput{
			Content:    *input.Content,
			Collection: before.Collection,
			Tags:       tags,
			UserID:     before.UserID,
			Metadata:   before.Metadata.Merge(input.Metadata).Any(),
		})
		if err != nil {
			return nil, goerr.Wrap(err, "memory is unchanged", goerr.V("id", id))
		}
		admittedTags = admitted

		v, err := u.embed(ctx, *input.Content)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to re-embed content, memory is unchanged", goerr.V("id", id))
		}
		vec = v
	}

	u.mu.Lock()
	current := u.store.get(id)
	if current == nil {
		// deleted while embedding
		u.mu.Unlock()
		return nil, goerr.New("memory not found", goerr.V("id", id), goerr.T(model.ErrTagNotFound))
	}

	next := current.Copy()
	if input.Content != nil {
		next.Content = *input.Content
		next.Embedding = vec
	}
	if input.Metadata != nil {
		next.Metadata = current.Metadata.Merge(input.Metadata)
	}
	if input.Tags != nil {
		next.Tags = model.NormalizeTags(*input.Tags)
	}
	if input.Content != nil {
		next.Tags = model.NormalizeTags(append(next.Tags, admittedTags...))
	}
	next.UpdatedAt = u.clock()

	if !slices.Equal(current.Embedding, next.Embedding) {
		u.store.put(next)
		if err := u.rebuildIndex(); err != nil {
			u.store.put(current)
			u.mu.Unlock()
			return nil, goerr.Wrap(err, "failed to reindex updated memory, memory is unchanged", goerr.V("id", id))
		}
	} else {
		u.store.put(next)
	}
	snapshot := u.commitLocked(ctx)
	u.mu.Unlock()

	u.persist(ctx, snapshot)

	logging.From(ctx).Debug("memory updated", "id", id, "reembedded", input.Content != nil)
	return next.Copy(), nil
}
