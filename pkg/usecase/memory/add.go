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

// AddInput contains parameters of a new memory
type AddInput struct {
	Content    string
	Metadata   model.Metadata
	Collection string // "default" when empty
	Tags       []string
	UserID     string
}

// Add embeds the content and stores it as a new memory. Nothing is stored when the
// embedding provider is unavailable or the admission policy denies the memory.
func (u *UseCase) Add(ctx context.Context, input AddInput) (*model.Memory, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, goerr.New("content is required", goerr.T(model.ErrTagInvalidInput))
	}
	collection := input.Collection
	if collection == "" {
		collection = model.DefaultCollection
	}
	if err := model.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if err := input.Metadata.Validate(); err != nil {
		return nil, err
	}
	tags := model.NormalizeTags(input.Tags)

	tags, err := u.admit(ctx, &interfaces.AdmissionInput{
		Content:    input.Content,
		Collection: collection,
		Tags:       tags,
		UserID:     input.UserID,
		Metadata:   input.Metadata.Any(),
	})
	if err != nil {
		return nil, err
	}

	vec, err := u.embed(ctx, input.Content)
	if err != nil {
		return nil, err
	}

	now := u.clock()
	mem := &model.Memory{
		ID:         model.NewMemoryID(),
		Content:    input.Content,
		Embedding:  vec,
		Metadata:   input.Metadata.Copy(),
		Tags:       tags,
		Collection: collection,
		UserID:     input.UserID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	u.mu.Lock()
	if err := u.index.Append(mem.ID, mem.Embedding); err != nil {
		u.mu.Unlock()
		return nil, goerr.Wrap(err, "failed to index memory", goerr.V("id", mem.ID))
	}
	u.store.put(mem)
	u.registry.ensure(collection)
	u.registry.increment(collection)
	snapshot := u.commitLocked(ctx)
	u.mu.Unlock()

	u.persist(ctx, snapshot)

	logging.From(ctx).Debug("memory added", "id", mem.ID, "collection", collection, "tags", tags)
	return mem.Copy(), nil
}

// admit evaluates the admission policy and returns the tags of the memory including
// tags added by the policy. A denied memory is reported as Rejected.
func (u *UseCase) admit(ctx context.Context, input *interfaces.AdmissionInput) ([]string, error) {
	if u.admission == nil {
		return input.Tags, nil
	}

	result, err := u.admission.Evaluate(ctx, input)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate admission policy")
	}
	if len(result.Deny) > 0 {
		return nil, goerr.New("memory rejected by admission policy",
			goerr.V("reasons", result.Deny),
			goerr.V("collection", input.Collection),
			goerr.T(model.ErrTagRejected))
	}
	return model.NormalizeTags(append(slices.Clone(input.Tags), result.Tags...)), nil
}
