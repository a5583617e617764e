// Package memory implements the semantic memory store. A UseCase owns the item store,
// the collection registry and the similarity index, and keeps them consistent under one
// lock. Every mutation is persisted through an interfaces.Repository before it returns.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/index"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

const (
	// DefaultEmbedTimeout bounds a single embedding provider call
	DefaultEmbedTimeout = 10 * time.Second
	// DefaultSearchLimit is used when SearchInput.Limit is not positive
	DefaultSearchLimit = 5
	// DefaultSearchThreshold is used when SearchInput.Threshold is nil
	DefaultSearchThreshold = 0.7
)

// UseCase provides memory store operations
type UseCase struct {
	repo      interfaces.Repository
	embedder  interfaces.Embedder
	admission interfaces.Admission

	embedTimeout      time.Duration
	reindexOnMismatch bool
	now               func() time.Time

	mu       sync.RWMutex
	store    *itemStore
	registry *registry
	index    *index.Flat
	version  uint64

	persister *persister
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithEmbedTimeout sets the timeout of each embedding provider call
func WithEmbedTimeout(d time.Duration) Option {
	return func(uc *UseCase) {
		if d > 0 {
			uc.embedTimeout = d
		}
	}
}

// WithAdmission sets the policy consulted before a memory is added
func WithAdmission(admission interfaces.Admission) Option {
	return func(uc *UseCase) {
		uc.admission = admission
	}
}

// WithReindexOnMismatch makes New re-embed every memory when the persisted vectors do
// not fit the configured embedder, instead of failing.
func WithReindexOnMismatch(enabled bool) Option {
	return func(uc *UseCase) {
		uc.reindexOnMismatch = enabled
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates a memory UseCase and restores persisted state from repo. repo and embedder
// may be nil: without repo nothing is persisted, without embedder adding memories fails
// and searches return nothing.
func New(
	ctx context.Context,
	repo interfaces.Repository,
	embedder interfaces.Embedder,
	opts ...Option,
) (*UseCase, error) {
	uc := &UseCase{
		repo:         repo,
		embedder:     embedder,
		embedTimeout: DefaultEmbedTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}

	uc.store = newItemStore()
	uc.registry = newRegistry(uc.clock)
	uc.index = index.NewFlat(uc.embedderDim())
	if repo != nil {
		uc.persister = &persister{repo: repo}
	}

	if err := uc.restore(ctx); err != nil {
		return nil, err
	}

	return uc, nil
}

func (u *UseCase) clock() time.Time {
	return u.now().UTC()
}

func (u *UseCase) embedderDim() int {
	if u.embedder == nil {
		return 0
	}
	return u.embedder.Dimensions()
}

// embed calls the embedding provider with a timeout. It must not be called while
// holding u.mu.
func (u *UseCase) embed(ctx context.Context, text string) ([]float32, error) {
	if u.embedder == nil {
		return nil, goerr.New("embedding provider is not configured", goerr.T(model.ErrTagProviderUnavailable))
	}

	ctx, cancel := context.WithTimeout(ctx, u.embedTimeout)
	defer cancel()

	start := time.Now()
	vec, err := u.embedder.Embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed text", goerr.T(model.ErrTagProviderUnavailable))
	}
	if len(vec) == 0 {
		return nil, goerr.New("embedding provider returned no vector", goerr.T(model.ErrTagProviderUnavailable))
	}

	logging.From(ctx).Debug("embedded text", "length", len(text), "dim", len(vec), "elapsed", time.Since(start))
	return vec, nil
}

// rebuildIndex replaces the index content with every embedded memory of the store. An
// empty store resets the index instead.
func (u *UseCase) rebuildIndex() error {
	if u.store.len() == 0 {
		u.index.Reset()
		return nil
	}
	return u.index.Rebuild(u.store.entries())
}
