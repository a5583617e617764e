package memory

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/index"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// SearchInput contains parameters of a similarity search
type SearchInput struct {
	Query      string
	Collection string
	UserID     string
	Tags       []string // a memory matches if it has at least one of them
	Limit      int      // DefaultSearchLimit when not positive
	Threshold  *float64 // DefaultSearchThreshold when nil
}

func (x SearchInput) filtered() bool {
	return x.Collection != "" || x.UserID != "" || len(x.Tags) > 0
}

func (x SearchInput) match(mem *model.Memory) bool {
	if !mem.HasEmbedding() {
		return false
	}
	if x.Collection != "" && mem.Collection != x.Collection {
		return false
	}
	if x.UserID != "" && mem.UserID != x.UserID {
		return false
	}
	if len(x.Tags) > 0 && !mem.HasAnyTag(x.Tags) {
		return false
	}
	return true
}

// Search returns memories similar to the query, highest score first. Memories scoring
// below the threshold are excluded. Equal scores are ordered by memory ID. Without an
// embedding provider the result is always empty.
func (u *UseCase) Search(ctx context.Context, input SearchInput) ([]*model.QueryResult, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, goerr.New("query is required", goerr.T(model.ErrTagInvalidInput))
	}
	if u.embedder == nil {
		logging.From(ctx).Debug("search without embedding provider returns nothing")
		return []*model.QueryResult{}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	threshold := DefaultSearchThreshold
	if input.Threshold != nil {
		threshold = *input.Threshold
	}

	query, err := u.embed(ctx, input.Query)
	if err != nil {
		return nil, err
	}

	u.mu.RLock()
	defer u.mu.RUnlock()

	var hits []index.Hit
	if !input.filtered() {
		hits, err = u.index.Search(query, limit, threshold)
		if err != nil {
			return nil, err
		}
	} else {
		if u.index.Len() > 0 && len(query) != u.index.Dim() {
			return nil, goerr.New("query dimension mismatch",
				goerr.V("expected", u.index.Dim()),
				goerr.V("actual", len(query)),
				goerr.T(model.ErrTagDimensionMismatch))
		}
		for _, mem := range u.store.all() {
			if !input.match(mem) {
				continue
			}
			score := index.Cosine(query, mem.Embedding)
			if score < threshold {
				continue
			}
			hits = append(hits, index.Hit{ID: mem.ID, Score: score})
		}
		index.SortHits(hits)
		if len(hits) > limit {
			hits = hits[:limit]
		}
	}

	results := make([]*model.QueryResult, 0, len(hits))
	for _, hit := range hits {
		mem := u.store.get(hit.ID)
		if mem == nil {
			continue
		}
		results = append(results, &model.QueryResult{Memory: mem.Copy(), Score: hit.Score})
	}
	return results, nil
}
