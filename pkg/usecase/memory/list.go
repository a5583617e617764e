package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/m-mizutani/mnemo/pkg/model"
)

// ListInput contains options for listing memories
type ListInput struct {
	Collection string
	UserID     string
	Offset     int
	Limit      int // 0 means no limit
}

// List returns memories ordered by creation time and then by ID
func (u *UseCase) List(ctx context.Context, input ListInput) ([]*model.Memory, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	var matched []*model.Memory
	for _, mem := range u.store.all() {
		if input.Collection != "" && mem.Collection != input.Collection {
			continue
		}
		if input.UserID != "" && mem.UserID != input.UserID {
			continue
		}
		matched = append(matched, mem)
	}

	slices.SortStableFunc(matched, func(a, b *model.Memory) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if input.Offset > 0 {
		if input.Offset >= len(matched) {
			return []*model.Memory{}, nil
		}
		matched = matched[input.Offset:]
	}
	if input.Limit > 0 && len(matched) > input.Limit {
		matched = matched[:input.Limit]
	}

	out := make([]*model.Memory, 0, len(matched))
	for _, mem := range matched {
		out = append(out, mem.Copy())
	}
	return out, nil
}
