package memory_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
)

// mockEmbedder returns fixed vectors for known texts, fails for texts listed in fail and
// falls back to the hash embedder otherwise.
type mockEmbedder struct {
	dim     int
	vectors map[string][]float32

	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func newMockEmbedder(dim int) *mockEmbedder {
	return &mockEmbedder{
		dim:     dim,
		vectors: map[string][]float32{},
		fail:    map[string]bool{},
	}
}

func (x *mockEmbedder) Dimensions() int { return x.dim }

func (x *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	x.mu.Lock()
	x.calls++
	failed := x.fail[text]
	x.mu.Unlock()

	if failed {
		return nil, errors.New("provider is down")
	}
	if vec, ok := x.vectors[text]; ok {
		return slices.Clone(vec), nil
	}
	return adapter.NewHashEmbedder(x.dim).Embed(ctx, text)
}

func (x *mockEmbedder) setFail(text string, fail bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.fail[text] = fail
}

func newUseCase(t *testing.T, embedder interfaces.Embedder, opts ...memory.Option) *memory.UseCase {
	t.Helper()
	uc, err := memory.New(context.Background(), nil, embedder, opts...)
	gt.NoError(t, err)
	return uc
}

func threshold(v float64) *float64 { return &v }

// searchAll runs an unfiltered search that matches every indexed memory
func searchAll(t *testing.T, uc *memory.UseCase) []model.MemoryID {
	t.Helper()
	results, err := uc.Search(context.Background(), memory.SearchInput{
		Query:     "anything",
		Limit:     1000,
		Threshold: threshold(-1),
	})
	gt.NoError(t, err)

	ids := make([]model.MemoryID, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Memory.ID)
	}
	slices.Sort(ids)
	return ids
}

func listAll(t *testing.T, uc *memory.UseCase) []model.MemoryID {
	t.Helper()
	items, err := uc.List(context.Background(), memory.ListInput{})
	gt.NoError(t, err)

	ids := make([]model.MemoryID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	slices.Sort(ids)
	return ids
}

func collectionCount(t *testing.T, uc *memory.UseCase, name string) int {
	t.Helper()
	for _, col := range uc.ListCollections(context.Background()) {
		if col.Name == name {
			return col.Count
		}
	}
	t.Fatalf("collection %q not found", name)
	return -1
}

func TestAddAndGet(t *testing.T) {
	ctx := context.Background()
	uc := newUseCase(t, newMockEmbedder(32))

	added, err := uc.Add(ctx, memory.AddInput{
		Content:  "the quick brown fox",
		Metadata: model.Metadata{"source": model.String("test"), "score": model.Number(3)},
		Tags:     []string{"animal", "animal", "", "story"},
		UserID:   "alice",
	})
	gt.NoError(t, err)
	gt.NotEqual(t, added.ID, "")
	gt.Equal(t, added.Collection, model.DefaultCollection)
	gt.Equal(t, added.Tags, []string{"animal", "story"})
	gt.A(t, added.Embedding).Length(32)
	gt.True(t, added.CreatedAt.Equal(added.UpdatedAt))

	got, err := uc.Get(ctx, added.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "the quick brown fox")
	gt.Equal(t, got.UserID, "alice")
	source, ok := got.Metadata["source"].AsString()
	gt.True(t, ok)
	gt.Equal(t, source, "test")

	// returned records are copies
	got.Tags[0] = "changed"
	again, err := uc.Get(ctx, added.ID)
	gt.NoError(t, err)
	gt.Equal(t, again.Tags[0], "animal")

	gt.Equal(t, collectionCount(t, uc, model.DefaultCollection), 1)
	gt.Equal(t, searchAll(t, uc), []model.MemoryID{added.ID})
}

func TestAddCreatesCollection(t *testing.T) {
	ctx := context.Background()
	uc := newUseCase(t, newMockEmbedder(16))

	_, err := uc.Add(ctx, memory.AddInput{Content: "hello", Collection: "notes"})
	gt.NoError(t, err)
	_, err = uc.Add(ctx, memory.AddInput{Content: "world", Collection: "notes"})
	gt.NoError(t, err)

	gt.Equal(t, collectionCount(t, uc, "notes"), 2)
	gt.Equal(t, collectionCount(t, uc, model.DefaultCollection), 0)
}

func TestAddRejectsEmptyContent(t *testing.T) {
	uc := newUseCase(t, newMockEmbedder(16))

	_, err := uc.Add(context.Background(), memory.AddInput{Content: "  "})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagInvalidInput))
}

func TestAddWithoutProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		uc := newUseCase(t, nil)

		_, err := uc.Add(ctx, memory.AddInput{Content: "hello"})
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.ErrTagProviderUnavailable))

		items, err := uc.List(ctx, memory.ListInput{})
		gt.NoError(t, err)
		gt.A(t, items).Length(0)
		gt.Equal(t, collectionCount(t, uc, model.DefaultCollection), 0)

		results, err := uc.Search(ctx, memory.SearchInput{Query: "hello"})
		gt.NoError(t, err)
		gt.A(t, results).Length(0)
	})

	t.Run("provider fails", func(t *testing.T) {
		embedder := newMockEmbedder(16)
		embedder.setFail("hello", true)
		uc := newUseCase(t, embedder)

		_, err := uc.Add(ctx, memory.AddInput{Content: "hello", Collection: "greetings"})
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.ErrTagProviderUnavailable))
		gt.A(t, listAll(t, uc)).Length(0)
		gt.A(t, uc.ListCollections(ctx)).Length(1)
	})

	t.Run("provider returns no vector", func(t *testing.T) {
		embedder := newMockEmbedder(16)
		embedder.vectors["hello"] = []float32{}
		uc := newUseCase(t, embedder)

		_, err := uc.Add(ctx, memory.AddInput{Content: "hello"})
		gt.True(t, goerr.HasTag(err, model.ErrTagProviderUnavailable))
		gt.A(t, listAll(t, uc)).Length(0)
	})
}

type blockingEmbedder struct{}

func (blockingEmbedder) Dimensions() int { return 4 }

func (blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAddEmbedTimeout(t *testing.T) {
	uc := newUseCase(t, blockingEmbedder{}, memory.WithEmbedTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := uc.Add(context.Background(), memory.AddInput{Content: "hello"})
	gt.True(t, goerr.HasTag(err, model.ErrTagProviderUnavailable))
	gt.True(t, time.Since(start) < 5*time.Second)

	// the store is still usable
	gt.A(t, uc.ListCollections(context.Background())).Length(1)
}

func TestGetUnknown(t *testing.T) {
	uc := newUseCase(t, newMockEmbedder(8))

	_, err := uc.Get(context.Background(), "no-such-id")
	gt.True(t, goerr.HasTag(err, model.ErrTagNotFound))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	uc := newUseCase(t, newMockEmbedder(16))

	var ids []model.MemoryID
	for _, content := range []string{"alpha", "beta", "gamma"} {
		mem, err := uc.Add(ctx, memory.AddInput{Content: content, Collection: "greek"})
		gt.NoError(t, err)
		ids = append(ids, mem.ID)
	}

	gt.NoError(t, uc.Delete(ctx, ids[1]))
	_, err := uc.Get(ctx, ids[1])
	gt.True(t, goerr.HasTag(err, model.ErrTagNotFound))
	gt.Equal(t, collectionCount(t, uc, "greek"), 2)

	expected := []model.MemoryID{ids[0], ids[2]}
	slices.Sort(expected)
	gt.Equal(t, searchAll(t, uc), expected)
	gt.Equal(t, listAll(t, uc), expected)

	gt.NoError(t, uc.Delete(ctx, ids[0]))
	gt.NoError(t, uc.Delete(ctx, ids[2]))
	gt.A(t, searchAll(t, uc)).Length(0)
	gt.Equal(t, collectionCount(t, uc, "greek"), 0)

	// the empty index still accepts new vectors
	mem, err := uc.Add(ctx, memory.AddInput{Content: "delta"})
	gt.NoError(t, err)
	gt.Equal(t, searchAll(t, uc), []model.MemoryID{mem.ID})
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	uc := newUseCase(t, newMockEmbedder(16))

	mem, err := uc.Add(ctx, memory.AddInput{Content: "keep me"})
	gt.NoError(t, err)

	err = uc.Delete(ctx, "unknown")
	gt.True(t, goerr.HasTag(err, model.ErrTagNotFound))

	gt.Equal(t, searchAll(t, uc), []model.MemoryID{mem.ID})
	gt.Equal(t, listAll(t, uc), []model.MemoryID{mem.ID})
	gt.Equal(t, collectionCount(t, uc, model.DefaultCollection), 1)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	embedder := newMockEmbedder(2)
	embedder.vectors["cats"] = []float32{1, 0}
	embedder.vectors["dogs"] = []float32{0, 1}
	uc := newUseCase(t, embedder, memory.WithClock(clock))

	mem, err := uc.Add(ctx, memory.AddInput{
		Content:  "cats",
		Metadata: model.Metadata{"a": model.Number(1), "b": model.String("x")},
		Tags:     []string{"old"},
	})
	gt.NoError(t, err)

	t.Run("metadata is merged and tags replaced", func(t *testing.T) {
		tags := []string{"new", "new", "other"}
		updated, err := uc.Update(ctx, mem.ID, memory.UpdateInput{
			Metadata: model.Metadata{"b": model.String("y"), "c": model.Bool(true)},
			Tags:     &tags,
		})
		gt.NoError(t, err)
		gt.Equal(t, updated.Tags, []string{"new", "other"})
		gt.Equal(t, len(updated.Metadata), 3)
		b, _ := updated.Metadata["b"].AsString()
		gt.Equal(t, b, "y")
		a, _ := updated.Metadata["a"].AsNumber()
		gt.Equal(t, a, 1.0)
		gt.True(t, updated.UpdatedAt.After(mem.UpdatedAt))
		gt.Equal(t, updated.Embedding, []float32{1, 0})
	})

	t.Run("new content is re-embedded", func(t *testing.T) {
		content := "dogs"
		updated, err := uc.Update(ctx, mem.ID, memory.UpdateInput{Content: &content})
		gt.NoError(t, err)
		gt.Equal(t, updated.Content, "dogs")
		gt.Equal(t, updated.Embedding, []float32{0, 1})

		results, err := uc.Search(ctx, memory.SearchInput{Query: "dogs"})
		gt.NoError(t, err)
		gt.A(t, results).Length(1)
		gt.Equal(t, results[0].Memory.ID, mem.ID)

		results, err = uc.Search(ctx, memory.SearchInput{Query: "cats"})
		gt.NoError(t, err)
		gt.A(t, results).Length(0)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := uc.Update(ctx, "unknown", memory.UpdateInput{})
		gt.True(t, goerr.HasTag(err, model.ErrTagNotFound))
	})
}

func TestUpdateFailedEmbeddingLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	embedder := newMockEmbedder(2)
	embedder.vectors["cats"] = []float32{1, 0}
	embedder.vectors["dogs"] = []float32{0, 1}
	uc := newUseCase(t, embedder)

	mem, err := uc.Add(ctx, memory.AddInput{
		Content:  "cats",
		Metadata: model.Metadata{"k": model.String("v")},
		Tags:     []string{"pets"},
	})
	gt.NoError(t, err)

	embedder.setFail("dogs", true)
	content := "dogs"
	tags := []string{"changed"}
	_, err = uc.Update(ctx, mem.ID, memory.UpdateInput{
		Content:  &content,
		Metadata: model.Metadata{"k": model.String("changed")},
		Tags:     &tags,
	})
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagProviderUnavailable))

	got, err := uc.Get(ctx, mem.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "cats")
	gt.Equal(t, got.Embedding, []float32{1, 0})
	gt.Equal(t, got.Tags, []string{"pets"})
	k, _ := got.Metadata["k"].AsString()
	gt.Equal(t, k, "v")
	gt.True(t, got.UpdatedAt.Equal(mem.UpdatedAt))

	results, err := uc.Search(ctx, memory.SearchInput{Query: "cats"})
	gt.NoError(t, err)
	gt.A(t, results).Length(1)
}

func TestConsistencyAfterMixedOperations(t *testing.T) {
	ctx := context.Background()
	uc := newUseCase(t, newMockEmbedder(16))

	live := map[model.MemoryID]bool{}
	for i, content := range []string{"one", "two", "three", "four", "five", "six"} {
		mem, err := uc.Add(ctx, memory.AddInput{Content: content})
		gt.NoError(t, err)
		live[mem.ID] = true

		if i%2 == 1 {
			gt.NoError(t, uc.Delete(ctx, mem.ID))
			delete(live, mem.ID)
		}
	}
	for id := range live {
		content := "updated " + string(id)
		_, err := uc.Update(ctx, id, memory.UpdateInput{Content: &content})
		gt.NoError(t, err)
		break
	}

	var expected []model.MemoryID
	for id := range live {
		expected = append(expected, id)
	}
	slices.Sort(expected)

	gt.Equal(t, searchAll(t, uc), expected)
	gt.Equal(t, listAll(t, uc), expected)
	gt.Equal(t, collectionCount(t, uc, model.DefaultCollection), len(expected))
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	uc := newUseCase(t, newMockEmbedder(16))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 10 {
				_, err := uc.Add(ctx, memory.AddInput{Content: "worker item", Tags: []string{string(rune('a' + i))}, Metadata: model.Metadata{"j": model.Number(float64(j))}})
				if err != nil {
					t.Error(err)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for range 10 {
				if _, err := uc.Search(ctx, memory.SearchInput{Query: "worker item"}); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()

	gt.Equal(t, collectionCount(t, uc, model.DefaultCollection), 80)
	gt.A(t, searchAll(t, uc)).Length(80)
}
