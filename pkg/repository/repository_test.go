package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/index"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/repository"
)

func newSnapshot(t *testing.T) *model.Snapshot {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	memA := &model.Memory{
		ID:         "mem-a",
		Content:    "cats are great",
		Embedding:  []float32{1, 0, 0},
		Metadata:   model.Metadata{"source": model.String("test"), "rank": model.Number(2)},
		Tags:       []string{"pets"},
		Collection: model.DefaultCollection,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	memB := &model.Memory{
		ID:         "mem-b",
		Content:    "dogs are loyal",
		Embedding:  []float32{0, 1, 0},
		Tags:       []string{},
		Collection: "animals",
		UserID:     "u1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	flat := index.NewFlat(3)
	gt.NoError(t, flat.Append(memA.ID, memA.Embedding))
	gt.NoError(t, flat.Append(memB.ID, memB.Embedding))
	blob, err := flat.MarshalBinary()
	gt.NoError(t, err)

	return &model.Snapshot{
		Version: 7,
		Memories: map[model.MemoryID]*model.Memory{
			memA.ID: memA,
			memB.ID: memB,
		},
		Collections: map[string]*model.Collection{
			model.DefaultCollection: {Name: model.DefaultCollection, Count: 1, CreatedAt: now},
			"animals":               {Name: "animals", Count: 1, CreatedAt: now, Metadata: model.Metadata{"owner": model.String("zoo")}},
		},
		Index: blob,
	}
}

func testRoundTrip(t *testing.T, repo interfaces.Repository) {
	ctx := context.Background()

	loaded, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.Nil(t, loaded)

	src := newSnapshot(t)
	gt.NoError(t, repo.Save(ctx, src))

	loaded, err = repo.Load(ctx)
	gt.NoError(t, err)
	gt.V(t, loaded).NotNil()
	gt.Equal(t, loaded.Version, uint64(7))
	gt.Equal(t, len(loaded.Memories), 2)
	gt.Equal(t, len(loaded.Collections), 2)
	gt.Equal(t, loaded.Index, src.Index)

	memA := loaded.Memories["mem-a"]
	gt.V(t, memA).NotNil()
	gt.Equal(t, memA.Content, "cats are great")
	gt.Equal(t, memA.Embedding, []float32{1, 0, 0})
	gt.Equal(t, memA.Tags, []string{"pets"})
	gt.True(t, memA.CreatedAt.Equal(src.Memories["mem-a"].CreatedAt))
	rank, ok := memA.Metadata["rank"].AsNumber()
	gt.True(t, ok)
	gt.Equal(t, rank, 2.0)

	gt.Equal(t, loaded.Memories["mem-b"].UserID, "u1")
	owner, ok := loaded.Collections["animals"].Metadata["owner"].AsString()
	gt.True(t, ok)
	gt.Equal(t, owner, "zoo")

	// A later save replaces the whole state
	delete(src.Memories, "mem-b")
	src.Version = 8
	gt.NoError(t, repo.Save(ctx, src))
	loaded, err = repo.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, loaded.Version, uint64(8))
	gt.Equal(t, len(loaded.Memories), 1)
}

func TestFileRepository(t *testing.T) {
	repo, err := repository.NewFile(t.TempDir())
	gt.NoError(t, err)
	defer repo.Close()

	testRoundTrip(t, repo)
}

func TestFileRepositoryIncompleteState(t *testing.T) {
	dir := t.TempDir()
	repo, err := repository.NewFile(dir)
	gt.NoError(t, err)

	ctx := context.Background()
	gt.NoError(t, repo.Save(ctx, newSnapshot(t)))
	gt.NoError(t, os.Remove(filepath.Join(dir, repository.IndexKey)))

	loaded, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.Nil(t, loaded)
}

func TestFileRepositoryCorruptMetadata(t *testing.T) {
	dir := t.TempDir()
	repo, err := repository.NewFile(dir)
	gt.NoError(t, err)

	ctx := context.Background()
	gt.NoError(t, repo.Save(ctx, newSnapshot(t)))
	gt.NoError(t, os.WriteFile(filepath.Join(dir, repository.MetadataKey), []byte("{broken"), 0600))

	_, err = repo.Load(ctx)
	gt.Error(t, err)
}

// shortStorage writes only half of the data of failKey and then fails
type shortStorage struct {
	adapter.Storage
	failKey string
}

func (x *shortStorage) Put(ctx context.Context, key string) (adapter.Writer, error) {
	w, err := x.Storage.Put(ctx, key)
	if err != nil || key != x.failKey {
		return w, err
	}
	return &shortWriter{Writer: w}, nil
}

type shortWriter struct {
	adapter.Writer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	n, _ := w.Writer.Write(p[:len(p)/2])
	return n, errors.New("no space left on device")
}

func TestBlobRepositoryWriteErrorKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage, err := adapter.NewLocalStorage(dir)
	gt.NoError(t, err)

	repo := repository.NewBlob(storage, "")
	gt.NoError(t, repo.Save(ctx, newSnapshot(t)))

	next := newSnapshot(t)
	next.Version = 8
	broken := repository.NewBlob(&shortStorage{Storage: storage, failKey: repository.MetadataKey}, "")
	err = broken.Save(ctx, next)
	gt.True(t, goerr.HasTag(err, model.ErrTagPersistence))

	loaded, err := repo.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, loaded.Version, uint64(7))
	gt.Equal(t, len(loaded.Memories), 2)

	// the partial temporary file is removed
	entries, err := os.ReadDir(dir)
	gt.NoError(t, err)
	gt.A(t, entries).Length(2)
}

func TestBadgerRepository(t *testing.T) {
	repo, err := repository.NewBadgerInMemory()
	gt.NoError(t, err)
	defer repo.Close()

	testRoundTrip(t, repo)
}

func TestBadgerRepositoryReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := repository.NewBadger(dir)
	gt.NoError(t, err)
	gt.NoError(t, repo.Save(ctx, newSnapshot(t)))
	gt.NoError(t, repo.Close())

	reopened, err := repository.NewBadger(dir)
	gt.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	gt.NoError(t, err)
	gt.V(t, loaded).NotNil()
	gt.Equal(t, len(loaded.Memories), 2)
}

func TestBadgerRepositoryCollectsGarbage(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := repository.NewBadger(dir)
	gt.NoError(t, err)

	snapshot := newSnapshot(t)
	for i := range 40 {
		snapshot.Version = uint64(i + 1)
		gt.NoError(t, repo.Save(ctx, snapshot))
	}
	_, err = repo.CollectGarbage(ctx)
	gt.NoError(t, err)
	gt.NoError(t, repo.Close())

	reopened, err := repository.NewBadger(dir)
	gt.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	gt.NoError(t, err)
	gt.Equal(t, loaded.Version, uint64(40))

	inMemory, err := repository.NewBadgerInMemory()
	gt.NoError(t, err)
	n, err := inMemory.CollectGarbage(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 0)
	gt.NoError(t, inMemory.Close())
}
