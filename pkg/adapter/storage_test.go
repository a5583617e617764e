package adapter_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/model"
)

func testStorage(t *testing.T, storage adapter.Storage, key string) {
	ctx := context.Background()

	_, err := storage.Get(ctx, key)
	gt.True(t, goerr.HasTag(err, model.ErrTagNotFound))

	w, err := storage.Put(ctx, key)
	gt.NoError(t, err)
	_, err = w.Write([]byte("first"))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	w, err = storage.Put(ctx, key)
	gt.NoError(t, err)
	_, err = w.Write([]byte("second"))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	r, err := storage.Get(ctx, key)
	gt.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.Equal(t, string(data), "second")
}

func TestLocalStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	storage, err := adapter.NewLocalStorage(dir)
	gt.NoError(t, err)

	testStorage(t, storage, "nested/object.bin")

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	gt.NoError(t, err)
	gt.A(t, entries).Length(1)
}

func TestCloudStorage(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	storage, err := adapter.NewStorage(context.Background(), bucket)
	gt.NoError(t, err)

	testStorage(t, storage, "mnemo-test/"+uuid.NewString())
}

func TestLocalStorageAbort(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	storage, err := adapter.NewLocalStorage(dir)
	gt.NoError(t, err)

	w, err := storage.Put(ctx, "object.bin")
	gt.NoError(t, err)
	_, err = w.Write([]byte("complete"))
	gt.NoError(t, err)
	gt.NoError(t, w.Close())

	w, err = storage.Put(ctx, "object.bin")
	gt.NoError(t, err)
	_, err = w.Write([]byte("trunc"))
	gt.NoError(t, err)
	gt.NoError(t, w.Abort())
	gt.NoError(t, w.Close())

	r, err := storage.Get(ctx, "object.bin")
	gt.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	gt.Equal(t, string(data), "complete")

	entries, err := os.ReadDir(dir)
	gt.NoError(t, err)
	gt.A(t, entries).Length(1)
}
