package adapter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
)

// Writer saves one object. Close publishes the written data and Abort discards it,
// leaving the previous object untouched.
type Writer interface {
	io.WriteCloser
	Abort() error
}

// Storage is the interface for blob storage of persisted artifacts
type Storage interface {
	// Put returns a writer to save an object. Data becomes visible when the writer is closed.
	Put(ctx context.Context, key string) (Writer, error)
	// Get loads an object. A missing object returns an error tagged model.ErrTagNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Put(ctx context.Context, key string) (Writer, error) {
	ctx, cancel := context.WithCancel(ctx)
	obj := s.client.Bucket(s.bucketName).Object(key)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	return &objectWriter{Writer: writer, cancel: cancel}, nil
}

// objectWriter cancels the upload context on Abort, so the object is never finalized
type objectWriter struct {
	*storage.Writer
	cancel context.CancelFunc
}

func (w *objectWriter) Close() error {
	defer w.cancel()
	return w.Writer.Close()
}

func (w *objectWriter) Abort() error {
	w.cancel()
	// Close reports the cancellation
	_ = w.Writer.Close()
	return nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, goerr.Wrap(err, "object not found",
				goerr.V("bucket", s.bucketName),
				goerr.V("key", key),
				goerr.T(model.ErrTagNotFound))
		}
		return nil, goerr.Wrap(err, "failed to read from storage",
			goerr.V("bucket", s.bucketName),
			goerr.V("key", key))
	}

	return reader, nil
}

// localStorage implements Storage on a local directory. Writes go to a temporary file
// that is renamed into place on Close.
type localStorage struct {
	dir string
}

// NewLocalStorage creates a Storage rooted at dir, creating the directory if needed
func NewLocalStorage(dir string) (Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create storage directory", goerr.V("dir", dir))
	}
	return &localStorage{dir: dir}, nil
}

func (s *localStorage) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

func (s *localStorage) Put(ctx context.Context, key string) (Writer, error) {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create parent directory", goerr.V("key", key))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temporary file", goerr.V("key", key))
	}
	return &atomicFile{File: tmp, dst: dst}, nil
}

func (s *localStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, goerr.Wrap(err, "object not found", goerr.V("key", key), goerr.T(model.ErrTagNotFound))
		}
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("key", key))
	}
	return f, nil
}

type atomicFile struct {
	*os.File
	dst    string
	closed bool
}

func (f *atomicFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if err := f.File.Sync(); err != nil {
		_ = f.File.Close()
		_ = os.Remove(f.Name())
		return goerr.Wrap(err, "failed to sync file", goerr.V("path", f.dst))
	}
	if err := f.File.Close(); err != nil {
		_ = os.Remove(f.Name())
		return goerr.Wrap(err, "failed to close file", goerr.V("path", f.dst))
	}
	if err := os.Rename(f.Name(), f.dst); err != nil {
		_ = os.Remove(f.Name())
		return goerr.Wrap(err, "failed to rename file", goerr.V("path", f.dst))
	}
	return nil
}

// Abort removes the temporary file without touching the destination
func (f *atomicFile) Abort() error {
	if f.closed {
		return nil
	}
	f.closed = true

	_ = f.File.Close()
	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return goerr.Wrap(err, "failed to remove temporary file", goerr.V("path", f.Name()))
	}
	return nil
}
