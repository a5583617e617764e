package repository

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	memoriesCollection    = "memories"
	collectionsCollection = "memory_collections"
	stateCollection       = "memory_state"
	stateDocument         = "current"
)

// Firestore keeps memories and collections as Firestore documents. Embeddings are stored
// as native vectors. The encoded index is not persisted: Load returns a snapshot without
// Index and the memory service rebuilds it from the stored embeddings.
type Firestore struct {
	client *firestore.Client
	prefix string

	// saved tracks UpdatedAt of every memory document written so far, so that Save only
	// touches changed documents.
	mu    sync.Mutex
	saved map[model.MemoryID]time.Time
	cols  map[string]struct{}
}

type memoryDoc struct {
	ID         string             `firestore:"id"`
	Content    string             `firestore:"content"`
	Embedding  firestore.Vector32 `firestore:"embedding"`
	Metadata   map[string]any     `firestore:"metadata"`
	Tags       []string           `firestore:"tags"`
	Collection string             `firestore:"collection"`
	UserID     string             `firestore:"user_id"`
	CreatedAt  time.Time          `firestore:"created_at"`
	UpdatedAt  time.Time          `firestore:"updated_at"`
}

type collectionDoc struct {
	Name      string         `firestore:"name"`
	Count     int            `firestore:"count"`
	CreatedAt time.Time      `firestore:"created_at"`
	Metadata  map[string]any `firestore:"metadata"`
}

type stateDoc struct {
	Version   uint64    `firestore:"version"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestore connects to a Firestore database. prefix, when not empty, is prepended to
// every Firestore collection name so that several stores can share a database.
func NewFirestore(ctx context.Context, projectID, databaseID, prefix string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID),
			goerr.T(model.ErrTagPersistence))
	}

	return &Firestore{
		client: client,
		prefix: prefix,
		saved:  map[model.MemoryID]time.Time{},
		cols:   map[string]struct{}{},
	}, nil
}

func (x *Firestore) collection(name string) *firestore.CollectionRef {
	if x.prefix == "" {
		return x.client.Collection(name)
	}
	return x.client.Collection(x.prefix + "_" + name)
}

func toMemoryDoc(mem *model.Memory) *memoryDoc {
	return &memoryDoc{
		ID:         string(mem.ID),
		Content:    mem.Content,
		Embedding:  firestore.Vector32(mem.Embedding),
		Metadata:   mem.Metadata.Any(),
		Tags:       mem.Tags,
		Collection: mem.Collection,
		UserID:     mem.UserID,
		CreatedAt:  mem.CreatedAt,
		UpdatedAt:  mem.UpdatedAt,
	}
}

func (x *memoryDoc) toModel() (*model.Memory, error) {
	meta, err := model.MetadataFrom(x.Metadata)
	if err != nil {
		return nil, err
	}
	return &model.Memory{
		ID:         model.MemoryID(x.ID),
		Content:    x.Content,
		Embedding:  []float32(x.Embedding),
		Metadata:   meta,
		Tags:       x.Tags,
		Collection: x.Collection,
		UserID:     x.UserID,
		CreatedAt:  x.CreatedAt,
		UpdatedAt:  x.UpdatedAt,
	}, nil
}

func (x *Firestore) Save(ctx context.Context, snapshot *model.Snapshot) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	bw := x.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	enqueue := func(job *firestore.BulkWriterJob, err error) error {
		if err != nil {
			return goerr.Wrap(err, "failed to enqueue firestore write", goerr.T(model.ErrTagPersistence))
		}
		jobs = append(jobs, job)
		return nil
	}

	written := map[model.MemoryID]time.Time{}
	for id, mem := range snapshot.Memories {
		written[id] = mem.UpdatedAt
		if last, ok := x.saved[id]; ok && last.Equal(mem.UpdatedAt) {
			continue
		}
		if err := enqueue(bw.Set(x.collection(memoriesCollection).Doc(string(id)), toMemoryDoc(mem))); err != nil {
			bw.End()
			return err
		}
	}
	for id := range x.saved {
		if _, ok := snapshot.Memories[id]; ok {
			continue
		}
		if err := enqueue(bw.Delete(x.collection(memoriesCollection).Doc(string(id)))); err != nil {
			bw.End()
			return err
		}
	}

	cols := map[string]struct{}{}
	for name, col := range snapshot.Collections {
		cols[name] = struct{}{}
		doc := &collectionDoc{
			Name:      name,
			Count:     col.Count,
			CreatedAt: col.CreatedAt,
			Metadata:  col.Metadata.Any(),
		}
		if err := enqueue(bw.Set(x.collection(collectionsCollection).Doc(name), doc)); err != nil {
			bw.End()
			return err
		}
	}
	for name := range x.cols {
		if _, ok := cols[name]; ok {
			continue
		}
		if err := enqueue(bw.Delete(x.collection(collectionsCollection).Doc(name))); err != nil {
			bw.End()
			return err
		}
	}

	state := &stateDoc{Version: snapshot.Version, UpdatedAt: time.Now().UTC()}
	if err := enqueue(bw.Set(x.collection(stateCollection).Doc(stateDocument), state)); err != nil {
		bw.End()
		return err
	}

	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			// Forget what was saved so that the next Save rewrites every document
			x.saved = map[model.MemoryID]time.Time{}
			return goerr.Wrap(err, "failed to write firestore document",
				goerr.V("version", snapshot.Version),
				goerr.T(model.ErrTagPersistence))
		}
	}

	x.saved = written
	x.cols = cols
	logging.From(ctx).Debug("saved snapshot to firestore",
		"version", snapshot.Version,
		"memories", len(snapshot.Memories),
		"writes", len(jobs),
	)
	return nil
}

func (x *Firestore) Load(ctx context.Context) (*model.Snapshot, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	stateSnap, err := x.collection(stateCollection).Doc(stateDocument).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	} else if err != nil {
		return nil, goerr.Wrap(err, "failed to get firestore state", goerr.T(model.ErrTagPersistence))
	}
	var state stateDoc
	if err := stateSnap.DataTo(&state); err != nil {
		return nil, goerr.Wrap(err, "failed to decode firestore state", goerr.T(model.ErrTagPersistence))
	}

	snapshot := &model.Snapshot{
		Version:     state.Version,
		Memories:    map[model.MemoryID]*model.Memory{},
		Collections: map[string]*model.Collection{},
	}

	iter := x.collection(memoriesCollection).Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memories", goerr.T(model.ErrTagPersistence))
		}

		var md memoryDoc
		if err := doc.DataTo(&md); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("doc_id", doc.Ref.ID), goerr.T(model.ErrTagPersistence))
		}
		mem, err := md.toModel()
		if err != nil {
			return nil, goerr.Wrap(err, "invalid memory document", goerr.V("doc_id", doc.Ref.ID), goerr.T(model.ErrTagPersistence))
		}
		snapshot.Memories[mem.ID] = mem
	}

	colIter := x.collection(collectionsCollection).Documents(ctx)
	defer colIter.Stop()
	for {
		doc, err := colIter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate collections", goerr.T(model.ErrTagPersistence))
		}

		var cd collectionDoc
		if err := doc.DataTo(&cd); err != nil {
			return nil, goerr.Wrap(err, "failed to decode collection", goerr.V("doc_id", doc.Ref.ID), goerr.T(model.ErrTagPersistence))
		}
		meta, err := model.MetadataFrom(cd.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid collection document", goerr.V("doc_id", doc.Ref.ID), goerr.T(model.ErrTagPersistence))
		}
		snapshot.Collections[doc.Ref.ID] = &model.Collection{
			Name:      doc.Ref.ID,
			Count:     cd.Count,
			CreatedAt: cd.CreatedAt,
			Metadata:  meta,
		}
	}

	x.saved = make(map[model.MemoryID]time.Time, len(snapshot.Memories))
	for id, mem := range snapshot.Memories {
		x.saved[id] = mem.UpdatedAt
	}
	x.cols = make(map[string]struct{}, len(snapshot.Collections))
	for name := range snapshot.Collections {
		x.cols[name] = struct{}{}
	}

	return snapshot, nil
}

func (x *Firestore) Close() error {
	if err := x.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client", goerr.T(model.ErrTagPersistence))
	}
	return nil
}
