// Package repository implements persistence backends for memory store snapshots.
// Every backend keeps two logical artifacts: the encoded similarity index and a
// metadata document holding memory and collection records.
package repository

import (
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
)

const (
	// IndexKey is the object name of the encoded similarity index
	IndexKey = "memory_index.bin"
	// MetadataKey is the object name of the metadata document
	MetadataKey = "memory_metadata.json"
)

// document is the serialized shape of the metadata artifact
type document struct {
	Version     uint64                           `json:"version"`
	Memories    map[model.MemoryID]*model.Memory `json:"memories"`
	Collections map[string]*model.Collection     `json:"collections"`
}

func encodeDocument(snapshot *model.Snapshot) ([]byte, error) {
	doc := document{
		Version:     snapshot.Version,
		Memories:    snapshot.Memories,
		Collections: snapshot.Collections,
	}
	if doc.Memories == nil {
		doc.Memories = map[model.MemoryID]*model.Memory{}
	}
	if doc.Collections == nil {
		doc.Collections = map[string]*model.Collection{}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal metadata document", goerr.T(model.ErrTagPersistence))
	}
	return data, nil
}

func decodeDocument(data []byte, index []byte) (*model.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal metadata document", goerr.T(model.ErrTagPersistence))
	}

	snapshot := &model.Snapshot{
		Version:     doc.Version,
		Memories:    doc.Memories,
		Collections: doc.Collections,
		Index:       index,
	}
	if snapshot.Memories == nil {
		snapshot.Memories = map[model.MemoryID]*model.Memory{}
	}
	if snapshot.Collections == nil {
		snapshot.Collections = map[string]*model.Collection{}
	}

	for id, mem := range snapshot.Memories {
		if mem == nil || mem.ID != id {
			return nil, goerr.New("inconsistent memory record", goerr.V("id", id), goerr.T(model.ErrTagPersistence))
		}
	}
	for name, col := range snapshot.Collections {
		if col == nil {
			return nil, goerr.New("empty collection record", goerr.V("name", name), goerr.T(model.ErrTagPersistence))
		}
		col.Name = name
	}

	return snapshot, nil
}
