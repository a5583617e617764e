package memory

import (
	"context"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"gopkg.in/yaml.v3"
)

type seedCollection struct {
	Name     string         `yaml:"name"`
	Metadata map[string]any `yaml:"metadata"`
}

type seedMemory struct {
	Content    string         `yaml:"content"`
	Collection string         `yaml:"collection"`
	Tags       []string       `yaml:"tags"`
	UserID     string         `yaml:"user_id"`
	Metadata   map[string]any `yaml:"metadata"`
}

type seedDocument struct {
	Collections []seedCollection `yaml:"collections"`
	Memories    []seedMemory     `yaml:"memories"`
}

// ImportResult summarizes an Import call
type ImportResult struct {
	Collections int // newly created collections
	Memories    int // added memories
}

// Import reads a YAML seed document and adds its collections and memories:
//
//	collections:
//	  - name: pets
//	    metadata: {owner: zoo}
//	memories:
//	  - content: cats are great
//	    collection: pets
//	    tags: [animal]
//
// Existing collections are kept. Import stops at the first memory that can not be added;
// memories added before it are kept.
func (u *UseCase) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc seedDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return &ImportResult{}, nil
		}
		return nil, goerr.Wrap(err, "failed to decode seed document", goerr.T(model.ErrTagInvalidInput))
	}

	// validate everything before the first change
	colMeta := make([]model.Metadata, len(doc.Collections))
	for i, col := range doc.Collections {
		meta, err := model.MetadataFrom(col.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid collection metadata", goerr.V("name", col.Name), goerr.T(model.ErrTagInvalidInput))
		}
		colMeta[i] = meta
	}
	memMeta := make([]model.Metadata, len(doc.Memories))
	for i, mem := range doc.Memories {
		meta, err := model.MetadataFrom(mem.Metadata)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid memory metadata", goerr.V("index", i), goerr.T(model.ErrTagInvalidInput))
		}
		memMeta[i] = meta
	}

	result := &ImportResult{}
	for i, col := range doc.Collections {
		err := u.CreateCollection(ctx, col.Name, colMeta[i])
		if goerr.HasTag(err, model.ErrTagConflict) {
			logging.From(ctx).Debug("collection already exists, skip", "name", col.Name)
			continue
		} else if err != nil {
			return result, err
		}
		result.Collections++
	}

	for i, mem := range doc.Memories {
		_, err := u.Add(ctx, AddInput{
			Content:    mem.Content,
			Metadata:   memMeta[i],
			Collection: mem.Collection,
			Tags:       mem.Tags,
			UserID:     mem.UserID,
		})
		if err != nil {
			return result, goerr.Wrap(err, "failed to import memory", goerr.V("index", i))
		}
		result.Memories++
	}

	return result, nil
}
