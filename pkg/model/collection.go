package model

import (
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultCollection always exists and can not be deleted
const DefaultCollection = "default"

// Collection is a named partition of memories
type Collection struct {
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  Metadata  `json:"metadata,omitempty"`
}

// Copy returns a deep copy of the collection record
func (x *Collection) Copy() *Collection {
	if x == nil {
		return nil
	}
	dst := *x
	dst.Metadata = x.Metadata.Copy()
	return &dst
}

// ValidateCollectionName rejects names that can not be used as a document ID of every
// backend.
func ValidateCollectionName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return goerr.New("collection name is required", goerr.T(ErrTagInvalidInput))
	case strings.Contains(name, "/"):
		return goerr.New("collection name must not contain '/'", goerr.V("name", name), goerr.T(ErrTagInvalidInput))
	case name == "." || name == "..":
		return goerr.New("collection name must not be '.' or '..'", goerr.V("name", name), goerr.T(ErrTagInvalidInput))
	case len(name) >= 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__"):
		return goerr.New("collection name must not be wrapped in '__'", goerr.V("name", name), goerr.T(ErrTagInvalidInput))
	}
	return nil
}
