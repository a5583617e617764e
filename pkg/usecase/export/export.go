// Package export copies stored memories into a BigQuery table for analysis. Vectors are
// not exported.
package export

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// DefaultBatchSize is the number of rows sent in one streaming insert
const DefaultBatchSize = 500

// Lister is the part of memory.UseCase used by exports
type Lister interface {
	List(ctx context.Context, input memory.ListInput) ([]*model.Memory, error)
}

// Row is one exported memory
type Row struct {
	ID         string    `bigquery:"id"`
	Content    string    `bigquery:"content"`
	Collection string    `bigquery:"collection"`
	UserID     string    `bigquery:"user_id"`
	Tags       []string  `bigquery:"tags"`
	Metadata   string    `bigquery:"metadata"` // JSON object
	Dimensions int       `bigquery:"dimensions"`
	CreatedAt  time.Time `bigquery:"created_at"`
	UpdatedAt  time.Time `bigquery:"updated_at"`
	ExportedAt time.Time `bigquery:"exported_at"`
}

// UseCase exports memories to BigQuery
type UseCase struct {
	lister    Lister
	bq        adapter.BigQuery
	datasetID string
	tableID   string
	batchSize int
	now       func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithBatchSize sets the number of rows per insert
func WithBatchSize(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.batchSize = n
		}
	}
}

// WithClock replaces time.Now for exported_at
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates an export UseCase writing into datasetID.tableID
func New(lister Lister, bq adapter.BigQuery, datasetID, tableID string, opts ...Option) *UseCase {
	uc := &UseCase{
		lister:    lister,
		bq:        bq,
		datasetID: datasetID,
		tableID:   tableID,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Schema returns the table schema inferred from Row
func Schema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(Row{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer export schema")
	}
	return schema, nil
}

// NewRow converts a memory into an export row
func NewRow(mem *model.Memory, exportedAt time.Time) (*Row, error) {
	meta := mem.Metadata.Any()
	if meta == nil {
		meta = map[string]any{}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal metadata", goerr.V("id", mem.ID))
	}

	tags := mem.Tags
	if tags == nil {
		tags = []string{}
	}

	return &Row{
		ID:         string(mem.ID),
		Content:    mem.Content,
		Collection: mem.Collection,
		UserID:     mem.UserID,
		Tags:       tags,
		Metadata:   string(raw),
		Dimensions: len(mem.Embedding),
		CreatedAt:  mem.CreatedAt,
		UpdatedAt:  mem.UpdatedAt,
		ExportedAt: exportedAt,
	}, nil
}

// Export writes memories of collection (every collection when empty) and returns the
// number of exported rows. The table is created when it does not exist.
func (u *UseCase) Export(ctx context.Context, collection string) (int, error) {
	schema, err := Schema()
	if err != nil {
		return 0, err
	}
	if err := u.bq.EnsureTable(ctx, u.datasetID, u.tableID, schema); err != nil {
		return 0, err
	}

	items, err := u.lister.List(ctx, memory.ListInput{Collection: collection})
	if err != nil {
		return 0, err
	}

	exportedAt := u.now().UTC()
	exported := 0
	for start := 0; start < len(items); start += u.batchSize {
		end := min(start+u.batchSize, len(items))

		rows := make([]*Row, 0, end-start)
		for _, mem := range items[start:end] {
			row, err := NewRow(mem, exportedAt)
			if err != nil {
				return exported, err
			}
			rows = append(rows, row)
		}

		if err := u.bq.Insert(ctx, u.datasetID, u.tableID, rows); err != nil {
			return exported, goerr.Wrap(err, "failed to export batch", goerr.V("offset", start))
		}
		exported += len(rows)
		logging.From(ctx).Debug("exported batch", "offset", start, "rows", len(rows))
	}

	logging.From(ctx).Info("exported memories",
		"dataset", u.datasetID,
		"table", u.tableID,
		"collection", collection,
		"rows", exported,
	)
	return exported, nil
}
