package adapter

import (
	"context"
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
)

// BigQuery is an interface for the BigQuery operations used by exports
type BigQuery interface {
	// EnsureTable creates the table with schema if it does not exist yet
	EnsureTable(ctx context.Context, datasetID, tableID string, schema bigquery.Schema) error

	// Insert streams rows into the table. rows must be a slice of structs or ValueSavers.
	Insert(ctx context.Context, datasetID, tableID string, rows any) error
}

type bigqueryClient struct {
	client *bigquery.Client
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &bigqueryClient{client: client}, nil
}

func (bq *bigqueryClient) EnsureTable(ctx context.Context, datasetID, tableID string, schema bigquery.Schema) error {
	table := bq.client.Dataset(datasetID).Table(tableID)

	_, err := table.Metadata(ctx)
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return goerr.Wrap(err, "failed to get table metadata",
			goerr.V("dataset", datasetID),
			goerr.V("table", tableID))
	}

	if err := table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		return goerr.Wrap(err, "failed to create table",
			goerr.V("dataset", datasetID),
			goerr.V("table", tableID))
	}
	return nil
}

func (bq *bigqueryClient) Insert(ctx context.Context, datasetID, tableID string, rows any) error {
	inserter := bq.client.Dataset(datasetID).Table(tableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return goerr.Wrap(err, "failed to insert rows",
			goerr.V("dataset", datasetID),
			goerr.V("table", tableID))
	}
	return nil
}
