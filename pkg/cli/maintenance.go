package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/usecase/export"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func importCommand() *cli.Command {
	var (
		cfg       config
		inputPath string
	)

	flags := commandFlags(&cfg,
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to YAML seed file, - for stdin",
			Value:       "-",
			Sources:     cli.EnvVars("MNEMO_IMPORT_INPUT"),
			Destination: &inputPath,
		},
	)

	return &cli.Command{
		Name:  "import",
		Usage: "Load collections and memories from a YAML seed file",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			var r io.Reader = os.Stdin
			if inputPath != "-" {
				f, err := os.Open(inputPath)
				if err != nil {
					return goerr.Wrap(err, "failed to open input file", goerr.V("path", inputPath))
				}
				defer f.Close()
				r = f
			}

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var result *memory.ImportResult
			err = withSpinner(cfg.showSpinner(), "importing...", func() error {
				var err error
				result, err = uc.Import(ctx, r)
				return err
			})
			if result != nil {
				fmt.Fprintf(c.Root().Writer, "Imported %d collections and %d memories\n", result.Collections, result.Memories)
			}
			return err
		},
	}
}

func exportCommand() *cli.Command {
	var (
		cfg        config
		bqProject  string
		datasetID  string
		tableID    string
		collection string
		batchSize  int64
	)

	flags := commandFlags(&cfg,
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID of BigQuery, --project when empty",
			Sources:     cli.EnvVars("MNEMO_BIGQUERY_PROJECT"),
			Destination: &bqProject,
		},
		&cli.StringFlag{
			Name:        "dataset",
			Usage:       "BigQuery dataset ID",
			Sources:     cli.EnvVars("MNEMO_BIGQUERY_DATASET"),
			Destination: &datasetID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "table",
			Usage:       "BigQuery table ID",
			Value:       "memories",
			Sources:     cli.EnvVars("MNEMO_BIGQUERY_TABLE"),
			Destination: &tableID,
		},
		&cli.StringFlag{
			Name:        "collection",
			Aliases:     []string{"c"},
			Usage:       "Only export this collection",
			Destination: &collection,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Rows per streaming insert",
			Value:       export.DefaultBatchSize,
			Destination: &batchSize,
		},
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Copy memories into a BigQuery table",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if bqProject == "" {
				bqProject = cfg.project
			}
			if bqProject == "" {
				return goerr.New("bigquery-project or project is required")
			}

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			bq, err := adapter.NewBigQuery(ctx, bqProject)
			if err != nil {
				return err
			}

			exporter := export.New(uc, bq, datasetID, tableID, export.WithBatchSize(int(batchSize)))
			n, err := exporter.Export(ctx, collection)
			if err != nil {
				return goerr.Wrap(err, "export stopped", goerr.V("exported", n))
			}

			fmt.Fprintf(c.Root().Writer, "Exported %d memories to %s.%s\n", n, datasetID, tableID)
			return nil
		},
	}
}

func reindexCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "reindex",
		Usage: "Re-embed every memory with the current embedder and rebuild the index",
		Flags: commandFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			// a dimension change is the usual reason to reindex
			cfg.reindexOnMismatch = true

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var n int
			err = withSpinner(cfg.showSpinner(), "reindexing...", func() error {
				var err error
				n, err = uc.Reindex(ctx)
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Reindexed %d memories\n", n)
			return nil
		},
	}
}
