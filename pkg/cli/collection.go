package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func collectionCommand() *cli.Command {
	return &cli.Command{
		Name:    "collection",
		Aliases: []string{"col"},
		Usage:   "Manage collections",
		Commands: []*cli.Command{
			collectionListCommand(),
			collectionCreateCommand(),
			collectionDeleteCommand(),
		},
	}
}

func collectionListCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "list",
		Usage: "List collections with their memory counts",
		Flags: commandFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			w := c.Root().Writer
			for _, col := range uc.ListCollections(ctx) {
				fmt.Fprintf(w, "%-24s %6d  %s\n", col.Name, col.Count, col.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}

func collectionCreateCommand() *cli.Command {
	var (
		cfg      config
		metadata []string
	)

	flags := commandFlags(&cfg,
		&cli.StringSliceFlag{
			Name:        "meta",
			Aliases:     []string{"m"},
			Usage:       "Metadata as key=value (repeatable)",
			Destination: &metadata,
		},
	)

	return &cli.Command{
		Name:      "create",
		Usage:     "Create an empty collection",
		ArgsUsage: "<name>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("collection name is required")
			}
			meta, err := parseMetadata(metadata)
			if err != nil {
				return err
			}

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			name := c.Args().First()
			if err := uc.CreateCollection(ctx, name, meta); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Collection created: %s\n", name)
			return nil
		},
	}
}

func collectionDeleteCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a collection and every memory in it",
		ArgsUsage: "<name>",
		Flags:     commandFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("collection name is required")
			}

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			name := c.Args().First()
			if err := uc.DeleteCollection(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Collection deleted: %s\n", name)
			return nil
		},
	}
}
