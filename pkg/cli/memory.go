package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func addCommand() *cli.Command {
	var (
		cfg        config
		collection string
		userID     string
		tags       []string
		metadata   []string
	)

	flags := commandFlags(&cfg,
		&cli.StringFlag{
			Name:        "collection",
			Aliases:     []string{"c"},
			Usage:       "Collection of the memory",
			Value:       model.DefaultCollection,
			Destination: &collection,
		},
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "Owner of the memory",
			Sources:     cli.EnvVars("MNEMO_USER_ID"),
			Destination: &userID,
		},
		&cli.StringSliceFlag{
			Name:        "tag",
			Aliases:     []string{"t"},
			Usage:       "Tag of the memory (repeatable)",
			Destination: &tags,
		},
		&cli.StringSliceFlag{
			Name:        "meta",
			Aliases:     []string{"m"},
			Usage:       "Metadata as key=value (repeatable)",
			Destination: &metadata,
		},
	)

	return &cli.Command{
		Name:      "add",
		Usage:     "Store a new memory",
		ArgsUsage: "<content>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			content := strings.Join(c.Args().Slice(), " ")
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

			var mem *model.Memory
			err = withSpinner(cfg.showSpinner(), "embedding...", func() error {
				var err error
				mem, err = uc.Add(ctx, memory.AddInput{
					Content:    content,
					Metadata:   meta,
					Collection: collection,
					Tags:       tags,
					UserID:     userID,
				})
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Memory created: %s\n", mem.ID)
			return nil
		},
	}
}

func getCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "get",
		Usage:     "Show a memory as JSON",
		ArgsUsage: "<memory-id>",
		Flags:     commandFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("memory ID is required")
			}

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			mem, err := uc.Get(ctx, model.MemoryID(c.Args().First()))
			if err != nil {
				return err
			}
			mem.Embedding = nil
			return printJSON(c.Root().Writer, mem)
		},
	}
}

func updateCommand() *cli.Command {
	var (
		cfg      config
		content  string
		tags     []string
		metadata []string
	)

	flags := commandFlags(&cfg,
		&cli.StringFlag{
			Name:        "content",
			Usage:       "New content, re-embedded",
			Destination: &content,
		},
		&cli.StringSliceFlag{
			Name:        "tag",
			Aliases:     []string{"t"},
			Usage:       "Replace tags (repeatable)",
			Destination: &tags,
		},
		&cli.StringSliceFlag{
			Name:        "meta",
			Aliases:     []string{"m"},
			Usage:       "Metadata to merge as key=value (repeatable)",
			Destination: &metadata,
		},
	)

	return &cli.Command{
		Name:      "update",
		Usage:     "Update content, tags or metadata of a memory",
		ArgsUsage: "<memory-id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return goerr.New("memory ID is required")
			}

			meta, err := parseMetadata(metadata)
			if err != nil {
				return err
			}
			input := memory.UpdateInput{Metadata: meta}
			if c.IsSet("content") {
				input.Content = &content
			}
			if c.IsSet("tag") {
				input.Tags = &tags
			}

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			err = withSpinner(cfg.showSpinner() && input.Content != nil, "embedding...", func() error {
				_, err := uc.Update(ctx, model.MemoryID(c.Args().First()), input)
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "Memory updated: %s\n", c.Args().First())
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete memories",
		ArgsUsage: "<memory-id>...",
		Flags:     commandFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() == 0 {
				return goerr.New("memory ID is required")
			}

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, id := range c.Args().Slice() {
				if err := uc.Delete(ctx, model.MemoryID(id)); err != nil {
					return err
				}
				fmt.Fprintf(c.Root().Writer, "Memory deleted: %s\n", id)
			}
			return nil
		},
	}
}

func listCommand() *cli.Command {
	var (
		cfg        config
		collection string
		userID     string
		offset     int64
		limit      int64
	)

	flags := commandFlags(&cfg,
		&cli.StringFlag{
			Name:        "collection",
			Aliases:     []string{"c"},
			Usage:       "Only list this collection",
			Destination: &collection,
		},
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "Only list memories of this user",
			Destination: &userID,
		},
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Number of memories to skip",
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of memories, 0 for all",
			Value:       20,
			Destination: &limit,
		},
	)

	return &cli.Command{
		Name:  "list",
		Usage: "List memories in creation order",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			items, err := uc.List(ctx, memory.ListInput{
				Collection: collection,
				UserID:     userID,
				Offset:     int(offset),
				Limit:      int(limit),
			})
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(items) == 0 {
				fmt.Fprintln(w, "No memories found")
				return nil
			}
			for _, mem := range items {
				printMemory(w, mem)
			}
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	var (
		cfg        config
		collection string
		userID     string
		tags       []string
		limit      int64
		threshold  float64
	)

	flags := commandFlags(&cfg,
		&cli.StringFlag{
			Name:        "collection",
			Aliases:     []string{"c"},
			Usage:       "Only search this collection",
			Destination: &collection,
		},
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "Only search memories of this user",
			Destination: &userID,
		},
		&cli.StringSliceFlag{
			Name:        "tag",
			Aliases:     []string{"t"},
			Usage:       "Only search memories with one of these tags (repeatable)",
			Destination: &tags,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of results",
			Value:       memory.DefaultSearchLimit,
			Sources:     cli.EnvVars("MNEMO_SEARCH_LIMIT"),
			Destination: &limit,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Minimum cosine similarity",
			Value:       memory.DefaultSearchThreshold,
			Sources:     cli.EnvVars("MNEMO_SEARCH_THRESHOLD"),
			Destination: &threshold,
		},
	)

	return &cli.Command{
		Name:      "search",
		Usage:     "Find memories similar to a query",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")

			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var results []*model.QueryResult
			err = withSpinner(cfg.showSpinner(), "searching...", func() error {
				var err error
				results, err = uc.Search(ctx, memory.SearchInput{
					Query:      query,
					Collection: collection,
					UserID:     userID,
					Tags:       tags,
					Limit:      int(limit),
					Threshold:  &threshold,
				})
				return err
			})
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(results) == 0 {
				fmt.Fprintln(w, "No similar memories found")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(w, "%.3f  ", r.Score)
				printMemory(w, r.Memory)
			}
			return nil
		},
	}
}
