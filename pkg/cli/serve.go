package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/service/mcp"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg       config
		transport string
		addr      string
	)

	flags := commandFlags(&cfg,
		&cli.StringFlag{
			Name:        "transport",
			Usage:       "MCP transport (stdio, http)",
			Value:       "stdio",
			Sources:     cli.EnvVars("MNEMO_TRANSPORT"),
			Destination: &transport,
		},
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address of the http transport",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("MNEMO_ADDR"),
			Destination: &addr,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve memory tools over the Model Context Protocol",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			server := mcp.NewServer(uc, Version)
			logger := logging.From(ctx)

			switch transport {
			case "stdio":
				logger.Info("serving MCP over stdio")
				return server.Run(ctx)

			case "http":
				httpServer := &http.Server{
					Addr:              addr,
					Handler:           server.Handler(),
					ReadHeaderTimeout: 10 * time.Second,
				}

				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := httpServer.Shutdown(shutdownCtx); err != nil {
						logger.Warn("failed to shutdown http server", logging.ErrAttr(err))
					}
				}()

				logger.Info("serving MCP over http", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return goerr.Wrap(err, "http server stopped", goerr.V("addr", addr))
				}
				return nil

			default:
				return goerr.New("unsupported transport",
					goerr.V("transport", transport),
					goerr.V("supported", []string{"stdio", "http"}))
			}
		},
	}
}

func callCommand() *cli.Command {
	var (
		url      string
		argsJSON string
		listOnly bool
	)

	return &cli.Command{
		Name:      "call",
		Usage:     "Call a tool of a running mnemo http server",
		ArgsUsage: "<tool-name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Usage:       "Endpoint of the mnemo server",
				Value:       "http://127.0.0.1:8080",
				Sources:     cli.EnvVars("MNEMO_URL"),
				Destination: &url,
			},
			&cli.StringFlag{
				Name:        "args",
				Aliases:     []string{"a"},
				Usage:       "Tool arguments as a JSON object",
				Value:       "{}",
				Destination: &argsJSON,
			},
			&cli.BoolFlag{
				Name:        "list",
				Aliases:     []string{"l"},
				Usage:       "List tools with their input schemas instead of calling one",
				Destination: &listOnly,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			client, err := mcp.Connect(ctx, mcp.ServerConfig{Transport: "http", URL: url}, Version)
			if err != nil {
				return err
			}
			defer client.Close()

			w := c.Root().Writer
			if listOnly {
				for _, tool := range client.Tools() {
					schema, err := client.InputSchema(tool.Name)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s: %s\n", tool.Name, tool.Description)
					for name, prop := range schema.Properties {
						fmt.Fprintf(w, "  %-12s %s\n", name, prop.Description)
					}
				}
				return nil
			}

			if c.Args().Len() != 1 {
				return goerr.New("tool name is required")
			}

			var args map[string]any
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return goerr.Wrap(err, "args must be a JSON object", goerr.V("args", argsJSON))
			}

			out, err := client.Call(ctx, c.Args().First(), args)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, out)
			return nil
		},
	}
}
