package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/urfave/cli/v3"
)

// Version is set at build time
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "mnemo",
		Usage:   "Semantic memory store",
		Version: Version,
		Commands: []*cli.Command{
			addCommand(),
			getCommand(),
			updateCommand(),
			deleteCommand(),
			listCommand(),
			searchCommand(),
			collectionCommand(),
			importCommand(),
			exportCommand(),
			reindexCommand(),
			shellCommand(),
			serveCommand(),
			callCommand(),
		},
	}
}

func Run(ctx context.Context, argv []string) *Error {
	if err := newApp().Run(ctx, argv); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// commandFlags joins command specific flags with the common flag groups
func commandFlags(cfg *config, flags ...cli.Flag) []cli.Flag {
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, embedderFlags(cfg)...)
	return flags
}

// parseMetadata converts "key=value" pairs into Metadata. Values that parse as a number
// or boolean are stored as such; NaN and infinity are rejected.
func parseMetadata(pairs []string) (model.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	meta := make(model.Metadata, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, goerr.New("metadata must be key=value",
				goerr.V("metadata", pair),
				goerr.T(model.ErrTagInvalidInput))
		}

		if n, err := strconv.ParseFloat(value, 64); err == nil {
			v, err := model.ValueOf(n)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid metadata", goerr.V("metadata", pair))
			}
			meta[key] = v
		} else if b, err := strconv.ParseBool(value); err == nil {
			meta[key] = model.Bool(b)
		} else {
			meta[key] = model.String(value)
		}
	}
	return meta, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to encode output")
	}
	return nil
}

func printMemory(w io.Writer, mem *model.Memory) {
	fmt.Fprintf(w, "%s [%s] %s\n", mem.ID, mem.Collection, mem.Content)
	if len(mem.Tags) > 0 {
		fmt.Fprintf(w, "  tags: %s\n", strings.Join(mem.Tags, ", "))
	}
}

// withSpinner shows a spinner on stderr while fn runs, typically an embedding call
func withSpinner(enabled bool, suffix string, fn func() error) error {
	if !enabled {
		return fn()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()
	defer s.Stop()
	return fn()
}
