package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

const shellHelp = `Commands:
  add <content>       store a memory in the current collection
  search <query>      find similar memories in the current collection
  get <id>            show a memory
  delete <id>         delete a memory
  list                list memories of the current collection
  collections         list collections
  use <collection>    switch the current collection ("" for all on search and list)
  help                show this message
  exit                leave the shell
`

type shell struct {
	uc         *memory.UseCase
	w          io.Writer
	collection string
	userID     string
	threshold  float64
}

func newShell(uc *memory.UseCase, w io.Writer) *shell {
	return &shell{
		uc:         uc,
		w:          w,
		collection: model.DefaultCollection,
		threshold:  memory.DefaultSearchThreshold,
	}
}

func (s *shell) prompt() string {
	if s.collection == "" {
		return "mnemo> "
	}
	return fmt.Sprintf("mnemo(%s)> ", s.collection)
}

// exec runs one line. It returns true when the shell should exit.
func (s *shell) exec(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
		return false, nil

	case "exit", "quit":
		return true, nil

	case "help":
		fmt.Fprint(s.w, shellHelp)

	case "use":
		s.collection = strings.Trim(arg, `"`)
		fmt.Fprintf(s.w, "Using collection %q\n", s.collection)

	case "add":
		collection := s.collection
		if collection == "" {
			collection = model.DefaultCollection
		}
		mem, err := s.uc.Add(ctx, memory.AddInput{
			Content:    arg,
			Collection: collection,
			UserID:     s.userID,
		})
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.w, "Memory created: %s\n", mem.ID)

	case "search":
		results, err := s.uc.Search(ctx, memory.SearchInput{
			Query:      arg,
			Collection: s.collection,
			UserID:     s.userID,
			Threshold:  &s.threshold,
		})
		if err != nil {
			return false, err
		}
		if len(results) == 0 {
			fmt.Fprintln(s.w, "No similar memories found")
		}
		for _, r := range results {
			fmt.Fprintf(s.w, "%.3f  ", r.Score)
			printMemory(s.w, r.Memory)
		}

	case "get":
		mem, err := s.uc.Get(ctx, model.MemoryID(arg))
		if err != nil {
			return false, err
		}
		mem.Embedding = nil
		return false, printJSON(s.w, mem)

	case "delete":
		if err := s.uc.Delete(ctx, model.MemoryID(arg)); err != nil {
			return false, err
		}
		fmt.Fprintf(s.w, "Memory deleted: %s\n", arg)

	case "list":
		items, err := s.uc.List(ctx, memory.ListInput{Collection: s.collection, UserID: s.userID})
		if err != nil {
			return false, err
		}
		for _, mem := range items {
			printMemory(s.w, mem)
		}

	case "collections":
		for _, col := range s.uc.ListCollections(ctx) {
			fmt.Fprintf(s.w, "%-24s %6d\n", col.Name, col.Count)
		}

	default:
		return false, goerr.New("unknown command, type help", goerr.V("command", cmd))
	}

	return false, nil
}

func shellCommand() *cli.Command {
	var (
		cfg    config
		userID string
	)

	flags := commandFlags(&cfg,
		&cli.StringFlag{
			Name:        "user",
			Aliases:     []string{"u"},
			Usage:       "Owner of added memories and filter of searches",
			Sources:     cli.EnvVars("MNEMO_USER_ID"),
			Destination: &userID,
		},
	)

	return &cli.Command{
		Name:  "shell",
		Usage: "Interactive memory shell",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			uc, cleanup, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			historyFile := ""
			if home, err := os.UserHomeDir(); err == nil {
				historyFile = filepath.Join(home, ".mnemo_history")
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "mnemo> ",
				HistoryFile:     historyFile,
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start readline")
			}
			defer rl.Close()

			sh := newShell(uc, rl.Stdout())
			sh.userID = userID
			fmt.Fprintln(sh.w, `Type "help" for commands.`)

			for {
				rl.SetPrompt(sh.prompt())
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read line")
				}

				quit, err := sh.exec(ctx, line)
				if err != nil {
					fmt.Fprintf(sh.w, "Error: %s\n", err.Error())
				}
				if quit {
					return nil
				}
			}
		},
	}
}
