package cli

import (
	"context"
	"io"

	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func NewApp() *cli.Command { return newApp() }

var ParseMetadata = parseMetadata

// ExecShell runs lines in a shell and stops at the first error or exit
func ExecShell(ctx context.Context, uc *memory.UseCase, w io.Writer, lines ...string) (bool, error) {
	sh := newShell(uc, w)
	for _, line := range lines {
		quit, err := sh.exec(ctx, line)
		if err != nil || quit {
			return quit, err
		}
	}
	return false, nil
}
