package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "strata",
		Usage: "Tiered conversation memory and pre-turn resource router for agents",
		Commands: []*cli.Command{
			routeCommand(),
			summarizeCommand(),
			timelineCommand(),
			decisionsCommand(),
			transcriptCommand(),
			mcpCommand(),
			backupCommand(),
			restoreCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
