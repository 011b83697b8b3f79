package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/usecase/summary"
	"github.com/urfave/cli/v3"
)

func summarizeCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
		prompt    string
		toolsUsed []string
		strict    bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID of the finished turn (default: a new random ID)",
			Sources:     cli.EnvVars("STRATA_SESSION_ID"),
			Destination: &sessionID,
		},
		&cli.StringFlag{
			Name:        "prompt",
			Aliases:     []string{"p"},
			Usage:       "User message of the finished turn",
			Destination: &prompt,
			Required:    true,
		},
		&cli.StringSliceFlag{
			Name:        "tool-used",
			Usage:       "Tool called during the turn (repeatable)",
			Destination: &toolsUsed,
		},
		&cli.BoolFlag{
			Name:        "strict",
			Usage:       "Write decisions only when the timeline entry was written",
			Sources:     cli.EnvVars("STRATA_STRICT_CROSS_REFERENCE"),
			Destination: &strict,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "summarize",
		Usage: "Append the timeline line and decisions of a finished turn",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx, c.Root().ErrWriter)

			layout := cfg.layout()
			sessions, closeMap, err := cfg.newSessionMap(ctx, layout)
			if err != nil {
				return err
			}
			defer closeMap()

			var opts []summary.Option
			if cfg.hasCredential() {
				completer, err := cfg.newCompleter(ctx)
				if err != nil {
					return err
				}
				opts = append(opts, summary.WithCompleter(completer))
			}
			if strict {
				opts = append(opts, summary.WithStrictCrossReference())
			}

			sid := model.SessionID(sessionID)
			if sid == "" {
				sid = model.NewSessionID()
			}

			result := summary.New(history.Open(layout), sessions, opts...).Run(ctx, summary.Turn{
				SessionID: sid,
				Prompt:    prompt,
				ToolNames: toolsUsed,
			})

			w := c.Root().Writer
			fmt.Fprintln(w, history.FormatTimelineLine(model.TimelineEntry{TSID: result.TSID, Summary: result.Summary}))
			for _, d := range result.Decisions {
				fmt.Fprintln(w, history.FormatDecisionLine(d))
			}
			return nil
		},
	}
}
