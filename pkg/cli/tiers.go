package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/urfave/cli/v3"
)

func timelineCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "timeline",
		Usage: "Print the tier-0 timeline",
		Flags: globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx, c.Root().ErrWriter)

			snapshot, err := history.Open(cfg.layout()).Timeline.Load(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to load timeline")
			}
			if !snapshot.Available {
				fmt.Fprintln(c.Root().Writer, "No timeline entries")
				return nil
			}
			fmt.Fprintln(c.Root().Writer, snapshot.Raw)
			return nil
		},
	}
}

func decisionsCommand() *cli.Command {
	var (
		cfg   config
		dates []string
		tsids []string
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "date",
			Aliases:     []string{"d"},
			Usage:       "Date (YYYY-MM-DD) to show (repeatable)",
			Destination: &dates,
		},
		&cli.StringSliceFlag{
			Name:        "tsid",
			Usage:       "Timestamp identifier to show; takes precedence over --date (repeatable)",
			Destination: &tsids,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "decisions",
		Usage: "Print tier-1 decisions filtered by tsid or date",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx, c.Root().ErrWriter)

			ids, err := parseTSIDs(tsids)
			if err != nil {
				return err
			}
			for _, d := range dates {
				if !model.IsDate(d) {
					return goerr.New("invalid date, expected YYYY-MM-DD", goerr.V("date", d))
				}
			}

			result, err := history.Open(cfg.layout()).Decisions.Load(ctx, history.DecisionFilter{TSIDs: ids, Dates: dates})
			if err != nil {
				return goerr.Wrap(err, "failed to load decisions")
			}
			if !result.Available {
				fmt.Fprintln(c.Root().Writer, "No decisions found")
				return nil
			}
			fmt.Fprintln(c.Root().Writer, result.Text)
			return nil
		},
	}
}

func transcriptCommand() *cli.Command {
	var (
		cfg        config
		tsids      []string
		sessionIDs []string
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "tsid",
			Usage:       "Timestamp identifier whose session is read (repeatable)",
			Destination: &tsids,
		},
		&cli.StringSliceFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID to read (repeatable)",
			Destination: &sessionIDs,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "transcript",
		Usage: "Print tier-2 transcripts within the retrieval budget",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx, c.Root().ErrWriter)

			ids, err := parseTSIDs(tsids)
			if err != nil {
				return err
			}

			layout := cfg.layout()
			sessions, closeMap, err := cfg.newSessionMap(ctx, layout)
			if err != nil {
				return err
			}
			defer closeMap()

			sids, err := history.ResolveSessions(ctx, sessions, ids)
			if err != nil {
				return goerr.Wrap(err, "failed to resolve sessions")
			}
			for _, s := range sessionIDs {
				sids = append(sids, model.SessionID(s))
			}
			if len(sids) == 0 {
				return goerr.New("no session to read; pass --tsid or --session")
			}

			retrieval, err := history.Open(layout).Transcript.Retrieve(ctx, sids)
			if err != nil {
				return goerr.Wrap(err, "failed to read transcripts")
			}
			if !retrieval.Available {
				fmt.Fprintln(c.Root().Writer, "No transcript found")
				return nil
			}
			fmt.Fprintln(c.Root().Writer, retrieval.Text)
			return nil
		},
	}
}

func parseTSIDs(values []string) ([]model.TSID, error) {
	ids := make([]model.TSID, 0, len(values))
	for _, v := range values {
		id, err := model.ParseTSID(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
