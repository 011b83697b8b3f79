package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/usecase/recall"
	"github.com/m-mizutani/strata/pkg/usecase/router"
	"github.com/m-mizutani/strata/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func routeCommand() *cli.Command {
	var (
		cfg      config
		tools    []string
		files    []string
		skills   []string
		asJSON   bool
		noRecall bool
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "tool",
			Aliases:     []string{"t"},
			Usage:       "Tool available this turn (repeatable; default: every catalog tool)",
			Destination: &tools,
		},
		&cli.StringSliceFlag{
			Name:        "file",
			Aliases:     []string{"f"},
			Usage:       "Workspace file available this turn (repeatable; default: every described file)",
			Destination: &files,
		},
		&cli.StringSliceFlag{
			Name:        "skill",
			Usage:       "Skill as name or name=description (repeatable)",
			Destination: &skills,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the decision and loaded history as JSON",
			Destination: &asJSON,
		},
		&cli.BoolFlag{
			Name:        "no-recall",
			Usage:       "Do not load the history tiers the decision escalates to",
			Destination: &noRecall,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, routerFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "route",
		Usage:     "Decide tools, files and history tiers for a user message",
		ArgsUsage: "<message>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx, c.Root().ErrWriter)
			message := strings.Join(c.Args().Slice(), " ")

			catalog, err := cfg.loadCatalog()
			if err != nil {
				return err
			}

			completer, err := cfg.newCompleter(ctx)
			if err != nil {
				return err
			}

			var opts []router.Option
			engine, err := cfg.loadPolicy(ctx)
			if err != nil {
				return err
			}
			if engine != nil {
				opts = append(opts, router.WithPolicy(engine))
			}

			layout := cfg.layout()
			stores := history.Open(layout)
			timeline, err := stores.Timeline.Load(ctx)
			if err != nil {
				logging.From(ctx).Warn("failed to load timeline, treated as unavailable", "error", err)
				timeline = &history.TimelineSnapshot{}
			}

			if len(tools) == 0 {
				tools = catalog.AllTools()
			}
			if len(files) == 0 {
				for name := range catalog.FileDescriptions {
					files = append(files, name)
				}
				sort.Strings(files)
			}

			decision := router.New(catalog, completer, opts...).Route(ctx, router.Request{
				Message:  message,
				Tools:    tools,
				Files:    files,
				Skills:   parseSkills(skills),
				Timeline: timeline,
			})

			recalled := &recall.Context{}
			if !noRecall && (decision.NeedsTier1 || decision.NeedsTier2) {
				sessions, closeMap, err := cfg.newSessionMap(ctx, layout)
				if err != nil {
					logging.From(ctx).Warn("failed to open tsid map, history not recalled", "error", err)
				} else {
					defer closeMap()
					recalled = recall.New(stores, sessions).Load(ctx, decision, timeline)
				}
			}

			w := c.Root().Writer
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"decision": decision,
					"timeline": timeline.Prompt(),
					"tier1":    recalled.Tier1,
					"tier2":    recalled.Tier2,
					"sessions": recalled.SessionIDs,
				})
			}

			printDecision(w, decision)
			if text := recalled.Prompt(); text != "" {
				fmt.Fprintf(w, "\n%s\n", text)
			}
			return nil
		},
	}
}

func parseSkills(values []string) []model.Skill {
	skills := make([]model.Skill, 0, len(values))
	for _, v := range values {
		name, desc, _ := strings.Cut(v, "=")
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		skills = append(skills, model.Skill{Name: name, Description: strings.TrimSpace(desc)})
	}
	return skills
}

func printDecision(w io.Writer, d *model.RouteDecision) {
	fmt.Fprintf(w, "tools:\t%s\n", strings.Join(d.Tools, ", "))
	fmt.Fprintf(w, "files:\t%s\n", strings.Join(d.Files, ", "))
	fmt.Fprintf(w, "layer:\t%s\n", d.PromptLayer)
	fmt.Fprintf(w, "skills:\t%s\n", d.SkillsMode)
	if d.Skipped {
		fmt.Fprintln(w, "routing:\tdisabled")
	}
	if d.Fallback {
		fmt.Fprintln(w, "routing:\tfallback to full set")
	}
	fmt.Fprintf(w, "tier1:\t%v %s\n", d.NeedsTier1, strings.Join(d.Tier1Dates, ", "))
	fmt.Fprintf(w, "tier2:\t%v\n", d.NeedsTier2)
	if d.Reason != "" {
		fmt.Fprintf(w, "reason:\t%s\n", d.Reason)
	}
}
