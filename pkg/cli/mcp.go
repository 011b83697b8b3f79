package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/service/mcp"
	"github.com/m-mizutani/strata/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg  config
		addr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "http",
			Usage:       "Serve the streamable HTTP transport on this address instead of stdio",
			Sources:     cli.EnvVars("STRATA_MCP_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the history tiers as MCP tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx, c.Root().ErrWriter)

			layout := cfg.layout()
			sessions, closeMap, err := cfg.newSessionMap(ctx, layout)
			if err != nil {
				return err
			}
			defer closeMap()

			server := mcp.NewServer(history.Open(layout), sessions)
			if addr == "" {
				return server.Run(ctx)
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			logging.From(ctx).Info("serving mcp over http", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return goerr.Wrap(err, "failed to serve mcp", goerr.V("addr", addr))
			}
			return nil
		},
	}
}
