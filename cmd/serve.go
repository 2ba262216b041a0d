package main

import (
	"context"

	"github.com/desertthunder/kvx/internal/server"
	"github.com/urfave/cli/v3"
)

// Serve starts the HTTP API and blocks until the process is interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	cfg := r.config.Server
	if host := cmd.String("host"); host != "" {
		cfg.Host = host
	}
	if port := cmd.Int("port"); port > 0 {
		cfg.Port = port
	}

	api := server.NewAPI(server.APIOpts{
		Transfers: r.engine,
		Jobs:      r.ledger,
		Metadata:  r.index,
		Audit:     r.audit,
		Metrics:   r.metrics,
		Logger:    r.logger,
	})
	srv := server.NewServer(cfg, server.NewRouter(api), r.logger)

	r.logger.Info("starting API", "address", srv.Addr(), "store", r.store.Name())
	return srv.Run(ctx)
}
