package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"xoracle/internal/infrastructure/svc"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event hub and staleness watchdog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := opts.load()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sc, err := svc.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer sc.Close()

			snap := sc.Ledger().Snapshot()
			log.Info().
				Str("config", opts.configPath).
				Uint64("length", snap.Length).
				Uint64("heartbeat_sec", snap.HeartbeatSec).
				Str("addr", cfg.HTTP.Addr).
				Msg("xoracle started")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				sc.Hub().Run(gctx)
				return nil
			})
			g.Go(func() error {
				return sc.BuildHTTPServer().Run(gctx)
			})
			if cfg.Monitor.Enabled {
				g.Go(func() error {
					err := sc.BuildMonitorService().Run(gctx)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}

			if err := g.Wait(); err != nil {
				return err
			}
			log.Info().Msg("xoracle stopped")
			return nil
		},
	}
}
