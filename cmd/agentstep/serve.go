package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentstep/internal/telemetry"
	"github.com/hupe1980/agentstep/runner"
	"github.com/hupe1980/agentstep/server"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent and chat endpoints over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
				Endpoint: cfg.Tracing.Endpoint,
				Protocol: cfg.Tracing.Protocol,
				Insecure: cfg.Tracing.Insecure,
				Version:  version,
			})
			if err != nil {
				return err
			}

			llm, err := newModel(cfg.Model)
			if err != nil {
				return err
			}
			tools := newRegistry(cfg.Tools, logger)
			r := runner.New(newFactory(cfg.Agent, llm, tools, logger), func(o *runner.Options) {
				o.MaxConcurrentRuns = cfg.Server.MaxConcurrentRuns
				o.Logger = logger
			})
			srv := server.New(r, newChatApp(cfg.Chat, llm, logger), func(o *server.Options) {
				o.Addr = cfg.Server.Addr
				o.ReadHeaderTimeout = cfg.Server.ReadHeaderTimeout
				o.RateLimit = cfg.Server.RateLimit
				o.RateBurst = cfg.Server.RateBurst
				o.Logger = logger
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.ListenAndServe)
			g.Go(func() error {
				<-gctx.Done()
				logger.Info("server.shutdown", "timeout", cfg.Server.ShutdownTimeout)

				sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := r.Shutdown(sctx); err != nil {
					logger.Warn("runner.shutdown.incomplete", "error", err.Error())
				}
				if err := srv.Shutdown(sctx); err != nil {
					return err
				}
				return shutdownTracing(sctx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
