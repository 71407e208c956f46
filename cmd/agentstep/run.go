package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/agentstep/config"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/runner"
)

func newCLIRunner(cfg *config.Config, logger logging.Logger) (*runner.Runner, error) {
	llm, err := newModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	tools := newRegistry(cfg.Tools, logger)
	return runner.New(newFactory(cfg.Agent, llm, tools, logger), func(o *runner.Options) {
		o.MaxConcurrentRuns = 1
		o.Logger = logger
	}), nil
}

func runCmd(flags *globalFlags) *cobra.Command {
	var maxSteps int
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run an agent to completion and print the step records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if maxSteps > 0 {
				cfg.Agent.MaxSteps = maxSteps
			}
			r, err := newCLIRunner(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out, err := r.Run(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "override agent.max_steps")
	return cmd
}

func streamCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <prompt>",
		Short: "Run an agent and print events as they arrive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			r, err := newCLIRunner(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, stream, err := r.RunStream(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			defer stream.Close()

			out := cmd.OutOrStdout()
			failed := false
			for ev := range stream.Events() {
				fmt.Fprintln(out, ev.Text)
				failed = failed || ev.IsError()
			}
			if err := stream.Err(); err != nil {
				return err
			}
			if failed {
				return fmt.Errorf("agent run failed")
			}
			return r.Shutdown(context.Background())
		},
	}
	return cmd
}
