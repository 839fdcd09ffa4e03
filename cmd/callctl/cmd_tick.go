package main

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/accountability-dispatch/internal/app"
	"github.com/kursadbilgin/accountability-dispatch/internal/service"
	"github.com/spf13/cobra"
)

const (
	jobDispatch = "dispatch-tick"
	jobSweep    = "sweep-tick"
)

func newTickCmd(name string) *cobra.Command {
	short := "Dispatch the calls that are due right now"
	if name == jobSweep {
		short = "Escalate every unanswered call past its timeout"
	}

	return &cobra.Command{
		Use:   name,
		Short: short,
		Long:  "Runs exactly one tick under the same distributed lock the API scheduler uses.\nExits without work when another instance holds the lock.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				runner := tickRunner(name, a)
				if err := runner.RunOnce(ctx); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s complete\n", name)
				return nil
			})
		},
	}
}

func tickRunner(name string, a *app.App) *service.TickRunner {
	if name == jobSweep {
		return a.SweepJob
	}
	return a.DispatchJob
}
