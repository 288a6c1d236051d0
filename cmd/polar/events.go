package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/polarsource/polar-sub002/externalevent"
)

func eventsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Manage received external events",
	}
	cmd.AddCommand(eventsResendCmd(configPath))
	return cmd
}

func eventsResendCmd(configPath *string) *cobra.Command {
	var (
		source    string
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "resend",
		Short: "Re-enqueue external events that were never handled",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			var n int
			runErr := a.engine.Run(cmd.Context(), func(ctx context.Context) error {
				n, err = a.billing.ExternalEvents.ResendUnhandled(ctx, externalevent.Source(source), olderThan)
				return err
			})
			if runErr == nil {
				a.logger.Info("external events re-enqueued",
					slog.String("source", source),
					slog.Int("events", n),
				)
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return errors.Join(runErr, a.close(context.Background()))
		},
	}

	cmd.Flags().StringVar(&source, "source", string(externalevent.SourceStripe), "event source")
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "only events received before now minus this")

	return cmd
}
