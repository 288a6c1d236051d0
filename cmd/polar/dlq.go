package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/settings"
)

func dlqCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered jobs",
	}
	cmd.AddCommand(dlqListCmd(configPath))
	cmd.AddCommand(dlqReplayCmd(configPath))
	cmd.AddCommand(dlqPurgeCmd(configPath))
	return cmd
}

func dlqListCmd(configPath *string) *cobra.Command {
	var opts dlq.ListOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print dead-lettered jobs as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), *configPath, func(ctx context.Context, _ *settings.Settings, _ *slog.Logger, st *stores) error {
				entries, err := dlq.NewService(st.runtime, st.runtime).List(ctx, opts)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "maximum entries")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "entries to skip")
	cmd.Flags().StringVarP(&opts.Queue, "queue", "q", "", "only entries from this queue")

	return cmd
}

func dlqReplayCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay [entry-id...]",
		Short: "Re-enqueue dead-lettered jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]id.DLQID, 0, len(args))
			for _, arg := range args {
				entryID, err := id.ParseDLQID(arg)
				if err != nil {
					return fmt.Errorf("invalid entry id %q: %w", arg, err)
				}
				ids = append(ids, entryID)
			}
			return withStores(cmd.Context(), *configPath, func(ctx context.Context, _ *settings.Settings, logger *slog.Logger, st *stores) error {
				svc := dlq.NewService(st.runtime, st.runtime)
				for _, entryID := range ids {
					j, err := svc.Replay(ctx, entryID)
					if err != nil {
						return fmt.Errorf("replay %s: %w", entryID, err)
					}
					logger.Info("replayed",
						slog.String("entry_id", entryID.String()),
						slog.String("job_id", j.ID.String()),
						slog.String("job_name", j.Name),
					)
				}
				return nil
			})
		},
	}
}

func dlqPurgeCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete dead-lettered jobs older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), *configPath, func(ctx context.Context, _ *settings.Settings, logger *slog.Logger, st *stores) error {
				n, err := dlq.NewService(st.runtime, st.runtime).Purge(ctx, olderThan)
				if err != nil {
					return err
				}
				logger.Info("purged", slog.Int64("entries", n), slog.Duration("older_than", olderThan))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff")

	return cmd
}
