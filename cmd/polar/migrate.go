package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/polarsource/polar-sub002/settings"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema of every configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), *configPath, func(ctx context.Context, _ *settings.Settings, logger *slog.Logger, st *stores) error {
				return st.migrate(ctx, logger)
			})
		},
	}
}

// withStores opens the configured stores without building an engine, so
// operator commands do not register as workers.
func withStores(ctx context.Context, configPath string, fn func(context.Context, *settings.Settings, *slog.Logger, *stores) error) error {
	s, logger, err := loadSettings(configPath)
	if err != nil {
		return err
	}
	st, err := openStores(ctx, s, logger)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, s, logger, st), st.close())
}
