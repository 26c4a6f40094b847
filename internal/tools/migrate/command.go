// Package migrate is the operator CLI for the submissions schema.
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/calendarhub/intake/internal/config"
	"github.com/calendarhub/intake/internal/database"
	"github.com/calendarhub/intake/internal/tools/common"
	"github.com/calendarhub/intake/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the submissions schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "env file to load before reading config")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "print a single JSON result instead of the terminal view")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall timeout")

	cmd.AddCommand(
		schemaCommand(opts, "up", "Apply pending schema changes", func(ctx context.Context, db *gorm.DB) ([]string, error) {
			pending, err := database.Pending(db.WithContext(ctx))
			if err != nil {
				return nil, err
			}
			if err := database.Migrate(db.WithContext(ctx)); err != nil {
				return nil, err
			}
			if len(pending) == 0 {
				return []string{"schema already up to date"}, nil
			}
			return pending, nil
		}),
		schemaCommand(opts, "status", "Show schema state per table", func(ctx context.Context, db *gorm.DB) ([]string, error) {
			return database.Status(db.WithContext(ctx))
		}),
		schemaCommand(opts, "plan", "List the changes up would apply", func(ctx context.Context, db *gorm.DB) ([]string, error) {
			pending, err := database.Pending(db.WithContext(ctx))
			if err != nil {
				return nil, err
			}
			if len(pending) == 0 {
				return []string{"no pending changes"}, nil
			}
			return pending, nil
		}),
	)
	return cmd
}

func schemaCommand(opts *options, name, short string, fn func(context.Context, *gorm.DB) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := loadConfigDB(opts.envFile)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			_, err = run(opts, "migrate "+name, name, func(ctx context.Context) ([]string, error) {
				return fn(ctx, db)
			})
			return err
		},
	}
}

func run(opts *options, title, action string, fn func(ctx context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	if opts.ci {
		details, err := fn(ctx)
		common.PrintCIResult(err == nil, title, details, err)
		if err != nil {
			return details, fmt.Errorf("%s: %w", action, err)
		}
		return details, nil
	}
	details, err := ui.Run(ctx, title, fn)
	if err != nil {
		return details, fmt.Errorf("%s: %w", action, err)
	}
	return details, nil
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
