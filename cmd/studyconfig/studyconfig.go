// Package studyconfig inspects and manages configuration from the command line.
package studyconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/readerstudy/internal/app"
	"github.com/tphakala/readerstudy/internal/auth"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/logger"
)

var operator = auth.Identity{Role: entities.RoleAdmin}

// Command creates the config command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}

	cmd.AddCommand(
		initCommand(),
		showCommand(settings),
		studyCommand(settings),
		lockCommand(settings),
	)

	return cmd
}

func initCommand() *cobra.Command {
	var path string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file with fresh secrets",
		Args:  cobra.NoArgs,
		// Overrides the root hook; there is no config to load yet.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				paths, err := conf.GetDefaultConfigPaths()
				if err != nil {
					return err
				}
				path = filepath.Join(paths[0], "config.yaml")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists, use --force to overwrite", path)
			}

			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Destination file (default: first standard location)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print effective settings with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := settings.RedactedYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// studyView is the YAML rendering of the stored study design.
type studyView struct {
	Name                 string   `yaml:"name"`
	Description          string   `yaml:"description,omitempty"`
	TotalGroups          int      `yaml:"total_groups"`
	TotalSessions        int      `yaml:"total_sessions"`
	TotalBlocks          int      `yaml:"total_blocks"`
	KMax                 int      `yaml:"k_max"`
	AIThreshold          float64  `yaml:"ai_threshold"`
	RequireLesionMarking bool     `yaml:"require_lesion_marking"`
	AutoAssign           bool     `yaml:"auto_assign"`
	PositiveCases        []string `yaml:"positive_cases"`
	NegativeCases        []string `yaml:"negative_cases"`
	Locked               bool     `yaml:"locked"`
	LockedAt             string   `yaml:"locked_at,omitempty"`
}

func newStudyView(cfg *entities.StudyConfig) studyView {
	v := studyView{
		Name:                 cfg.StudyName,
		Description:          cfg.StudyDescription,
		TotalGroups:          cfg.TotalGroups,
		TotalSessions:        cfg.TotalSessions,
		TotalBlocks:          cfg.TotalBlocks,
		KMax:                 cfg.KMax,
		AIThreshold:          cfg.AIThreshold,
		RequireLesionMarking: cfg.RequireLesionMarking,
		AutoAssign:           cfg.AutoAssign,
		PositiveCases:        cfg.PositiveCases,
		NegativeCases:        cfg.NegativeCases,
		Locked:               cfg.IsLocked,
	}
	if cfg.LockedAt != nil {
		v.LockedAt = cfg.LockedAt.Format(time.RFC3339)
	}
	return v
}

func studyCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "study",
		Short: "Print the study design stored in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, settings, func(ctx context.Context, a *app.App) error {
				cfg, err := a.Config.Current(ctx)
				if err != nil {
					return err
				}
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(newStudyView(cfg))
			})
		},
	}
}

func lockCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Freeze the study design",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, settings, func(ctx context.Context, a *app.App) error {
				cfg, err := a.Config.Lock(ctx, operator)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Study design %q locked\n", cfg.StudyName)
				return nil
			})
		},
	}
}

// withApp opens the application for the duration of fn.
func withApp(cmd *cobra.Command, settings *conf.Settings, fn func(context.Context, *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Run(ctx, settings, logger.Global().Module("cli"), fn)
}
