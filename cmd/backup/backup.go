// Package backup runs and manages database snapshots from the command line.
package backup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tphakala/readerstudy/internal/app"
	"github.com/tphakala/readerstudy/internal/backup"
	"github.com/tphakala/readerstudy/internal/buildinfo"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/logger"
)

// Command creates the backup command and its subcommands.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the SQLite study database",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Take a snapshot now and apply retention",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, settings, build, func(ctx context.Context, mgr *backup.Manager) error {
					m, err := mgr.Run(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s, sha256 %s)\n", m.FileName(), humanize.IBytes(uint64(m.Size)), m.Checksum)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored snapshots, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, settings, build, func(ctx context.Context, mgr *backup.Manager) error {
					stored, err := mgr.List(ctx)
					if err != nil {
						return err
					}
					renderBackups(cmd.OutOrStdout(), stored)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "prune",
			Short: "Delete snapshots beyond the retention count",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withManager(cmd, settings, build, func(ctx context.Context, mgr *backup.Manager) error {
					removed, err := mgr.Prune(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshot(s)\n", removed)
					return nil
				})
			},
		},
	)

	return cmd
}

func withManager(cmd *cobra.Command, settings *conf.Settings, build *buildinfo.Context, fn func(context.Context, *backup.Manager) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	return app.Run(ctx, settings, logger.Global().Module("cli"), func(ctx context.Context, a *app.App) error {
		mgr, err := a.BackupManager(build.GetVersion())
		if err != nil {
			return err
		}
		return fn(ctx, mgr)
	})
}

func renderBackups(w io.Writer, stored []backup.Metadata) {
	if len(stored) == 0 {
		fmt.Fprintln(w, "No backups found")
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "CREATED", "SIZE", "DATABASE", "VERSION")
	for i := range stored {
		m := &stored[i]
		t.Row(m.ID, m.Timestamp.Local().Format(time.DateTime), humanize.IBytes(uint64(m.Size)), humanize.IBytes(uint64(m.OriginalSize)), m.AppVersion)
	}
	fmt.Fprintln(w, t.String())
}
