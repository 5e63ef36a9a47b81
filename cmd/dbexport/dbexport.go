// Package dbexport copies the study database into another backend.
package dbexport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/tphakala/readerstudy/internal/app"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/datastore"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/secrets"
)

// options holds the target database and transfer flags.
type options struct {
	target     conf.DatabaseSettings
	batchSize  int
	clean      bool
	skipVerify bool
}

// Command creates the export command.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy all study data into another database",
		Long: `Copy readers, sessions, results and the audit log from the configured
database into a target database, keeping primary keys. Rows already present
in the target are skipped, so an interrupted export can be rerun.`,
		Example: `  readerstudy export --to postgres --postgres-dsn 'postgres://study@db/readerstudy'
  readerstudy export --to mysql --mysql-host db --mysql-user study --mysql-password '${MYSQL_PASSWORD}'
  readerstudy export --to sqlite --sqlite-path copy.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, settings, opts)
		},
	}

	setupFlags(cmd, opts)
	return cmd
}

func setupFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.StringVar(&opts.target.Type, "to", "", "Target backend: sqlite, mysql or postgres")
	f.StringVar(&opts.target.SQLite.Path, "sqlite-path", "", "Target SQLite file")
	f.StringVar(&opts.target.MySQL.Host, "mysql-host", "localhost", "Target MySQL host")
	f.IntVar(&opts.target.MySQL.Port, "mysql-port", 3306, "Target MySQL port")
	f.StringVar(&opts.target.MySQL.Username, "mysql-user", "readerstudy", "Target MySQL user")
	f.StringVar(&opts.target.MySQL.Password, "mysql-password", "", "Target MySQL password or ${ENV_VAR} reference")
	f.StringVar(&opts.target.MySQL.Database, "mysql-database", "readerstudy", "Target MySQL database")
	f.StringVar(&opts.target.Postgres.DSN, "postgres-dsn", "", "Target PostgreSQL DSN or ${ENV_VAR} reference")
	f.IntVar(&opts.batchSize, "batch-size", datastore.DefaultTransferBatchSize, "Rows per insert batch")
	f.BoolVar(&opts.clean, "clean", false, "Delete existing rows in the target before copying")
	f.BoolVar(&opts.skipVerify, "skip-verify", false, "Skip the row count comparison")
	_ = cmd.MarkFlagRequired("to")
}

func run(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.Global().Module("export")
	out := cmd.OutOrStdout()

	var err error
	if opts.target.MySQL.Password, err = secrets.Expand(opts.target.MySQL.Password); err != nil {
		return err
	}
	if opts.target.Postgres.DSN, err = secrets.Expand(opts.target.Postgres.DSN); err != nil {
		return err
	}

	source, err := app.Open(settings, log)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	target, err := datastore.NewManager(&opts.target, datastore.Config{Log: log.Module("target")})
	if err != nil {
		return err
	}
	defer func() { _ = target.Close() }()

	tr, err := datastore.NewTransfer(source, target, opts.batchSize, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Exporting %s (%s) to %s (%s)\n", source.Dialect(), source.Path(), target.Dialect(), target.Path())

	stats, err := tr.Run(ctx, opts.clean)
	if stats != nil {
		renderStats(out, stats)
	}
	if err != nil {
		return err
	}

	if opts.skipVerify {
		return nil
	}
	checks, err := tr.Verify(ctx)
	renderChecks(out, checks)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Verification passed")
	return nil
}

func renderStats(w io.Writer, stats *datastore.TransferStats) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TABLE", "SOURCE", "COPIED", "SKIPPED", "DURATION")
	for _, ts := range stats.Tables {
		t.Row(ts.Name,
			fmt.Sprint(ts.Source),
			fmt.Sprint(ts.Copied),
			fmt.Sprint(ts.Skipped),
			ts.Duration.Round(time.Millisecond).String())
	}
	fmt.Fprintln(w, t.String())
}

func renderChecks(w io.Writer, checks []datastore.CountCheck) {
	if len(checks) == 0 {
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TABLE", "SOURCE", "TARGET", "MATCH")
	for _, c := range checks {
		match := "yes"
		if !c.Match() {
			match = "NO"
		}
		t.Row(c.Name, fmt.Sprint(c.Source), fmt.Sprint(c.Target), match)
	}
	fmt.Fprintln(w, t.String())
}
