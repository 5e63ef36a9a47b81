// Package migrate applies the database schema without starting the server.
package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/readerstudy/internal/app"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/logger"
)

// Command creates the migrate command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := app.Open(settings, logger.Global().Module("migrate"))
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s: %s)\n", mgr.Dialect(), mgr.Path())
			return nil
		},
	}
}
