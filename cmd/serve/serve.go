// Package serve runs the reader study HTTP server.
package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/readerstudy/internal/app"
	"github.com/tphakala/readerstudy/internal/buildinfo"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/httpserver"
	"github.com/tphakala/readerstudy/internal/logger"
	"github.com/tphakala/readerstudy/internal/telemetry"
)

// Command creates the serve command.
func Command(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the study API server",
		Long:  "Open the database, seed the study design and serve the reader study API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, build)
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command. Values reach
// settings through viper when the configuration is loaded.
func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", "", "Listen address of the API server, e.g. :8080")
	cmd.Flags().Bool("metrics", false, "Expose the Prometheus metrics endpoint")

	for flag, key := range map[string]string{
		"listen":  "webserver.listen",
		"metrics": "metrics.enabled",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}

	return nil
}

func run(ctx context.Context, settings *conf.Settings, build *buildinfo.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	central := logger.Global()
	log := central.Module("serve")

	if err := telemetry.InitSentry(&settings.Sentry, build); err != nil {
		log.Warn("Error telemetry disabled", logger.Error(err))
	}
	defer telemetry.Flush()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, settings, central.Module("readerstudy"))
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("Error closing database", logger.Error(err))
		}
	}()

	closedDone := make(chan struct{})
	close(closedDone)
	var backupDone <-chan struct{} = closedDone
	if settings.Backup.Enabled {
		mgr, err := a.BackupManager(build.GetVersion())
		if err != nil {
			return fmt.Errorf("failed to set up backups: %w", err)
		}
		backupDone = mgr.Start(ctx)
	}
	// Runs before the database is closed
	defer func() {
		stop()
		<-backupDone
	}()

	server := httpserver.New(a, build, central.Module("http"))
	errChan := server.Start()

	log.Info("Reader study server started",
		logger.String("listen", settings.WebServer.Listen),
		logger.String("version", build.GetVersion()),
		logger.String("database", settings.Database.Type))

	// SIGHUP reopens the log file after rotation
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if err := central.ReopenLogFile(); err != nil {
				log.Warn("Failed to reopen log file", logger.Error(err))
				continue
			}
			log.Info("Log file reopened")

		case err, ok := <-errChan:
			if ok && err != nil {
				return fmt.Errorf("http server failed: %w", err)
			}
			return nil

		case <-ctx.Done():
			log.Info("Shutdown signal received, stopping server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.WebServer.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}
			log.Info("Server stopped")
			return nil
		}
	}
}
