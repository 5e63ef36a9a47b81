package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/readerstudy/cmd/backup"
	"github.com/tphakala/readerstudy/cmd/dbexport"
	"github.com/tphakala/readerstudy/cmd/migrate"
	"github.com/tphakala/readerstudy/cmd/reader"
	"github.com/tphakala/readerstudy/cmd/serve"
	"github.com/tphakala/readerstudy/cmd/studyconfig"
	"github.com/tphakala/readerstudy/internal/buildinfo"
	"github.com/tphakala/readerstudy/internal/conf"
	"github.com/tphakala/readerstudy/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings, build *buildinfo.Context) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "readerstudy",
		Short:         "Reader study session server",
		Long:          "Serves crossover reader study sessions and manages readers, sessions and the study design.",
		Version:       fmt.Sprintf("%s (built %s)", build.GetVersion(), build.GetBuildDate()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings, &configFile); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	subcommands := []*cobra.Command{
		serve.Command(settings, build),
		migrate.Command(settings),
		reader.Command(settings),
		studyconfig.Command(settings),
		backup.Command(settings, build),
		dbexport.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	// Subcommands that define their own PersistentPreRunE skip this setup.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(settings, configFile)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		_ = logger.Global().Flush()
	}

	return rootCmd
}

// initialize loads settings into the shared struct and installs the global
// logger before any subcommand runs.
func initialize(settings *conf.Settings, configFile string) error {
	debug := settings.Debug

	loaded, err := conf.Load(configFile)
	if err != nil {
		return err
	}
	*settings = *loaded

	if debug {
		settings.Debug = true
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings, configFile *string) error {
	rootCmd.PersistentFlags().StringVar(configFile, "config", "", "Path to config file (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
