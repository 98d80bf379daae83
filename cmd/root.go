package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mainthub/notifier/cmd/fixtures"
	"github.com/mainthub/notifier/cmd/list"
	"github.com/mainthub/notifier/cmd/probe"
	"github.com/mainthub/notifier/cmd/send"
	"github.com/mainthub/notifier/cmd/serve"
	"github.com/mainthub/notifier/cmd/version"
	"github.com/mainthub/notifier/cmd/watch"
	"github.com/mainthub/notifier/internal/buildinfo"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(build *buildinfo.Context) *cobra.Command {
	var (
		configFile string
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "notifier",
		Short:         "Maintenance notification client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}

	versionCmd := version.Command(build)
	fixturesCmd := fixtures.Command()

	rootCmd.AddCommand(
		serve.Command(build),
		watch.Command(build),
		send.Command(build),
		list.Command(build),
		probe.Command(),
		fixturesCmd,
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// version and fixtures work without a config file
		if cmd.Name() == versionCmd.Name() || cmd.Name() == fixturesCmd.Name() {
			return nil
		}

		settings, err := conf.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}

		central, err = initLogging(settings)
		if err != nil {
			return err
		}
		logger.SetGlobal(central)

		if used := conf.ConfigFileUsed(); used != "" {
			central.Module("conf").Debug("loaded config file", logger.String("path", used))
		}
		return nil
	}

	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return central.Close()
	}

	return rootCmd
}

// initLogging builds the central logger; --debug lowers the default level.
func initLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	cfg := settings.Logging
	if settings.Debug {
		cfg.DefaultLevel = string(logger.LogLevelDebug)
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return central, nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config.yaml (default: ./config.yaml, ~/.config/notifier, /etc/notifier)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.String("user", "", "Operator user id")
	flags.String("role", "", "Operator role, matched against notification target roles")
	flags.String("transport", "", "Channel transport (websocket or mqtt)")

	bindings := map[string]string{
		"debug":             "debug",
		"client.userid":     "user",
		"client.role":       "role",
		"channel.transport": "transport",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
