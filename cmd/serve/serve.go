package serve

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mainthub/notifier/internal/app"
	"github.com/mainthub/notifier/internal/buildinfo"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/telemetry"
)

// Command creates the command that runs the notifier with its HTTP API.
func Command(build *buildinfo.Context) *cobra.Command {
	var (
		soundCommand string
		offline      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the notification client and its HTTP API",
		Long: `Connect to the notification channel, keep the notification list in
memory and expose it over HTTP (REST, server-sent events and Prometheus
metrics). The config file is watched and preference changes apply live.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := conf.GetSettings()
			log := logger.Global().Module("serve")

			if err := telemetry.InitSentry(settings.Sentry, build); err != nil {
				log.Warn("error telemetry disabled", logger.Error(err))
			}
			defer telemetry.Flush(telemetry.DefaultFlushTimeout)

			a, err := app.New(settings, app.Options{
				Build:        build,
				SoundCommand: soundCommand,
				SoundOut:     cmd.ErrOrStderr(),
				Offline:      offline,
				Logger:       logger.Global().Module("app"),
			})
			if err != nil {
				return err
			}

			conf.Watch(logger.Global().Module("conf"), a.ApplySettings)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info("starting notifier",
				logger.String("version", build.GetVersion()),
				logger.String("transport", settings.Channel.Transport),
				logger.Bool("offline", offline),
				logger.Bool("api", settings.WebServer.Enabled))

			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("notifier stopped: %w", err)
			}
			log.Info("notifier stopped")
			return nil
		},
	}

	if err := setupFlags(cmd, &soundCommand, &offline); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, soundCommand *string, offline *bool) error {
	cmd.Flags().StringVar(soundCommand, "sound-command", "", "External audio player for alert tones, e.g. \"aplay -q\" (default: terminal bell)")
	cmd.Flags().BoolVar(offline, "offline", false, "Do not open the notification channel")
	cmd.Flags().String("listen", "", "Listen address of the HTTP API")
	cmd.Flags().Bool("api", true, "Serve the HTTP API")
	cmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")

	bindings := map[string]string{
		"webserver.listen":  "listen",
		"webserver.enabled": "api",
		"metrics.enabled":   "metrics",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
	}
	return nil
}
