package watch

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mainthub/notifier/internal/app"
	"github.com/mainthub/notifier/internal/buildinfo"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

// Command creates the command that prints incoming notifications to the terminal.
func Command(build *buildinfo.Context) *cobra.Command {
	var (
		soundCommand string
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print incoming notifications as they arrive",
		Long: `Connect to the notification channel and print each admitted notification.
Alert tones ring the terminal bell unless --sound-command names a player.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := *conf.GetSettings()
			settings.WebServer.Enabled = false

			opts := app.Options{
				Build:        build,
				SoundCommand: soundCommand,
				Logger:       logger.Global().Module("watch"),
			}
			if !quiet {
				opts.SoundOut = cmd.OutOrStdout()
			}
			a, err := app.New(&settings, opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			events, subCtx := a.Service.Store().Subscribe()
			defer a.Service.Store().Unsubscribe(events)

			printed := make(chan struct{})
			go func() {
				defer close(printed)
				Print(ctx, cmd.OutOrStdout(), a.Service, events, subCtx)
			}()

			err = a.Run(ctx)
			stop()
			<-printed
			return err
		},
	}

	cmd.Flags().StringVar(&soundCommand, "sound-command", "", "External audio player for alert tones (default: terminal bell)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not ring the terminal bell")

	return cmd
}

// Print writes a line per added notification until ctx ends or the
// subscription closes. A reset prints the list summary.
func Print(ctx context.Context, w io.Writer, svc *notification.Service, events <-chan notification.Event, subCtx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-subCtx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case notification.EventAdded:
				fmt.Fprintln(w, FormatRecord(ev.Record))
			case notification.EventReset:
				vm := svc.View(time.Now())
				source := "demo data"
				if vm.UsingRealData {
					source = "backend"
				}
				fmt.Fprintf(w, "%d notifications (%d unread, %d critical) from %s\n",
					len(vm.Notifications), vm.UnreadCount, vm.CriticalCount, source)
			}
		}
	}
}

// FormatRecord renders one notification as a single terminal line.
func FormatRecord(rec *notification.Record) string {
	line := fmt.Sprintf("%s [%-8s] %-16s %s", rec.Timestamp.Local().Format("15:04:05"), rec.Priority, rec.Type, rec.Title)
	if rec.Message != "" {
		line += ": " + rec.Message
	}
	if rec.Project != "" {
		line += " (" + rec.Project + ")"
	}
	return line
}
