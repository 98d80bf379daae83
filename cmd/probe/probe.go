package probe

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mainthub/notifier/internal/app"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/mqtt"
	"github.com/mainthub/notifier/internal/notification"
)

// Command creates the command that checks the configured channel end to end.
func Command() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check connectivity of the notification channel",
		Long: `Check the configured channel. For MQTT every stage (DNS, TCP, subscribe,
publish) is reported; for WebSocket a handshake is attempted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := conf.GetSettings()
			log := logger.Global().Module("probe")

			transport, err := app.NewTransport(settings, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if t, ok := transport.(*mqtt.Transport); ok {
				return probeMQTT(ctx, cmd.OutOrStdout(), t)
			}
			return probeDial(ctx, cmd.OutOrStdout(), transport)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall probe timeout")

	return cmd
}

func probeMQTT(ctx context.Context, w io.Writer, t *mqtt.Transport) error {
	results := make(chan mqtt.ProbeResult)
	go t.Probe(ctx, results)

	failed := false
	for r := range results {
		line := fmt.Sprintf("%-20s %-9s %s", r.Stage, r.State, r.Message)
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
		if !r.Success {
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("mqtt probe failed")
	}
	return nil
}

func probeDial(ctx context.Context, w io.Writer, t notification.Transport) error {
	start := time.Now()
	conn, err := t.Dial(ctx)
	if err != nil {
		fmt.Fprintf(w, "%-20s %-9s %v\n", t.Name()+" handshake", "failed", err)
		return fmt.Errorf("%s probe failed", t.Name())
	}
	defer func() { _ = conn.Close() }()

	fmt.Fprintf(w, "%-20s %-9s connected in %s\n", t.Name()+" handshake", "completed", time.Since(start).Round(time.Millisecond))
	return nil
}
