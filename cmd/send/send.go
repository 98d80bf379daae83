package send

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mainthub/notifier/internal/app"
	"github.com/mainthub/notifier/internal/buildinfo"
	"github.com/mainthub/notifier/internal/conf"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

// Command returns a cobra command that sends a notification over the channel
func Command(build *buildinfo.Context) *cobra.Command {
	var (
		typ        string
		prio       string
		title      string
		message    string
		project    string
		actions    []string
		metadata   []string
		persistent bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a notification through the channel",
		Long: `Send a notification through the notification channel. Without a
connection the notification is only delivered locally and the command says so.

Examples:
  # Stock alert for the maintenance team
  notifier send --type=STOCK_LOW --priority=HIGH --title="Filtre F-12" --message="3 units left"

  # Notification with actions and metadata
  notifier send --type=URGENT_REPAIR --priority=CRITICAL --title="Pump P-4" \
    --action=view_equipment --metadata="equipmentId=P-4" --metadata="downtime=true"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			priority := notification.Priority(strings.ToUpper(prio))
			if prio != "" && !priority.Valid() {
				return fmt.Errorf("invalid priority: %s", prio)
			}
			if strings.TrimSpace(title) == "" && strings.TrimSpace(message) == "" {
				return fmt.Errorf("a title or a message is required")
			}
			meta, err := ParseMetadata(metadata)
			if err != nil {
				return err
			}

			settings := *conf.GetSettings()
			settings.WebServer.Enabled = false
			a, err := app.New(&settings, app.Options{Build: build, Logger: logger.Global().Module("send")})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := a.Service.Start(ctx); err != nil {
				return err
			}

			connected := a.Service.IsConnected()
			rec, err := a.Service.SendNotification(ctx, notification.Type(strings.ToUpper(typ)), title, message, notification.SendOptions{
				Priority:   priority,
				Project:    project,
				Actions:    actions,
				Metadata:   meta,
				Persistent: persistent,
			})
			if err != nil {
				return fmt.Errorf("failed to send notification: %w", err)
			}

			via := "channel"
			if !connected {
				via = "local only, channel not connected"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Notification sent: id=%s type=%s priority=%s via=%s", rec.ID, rec.Type, rec.Priority, via)
			if len(rec.Metadata) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " metadata=%d_keys", len(rec.Metadata))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "GENERAL", "Notification type, e.g. STOCK_LOW, URGENT_REPAIR, MAINTENANCE_DUE")
	cmd.Flags().StringVar(&prio, "priority", "", "Notification priority: CRITICAL|HIGH|NORMAL|LOW (default: derived)")
	cmd.Flags().StringVar(&title, "title", "", "Notification title")
	cmd.Flags().StringVar(&message, "message", "", "Notification message")
	cmd.Flags().StringVar(&project, "project", "", "Project or site the notification belongs to")
	cmd.Flags().StringSliceVar(&actions, "action", nil, "Action ids offered with the notification")
	cmd.Flags().StringSliceVar(&metadata, "metadata", nil, "Metadata key-value pairs in format key=value (supports numbers, booleans, and strings)")
	cmd.Flags().BoolVar(&persistent, "persistent", false, "Keep the toast until dismissed")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time allowed for connecting and sending")

	return cmd
}

// ParseMetadata converts key=value pairs; values parse as number, then
// boolean, otherwise stay strings.
func ParseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata format: %s (expected key=value)", kv)
		}
		value = strings.TrimSpace(value)

		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = floatVal
		} else if boolVal, err := strconv.ParseBool(value); err == nil {
			out[key] = boolVal
		} else {
			out[key] = value
		}
	}
	return out, nil
}
