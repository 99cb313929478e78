package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omnidesk/omnidesk/pkg/database"
	"github.com/omnidesk/omnidesk/pkg/events"
)

func newEventsCommand(_ *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect lifecycle events",
	}
	cmd.AddCommand(newEventsTailCommand())
	return cmd
}

// newEventsTailCommand follows the pg_notify event stream of the postgres
// event backend and prints one JSON event per line.
func newEventsTailCommand() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "tail <organization-id>",
		Short: "Print events of an organization as they are published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := database.LoadConfigFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load database config: %w", err)
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			listener := events.NewNotifyListener(cfg.DSN(), func(_ string, evt events.Event) {
				if err := out.Encode(evt); err != nil {
					slog.Warn("Failed to print event", "event_id", evt.EventID, "error", err)
				}
			})
			if err := listener.Start(ctx); err != nil {
				return fmt.Errorf("failed to start listener: %w", err)
			}
			defer listener.Stop(cmd.Context())

			channel := events.OrganizationChannel(args[0])
			if sessionID != "" {
				channel = events.SessionChannel(sessionID)
			}
			if err := listener.Subscribe(ctx, channel); err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
			}
			slog.Info("Tailing events", "channel", channel)

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Only follow this session's channel")
	return cmd
}
