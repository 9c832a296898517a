/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/config"
	"github.com/jjudge-oj/accounts/internal/events"
	"github.com/jjudge-oj/accounts/internal/logger"
	"github.com/jjudge-oj/accounts/internal/mq"
)

var (
	tailChannel string
	tailTypes   []string
)

// eventsCmd groups commands that read the user event stream.
var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect user lifecycle events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print user events from the broker as JSON lines",
	Long: `Subscribes to the events channel of the configured broker and prints
each user event as one JSON line until interrupted. Usage:

	accounts events tail --type user.registered --type user.deleted
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		log, err := logger.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("open mq: %w", err)
		}
		if queue == nil {
			return errors.New("MQ_BACKEND is not configured")
		}
		defer func() { _ = queue.Close() }()

		channel := tailChannel
		if channel == "" {
			channel = cfg.MQ.EventsChannel
		}
		log.Info("tailing events", zap.String("channel", channel))

		err = tailEvents(ctx, queue, channel, tailTypes, cmd.OutOrStdout(), log)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsTailCmd)
	eventsTailCmd.Flags().StringVar(&tailChannel, "channel", "", "channel to read (defaults to EVENTS_CHANNEL)")
	eventsTailCmd.Flags().StringSliceVar(&tailTypes, "type", nil, "only print events of these types")
}

// tailEvents writes each matching event on channel to w as a JSON line.
func tailEvents(ctx context.Context, sub events.Subscriber, channel string, only []string, w io.Writer, log *zap.Logger) error {
	allowed := make(map[events.Type]bool, len(only))
	for _, t := range only {
		allowed[events.Type(t)] = true
	}

	enc := json.NewEncoder(w)
	return events.Consume(ctx, sub, channel, log, func(_ context.Context, evt events.Event) error {
		if len(allowed) > 0 && !allowed[evt.Type] {
			return nil
		}
		return enc.Encode(evt)
	})
}
