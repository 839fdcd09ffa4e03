package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/accountability-dispatch/internal/queue"
	"github.com/spf13/cobra"
)

func newAckCmd() *cobra.Command {
	var outcome string

	cmd := &cobra.Command{
		Use:   "ack <callUUID>",
		Short: "Publish a client call outcome onto the ack queue",
		Long:  "Enqueues an answered, declined or failed outcome for a call.\nThe API ack workers apply it like any client-reported outcome.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := queue.AckMessage{
				CallUUID: args[0],
				Outcome:  queue.AckOutcome(outcome),
			}
			if err := msg.Validate(); err != nil {
				return fmt.Errorf("ack: %w", err)
			}

			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if !cfg.QueueEnabled() {
				return fmt.Errorf("ack: RABBITMQ_URL is not set")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			broker, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL)
			if err != nil {
				return fmt.Errorf("ack: %w", err)
			}
			publisher := queue.NewRabbitMQPublisher(broker)
			defer publisher.Close() //nolint:errcheck

			if err := publisher.PublishAck(ctx, msg); err != nil {
				return fmt.Errorf("ack: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s for call %s\n", msg.Outcome, msg.CallUUID)
			return nil
		},
	}

	cmd.Flags().StringVar(&outcome, "outcome", string(queue.AckOutcomeAnswered), "answered, declined or failed")
	return cmd
}
