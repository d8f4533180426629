package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/service"
	"github.com/spf13/cobra"
)

var (
	enqueueDevice      string
	enqueueKind        string
	enqueuePayloadFile string
	enqueuePayloadHex  string
	enqueuePriority    string
	enqueueMaxRetries  int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue one encrypted notification",
	Long: `Queue one encrypted notification. With RABBITMQ_URL set the request is
published to the ingress queue; otherwise it is written straight to the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readEnqueuePayload()
		if err != nil {
			return err
		}

		kind, err := domain.ParseKindFromString(enqueueKind)
		if err != nil {
			return err
		}
		priority, err := domain.ParsePriorityFromString(enqueuePriority)
		if err != nil {
			return err
		}

		msg := queue.EnqueueMessage{
			DeviceRef: enqueueDevice,
			Kind:      kind.String(),
			Payload:   payload,
			Priority:  priority.String(),
		}
		if cmd.Flags().Changed("max-retries") {
			retries := enqueueMaxRetries
			msg.MaxRetries = &retries
		}
		if err := msg.Validate(); err != nil {
			return err
		}

		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		if cfg.RabbitMQURL != "" {
			rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, cfg.IngressQueue)
			if err != nil {
				return fmt.Errorf("rabbitmq initialization failed: %w", err)
			}
			publisher := queue.NewRabbitMQPublisher(rmq)
			defer publisher.Close() //nolint:errcheck

			return publishEnqueue(cmd.Context(), publisher, cfg.IngressQueue, msg, cmd.OutOrStdout())
		}

		if err := requirePostgres(cfg); err != nil {
			return err
		}
		store, closeStore, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		producer, err := service.NewProducer(store, logger.Named("producer"))
		if err != nil {
			return err
		}
		id, err := producer.Enqueue(cmd.Context(), msg.EnqueueRequest())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

func init() {
	flags := enqueueCmd.Flags()
	flags.StringVar(&enqueueDevice, "device", "", "device reference")
	flags.StringVar(&enqueueKind, "kind", "", "one of: "+kindNames())
	flags.StringVar(&enqueuePayloadFile, "payload-file", "", "path to the encrypted payload")
	flags.StringVar(&enqueuePayloadHex, "payload-hex", "", "encrypted payload as hex")
	flags.StringVar(&enqueuePriority, "priority", "normal", "low, normal, high or urgent")
	flags.IntVar(&enqueueMaxRetries, "max-retries", 3, "retry budget")
	_ = enqueueCmd.MarkFlagRequired("device")
	_ = enqueueCmd.MarkFlagRequired("kind")
	enqueueCmd.MarkFlagsOneRequired("payload-file", "payload-hex")
	enqueueCmd.MarkFlagsMutuallyExclusive("payload-file", "payload-hex")
	rootCmd.AddCommand(enqueueCmd)
}

func readEnqueuePayload() ([]byte, error) {
	if enqueuePayloadFile != "" {
		data, err := os.ReadFile(enqueuePayloadFile)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return data, nil
	}

	data, err := hex.DecodeString(strings.TrimSpace(enqueuePayloadHex))
	if err != nil {
		return nil, fmt.Errorf("decode payload hex: %w", err)
	}
	return data, nil
}

// publishEnqueue hands msg to the broker instead of writing the store directly.
func publishEnqueue(ctx context.Context, pub queue.Publisher, queueName string, msg queue.EnqueueMessage, out io.Writer) error {
	if err := pub.Publish(ctx, queueName, msg); err != nil {
		return err
	}
	fmt.Fprintf(out, "published to %s\n", queueName)
	return nil
}

func kindNames() string {
	kinds := domain.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ", ")
}
