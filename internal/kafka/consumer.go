package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/config"
	"github.com/kanna-karuppasamy/laser-usage-monitor/internal/models"

	"github.com/Shopify/sarama"
)

// EventHandler processes a single sensor event
type EventHandler func(ctx context.Context, event models.Event) (models.Result, error)

// Consumer represents a Kafka consumer
type Consumer struct {
	id       string
	config   config.KafkaConfig
	consumer sarama.ConsumerGroup
	handler  EventHandler
	logger   *slog.Logger
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(id string, config config.KafkaConfig, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin

	// Readings arrive every few minutes per device, favour latency over throughput
	saramaConfig.Consumer.Fetch.Min = 1
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	client, err := sarama.NewConsumerGroup(config.Brokers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		id:       id,
		config:   config,
		consumer: client,
		handler:  handler,
		logger:   logger.With("consumer", id),
	}, nil
}

// Consume starts consuming messages from Kafka
func (c *Consumer) Consume(ctx context.Context) error {
	// Setup error handling
	errorChan := make(chan error, 1)
	go func() {
		for err := range c.consumer.Errors() {
			c.logger.Error("consumer group error", "error", err)
			select {
			case errorChan <- err:
			default:
			}
		}
	}()

	handler := &consumerGroupHandler{
		handler: c.handler,
		logger:  c.logger,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errorChan:
			return err
		default:
			if err := c.consumer.Consume(ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				return err
			}
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler. Messages of a
// claim are handled one at a time, in partition order.
type consumerGroupHandler struct {
	handler EventHandler
	logger  *slog.Logger
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for message := range claim.Messages() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		h.handle(ctx, message)
		// The core does not retry, a failed reading is logged and skipped
		session.MarkMessage(message, "")
	}
	return nil
}

func (h *consumerGroupHandler) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	event, err := models.DecodeEvent(message.Value)
	if err != nil {
		h.logger.Warn("dropping undecodable message",
			"partition", message.Partition, "offset", message.Offset, "error", err)
		return
	}

	result, err := h.handler(ctx, event)
	if err != nil {
		h.logger.Error("failed to process reading",
			"dev_eui", event.DevEUI, "partition", message.Partition, "offset", message.Offset, "error", err)
		return
	}
	if !result.Success {
		h.logger.Warn("reading not stored", "dev_eui", event.DevEUI, "reason", result.Reason)
	}
}
