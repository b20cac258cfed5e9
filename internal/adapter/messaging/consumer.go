package messaging

import (
	"context"
	"errors"
	"io"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/platform/kafka"
)

type HandlerFunc func(ctx context.Context, msg kafkago.Message) error

// ConsumerService feeds every message read from one topic to a handler.
// Handler errors are logged by the handler itself and never stop the loop.
type ConsumerService struct {
	topic    string
	consumer kafka.Consumer
	handle   HandlerFunc
	logger   *zap.Logger
}

func NewConsumerService(topic string, consumer kafka.Consumer, handle HandlerFunc, logger *zap.Logger) *ConsumerService {
	return &ConsumerService{
		topic:    topic,
		consumer: consumer,
		handle:   handle,
		logger:   logger.With(zap.String("topic", topic)),
	}
}

// Start blocks until ctx is done.
func (c *ConsumerService) Start(ctx context.Context) error {
	c.logger.Info("kafka consumer started")

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("context done, exiting read loop", zap.Error(err))
				return nil
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("reader closed, exiting read loop")
				return nil
			}
			c.logger.Error("error reading from kafka", zap.Error(err))
			continue
		}

		if err := c.handle(ctx, *msg); err != nil {
			c.logger.Debug("message handling failed",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		}
	}
}
