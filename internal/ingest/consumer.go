package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

// ConsumerConfig wires a Consumer to the brokers.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// Consumer runs one group reader per subscribed topic and feeds every
// message through the pipeline. Offsets auto-commit after the handler
// returns, giving at-least-once delivery; the pipeline's dedup layer absorbs
// the resulting replays.
type Consumer struct {
	cfg      ConsumerConfig
	pipeline *Pipeline
	logger   *slog.Logger
	readers  []*kafka.Reader
}

// NewConsumer creates a consumer for the configured topics.
func NewConsumer(cfg ConsumerConfig, pipeline *Pipeline, logger *slog.Logger) *Consumer {
	c := &Consumer{cfg: cfg, pipeline: pipeline, logger: logger}
	for _, topic := range cfg.Topics {
		c.readers = append(c.readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			CommitInterval: time.Second,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
				logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
			}),
		}))
	}
	return c
}

// Run consumes until ctx ends, then closes every reader. Handler errors are
// logged and the message is committed anyway: an event the database refused
// will come around again only if the producer resends it, which the dedup
// layer makes safe.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range c.readers {
		g.Go(func() error {
			return c.consume(ctx, r)
		})
	}
	c.logger.Info("consumer started",
		"topics", c.cfg.Topics, "group_id", c.cfg.GroupID)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) consume(ctx context.Context, r *kafka.Reader) error {
	defer func() {
		if err := r.Close(); err != nil {
			c.logger.Warn("reader close failed", "error", err)
		}
	}()

	topic := r.Config().Topic
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("read %s: %w", topic, err)
		}
		if err := c.pipeline.Handle(ctx, msg.Topic, msg.Value); err != nil {
			c.logger.Error("message processing failed",
				"topic", msg.Topic, "partition", msg.Partition,
				"offset", msg.Offset, "error", err)
		}
	}
}
