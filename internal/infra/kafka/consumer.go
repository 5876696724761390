package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"notebatch/internal/domain/batch"
	"notebatch/internal/ports"
)

// Config describes how to connect to a Kafka cluster for consuming run
// requests.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

var _ ports.RunProducer = (*Consumer)(nil)

// Consumer wraps a kafka-go reader to implement ports.RunProducer.
type Consumer struct {
	reader messageReader
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// NewConsumer builds a new Consumer from the provided configuration.
func NewConsumer(cfg Config) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "notebatch-worker"
	}

	readerConfig := kafkago.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
		MaxWait:  cfg.MaxWait,
	}

	if readerConfig.MinBytes == 0 {
		readerConfig.MinBytes = 1
	}
	if readerConfig.MaxBytes == 0 {
		readerConfig.MaxBytes = 10 * 1024 * 1024
	}
	if readerConfig.MaxWait == 0 {
		readerConfig.MaxWait = time.Second
	}

	return newConsumer(kafkago.NewReader(readerConfig)), nil
}

func newConsumer(reader messageReader) *Consumer {
	return &Consumer{reader: reader}
}

// NextRun blocks until the next run request is available or the context is
// cancelled. A done message surfaces as io.EOF.
func (c *Consumer) NextRun(ctx context.Context) (batch.Run, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return batch.Run{}, err
	}

	return decodeRunRequest(msg)
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
