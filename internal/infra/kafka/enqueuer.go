package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"notebatch/internal/domain/batch"
)

// Enqueuer publishes run requests to the requests topic. It is the feeding
// side of queue mode; workers consume the topic via Consumer.
type Enqueuer struct {
	writer messageWriter
}

// NewEnqueuer constructs an Enqueuer for the supplied brokers and topic.
func NewEnqueuer(brokers []string, topic string) (*Enqueuer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
	}

	return newEnqueuer(writer), nil
}

func newEnqueuer(writer messageWriter) *Enqueuer {
	return &Enqueuer{writer: writer}
}

// EnqueueRun publishes one run request.
func (e *Enqueuer) EnqueueRun(ctx context.Context, run batch.Run) error {
	payload, err := encodeRunRequest(run)
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Key:   []byte(run.Label()),
		Value: payload,
		Time:  time.Now(),
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write run request: %w", err)
	}
	return nil
}

// EnqueueDone publishes the end-of-feed marker that stops consuming workers.
func (e *Enqueuer) EnqueueDone(ctx context.Context) error {
	payload, err := encodeDone()
	if err != nil {
		return err
	}

	msg := kafkago.Message{
		Value: payload,
		Time:  time.Now(),
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write done message: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka writer.
func (e *Enqueuer) Close() error {
	return e.writer.Close()
}
