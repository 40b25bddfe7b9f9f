// Package messaging carries rider-matched tasks from the API to the notification worker.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"farmdispatch/internal/domain"
)

// HandlerFunc processes one rider-matched task.
type HandlerFunc func(ctx context.Context, evt domain.RiderMatchedEvent) error

// KafkaPublisher publishes rider-matched tasks to a Kafka topic keyed by order.
type KafkaPublisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafkaPublisher creates a new KafkaPublisher.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		},
		timeout: 2 * time.Second,
	}
}

// PublishRiderMatched writes the task. The caller's cancellation does not abort the write.
func (p *KafkaPublisher) PublishRiderMatched(ctx context.Context, evt domain.RiderMatchedEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "encode rider matched event")
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	})
	return errors.Wrap(err, "write rider matched event")
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads rider-matched tasks as part of a consumer group.
type KafkaConsumer struct {
	reader *kafka.Reader
	log    logrus.FieldLogger
}

// NewKafkaConsumer creates a new KafkaConsumer.
func NewKafkaConsumer(brokers []string, topic, groupID string, log logrus.FieldLogger) *KafkaConsumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		log: log,
	}
}

// Run consumes until ctx is done. A failed task is retried in place with backoff; after
// maxAttempts it is logged and committed so one poison task cannot stall the partition.
func (c *KafkaConsumer) Run(ctx context.Context, handle HandlerFunc) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	const maxAttempts = 5

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.WithError(err).WithField("backoff", backoff).Warn("kafka fetch failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = time.Second

		var evt domain.RiderMatchedEvent
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			c.log.WithError(err).WithField("offset", m.Offset).Error("dropping malformed rider matched event")
			c.commit(ctx, m)
			continue
		}

		retry := time.Second
		for attempt := 1; ; attempt++ {
			err = handle(ctx, evt)
			if err == nil || attempt == maxAttempts {
				break
			}
			c.log.WithError(err).WithFields(logrus.Fields{
				"order_id": evt.OrderID,
				"attempt":  attempt,
			}).Warn("rider matched task failed, retrying")
			if !sleep(ctx, retry) {
				return nil
			}
			retry = nextBackoff(retry, maxBackoff)
		}
		if err != nil {
			c.log.WithError(err).WithField("order_id", evt.OrderID).Error("giving up on rider matched task")
		}

		c.commit(ctx, m)
	}
}

func (c *KafkaConsumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.WithError(err).Warn("kafka commit failed")
	}
}

// Close closes the reader.
func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}

func nextBackoff(current, limit time.Duration) time.Duration {
	current *= 2
	if current > limit {
		return limit
	}
	return current
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
