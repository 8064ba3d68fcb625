// internal/queue/amqp.go
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

// AMQPQueue backs the Queue interface with RabbitMQ. One durable queue
// per topic; consumers ack manually. Failed jobs are republished with an
// incremented x-retry-count header and acked, since a plain nack-requeue
// redelivers the message unchanged and the cap would never engage. At
// maxDeliveryAttempts the job is dropped.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPQueue(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch}, nil
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}

func (q *AMQPQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
	}
	if _, err := q.declare(topic); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// PublishDelayed schedules the publish from a timer in this process.
// The delay is not durable across a restart; automation action offsets
// are short enough that this matches the original behavior.
func (q *AMQPQueue) PublishDelayed(topic string, payload any, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(topic, payload)
	}
	time.AfterFunc(delay, func() {
		if err := q.Publish(topic, payload); err != nil {
			log.Error().Err(err).Str("topic", topic).Msg("delayed publish failed")
		}
	})
	return nil
}

func (q *AMQPQueue) Subscribe(topic string, handler func(body []byte) error) error {
	queue, err := q.declare(topic)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", topic, err)
	}

	msgs, err := q.ch.Consume(
		queue.Name,
		"",    // consumer
		false, // autoAck = false for reliability
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer for %s: %w", topic, err)
	}

	go func() {
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				attempt := deliveryAttempt(d.Headers)
				if attempt < maxDeliveryAttempts {
					log.Warn().Err(err).Str("topic", topic).Int("attempt", attempt).Msg("job failed, requeueing")
					if pubErr := q.republish(topic, d.Body, attempt); pubErr != nil {
						log.Error().Err(pubErr).Str("topic", topic).Msg("requeue publish failed")
						d.Nack(false, true)
						continue
					}
					d.Ack(false)
					continue
				}
				log.Error().Err(err).Str("topic", topic).Msg("job permanently failed")
			}
			d.Ack(false)
		}
	}()
	return nil
}

// deliveryAttempt derives which attempt a delivery is from its headers.
// First deliveries carry no counter; the broker never increments custom
// headers, so republish stamps the value for the next delivery.
func deliveryAttempt(headers amqp.Table) int {
	switch v := headers["x-retry-count"].(type) {
	case int32:
		return int(v) + 1
	case int64:
		return int(v) + 1
	}
	return 1
}

// republish re-enqueues a failed job with the retry counter set. The
// original delivery is acked by the caller once this succeeds.
func (q *AMQPQueue) republish(topic string, body []byte, attempt int) error {
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{"x-retry-count": int32(attempt)},
		Body:         body,
	})
}
