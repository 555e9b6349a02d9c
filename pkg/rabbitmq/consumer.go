/**
 * @description
 * This file provides the RabbitMQ consumer side of the delivery queue.
 * Replication jobs are delivered at-least-once: a handler failure routes the
 * message through a TTL-backed retry queue so it is redelivered after a
 * delay, and once the bounded redelivery budget is exhausted the message is
 * parked in a dead-letter queue for manual inspection rather than silently
 * dropped.
 *
 * Topology per work queue Q on exchange E:
 *   Q           dead-letters into E.dlx (reason "rejected")
 *   Q.retry     bound to E.dlx for Q's routing keys, holds messages for the
 *               retry delay, then dead-letters back into E
 *   Q.dead      bound to E.dlx under the "dead" routing key; exhausted
 *               messages are published there explicitly
 * The broker-maintained x-death header counts the reject cycles, which is
 * what bounds redelivery.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Outcome is the result a handler reports for one delivery.
type Outcome int

const (
	// Ack acknowledges the message; processing succeeded or the message is
	// permanently unprocessable and has been logged.
	Ack Outcome = iota
	// Retry sends the message through the delayed-retry cycle.
	Retry
)

// Handler processes one message body and reports the delivery outcome.
type Handler func(body []byte) Outcome

// Consumer wraps a RabbitMQ connection and channel for consuming messages.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

// NewConsumer dials RabbitMQ and opens a channel.
func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// rejectCount reads how many times the work queue has rejected this message,
// from the x-death header maintained by the broker.
func rejectCount(d amqp.Delivery, queueName string) int64 {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	for _, death := range deaths {
		entry, ok := death.(amqp.Table)
		if !ok {
			continue
		}
		if entry["queue"] == queueName && entry["reason"] == "rejected" {
			if count, ok := entry["count"].(int64); ok {
				return count
			}
		}
	}
	return 0
}

// ConsumeWithDeadLetter declares the retry/dead-letter topology, binds
// queueName to the exchange for each routing key, and starts consuming.
func (c *Consumer) ConsumeWithDeadLetter(exchange, queueName, deadLetterQueue string, maxAttempts int64, retryDelay time.Duration, bindings map[string]Handler) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	dlx := exchange + ".dlx"
	if err := c.ch.ExchangeDeclare(dlx, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	// Work queue: rejects flow into the dead-letter exchange with the
	// message's original routing key.
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlx,
	})
	if err != nil {
		return err
	}

	// Retry queue: holds rejected messages for the retry delay, then routes
	// them back to the work exchange under their original key.
	retryQueue, err := c.ch.QueueDeclare(queueName+".retry", true, false, false, false, amqp.Table{
		"x-message-ttl":          retryDelay.Milliseconds(),
		"x-dead-letter-exchange": exchange,
	})
	if err != nil {
		return err
	}

	// Parking queue for messages that exhausted their redelivery budget.
	dlq, err := c.ch.QueueDeclare(deadLetterQueue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(dlq.Name, "dead", dlx, false, nil); err != nil {
		return err
	}

	handlers := make(map[string]Handler)
	for routingKey, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[routingKey] = handler
		if err := c.ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			return err
		}
		if err := c.ch.QueueBind(retryQueue.Name, routingKey, dlx, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			handler, ok := handlers[d.RoutingKey]
			if !ok {
				log.Printf("level=warn component=rabbitmq_consumer msg=\"no handler for routing key; dropping\" routing_key=%s", d.RoutingKey)
				d.Ack(false)
				continue
			}
			switch handler(d.Body) {
			case Ack:
				d.Ack(false)
			case Retry:
				if rejectCount(d, queueName) >= maxAttempts-1 {
					log.Printf("level=error component=rabbitmq_consumer msg=\"redelivery budget exhausted; dead-lettering\" routing_key=%s max_attempts=%d", d.RoutingKey, maxAttempts)
					c.park(dlx, d)
				} else {
					log.Printf("level=warn component=rabbitmq_consumer msg=\"handler failed; scheduling redelivery\" routing_key=%s", d.RoutingKey)
					d.Nack(false, false)
				}
			}
		}
	}()

	return nil
}

// park moves an exhausted message to the dead-letter queue and acknowledges
// the original delivery.
func (c *Consumer) park(dlx string, d amqp.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.ch.PublishWithContext(ctx, dlx, "dead", false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{"x-original-routing-key": d.RoutingKey},
		Body:         d.Body,
	})
	if err != nil {
		// Keep the message cycling rather than lose it.
		log.Printf("level=error component=rabbitmq_consumer msg=\"dead-letter publish failed; requeuing\" err=%v", err)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
