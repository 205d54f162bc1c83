package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/data"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RetryCountHeader carries the number of retries already scheduled.
const RetryCountHeader = "retry_count"

// ErrDeliveriesClosed is returned by Run when the broker closes the
// delivery channel while the context is still live.
var ErrDeliveriesClosed = errors.New("queue: delivery channel closed")

// Outcome is the terminal state of one delivery.
type Outcome int

const (
	// Acked: the profile was created and the delivery acknowledged.
	Acked Outcome = iota
	// Retrying: a delayed copy was published to the retry queue and the
	// original acknowledged.
	Retrying
	// DeadLettered: retries are exhausted; the delivery was rejected and the
	// broker routed it to the dead-letter queue.
	DeadLettered
	// Requeued: scheduling the retry failed, so the original was returned to
	// the queue unchanged.
	Requeued
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Retrying:
		return "retrying"
	case DeadLettered:
		return "dead_lettered"
	case Requeued:
		return "requeued"
	default:
		return "unknown"
	}
}

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ProfileCreator is the subset of data.ProfilesStore the consumer uses.
type ProfileCreator interface {
	CreateProfile(ctx context.Context, np data.NewProfile) (*data.Profile, error)
}

// Options tunes the retry schedule.
type Options struct {
	MaxRetries  int
	BackoffBase time.Duration
	OpTimeout   time.Duration
}

// Consumer drains the registration queue one delivery at a time.
type Consumer struct {
	ch       Channel
	profiles ProfileCreator
	opts     Options
	logger   *slog.Logger
}

// NewConsumer returns a Consumer.
func NewConsumer(ch Channel, profiles ProfileCreator, opts Options, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	return &Consumer{ch: ch, profiles: profiles, opts: opts, logger: logger}
}

// Run consumes RegistrationQueue with prefetch 1 until ctx is done. The loop
// never waits on a backoff; delays are carried by the retry queue.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := c.ch.ConsumeWithContext(ctx, RegistrationQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", RegistrationQueue, err)
	}
	c.logger.Info("Consumer started, waiting for messages", "queue", RegistrationQueue)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			// an in-flight delivery is settled even if shutdown starts
			c.Handle(context.WithoutCancel(ctx), d)
		}
	}
}

// Handle processes one delivery and settles it with the broker. It never
// returns an error; every failure becomes a retry or a dead letter.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	retries := retryCount(d.Headers)
	logger := c.logger.With("delivery_tag", d.DeliveryTag, "retry_count", retries)

	err := c.process(ctx, d.Body)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Warn("Ack failed", "error", ackErr)
		}
		return Acked
	}

	if retries >= c.opts.MaxRetries {
		logger.Error("Message failed after max retries, moving to dead-letter queue", "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.Warn("Nack failed", "error", nackErr)
		}
		return DeadLettered
	}

	attempt := retries + 1
	delay := Backoff(c.opts.BackoffBase, attempt)
	logger.Error("Retrying message", "attempt", attempt, "delay", delay, "error", err)

	if pubErr := c.scheduleRetry(ctx, d, attempt, delay); pubErr != nil {
		logger.Error("Failed to schedule retry, requeueing original", "error", pubErr)
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Warn("Nack failed", "error", nackErr)
		}
		return Requeued
	}

	if ackErr := d.Ack(false); ackErr != nil {
		logger.Warn("Ack failed", "error", ackErr)
	}
	return Retrying
}

func (c *Consumer) process(ctx context.Context, body []byte) error {
	np, err := DecodeRegistrationEvent(body)
	if err != nil {
		return err
	}

	if c.opts.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
	}

	p, err := c.profiles.CreateProfile(ctx, np)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	c.logger.Info("User profile created", "email", p.Email, "profile_id", p.ID)
	return nil
}

// scheduleRetry publishes a copy of d to the retry queue with an incremented
// counter and a per-message expiration.
func (c *Consumer) scheduleRetry(ctx context.Context, d amqp.Delivery, attempt int, delay time.Duration) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryCountHeader] = int32(attempt)

	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now().UTC(),
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Body:         d.Body,
	}

	if c.opts.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.OpTimeout)
		defer cancel()
	}
	return c.ch.PublishWithContext(ctx, DeadLetterExchange, RetryQueue, false, false, msg)
}

// Backoff returns the delay before the given retry attempt: base raised to
// attempt, in seconds. With a 2s base the schedule is 2s, 4s, 8s, 16s, 32s.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(math.Pow(base.Seconds(), float64(attempt)) * float64(time.Second))
}

// retryCount reads the retry header, defaulting to 0 for missing or
// unparseable values.
func retryCount(h amqp.Table) int {
	v, ok := h[RetryCountHeader]
	if !ok {
		return 0
	}
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case float32:
		n = int64(x)
	case float64:
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	return int(n)
}
