// Package queue consumes user registration events from RabbitMQ and turns
// them into profiles, with bounded delayed retries and dead-lettering.
package queue

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker object names.
const (
	UserEventsExchange = "user_events"
	RegistrationQueue  = "user_registration_queue"
	DeadLetterExchange = "dead_letter_exchange"
	RetryQueue         = "retry_queue"
	DeadLetterQueue    = "dead_letter_queue"
)

// Declarer is the subset of *amqp.Channel needed to declare the topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare creates the exchanges, queues and bindings the consumer relies on.
// It is idempotent as long as the arguments match what already exists.
//
//	user_events (fanout) -> user_registration_queue
//	  rejected without requeue -> dead_letter_exchange / dead_letter_queue
//	dead_letter_exchange (direct)
//	  retry_queue       -> expires back to user_registration_queue
//	  dead_letter_queue -> terminal
func Declare(ch Declarer, retryTTL time.Duration) error {
	if err := ch.ExchangeDeclare(UserEventsExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", UserEventsExchange, err)
	}
	if err := ch.ExchangeDeclare(DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", DeadLetterExchange, err)
	}

	mainArgs := amqp.Table{
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": DeadLetterQueue,
	}
	if _, err := ch.QueueDeclare(RegistrationQueue, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", RegistrationQueue, err)
	}
	if err := ch.QueueBind(RegistrationQueue, "", UserEventsExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", RegistrationQueue, err)
	}

	retryArgs := amqp.Table{
		"x-message-ttl":             retryTTL.Milliseconds(),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": RegistrationQueue,
	}
	if _, err := ch.QueueDeclare(RetryQueue, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", RetryQueue, err)
	}
	if err := ch.QueueBind(RetryQueue, RetryQueue, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", RetryQueue, err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", DeadLetterQueue, err)
	}
	if err := ch.QueueBind(DeadLetterQueue, DeadLetterQueue, DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", DeadLetterQueue, err)
	}
	return nil
}
