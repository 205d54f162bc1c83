// Command consumer provisions chat profiles from user registration events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/PaulBabatuyi/channelChat/internal/config"
	"github.com/PaulBabatuyi/channelChat/internal/data"
	"github.com/PaulBabatuyi/channelChat/internal/db"
	"github.com/PaulBabatuyi/channelChat/internal/logging"
	"github.com/PaulBabatuyi/channelChat/internal/queue"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateConsumer()
	}
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Consumer stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer func() {
		_ = dbClient.Close(context.Background())
	}()
	if err := dbClient.CreateIndexes(ctx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	profiles := data.NewProfilesStore(dbClient.ProfilesCollection(), dbClient.MessagesCollection(), dbClient.CountersCollection())

	// no reconnect: a broker that is down at startup ends the process
	conn, err := amqp.Dial(cfg.Queue.URL)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := queue.Declare(ch, cfg.Queue.RetryTTL); err != nil {
		return err
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			logger.Error("Broker connection closed", "error", amqpErr)
		}
	}()

	consumer := queue.NewConsumer(ch, profiles, queue.Options{
		MaxRetries:  cfg.Queue.MaxRetries,
		BackoffBase: cfg.Queue.BackoffBase,
		OpTimeout:   cfg.StoreOpTimeout,
	}, logger)
	return consumer.Run(ctx)
}
