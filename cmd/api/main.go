package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/channelChat/internal/auth"
	"github.com/PaulBabatuyi/channelChat/internal/chat"
	"github.com/PaulBabatuyi/channelChat/internal/config"
	"github.com/PaulBabatuyi/channelChat/internal/data"
	"github.com/PaulBabatuyi/channelChat/internal/db"
	"github.com/PaulBabatuyi/channelChat/internal/identity"
	"github.com/PaulBabatuyi/channelChat/internal/logging"
	"github.com/PaulBabatuyi/channelChat/internal/media"
	"github.com/PaulBabatuyi/channelChat/internal/middleware"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateAPI()
	}
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("API server stopped", "error", err)
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
	logger.Info("Database connected", "database", cfg.MongoDatabase)

	mediaStore, err := media.Open(ctx, cfg.MediaBucketURL)
	if err != nil {
		return fmt.Errorf("open media bucket: %w", err)
	}
	defer mediaStore.Close()

	profiles := data.NewProfilesStore(dbClient.ProfilesCollection(), dbClient.MessagesCollection(), dbClient.CountersCollection())
	conversations := data.NewConversationsStore(dbClient.ConversationsCollection(), dbClient.MessagesCollection())
	messages := data.NewMessagesStore(dbClient.MessagesCollection(), dbClient.CountersCollection())
	servers := data.NewServersStore(dbClient.ServersCollection(), dbClient.CountersCollection(), mediaStore)
	chatLog := data.NewChatLog(conversations, messages, profiles)

	// JWT_KEYS enables kid-based rotation; otherwise the single JWT_SECRET is used.
	var codec *auth.TokenCodec
	if len(cfg.JWT.Keys) > 0 {
		codec = auth.NewTokenCodecFromKeys(cfg.JWT.Keys, cfg.JWT.ActiveKid)
	} else {
		codec = auth.NewTokenCodec(cfg.JWT.Secret)
	}
	resolver := identity.NewResolver(codec, profiles, cfg.IdentityLookupTimeout, logger)

	// servers and the group relay report fatal errors here
	errCh := make(chan error, 3)

	groups, err := newGroups(ctx, cfg, logger, errCh)
	if err != nil {
		return err
	}
	sessions := chat.NewService(groups, chatLog, cfg.StoreOpTimeout, logger)

	// small burst allows a few quick reconnects
	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 5, time.Minute)
	defer limiter.Stop()

	a := &api{
		history:   chatLog,
		servers:   servers,
		sessions:  sessions,
		wsOrigins: originPatterns(cfg.AllowedOrigins),
		logger:    logger,
	}
	httpServer := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     newRouter(a, resolver, cfg, limiter),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	grpcServer, err := newGRPCServer(cfg, resolver, limiter)
	if err != nil {
		return err
	}
	registerService(grpcServer, newServer(chatLog, sessions, logger))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	go func() {
		logger.Info("gRPC server listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server listening", "port", cfg.HTTPPort, "tls", cfg.TLSCert != "")
		var err error
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		logger.Error("Server failed, shutting down", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	grpcServer.GracefulStop()
	return nil
}

// newGroups returns Redis-backed groups when REDIS_URL is set so several API
// instances share conversations, and an in-process hub otherwise. Losing the
// Redis subscription is sent to errCh so the process exits.
func newGroups(ctx context.Context, cfg *config.Config, logger *slog.Logger, errCh chan<- error) (chat.Groups, error) {
	hub := chat.NewHub()
	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-process groups")
		return hub, nil
	}

	client, err := chat.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	groups := chat.NewRedisGroups(client, hub, logger)
	go func() {
		defer client.Close()
		if err := groups.Run(ctx); err != nil {
			errCh <- fmt.Errorf("group relay: %w", err)
		}
	}()
	return groups, nil
}

// newGRPCServer builds the gRPC server with TLS when configured and the
// interceptor chain auth -> rate limit.
func newGRPCServer(cfg *config.Config, resolver middleware.IdentityResolver, limiter *middleware.LimiterStore) (*grpc.Server, error) {
	var serverOpts []grpc.ServerOption

	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load TLS certs: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	limited := map[string]bool{
		listMessagesMethod: true,
		chatMethod:         true,
	}
	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(
			authUnaryInterceptor(resolver, cfg.JWT.CookieName),
			middleware.RateLimitUnaryInterceptor(limiter, limited),
		),
		grpc.ChainStreamInterceptor(
			authStreamInterceptor(resolver, cfg.JWT.CookieName),
			middleware.RateLimitStreamInterceptor(limiter, limited),
		),
	)
	return grpc.NewServer(serverOpts...), nil
}
