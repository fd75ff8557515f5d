package main

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/http/middleware"
	"chat-relay/infrastructure/http/server"
	"chat-relay/infrastructure/media"
	"chat-relay/internal"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal arrives.
// Returning an error instead of exiting lets deferred cleanup run.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage collaborator (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages, config.EnforceSenderDirectory)

	// 3. Media host
	gateway, err := media.NewMinioGateway(media.Config{
		Endpoint:      config.MediaEndpoint,
		AccessKey:     config.MediaAccessKey,
		SecretKey:     config.MediaSecretKey,
		Bucket:        config.MediaBucket,
		Region:        config.MediaRegion,
		UseSSL:        config.MediaUseSSL,
		PublicBaseURL: config.MediaPublicBaseURL,
		Timeout:       config.UploadTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("media gateway: %w", err)
	}
	bucketCtx, cancelBucket := context.WithTimeout(ctx, config.UploadTimeout)
	err = gateway.EnsureBucket(bucketCtx)
	cancelBucket()
	if err != nil {
		return fmt.Errorf("media bucket: %w", err)
	}

	// 4. Optional redis for send rate limiting
	var redisClient *redis.Client
	if config.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: config.RedisAddr})
		defer func() {
			_ = redisClient.Close()
		}()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unreachable, rate limiting fails open", "addr", config.RedisAddr, "error", err)
		}
	}

	// 5. Core: hub, ingress, front ends
	hub := runtime.NewRegistry(log)
	ingress := services.NewIngressService(log, gateway, messageRepository, hub)
	ws := server.NewWSServer(log, hub, ingress, server.WSOptions{
		BufferSize: config.ConnectionBufferSize,
		PongWait:   config.WSPongWait,
		PingPeriod: config.PingPeriod(),
		WriteWait:  config.WSWriteWait,
	})
	router := server.NewRouter(log,
		auth.NewVerifier(config.JWTSecret),
		middleware.NewRateLimiter(redisClient, log, config.RateLimitPerMinute, time.Minute),
		server.NewMessageServer(log, ingress, config.MaxAudioSizeBytes),
		ws,
	)
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:           otelhttp.NewHandler(router, "chat-relay"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(ws.CloseAll)

	// 6. Supervision
	sup := workers.NewSupervisor(log)
	sup.Add(
		workers.NewHTTPServerWorker(log, httpServer, config.ShutdownTimeout),
		workers.NewTelemetryWorker(log, hub, config.MetricInterval),
	)
	sup.Run(ctx)

	log.Info("Program stopped cleanly")
	return nil
}
