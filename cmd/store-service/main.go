package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clup/store-service/internal/account"
	"clup/store-service/internal/config"
	"clup/store-service/internal/httpapi"
	"clup/store-service/internal/logger"
	"clup/store-service/internal/metrics"
	"clup/store-service/internal/queue"
	"clup/store-service/internal/realtime"
	"clup/store-service/internal/reservation"
	"clup/store-service/internal/search"
	"clup/store-service/internal/sms"
	"clup/store-service/internal/store/postgres"
	"clup/store-service/internal/telemetry"
	"clup/store-service/internal/ticket"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LoggerLevel, cfg.ServiceName)
	defer func() { _ = log.Sync() }()

	shutdownTracing := telemetry.Setup(cfg.ServiceName, log)

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.DatabaseURL, log); err != nil {
			log.Error("migrate", logger.Error(err))
			os.Exit(1)
		}
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", logger.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	db := postgres.NewStore(pool, log)
	hub := realtime.NewHub(log)

	throttle := account.NoopThrottle()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("redis url", logger.Error(err))
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()
		throttle = account.NewRedisThrottle(client, cfg.LoginCodesPerWindow, cfg.LoginWindow)
	}

	provider := sms.NewProvider(sms.Options{
		Kind:         cfg.SMSProvider,
		WebhookURL:   cfg.SMSWebhookURL,
		WebhookToken: cfg.SMSWebhookToken,
	}, log)

	accounts := account.NewManager(db, provider, throttle, log, account.Options{
		CodeTTL:  cfg.CodeTTL,
		TokenTTL: cfg.TokenTTL,
	})
	reservations := reservation.NewManager(db, hub, log, reservation.Options{
		Window:    cfg.ReservationWindow,
		Location:  cfg.Location(),
		BatchSize: cfg.SweepBatchSize,
	})
	queues := queue.NewManager(db, hub, log, queue.Options{
		ReservationWindow: cfg.ReservationWindow,
		Lookahead:         cfg.ReservationLookahead,
		Expirer:           reservations,
	})
	tickets := ticket.NewManager(db, queues, reservations, hub, log)

	handler := httpapi.NewHandler(httpapi.Services{
		Accounts:     accounts,
		Queue:        queues,
		Reservations: reservations,
		Tickets:      tickets,
		Stores:       db,
		Search:       search.NewService(db, cfg.SearchRadiusKm),
	}, log)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		TokenPerMinute: cfg.RateLimitPerMinute,
		TokenBurst:     cfg.RateLimitBurst,
	})

	mux := handler.Routes()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/realtime/", hub.Handler("/realtime"))

	var root http.Handler = httpapi.AuthMiddleware(accounts, mux)
	root = limiter.Middleware(root)
	root = httpapi.LoggingMiddleware(log, root)
	root = otelhttp.NewHandler(root, cfg.ServiceName)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go sweep(sweepCtx, cfg.SweepInterval, log, reservations, db, limiter)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("shutdown error", logger.Error(err))
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Error("tracing shutdown", logger.Error(err))
	}
}

type credentialPurger interface {
	PurgeExpiredCredentials(ctx context.Context, now time.Time) (int64, error)
}

// sweep expires reservations whose window closed and drops stale login
// credentials and idle rate limit buckets.
func sweep(ctx context.Context, interval time.Duration, log logger.ILogger, reservations *reservation.Manager, credentials credentialPurger, limiter *httpapi.RateLimiter) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if _, err := reservations.ExpireStale(runCtx); err != nil {
			log.Error("expire reservations", logger.Error(err))
		}
		purged, err := credentials.PurgeExpiredCredentials(runCtx, time.Now().UTC())
		if err != nil {
			log.Error("purge credentials", logger.Error(err))
		} else if purged > 0 {
			log.Debug("purged credentials", logger.Int64("count", purged))
		}
		cancel()
		limiter.Prune()
	}
}
