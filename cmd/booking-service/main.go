package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/booking_api"
	"ms-booking/internal/booking/capacity"
	"ms-booking/internal/booking/discount"
	"ms-booking/internal/booking/ledger"
	rediswrap "ms-booking/internal/booking/redis"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/db"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/models"
	"ms-booking/internal/rabbitmq"
	"ms-booking/internal/referral"
	"ms-booking/internal/referral/referral_api"
	"ms-booking/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"golang.org/x/sync/errgroup"
)

// eventSink is what both brokers offer to the services.
type eventSink interface {
	PublishBookingEvent(ctx context.Context, event models.BookingEvent) error
	PublishReferralEvent(ctx context.Context, event models.ReferralEvent) error
}

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := cfg.Database.ConnectTries

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))
	return bunDB, redisClient
}

// newEventSink picks the broker named by EVENT_BROKER. A nil sink disables events.
func newEventSink(ctx context.Context, cfg *config.Config, logger *logger.Logger) (eventSink, func()) {
	switch cfg.Booking.EventBroker {
	case "kafka":
		topics := []string{cfg.Kafka.Topics.BookingEvents, cfg.Kafka.Topics.ReferralEvents, cfg.Kafka.Topics.PaymentResults}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
		logger.Info("KAFKA", "Kafka producer initialized successfully")
		return producer, func() {
			if err := producer.Close(); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Failed to close producer: %v", err))
			}
		}
	case "rabbitmq":
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.Fatal("RABBITMQ", fmt.Sprintf("Failed to initialize publisher: %v", err))
		}
		return publisher, publisher.Close
	default:
		logger.Warn("APP", fmt.Sprintf("Event broker %q disabled, lifecycle events will not be published", cfg.Booking.EventBroker))
		return nil, func() {}
	}
}

func healthHandler(bunDB *bun.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"database": "ok", "redis": "ok"}
		code := http.StatusOK
		if err := bunDB.PingContext(ctx); err != nil {
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			status["redis"] = err.Error()
			code = http.StatusServiceUnavailable
		}

		resp := utils.SuccessResponse("healthy", status)
		if code != http.StatusOK {
			resp = utils.ErrorResponse("unhealthy", "dependency check failed")
			resp.Data = status
		}
		_ = utils.WriteJSON(w, code, resp)
	}
}

func main() {
	logger := logger.NewLogger("booking-service")
	defer logger.Close()

	logger.Info("APP", "Starting Booking Service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("CONFIG", "JWT_SECRET not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.InitMetrics()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	target, err := migrations.ParseTarget(cfg.Database.MigrateTarget)
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}
	migrateOpts := migrations.DefaultOptions()
	migrateOpts.MigrationsDir = cfg.Database.MigrationsDir
	migrateOpts.AutoMigrate = cfg.Database.AutoMigrate
	if !target.Latest {
		runner := migrations.NewRunner(bunDB, migrateOpts, logger)
		if err := runner.Apply(target); err != nil {
			logger.Fatal("MIGRATION", fmt.Sprintf("Failed to migrate to %s: %v", target, err))
		}
		runner.Close()
		logger.Info("APP", "Migration target reached, exiting")
		return
	}
	if migrateOpts.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrateOpts, logger)
		if err := runner.Apply(target); err != nil {
			logger.Fatal("MIGRATION", fmt.Sprintf("Failed to run migrations: %v", err))
		}
	}

	store := db.New(bunDB, logger)
	timers := rediswrap.NewRedis(redisClient, logger)
	timers.EnableExpiryNotifications(ctx)

	sink, closeSink := newEventSink(ctx, cfg, logger)
	defer closeSink()

	referralService := referral.NewService(store, store, nil, referral.Policy{
		MaturationDelay: cfg.Booking.ReferralMaturation,
		MinWithdrawal:   cfg.Booking.MinWithdrawal,
	}, logger)

	bookingService := booking.NewService(store, store,
		discount.NewResolver(store, logger),
		ledger.NewLedger(store, ledger.Policy{StrictBalance: cfg.Booking.StrictBonusBalance}, logger),
		capacity.NewManager(store, logger),
		referralService,
		booking.Policy{
			GracePeriod:          cfg.Booking.ApprovalGracePeriod,
			RestoreBonusOnCancel: cfg.Booking.RestoreBonusOnCancel,
		},
		logger,
	)
	bookingService.Timer = timers
	if sink != nil {
		bookingService.Events = sink
		referralService.Events = sink
	}

	sweeper := booking.NewSweeper(bookingService, referralService, timers, cfg.Booking.SweepInterval, cfg.Booking.SweepLockTTL, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metrics.Middleware(logger))

	// --- Public Routes ---
	r.Get("/health", healthHandler(bunDB, redisClient))
	r.Handle("/metrics", promhttp.Handler())

	// --- Protected Routes ---
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, logger))
		logger.Info("AUTH", "JWT middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			booking_api.NewHandler(bookingService, logger).Routes(r)
			logger.Info("ROUTER", "Booking routes registered under /api/bookings")

			referral_api.NewHandler(referralService, logger).Routes(r)
			logger.Info("ROUTER", "Referral routes registered under /api/referrals")
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP", fmt.Sprintf("🚀 Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("REDIS", "Starting booking expiry subscription")
		err := timers.SubscribeExpiries(gctx, func(ctx context.Context, bookingID string) {
			if _, err := bookingService.ExpireBooking(ctx, bookingID); err != nil {
				logger.Error("BOOKING", fmt.Sprintf("Failed to expire booking %s on timer: %v", bookingID, err))
			}
		})
		if err != nil {
			// the periodic sweep still expires stale bookings
			logger.Warn("REDIS", fmt.Sprintf("Expiry subscription ended: %v", err))
		}
		return nil
	})

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.PaymentResults, cfg.Kafka.GroupID, logger)
		g.Go(func() error {
			defer consumer.Close()
			return consumer.Run(gctx, bookingService)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("HTTP", "✅ Booking Service shutdown complete")
		return nil
	})

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		logger.Error("APP", fmt.Sprintf("Service stopped with error: %v", err))
	}
}
