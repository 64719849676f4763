package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/api"
	bookingdb "ms-booking/internal/booking/db"
	bookingredis "ms-booking/internal/booking/redis"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/fraud"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/payment"
	"ms-booking/internal/tickets"
	ticketdb "ms-booking/internal/tickets/db"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	// --- PostgreSQL Setup ---
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	connector := pgdriver.NewConnector(pgdriver.WithDSN(dsn))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions())
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer runner.Close()

	// --- Redis Setup ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	cache := bookingredis.NewCache(redisClient, log)

	// --- Kafka Setup ---
	var events booking.EventPublisher
	if cfg.Kafka.Enabled {
		topics := []string{
			cfg.Kafka.Topics.HoldCreated,
			cfg.Kafka.Topics.BookingConfirmed,
			cfg.Kafka.Topics.BookingCancelled,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic setup failed, continuing: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics)
		defer producer.Close()
		events = producer
	} else {
		log.Warn("KAFKA", "Kafka disabled, lifecycle events will not be published")
	}

	// --- Payment Gateway ---
	var gateway booking.PaymentGateway
	if cfg.Payment.StripeKey != "" {
		stripeGateway, err := payment.NewStripeGateway(cfg.Payment.StripeKey, log)
		if err != nil {
			log.Fatal("PAYMENT", fmt.Sprintf("Stripe init failed: %v", err))
		}
		gateway = stripeGateway
	} else {
		log.Warn("PAYMENT", "Stripe key not set, refunds are disabled")
	}

	// --- Core Services ---
	store := &bookingdb.DB{Bun: bunDB}
	clock := booking.SystemClock{}

	locks := booking.NewLockManager(store, cache, clock, log)
	locks.TTL = cfg.Locks.TTL

	availability := booking.NewAvailabilityCalculator(store, locks, cache, clock)
	issuer := tickets.NewIssuer(&ticketdb.DB{Bun: bunDB}, log)
	scorer := fraud.NewScorer(store, log)
	service := booking.NewService(store, locks, issuer, gateway, scorer, events, clock, log)
	handler := api.NewHandler(service, locks, availability, log)

	// --- Background Sweeper ---
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	sweeper := booking.NewSweeper(locks, cfg.Locks.SweepInterval, log)
	go sweeper.Run(sweepCtx)

	// --- Setup Router ---
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.Auth))
		handler.Routes(r)
	})

	// --- Start HTTP Server ---
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("API", fmt.Sprintf("Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("API", "Shutdown signal received. Cleaning up...")

	stopSweeper()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal("API", fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	log.Info("API", "Server exited gracefully")
}
