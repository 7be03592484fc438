package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/notify"
	"storefront/internal/payment"
	"storefront/internal/pricing"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/store/memstore"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backingStore is what both the Postgres and the in-memory store provide
type backingStore interface {
	service.CartStore
	service.OrderStore
	service.UserStore
	api.Pinger
}

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	var db backingStore
	switch cfg.Database.Driver {
	case "memory":
		db = memstore.New()
		logger.Warn("Using in-memory store, data is lost on restart")
	default:
		pg, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer pg.Close()

		if cfg.Database.AutoMigrate {
			if err := pg.Migrate(cfg.Database.MigrationsPath); err != nil {
				logger.Fatal("Failed to run migrations", zap.Error(err))
			}
		}
		db = pg
		logger.Info("Database connected")
	}

	checks := map[string]api.Pinger{"store": db}

	// Redis is optional: without it carts are read from the store and the
	// checkout lock falls back to the cart row lock.
	var (
		cache  service.CartCache
		locker service.Locker
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Business.CartCacheTTL)
	if err != nil {
		logger.Warn("Redis unavailable, running without cart cache", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache, locker = redisClient, redisClient
		checks["redis"] = redisClient
		logger.Info("Redis connected")
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	engine, err := pricing.NewEngine(
		cfg.Business.FreeShippingThreshold,
		cfg.Business.ShippingFee,
		cfg.Business.TaxRate,
	)
	if err != nil {
		logger.Fatal("Invalid pricing configuration", zap.Error(err))
	}

	paypalClient := payment.NewPaypalClient(cfg.PayPal)
	stripeVerifier := payment.NewStripeVerifier(cfg.Stripe.WebhookSecret)
	if cfg.Stripe.WebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, card webhooks will be rejected")
	}

	cartService := service.NewCartService(db, engine, cache)
	orderService := service.NewOrderService(db, db, db, cache, locker, eventPublisher,
		cfg.Business.CheckoutLockTTL, cfg.Business.PageSize)
	userService := service.NewUserService(db, cfg.Business.PaymentMethods)
	paymentService := service.NewPaymentService(db, paypalClient, stripeVerifier, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	receiptConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	receiptWorker := worker.NewReceiptWorker(receiptConsumer, notify.NewLogSender())
	go func() {
		if err := receiptWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Receipt worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, orderService, userService, paymentService,
		cfg.Session.CartCookieName, checks)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := receiptWorker.Stop(); err != nil {
		logger.Error("Failed to stop receipt worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
