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

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "checkout-api"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// A worker that gives up on a message leaves it uncommitted; exiting
	// non-zero lets the supervisor restart us so the group redelivers it.
	if err := run(cfg); err != nil {
		util.GetLogger().Error("Checkout API stopped with error", zap.Error(err))
		util.SyncLogger()
		os.Exit(1)
	}
	util.SyncLogger()
}

func run(cfg *config.Config) error {
	logger := util.GetLogger()
	logger.Info("Starting checkout API")

	tp, err := util.InitTracer(util.TracingConfig{
		Service:        "checkout-api",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRate:     cfg.Observ.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	pricingService := service.NewPricingService(db, redisClient, service.PricingRules{
		DiscountPercentage: cfg.Business.DiscountPercentage,
		EligibilityWindow:  time.Duration(cfg.Business.DiscountEligibilityDays) * 24 * time.Hour,
		PromotionStartsAt:  cfg.Business.PromotionStartsAt,
		PromotionEndsAt:    cfg.Business.PromotionEndsAt,
		CacheTTL:           cfg.Business.PricingCacheTTL,
	})
	paymentService := service.NewPaymentService(db, pricingService, eventPublisher, cfg.Business.Currency, cfg.Business.PaymentDeclineAbove)
	orderService := service.NewOrderService(db, redisClient, eventPublisher, cfg.Business.Currency)
	failureService := service.NewFailureService(db, eventPublisher)
	emailService := service.NewEmailService(db, db, eventPublisher, service.NewLogEmailSender())
	reconciliationService := service.NewReconciliationService(db, db, db, emailService)

	notificationWorker := worker.NewNotificationWorker(
		broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.NotificationGroup),
		reconciliationService,
	)
	reconciliationWorker := worker.NewReconciliationWorker(
		broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.ReconciliationGroup),
		reconciliationService,
	)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(pricingService, paymentService, orderService, failureService, emailService,
		map[string]api.Pinger{"postgres": db, "redis": redisClient})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(notificationWorker.Start(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(reconciliationWorker.Start(gctx))
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		if err := notificationWorker.Stop(); err != nil {
			logger.Error("Error stopping notification worker", zap.Error(err))
		}
		if err := reconciliationWorker.Stop(); err != nil {
			logger.Error("Error stopping reconciliation worker", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
