package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/checkout"
	"checkout-service/internal/client"
	"checkout-service/internal/storefront"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepInterval = time.Minute

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "storefront"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront", zap.String("api_base_url", cfg.Endpoints.APIBaseURL))

	tp, err := util.InitTracer(util.TracingConfig{
		Service:        "storefront",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRate:     cfg.Observ.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	backOffice := client.New(cfg.Endpoints.APIBaseURL, cfg.Endpoints.RequestTimeout)
	failures := checkout.NewFailureLogger(backOffice, 0)
	flow := checkout.NewFlow(backOffice, backOffice, backOffice, failures, cfg.Business.Currency)
	sessions := storefront.NewManager(backOffice, checkout.CoordinatorConfig{
		Debounce: cfg.Endpoints.Debounce,
		Timeout:  cfg.Endpoints.RequestTimeout,
	}, storefront.PricingRules{
		TaxRateBps:  cfg.Business.TaxRateBps,
		DeliveryFee: cfg.Business.DeliveryFee,
	})

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(api.PrometheusMiddleware())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "sessions": sessions.Len(), "time": time.Now().Unix()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	storefront.NewHandler(sessions, flow, cfg.Business.Currency).SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.StorefrontPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.StorefrontPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := sessions.Sweep(cfg.Server.SessionMaxIdle); n > 0 {
					logger.Info("Expired idle sessions", zap.Int("count", n))
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down storefront...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
		// Failure records and confirmation requests still in flight.
		flow.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Storefront stopped with error", zap.Error(err))
	}
	logger.Info("Storefront exited")
}
