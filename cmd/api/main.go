package main

// @title BoxPress Campaign API
// @version 1.0
// @description Bulk marketing email campaigns for the BoxPress subscription box platform.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api/v1

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/boxpress/boxpress/config"
	"github.com/boxpress/boxpress/pkg/container"
	"github.com/boxpress/boxpress/pkg/metrics"
	custommiddleware "github.com/boxpress/boxpress/pkg/middleware"
)

func main() {
	// Load .env if present; real environments set variables directly
	_ = godotenv.Load()

	cfg := config.Load()

	// Initialize Sentry for error tracking
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.APIEnvironment,
			TracesSampleRate: 1.0,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Printf("failed to initialize sentry: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	c, err := container.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer c.Close()

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	rateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)

	// Global middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(ec echo.Context, v middleware.RequestLoggerValues) error {
			c.Logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"error", v.Error)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic: true,
		}))
	}

	e.Use(c.Metrics.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig()))
	e.Use(middleware.Gzip())
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.SecurityHeadersConfig{}))
	e.Use(rateLimiter.RateLimitMiddleware())

	// Root and health endpoints (public)
	e.GET("/", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]any{
			"name":        "BoxPress Campaign API",
			"version":     "1.0.0",
			"status":      "running",
			"environment": cfg.APIEnvironment,
			"timestamp":   time.Now().Unix(),
		})
	})

	e.GET("/health", func(ec echo.Context) error {
		ctx, cancel := context.WithTimeout(ec.Request().Context(), 2*time.Second)
		defer cancel()

		dbStatus := "up"
		if err := c.DB.Ping(ctx); err != nil {
			dbStatus = "down"
		}

		cacheStatus := "up"
		if _, err := c.Cache.Get(ctx, "health_check"); err != nil {
			cacheStatus = "down"
		}

		status := http.StatusOK
		overall := "healthy"
		if dbStatus == "down" || cacheStatus == "down" {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}

		return ec.JSON(status, map[string]any{
			"status":   overall,
			"database": dbStatus,
			"cache":    cacheStatus,
		})
	})

	// Prometheus metrics endpoint (public)
	e.GET("/metrics", metrics.Handler())

	// API v1 routes
	v1 := e.Group("/api/v1")

	campaignGroup := v1.Group("/campaigns")
	{
		campaignGroup.POST("", c.CampaignHandler.CreateCampaign)
		campaignGroup.GET("/:id", c.CampaignHandler.GetCampaign)
		campaignGroup.GET("/:id/stats", c.CampaignHandler.GetCampaignStats)
		campaignGroup.POST("/:id/start", c.CampaignHandler.StartCampaign)
		campaignGroup.POST("/:id/pause", c.CampaignHandler.PauseCampaign)
		campaignGroup.POST("/:id/resume", c.CampaignHandler.ResumeCampaign)
		campaignGroup.POST("/:id/cancel", c.CampaignHandler.CancelCampaign)
		campaignGroup.POST("/:id/follow-up", c.CampaignHandler.CreateFollowUp)
	}

	runnerGroup := v1.Group("/runner")
	{
		runnerGroup.POST("/run", c.RunnerHandler.TriggerRun)
		runnerGroup.GET("/status", c.RunnerHandler.GetStatus)
	}

	// Start the scheduler
	if err := c.Cron.SetupJobs(); err != nil {
		log.Fatalf("failed to setup cron jobs: %v", err)
	}
	c.Cron.Start()

	// Start server
	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	c.Logger.Info("starting server",
		"address", address,
		"environment", cfg.APIEnvironment,
		"tick_interval", cfg.RunnerTickInterval,
		"dry_run", cfg.DryRun)

	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	c.Logger.Info("shutting down server")

	// Stop the scheduler first so no new runner pass starts mid-shutdown
	c.Cron.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	c.Logger.Info("server stopped")
}
