package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/robothub/transport-fabric/internal/v1/config"
	"github.com/robothub/transport-fabric/internal/v1/health"
	"github.com/robothub/transport-fabric/internal/v1/logging"
	"github.com/robothub/transport-fabric/internal/v1/middleware"
	"github.com/robothub/transport-fabric/internal/v1/ratelimit"
	"github.com/robothub/transport-fabric/internal/v1/robotics"
	"github.com/robothub/transport-fabric/internal/v1/tracing"
	"github.com/robothub/transport-fabric/internal/v1/transport"
	"github.com/robothub/transport-fabric/internal/v1/video"
)

const serviceName = "transport-fabric"

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func main() {
	// .env is optional; real deployments use the process environment.
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Fatal(context.Background(), "Invalid environment", zap.Error(err))
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		logging.Fatal(context.Background(), "Failed to initialize logger", zap.Error(err))
	}

	ctx := context.Background()

	if cfg.OtelEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OtelCollectorAddr)
		if err != nil {
			logging.Fatal(ctx, "Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logging.Error(context.Background(), "Tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg)
	if err != nil {
		logging.Fatal(ctx, "Failed to initialize rate limiter", zap.Error(err))
	}

	allowedOrigins := cfg.AllowedOriginList(defaultAllowedOrigins)

	roboticsCore := robotics.NewCore()
	videoCore := video.NewCore()

	roboticsGateway := transport.NewGateway(roboticsCore.Resolve, rateLimiter, allowedOrigins)
	videoGateway := transport.NewGateway(videoCore.Resolve, rateLimiter, allowedOrigins)

	router := buildRouter(cfg, rateLimiter, allowedOrigins,
		robotics.NewAPI(roboticsCore, roboticsGateway),
		video.NewAPI(videoCore, videoGateway),
		health.NewHandler(roboticsCore, videoCore),
	)

	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal(context.Background(), "Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info(ctx, "Shutting down")

	// Disconnect sessions before stopping the listener so clients get a close
	// frame instead of a reset.
	roboticsCore.CloseAll("server shutting down")
	videoCore.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(context.Background(), "Graceful shutdown failed", zap.Error(err))
	}

	logging.Info(ctx, "Server stopped")
}

func buildRouter(cfg *config.Config, rateLimiter *ratelimit.RateLimiter, allowedOrigins []string,
	roboticsAPI *robotics.API, videoAPI *video.API, healthHandler *health.Handler) *gin.Engine {

	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Correlation-ID"},
		ExposeHeaders:    []string{"X-Correlation-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Health)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/", rateLimiter.APIMiddleware())
	roboticsAPI.RegisterRoutes(api)
	videoAPI.RegisterRoutes(api)

	return router
}
