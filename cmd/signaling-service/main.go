package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signalhub-backend/internal/call"
	"signalhub-backend/internal/database"
	turnHandler "signalhub-backend/internal/handler/http/turn"
	wsHandler "signalhub-backend/internal/handler/ws"
	"signalhub-backend/internal/middleware"
	"signalhub-backend/internal/presence"
	"signalhub-backend/internal/registry"
	"signalhub-backend/pkg/config"
	"signalhub-backend/pkg/constants"
	"signalhub-backend/pkg/jwt"
	"signalhub-backend/pkg/logger"
	"signalhub-backend/pkg/metrics"
	"signalhub-backend/pkg/turn"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics
	database.InitRedisMetrics()
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// Redis presence mirror, optional. The service is fully functional
	// without it; sibling services just lose the cross-service view.
	var presenceTracker presence.Tracker = presence.LogOnly{}
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err == nil {
		if pingErr := redisDB.HealthCheck(ctx); pingErr != nil {
			logger.Warn("redis unreachable at startup, presence mirror degraded", zap.Error(pingErr))
		}
		redisDB.StartHealthCheck(ctx, 10*time.Second)
		presenceTracker = presence.NewRedisTracker(redisDB)
		defer redisDB.Close()
	} else {
		logger.Warn("redis disabled, presence mirror is in-process only", zap.Error(err))
	}

	// TURN credential issuer
	issuer := turn.NewIssuer(cfg.Turn.Secret, cfg.Turn.Label, cfg.Turn.URLs, cfg.Turn.StunURLs)
	if !issuer.Authoritative() {
		logger.Warn("TURN_SECRET not set, issuing demo relay credentials")
	}

	// Identity token verification, enabled when a secret is configured.
	var verifier *jwt.Verifier
	if cfg.JWT.Secret != "" {
		verifier = jwt.NewVerifier(cfg.JWT.Secret)
	} else {
		logger.Warn("JWT_SECRET not set, accepting unverified registrations")
	}

	// Call signaling core
	reg := registry.New()
	manager := call.NewManager(reg, appMetrics, cfg.Call.RingTimeout)
	relay := call.NewRelay(manager)
	gateway := wsHandler.NewGateway(wsHandler.Options{
		Registry:       reg,
		Manager:        manager,
		Relay:          relay,
		Issuer:         issuer,
		Verifier:       verifier,
		Presence:       presenceTracker,
		Metrics:        appMetrics,
		MaxConnections: cfg.WS.MaxConnections,
		AllowedOrigins: cfg.WS.AllowedOrigins,
	})

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.WS.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"service":        cfg.Server.ServiceName,
			"activeCalls":    manager.ActiveCalls(),
			"connectedUsers": gateway.ConnectedUsers(),
			"time":           time.Now().UTC(),
		})
	}
	router.GET("/health", health)
	router.GET("/metrics", middleware.MetricsHandler())

	api := router.Group("/api")
	api.Use(middleware.Timeout(10 * time.Second))
	{
		api.GET("/health", health)
		api.GET("/turn-credentials", turnHandler.NewHandler(issuer).GetCredentials)
	}

	// WebSocket upgrade route; no timeout middleware, connections are
	// long-lived.
	router.GET("/ws/signaling", gateway.ServeWS)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("signaling service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down signaling service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	logger.Info("signaling service stopped")
}
