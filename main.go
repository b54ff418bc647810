package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"dm-service/internal/auth"
	"dm-service/internal/config"
	"dm-service/internal/db"
	grpcserver "dm-service/internal/grpc"
	"dm-service/internal/handlers"
	"dm-service/internal/logging"
	"dm-service/internal/messaging"
	"dm-service/internal/middleware"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
	"dm-service/internal/rabbitmq"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
	"dm-service/internal/uploads"
	"dm-service/internal/ws"
)

const serviceName = "dm-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logging.Setup(os.Stdout, cfg.LogLevel, cfg.LogFormat, "service", serviceName, "env", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "err", err)
	} else {
		defer shutdownTracing(context.Background())
	}

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		slog.Error("failed to connect to db", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	images, err := uploads.Open(cfg.UploadsDir, cfg.PublicBaseURL)
	if err != nil {
		slog.Error("failed to open uploads store", "dir", cfg.UploadsDir, "err", err)
		os.Exit(1)
	}
	defer images.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	slog.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, "audit.dm", serviceName, cfg.Environment)

	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)
	registry := presence.NewRegistry()
	service := messaging.NewService(messageRepo, userRepo, registry, images)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	messageHandler := handlers.NewMessageHandler(service, audit)
	uploadHandler := handlers.NewUploadHandler(images)
	wsHandler := ws.NewHandler(service, verifier, cfg.AllowedOrigins)

	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/uploads/:id", uploadHandler.Get)
	router.GET("/ws", wsHandler.Handle)

	api := router.Group("/api", middleware.AuthMiddleware(verifier))
	api.GET("/sidebar", messageHandler.Sidebar)
	api.GET("/messages/users", messageHandler.Sidebar)
	api.GET("/messages/:peer_id", messageHandler.History)
	api.POST("/messages/seen", messageHandler.MarkSeen)
	api.POST("/messages/:peer_id", middleware.RateLimit(middleware.NewUserRateLimiter(cfg.SendRatePerSec, cfg.SendRateBurst)), messageHandler.Send)

	handlers.RegisterDebugRoutes(router.Group("", middleware.AuthMiddleware(verifier)), registry, audit, cfg.DebugRoutes)

	health := grpcserver.NewHealthServer(database)
	health.Probe(ctx)
	go health.Watch(ctx, 15*time.Second)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("failed to listen for grpc", "port", cfg.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("grpc health listening", "port", cfg.GRPCPort)
		if err := health.Serve(lis); err != nil {
			slog.Error("grpc server error", "err", err)
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		slog.Info("http listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
	health.Stop()
}
