package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/auth"
	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/handlers"
	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/rabbitmq"
	"messenger-service/internal/repositories"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "messenger-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s", rabbitmq.Mode(publisher))

	auditEmitter := telemetry.NewAuditEmitter(publisher, "audit_logs.messenger", "messenger-service", cfg.Environment)

	userRepo := repositories.NewUserRepo(database)
	sessionRepo := repositories.NewSessionRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	friendRequestRepo := repositories.NewFriendRequestRepo(database)

	authService := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)

	hub := ws.NewHub()
	ledger := ws.NewMemoryLedger()
	engine := ws.NewEngine(hub, ledger, messageRepo, sessionRepo, friendRequestRepo, userRepo)
	socketHandler := ws.NewHandler(hub, engine, authService)

	authHandler := handlers.NewAuthHandler(userRepo, authService, auditEmitter)
	sessionHandler := handlers.NewSessionHandler(sessionRepo, messageRepo, userRepo)
	messageHandler := handlers.NewMessageHandler(messageRepo, sessionRepo)
	friendRequestHandler := handlers.NewFriendRequestHandler(friendRequestRepo, userRepo, auditEmitter)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(otelgin.Middleware("messenger-service"))

	authMiddleware := middleware.AuthMiddleware(authService)

	router.POST("/auth/register", authHandler.Register)
	router.POST("/auth/login", authHandler.Login)

	router.POST("/sessions", authMiddleware, sessionHandler.CreateSession)
	router.GET("/sessions", authMiddleware, sessionHandler.ListSessions)
	router.GET("/sessions/:session_id/messages", authMiddleware, sessionHandler.GetSessionMessages)

	router.PUT("/messages/:message_id", authMiddleware, messageHandler.UpdateMessage)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)

	router.GET("/friend-requests", authMiddleware, friendRequestHandler.ListOwn)
	router.POST("/friend-requests", authMiddleware, friendRequestHandler.Create)
	router.GET("/friend-requests/unseen-count", authMiddleware, friendRequestHandler.UnseenCount)

	router.GET("/ws", socketHandler.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
