package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"care-sync/internal/auth"
	"care-sync/internal/broadcast"
	"care-sync/internal/chat"
	"care-sync/internal/cluster"
	"care-sync/internal/config"
	"care-sync/internal/db"
	"care-sync/internal/handlers"
	"care-sync/internal/middleware"
	"care-sync/internal/observability"
	"care-sync/internal/presence"
	"care-sync/internal/rabbitmq"
	"care-sync/internal/repositories"
	"care-sync/internal/telemetry"
	"care-sync/internal/ws"
)

func main() {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown error: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRouteKey, cfg.ServiceName, cfg.Environment)

	database, err := db.Connect(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	registry := ws.NewRegistry()
	gateway := ws.NewGateway(registry, validator)

	rooms := chat.NewRooms()
	typing := presence.NewTracker(rooms, cfg.Realtime.TypingWindow)
	manager := chat.NewManager(rooms, messageRepo, typing, gateway)
	gateway.OnDeregister(func(c *ws.Conn) { manager.Disconnect(c) })

	bus := broadcast.NewBus(gateway, 0, 0)
	consumer := rabbitmq.NewConsumer(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.ChangesQueue, bus)

	var relay *cluster.Relay
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		relay = cluster.NewRelay(client, cfg.Redis.Channel, bus.DeliverRemote, rooms.DeliverLocal)
		gateway.SetForwarder(relay)
		rooms.SetForwarder(relay)
	}

	if err := observability.RegisterConnectionGauge(func() float64 {
		return float64(registry.Stats()["total_connections"])
	}); err != nil {
		log.Printf("connection gauge not registered: %v", err)
	}

	chatHandler := handlers.NewChatHandler(roomRepo, messageRepo, manager)
	updatesHandler := handlers.NewUpdatesHandler(bus)
	realtimeHandler := handlers.NewRealtimeHandler(cfg.Realtime.PublicURL, cfg.Local(), cfg.Realtime.WSPath)
	wsHandler := ws.NewHandler(gateway, manager, audit, cfg.WSOptions())

	router := gin.Default()

	// middlewares
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/realtime/config", realtimeHandler.Config)
	router.GET(cfg.Realtime.WSPath, wsHandler.Handle)

	chatRoutes := router.Group("/chat", authMiddleware)
	chatRoutes.GET("/rooms", chatHandler.ListRooms)
	chatRoutes.GET("/rooms/:counterpart_id/messages", chatHandler.GetRoomMessages)
	chatRoutes.POST("/rooms/:counterpart_id/read", chatHandler.MarkRoomRead)
	chatRoutes.GET("/unread-count", chatHandler.UnreadCount)

	router.POST("/internal/updates", middleware.InternalToken(cfg.InternalToken), updatesHandler.Publish)

	handlers.RegisterDebugRoutes(router, audit, map[string]handlers.StatsFunc{
		"connections": registry.Stats,
		"rooms":       rooms.Stats,
		"updates":     bus.Stats,
	}, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("care-sync listening addr=%s env=%s", srv.Addr, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// consumer failures are logged, never fatal
		if err := consumer.Run(gctx); err != nil {
			log.Printf("rabbitmq consumer stopped: %v", err)
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("care-sync stopped")
}
