package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meiatef066/chat-talk/internal/api"
	"github.com/meiatef066/chat-talk/internal/auth"
	"github.com/meiatef066/chat-talk/internal/cache"
	cfgpkg "github.com/meiatef066/chat-talk/internal/config"
	"github.com/meiatef066/chat-talk/internal/delivery"
	"github.com/meiatef066/chat-talk/internal/events"
	"github.com/meiatef066/chat-talk/internal/kafka"
	"github.com/meiatef066/chat-talk/internal/logger"
	"github.com/meiatef066/chat-talk/internal/repository"
	"github.com/meiatef066/chat-talk/internal/service"
	"github.com/meiatef066/chat-talk/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zl, err := logger.New(logger.Config{Development: cfg.App.Env != "production"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	var jv *auth.JWTValidator
	if strings.EqualFold(cfg.JWT.Alg, "RS256") {
		jv, err = auth.NewJWTValidatorRS256(cfg.JWT.PublicKeyPath)
	} else {
		jv, err = auth.NewJWTValidatorHS256(cfg.JWT.HSSecret)
	}
	if err != nil {
		zl.Fatalf("jwt validator init: %v", err)
	}

	mc, err := repository.NewMongoClient(cfg)
	if err != nil {
		zl.Fatalf("mongo init: %v", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	db := mc.Database(cfg.Mongo.DB)

	rdb, err := cache.NewRedis(cfg)
	if err != nil {
		zl.Fatalf("redis init: %v", err)
	}
	defer rdb.Close()

	pub, err := events.NewPublisher(cfg.NATS.URL)
	if err != nil {
		zl.Fatalf("nats init: %v", err)
	}
	defer pub.Close()

	instanceID := cfg.App.InstanceID
	kprod := kafka.NewProducer(cfg)
	defer kprod.Close()
	kcons := kafka.NewConsumer(cfg, instanceID)
	defer kcons.Close()

	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	authority := service.NewMembershipAuthority(convRepo)

	hub := ws.NewHub(rdb)
	dispatcher := delivery.NewDispatcher(instanceID, hub, kprod, cfg.Delivery.Workers, cfg.Delivery.QueueSize)
	defer dispatcher.Close()

	msgSvc := service.NewMessageService(convRepo, msgRepo, authority, dispatcher, rdb)
	convSvc := service.NewConversationService(convRepo, msgRepo, authority, pub, rdb)
	wsHandler := ws.NewHandler(hub, msgSvc)

	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	go kcons.Run(relayCtx, hub)

	app := api.NewServer(cfg, msgSvc, convSvc, jv, rdb, wsHandler)

	errs := make(chan error, 1)
	go func() {
		errs <- app.Listen(":" + cfg.App.PortString())
	}()
	zl.Infow("chatd started", "port", cfg.App.Port, "instance", instanceID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		zl.Fatalf("server error: %v", err)
	case sig := <-quit:
		zl.Infow("signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zl.Warnw("server shutdown", "err", err)
	}
	relayCancel()
	zl.Infow("chatd stopped")
}
