// Package main provides the presence server binary: the WebSocket endpoint
// for office presence and the REST surface for chat history and the schedule.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/officeverse/presence/internal/config"
	"github.com/officeverse/presence/internal/observability"
	"github.com/officeverse/presence/internal/office"
	"github.com/officeverse/presence/internal/presence"
	"github.com/officeverse/presence/internal/realtime"
	"github.com/officeverse/presence/internal/server"
	"github.com/officeverse/presence/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	noDB := flag.Bool("no-db", false, "run without PostgreSQL; message and schedule routes answer 503")
	flag.Parse()

	// .env feeds the OFFICE_* environment overrides; a missing file is fine.
	_ = godotenv.Load()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting presence server",
		zap.String("addr", cfg.Server.Addr()),
		observability.Room(cfg.Presence.Room),
	)

	registry := presence.NewRegistry()
	hub := realtime.NewHub()
	rtHandler := realtime.NewHandler(registry, hub, cfg.Presence, logger)

	var msgStore office.MessageStore
	var schedStore office.ScheduleStore
	if !*noDB {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		msgStore = postgres.NewMessageRepository(pool.DB())
		schedStore = postgres.NewScheduleRepository(pool.DB())
	}

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/ws", rtHandler.Handle())
	office.NewHandlers(msgStore, schedStore, rtHandler, registry, logger).Register(engine)

	lifecycle := server.NewLifecycle(logger)

	hubDone := make(chan struct{})
	lifecycle.Add("realtime-hub", &server.FuncService{
		StartFn: func() error { <-hubDone; return nil },
		StopFn: func() {
			hub.Close()
			close(hubDone)
		},
	})
	lifecycle.Add("http", &server.HTTPService{
		Server: &http.Server{Addr: cfg.Server.Addr(), Handler: engine},
	})

	logger.Info("presence server ready", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("presence server exited", zap.Error(err))
	}
}
