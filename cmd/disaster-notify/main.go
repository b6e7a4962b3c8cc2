package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/mr1hm/go-disaster-notify/internal/api"
	"github.com/mr1hm/go-disaster-notify/internal/config"
	"github.com/mr1hm/go-disaster-notify/internal/dialog"
	"github.com/mr1hm/go-disaster-notify/internal/eventbus"
	"github.com/mr1hm/go-disaster-notify/internal/hub"
	"github.com/mr1hm/go-disaster-notify/internal/ingestion"
	"github.com/mr1hm/go-disaster-notify/internal/logging"
	"github.com/mr1hm/go-disaster-notify/internal/notify"
	"github.com/mr1hm/go-disaster-notify/internal/observability"
	"github.com/mr1hm/go-disaster-notify/internal/repository"
	"github.com/mr1hm/go-disaster-notify/internal/sweeper"
	"github.com/mr1hm/go-disaster-notify/internal/threshold"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		logging.Fatalf("Failed to load catalog: %v", err)
	}

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedSensors(ctx, db, cat); err != nil {
		logging.Fatalf("Failed to seed sensors: %v", err)
	}

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	broadcaster := hub.New(logger, metrics,
		hub.WithShards(cfg.Hub.Shards),
		hub.WithBufferSize(cfg.Hub.BufferSize),
	)
	bus := eventbus.NewBus(logger)
	bus.Subscribe(broadcaster)

	var kafka *eventbus.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafka = eventbus.NewKafkaPublisher(eventbus.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger, metrics)
		kafka.Start(ctx)
		bus.Subscribe(kafka)
		slog.Info("alert stream enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	var mqttClient mqtt.Client
	if cfg.MQTT.BrokerURL != "" {
		mqttClient, err = connectMQTT(cfg.MQTT)
		if err != nil {
			logging.Fatalf("Failed to connect to MQTT broker: %v", err)
		}
	}

	adapters, err := buildAdapters(cfg, mqttClient, logger)
	if err != nil {
		logging.Fatalf("Failed to configure channels: %v", err)
	}
	templates, err := loadTemplates(cfg.Notify)
	if err != nil {
		logging.Fatalf("Failed to load templates: %v", err)
	}

	orchestrator := notify.NewOrchestrator(notify.Config{
		DefaultLanguage: cfg.Notify.DefaultLanguage,
		DefaultChannels: cfg.Notify.DefaultChannels,
		MaxRetries:      cfg.Notify.MaxRetries,
		SendTimeout:     cfg.Notify.SendTimeout,
		Workers:         cfg.Notify.Workers,
		QueueSize:       cfg.Notify.QueueSize,
		RetryBatch:      cfg.Notify.RetryBatch,
		AlertTTL:        cfg.Threshold.AlertTTL,
		Rates:           channelRates(cfg.Notify.Rates),
	}, notify.Deps{
		Deliveries: db,
		Alerts:     db,
		Audience:   notify.NewAudienceResolver(db, db),
		Templates:  templates,
		Adapters:   adapters,
		Places:     cat,
		Emitter:    bus,
		Clock:      clock,
		Logger:     logger.With("component", "notify"),
		Metrics:    metrics,
	})
	orchestrator.Start(ctx)
	bus.Subscribe(orchestrator)

	engine := threshold.NewEngine(threshold.Config{
		AlertTTL: cfg.Threshold.AlertTTL,
		Stripes:  cfg.Threshold.Stripes,
	}, threshold.Deps{
		Sensors:   db,
		Alerts:    db,
		Publisher: broadcaster,
		Handler:   bus,
		Namer:     cat,
		Clock:     clock,
		Logger:    logger.With("component", "threshold"),
		Metrics:   metrics,
	})

	env := &dialog.Env{
		Catalog:     cat,
		Alerts:      db,
		Reporter:    orchestrator,
		Subscribers: db,
		DefaultCity: cfg.Dialog.DefaultCity,
	}
	dialogDeps := dialog.Deps{Sessions: db, Env: env, Clock: clock, Logger: logger, Metrics: metrics}
	ussd := dialog.NewMachine(dialog.Config{Channel: "ussd", Timeout: cfg.Dialog.USSDTimeout},
		dialog.USSDTable(), dialog.USSDRenderer{}, dialogDeps)
	ivr := dialog.NewMachine(dialog.Config{Channel: "ivr", Timeout: cfg.Dialog.IVRTimeout},
		dialog.IVRTable(), dialog.IVRRenderer{Action: cfg.Dialog.IVRActionURL, Language: cfg.Dialog.IVRLanguage}, dialogDeps)

	ingestDeps := ingestion.Deps{
		Recorder: engine,
		Clock:    clock,
		Logger:   logger.With("component", "ingestion"),
		Metrics:  metrics,
	}
	if mqttClient != nil {
		ingestDeps.MQTT = mqttClient
	}
	ingest := ingestion.NewManager(ingestion.Config{
		Lanes:        cfg.Ingestion.Lanes,
		BufferSize:   cfg.Ingestion.BufferSize,
		MQTTTopic:    cfg.MQTT.ReadingsTopic,
		FeedURL:      cfg.Ingestion.FeedURL,
		FeedInterval: cfg.Ingestion.FeedInterval,
	}, ingestDeps)
	if err := ingest.Start(ctx); err != nil {
		logging.Fatalf("Failed to start ingestion: %v", err)
	}

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	sweeps := sweeper.NewManager(clock, logger.With("component", "sweeper"), metrics).
		Add(sweeper.Task{Name: "delivery-retry", Interval: cfg.Notify.RetryInterval, Immediate: true, Run: func(ctx context.Context) error {
			_, err := orchestrator.RetryFailed(ctx)
			return err
		}}).
		Add(sweeper.Task{Name: "cumulative-thresholds", Interval: cfg.Threshold.CumulativeInterval, Run: func(ctx context.Context) error {
			_, err := engine.CheckAllThresholds(ctx)
			return err
		}}).
		Add(sweeper.Task{Name: "alert-expiry", Interval: cfg.Threshold.AlertExpiryInterval, Immediate: true, Run: func(ctx context.Context) error {
			_, err := engine.ExpireAlerts(ctx)
			return err
		}}).
		Add(sweeper.Task{Name: "session-expiry", Interval: cfg.Dialog.SweepInterval, Run: func(ctx context.Context) error {
			if _, err := ussd.ExpireSessions(ctx); err != nil {
				return err
			}
			_, err := ivr.ExpireSessions(ctx)
			return err
		}}).
		Add(sweeper.Task{Name: "hub-heartbeat", Interval: cfg.Hub.HeartbeatInterval, Run: broadcaster.Heartbeat})
	sweeps.Start(sweepCtx)

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(api.MetricsMiddleware(metrics))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.RateBurst))

	handler := api.NewHandler(api.Deps{
		Sensors:     db,
		Alerts:      db,
		Deliveries:  db,
		Devices:     db,
		Subscribers: db,
		Readings:    engine,
		Predictor:   engine,
		Notifier:    orchestrator,
		USSD:        ussd,
		IVR:         ivr,
		Hub:         broadcaster,
		Clock:       clock,
		Logger:      logger.With("component", "api"),
		Metrics:     metrics,
	}, cfg.Server.DebugRoutes)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr, "channels", orchestrator.Channels())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Producers first, then the queues they feed.
	ingest.Stop()
	stopSweeps()
	sweeps.Stop()
	orchestrator.Stop()
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			slog.Error("alert stream close error", "error", err)
		}
	}
	broadcaster.Close()
	if mqttClient != nil {
		mqttClient.Disconnect(250)
	}
	cancel()

	slog.Info("shutdown complete")
}
