package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"NoiseMonitorAPI/internal/config"
	"NoiseMonitorAPI/internal/events"
	"NoiseMonitorAPI/internal/handler"
	"NoiseMonitorAPI/internal/history"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/metrics"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/mqtt"
	"NoiseMonitorAPI/internal/registry"
	"NoiseMonitorAPI/internal/repository"
	"NoiseMonitorAPI/internal/server"
	"NoiseMonitorAPI/internal/service"
	"NoiseMonitorAPI/internal/storage"
	"NoiseMonitorAPI/internal/websocket"
)

const eventBufferSize = 256

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize Logger
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Mode:        cfg.Logging.Mode,
		LogFilePath: cfg.Logging.FilePath,
		UseColors:   cfg.Logging.UseColors,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Configuration validation failed: %v", err)
	}

	cfg.Print()
	log.Info("Starting Noise Monitor API Server")
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Storage
	store, err := storage.Open(ctx, &cfg.Storage, log.Named("storage"))
	if err != nil {
		log.Fatal("Failed to open %s storage: %v", cfg.Storage.Driver, err)
	}
	defer store.Close()
	log.Info("Storage ready (%s)", cfg.Storage.Driver)

	// 4. Repositories
	areaRepo := repository.NewAreaRepository(store)
	historyRepo := repository.NewHistoryRepository(store)
	configRepo := repository.NewConfigRepository(store, cfg.DefaultBrokerConfig(), log.Named("config"))

	bus := events.NewBus(eventBufferSize)
	defer bus.Close()

	// 5. History and area state
	historyStore := history.NewStore(cfg.Engine.HistoryMaxAge, cfg.Engine.HistoryMaxPoints)
	historyService := service.NewHistoryService(historyStore, historyRepo, cfg.Engine.HistoryFlushInterval, log.Named("history"))
	restored := historyService.Restore(ctx)
	log.Info("Restored %d noise samples", restored)

	reg := registry.New(areaRepo, bus, log.Named("registry"))
	if err := reg.Load(ctx); err != nil {
		log.Error("Failed to load areas, starting empty: %v", err)
	}
	log.Info("Loaded %d areas", reg.Count())

	// 6. Broker connection
	manager, err := mqtt.NewManager(mqtt.ManagerConfig{
		MQTT:   &cfg.MQTT,
		Logger: log.Named("mqtt"),
		Events: bus,
		Flag:   configRepo,
	})
	if err != nil {
		log.Fatal("Failed to create MQTT manager: %v", err)
	}

	ingestion := service.NewIngestionService(historyStore, reg, bus, cfg.Engine.AlertClearDelay, log.Named("engine"))
	connectionService := service.NewConnectionService(manager, configRepo, log.Named("connection"))

	// 7. Background loops
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ingestion.Run(ctx, manager.Messages())
	}()
	go func() {
		defer wg.Done()
		historyService.Run(ctx)
	}()

	stream, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	hub := websocket.NewHub(func() []websocket.Message {
		return initialMessages(reg, connectionService)
	}, log.Named("ws"))
	go hub.Run(ctx, stream)

	connectionService.Start(ctx)

	// 8. Handlers
	srv := server.New(cfg, log)
	srv.RegisterHandlers(server.Handlers{
		Areas:      handler.NewAreaHandler(reg, log),
		Connection: handler.NewConnectionHandler(connectionService, log),
		Config:     handler.NewConfigHandler(connectionService, log),
		History:    handler.NewHistoryHandler(historyService, log),
		Export:     handler.NewExportHandler(reg, historyService, log),
		Stream:     handler.NewStreamHandler(hub, log),
		Health:     handler.NewHealthHandler(store, manager, hub, log),
	})

	// 9. Start HTTP Server
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Server failed: %v", err)
		}
	}()

	log.Info("API server ready on http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	// 10. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error: %v", err)
	}

	manager.Close()
	cancel()
	wg.Wait()

	log.Info("Shutdown complete")
}

// initialMessages is what a dashboard receives on connect: the full area
// list followed by the current broker status.
func initialMessages(reg *registry.Registry, conn *service.ConnectionService) []websocket.Message {
	now := time.Now()

	areas := models.NewEvent(models.EventAreasChanged, "")
	areas.Timestamp = now
	areas.Areas = reg.List()

	state := conn.Status()
	status := models.NewEvent(models.EventStatusChanged, string(state.Status))
	status.Timestamp = now
	status.Connection = &state

	return []websocket.Message{
		{Type: string(areas.Type), Payload: areas},
		{Type: string(status.Type), Payload: status},
	}
}
