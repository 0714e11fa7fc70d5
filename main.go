package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"openplay-matchmaking/config"
	"openplay-matchmaking/handler"
	"openplay-matchmaking/service"
	"openplay-matchmaking/storage"
)

// newLogger создает production логгер с уровнем из конфигурации
func newLogger(level string) (*zap.Logger, error) {
	atomicLevel, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = atomicLevel
	return zapConfig.Build()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Инициализация логгера
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting Open Play Matchmaking Service",
		zap.Strings("courts", cfg.Courts),
		zap.Int("court_capacity", cfg.CourtCapacity),
	)

	// Инициализация Redis хранилища
	redisStorage, err := storage.NewRedisStorage(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis storage", zap.Error(err))
	}
	defer redisStorage.Close()

	logger.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	// Доска кортов и реестр статусов
	board := service.NewBoard(cfg.CourtList())
	registry := service.NewStatusRegistry(board)
	orchestrator := service.NewOrchestrator(registry, board, redisStorage, redisStorage, logger, &service.OrchestratorConfig{
		RemoteTimeout: cfg.RemoteTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Загрузка ростера и активных матчей
	participants, err := redisStorage.ListParticipants(ctx)
	if err != nil {
		logger.Fatal("Failed to load roster", zap.Error(err))
	}
	if err := orchestrator.LoadRoster(participants); err != nil {
		logger.Fatal("Failed to register roster", zap.Error(err))
	}
	if err := orchestrator.RefreshMatches(ctx); err != nil {
		logger.Warn("Failed to load active matches", zap.Error(err))
	}
	logger.Info("Roster loaded", zap.Int("participants", len(participants)))

	// Инициализация HTTP handlers
	sessionHandler := handler.NewSessionHandler(orchestrator, redisStorage, logger)

	// Настройка маршрутов
	router := mux.NewRouter()
	sessionHandler.Register(router)

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Настройка HTTP сервера
	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Запуск сервера в горутине
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Ручные смены статуса от других экземпляров и операторов
	go func() {
		if err := redisStorage.ConsumeStatusOverrides(ctx, orchestrator.ApplyStatusOverride); err != nil {
			logger.Error("Status override subscription stopped", zap.Error(err))
		}
	}()

	// Сверка матчей с хранилищем в фоне
	go func() {
		ticker := time.NewTicker(cfg.MatchRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := orchestrator.RefreshMatches(ctx); err != nil {
					logger.Warn("Failed to refresh matches", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Ожидание сигнала для graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel() // Останавливаем фоновые задачи

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
