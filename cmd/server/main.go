// Package main запускает сервис потокового мониторинга индекса разлома
// Сервис реализует:
// - HTTP API приема выборок и подтвержденных исходов
// - Составной индекс разлома по спектральным и статистическим признакам
// - Машину уровней вмешательства с гистерезисом и выдержкой кризиса
// - Антихрупкий цикл адаптации порогов по исходам
// - Архивацию профилей в Redis и экспорт метрик в Prometheus
package main

import (
	"context"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"fracture-monitor/internal/archive"
	"fracture-monitor/internal/config"
	"fracture-monitor/internal/engine"
	"fracture-monitor/internal/handlers"
	"fracture-monitor/internal/metrics"
	"fracture-monitor/internal/models"
	"fracture-monitor/internal/ws"
)

// serviceConfig конфигурация сервисного слоя из переменных окружения
type serviceConfig struct {
	ServerAddr      string
	Domain          string
	DomainPath      string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	Debug           bool
	AutosaveSeconds int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
}

func main() {
	cfg := loadServiceConfig()

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting fracture monitor",
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()),
		zap.String("domain", cfg.Domain))

	domain, err := loadDomain(cfg)
	if err != nil {
		logger.Fatal("failed to load domain config", zap.Error(err))
	}

	eng, err := engine.New(domain, logger)
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}

	// Подключение к Redis с повторами; без архива сервис тоже работает
	var arch *archive.RedisArchive
	for i := 0; i < 5; i++ {
		arch, err = archive.NewRedisArchive(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
			break
		}
		logger.Warn("Redis connection attempt failed",
			zap.Int("attempt", i+1), zap.Error(err))
		if i < 4 {
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		logger.Warn("running without archive", zap.Error(err))
		arch = nil
	}

	if arch != nil {
		restoreProfiles(eng, arch, logger)
	}

	hub := ws.NewHub(logger)
	go hub.Run()

	handler := handlers.NewHandler(eng, arch)

	router := mux.NewRouter()

	// API эндпоинты
	router.HandleFunc("/observe", handler.ObserveHandler).Methods("POST")
	router.HandleFunc("/observe/batch", handler.BatchObserveHandler).Methods("POST")
	router.HandleFunc("/outcome", handler.OutcomeHandler).Methods("POST")
	router.HandleFunc("/profile/{entity}", handler.ProfileHandler).Methods("GET")
	router.HandleFunc("/risk/{entity}", handler.RiskHandler).Methods("GET")
	router.HandleFunc("/status", handler.StatusHandler).Methods("GET")
	router.HandleFunc("/reset/{entity}", handler.ResetHandler).Methods("POST")
	router.HandleFunc("/export/{entity}", handler.ExportHandler).Methods("GET")
	router.HandleFunc("/import", handler.ImportHandler).Methods("POST")
	router.HandleFunc("/scores/recent", handler.RecentScoresHandler).Methods("GET")
	router.HandleFunc("/health", handler.HealthHandler).Methods("GET")

	// Поток событий для UI-коллаборантов
	router.HandleFunc("/events", hub.Serve)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	router.Use(loggingMiddleware(logger))

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// Насос событий движка: лог + websocket рассылка
	go pumpEvents(eng, hub, logger)

	// Периодическое обновление агрегированных метрик
	go statusLoop(eng)

	// Автосохранение профилей в архив
	if arch != nil && cfg.AutosaveSeconds > 0 {
		go autosaveLoop(eng, arch, time.Duration(cfg.AutosaveSeconds)*time.Second, logger)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ServerAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Финальное сохранение профилей перед остановкой
	if arch != nil {
		saveAllProfiles(eng, arch, logger)
	}

	eng.Close()
	hub.Stop()

	if arch != nil {
		arch.Close()
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// buildLogger создает zap логгер; debug включает подробный уровень
func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// loadDomain выбирает конфигурацию домена: файл или встроенный пресет
func loadDomain(cfg serviceConfig) (config.Domain, error) {
	if cfg.DomainPath != "" {
		return config.Load(cfg.DomainPath)
	}
	return config.Preset(cfg.Domain)
}

// restoreProfiles загружает архивированные профили при старте.
// Поврежденный экспорт заменяется свежим профилем, старый остается
// в архиве для офлайн-разбора.
func restoreProfiles(eng *engine.Engine, arch *archive.RedisArchive, logger *zap.Logger) {
	ids, err := arch.EntityIDs()
	if err != nil {
		logger.Warn("failed to list archived profiles", zap.Error(err))
		return
	}

	restored := 0
	for _, id := range ids {
		exp, err := arch.LoadProfile(id)
		if err != nil {
			logger.Error("corrupt archived profile", zap.String("entity", id), zap.Error(err))
			eng.RecoverProfile(id)
			continue
		}
		if exp == nil {
			continue
		}
		if err := eng.ImportProfile(*exp); err != nil {
			logger.Error("failed to import archived profile",
				zap.String("entity", id), zap.Error(err))
			eng.RecoverProfile(id)
			continue
		}
		restored++
	}

	logger.Info("profiles restored from archive", zap.Int("count", restored))
}

// saveAllProfiles сохраняет экспорты всех профилей в архив
func saveAllProfiles(eng *engine.Engine, arch *archive.RedisArchive, logger *zap.Logger) {
	saved := 0
	for _, id := range eng.Store().EntityIDs() {
		exp, err := eng.ExportProfile(id)
		if err != nil {
			continue
		}
		if err := arch.SaveProfile(exp); err != nil {
			logger.Warn("failed to archive profile", zap.String("entity", id), zap.Error(err))
			continue
		}
		saved++
	}
	logger.Info("profiles archived", zap.Int("count", saved))
}

// pumpEvents потребляет события движка: лог и websocket рассылка
func pumpEvents(eng *engine.Engine, hub *ws.Hub, logger *zap.Logger) {
	for ev := range eng.Events() {
		hub.BroadcastEvent(ev)

		if ev.Type == models.EventCrisisConfirmed {
			logger.Warn("crisis broadcast",
				zap.String("entity", ev.EntityID),
				zap.Float64("peak_fi", ev.Crisis.PeakFI))
		}
	}
}

// statusLoop периодически обновляет агрегированные метрики Prometheus
func statusLoop(eng *engine.Engine) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		eng.Status()
		metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
	}
}

// autosaveLoop периодически архивирует все профили
func autosaveLoop(eng *engine.Engine, arch *archive.RedisArchive, period time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for range ticker.C {
		saveAllProfiles(eng, arch, logger)
	}
}

// loadServiceConfig загружает конфигурацию сервиса из переменных окружения
func loadServiceConfig() serviceConfig {
	return serviceConfig{
		ServerAddr:      getEnv("SERVER_ADDR", ":8080"),
		Domain:          getEnv("DOMAIN", "cognitive"),
		DomainPath:      getEnv("DOMAIN_CONFIG", ""),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		Debug:           getEnv("DEBUG", "") != "",
		AutosaveSeconds: getEnvInt("AUTOSAVE_SECONDS", 60),
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
	}
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// loggingMiddleware логирует HTTP запросы
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("took", time.Since(start)))
		})
	}
}
