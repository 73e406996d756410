package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/athebyme/catalog-feed-service/config"
	"github.com/athebyme/catalog-feed-service/internal/adapters/cache"
	"github.com/athebyme/catalog-feed-service/internal/adapters/filestore"
	"github.com/athebyme/catalog-feed-service/internal/adapters/logger"
	"github.com/athebyme/catalog-feed-service/internal/adapters/storage"
	"github.com/athebyme/catalog-feed-service/internal/api"
	"github.com/athebyme/catalog-feed-service/internal/domain/services"
	"github.com/athebyme/catalog-feed-service/internal/feed"
	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/athebyme/catalog-feed-service/internal/queue"
	"github.com/athebyme/catalog-feed-service/internal/security"
	"github.com/athebyme/catalog-feed-service/internal/utils"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// метрики для Prometheus
var (
	httpDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_durations_seconds",
		Help:    "Длительность HTTP запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status"})

	requestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Общее количество HTTP запросов",
	}, []string{"path", "method", "status"})

	feedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_feed_requests_total",
		Help: "Количество запросов фидов по токену канала",
	}, []string{"status"})
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация сервиса",
		ports.LogField{Key: "app_name", Value: cfg.AppName},
		ports.LogField{Key: "version", Value: cfg.Version},
		ports.LogField{Key: "env", Value: cfg.ENV},
	)

	postgresCon, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		fmt.Printf("Ошибка инициализации строки подключения базы: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.NewPostgresStorage(ctx, postgresCon)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища", ports.LogField{Key: "error", Value: err.Error()})
	}
	defer db.Close()
	log.Info("Хранилище инициализировано")

	testCtx, testCancel := context.WithTimeout(ctx, 5*time.Second)
	defer testCancel()

	if err := db.Ping(testCtx); err != nil {
		log.Fatal("Ошибка подключения к PostgreSQL",
			ports.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с PostgreSQL проверено")

	cacheClient, err := cache.NewRedisCache(
		ctx,
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		log.Fatal("Ошибка инициализации кэша", ports.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	// Отдельный клиент Redis для очереди задач пересборки
	queueClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer queueClient.Close()

	if err := queueClient.Ping(testCtx).Err(); err != nil {
		log.Fatal("Ошибка подключения к Redis",
			ports.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с Redis проверено")

	fileStore, err := filestore.NewFileStore(cfg.Storage.FeedBasePath)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища фидов", ports.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Хранилище фидов инициализировано")

	// API не обрабатывает задачи, очередь нужна для постановки и статусов
	rebuildQueue := queue.NewRebuildQueue(queueClient, cfg.Feed.QueueName, cfg.Feed.JobRetention, nil, log)

	enricher := feed.NewEnricher(cfg.Storage.AssetURLPrefix)
	feedService := services.NewFeedService(
		db,
		cacheClient,
		fileStore,
		enricher,
		rebuildQueue,
		log,
		cfg.Feed.BatchSize,
		cfg.Redis.DefaultExpiration,
	)
	log.Info("Сервис фидов инициализирован")

	jwtManager, err := security.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTExpirationMin, cfg.AppName)
	if err != nil {
		log.Fatal("Ошибка инициализации JWT", ports.LogField{Key: "error", Value: err.Error()})
	}

	router := api.SetupRouter(feedService, rebuildQueue, log, cfg.Security.CORSAllowOrigins, jwtManager)
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", ports.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Ошибка запуска сервера", ports.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal("Ошибка при graceful shutdown", ports.LogField{Key: "error", Value: err.Error()})
		}

		log.Info("HTTP сервер остановлен")

		log.Info("Закрытие соединений с зависимостями...")

		if err := cacheClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Redis",
				ports.LogField{Key: "error", Value: err.Error()})
		}

		if err := queueClient.Close(); err != nil {
			log.Error("Ошибка при закрытии клиента очереди",
				ports.LogField{Key: "error", Value: err.Error()})
		}

		if err := db.Close(); err != nil {
			log.Error("Ошибка при закрытии БД",
				ports.LogField{Key: "error", Value: err.Error()})
		}

		close(done)
	}()

	// Ожидаем завершения работы
	<-done
	log.Info("Сервер корректно завершил работу")
}
