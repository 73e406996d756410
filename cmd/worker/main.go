package main

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/athebyme/catalog-feed-service/internal/adapters/messaging"
	"github.com/athebyme/catalog-feed-service/internal/adapters/storage"
	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/athebyme/catalog-feed-service/internal/domain/services"
	"github.com/athebyme/catalog-feed-service/internal/feed"
	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/athebyme/catalog-feed-service/internal/queue"
	"github.com/athebyme/catalog-feed-service/internal/utils"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// метрики для Prometheus
var (
	feedBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_feed_builds_total",
		Help: "Количество сборок фидов",
	}, []string{"status"})

	feedBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_feed_build_duration_seconds",
		Help:    "Длительность сборки фида",
		Buckets: prometheus.DefBuckets,
	})

	feedItemsBuilt = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_feed_items_total",
		Help: "Количество товарных позиций, записанных в фиды",
	})

	dirtyChannelsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_feed_swept_channels_total",
		Help: "Количество каналов, поставленных в очередь обходом",
	})
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
	log.Info("Инициализация воркера фидов",
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

	messagingClient, err := messaging.NewKafkaMessaging(cfg.Kafka.Brokers, cfg.Kafka.GroupID, log)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями", ports.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()
	log.Info("Система обмена сообщениями инициализирована")

	fileStore, err := filestore.NewFileStore(cfg.Storage.FeedBasePath)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища фидов", ports.LogField{Key: "error", Value: err.Error()})
	}

	enricher := feed.NewEnricher(cfg.Storage.AssetURLPrefix)

	// Сервис и очередь ссылаются друг на друга: сервис ставит задачи,
	// обработчик задач вызывает сборку фида
	var feedService services.FeedServiceInterface

	process := func(jobCtx context.Context, job *queue.Job) (*models.BuildResult, error) {
		start := time.Now()

		result, err := feedService.BuildChannelFeed(jobCtx, job.ChannelID, func(p models.BuildProgress) {
			if err := job.SetProgress(jobCtx, p.Percent()); err != nil {
				log.WarnWithContext(jobCtx, "Ошибка сохранения прогресса задачи",
					ports.LogField{Key: "error", Value: err.Error()})
			}
		})

		feedBuildDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			feedBuilds.WithLabelValues("failed").Inc()
			return nil, err
		}

		feedBuilds.WithLabelValues("completed").Inc()
		feedItemsBuilt.Add(float64(result.CompletedItems))
		return result, nil
	}

	rebuildQueue := queue.NewRebuildQueue(queueClient, cfg.Feed.QueueName, cfg.Feed.JobRetention, process, log)

	feedService = services.NewFeedService(
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

	// События каталога помечают каналы на пересборку
	unsubscribe, err := messagingClient.Subscribe(ctx, cfg.Kafka.CatalogTopic, func(msgCtx context.Context, msg *ports.Message) error {
		var event messaging.CatalogEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.WarnWithContext(msgCtx, "Некорректное событие каталога",
				ports.LogField{Key: "error", Value: err.Error()})
			return nil
		}

		if event.ChannelID == "" {
			return nil
		}

		if err := feedService.MarkChannelDirty(msgCtx, event.ChannelID); err != nil {
			if errors.Is(err, services.ErrChannelNotFound) {
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		log.Fatal("Ошибка подписки на события каталога", ports.LogField{Key: "error", Value: err.Error()})
	}
	defer unsubscribe()
	log.Info("Подписка на события каталога оформлена",
		ports.LogField{Key: "topic", Value: cfg.Kafka.CatalogTopic})

	// Периодический обход помеченных каналов
	go func() {
		ticker := time.NewTicker(cfg.Feed.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				count, err := feedService.SweepChannels(ctx)
				if err != nil {
					log.Error("Ошибка обхода каналов",
						ports.LogField{Key: "error", Value: err.Error()})
					continue
				}
				if count > 0 {
					dirtyChannelsSwept.Add(float64(count))
					log.Info("Каналы поставлены в очередь пересборки",
						ports.LogField{Key: "count", Value: count})
				}
			}
		}
	}()

	// Цикл обработки задач пересборки
	go rebuildQueue.Run(ctx)

	// HTTP сервер метрик
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})

		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}

		go func() {
			log.Info("Сервер метрик запущен", ports.LogField{Key: "address", Value: metricsServer.Addr})
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Ошибка сервера метрик", ports.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Получен сигнал завершения, выполняется graceful shutdown...")
	cancel()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("Ошибка остановки сервера метрик",
				ports.LogField{Key: "error", Value: err.Error()})
		}
	}

	if err := messagingClient.Close(); err != nil {
		log.Error("Ошибка при закрытии Kafka",
			ports.LogField{Key: "error", Value: err.Error()})
	}

	if err := cacheClient.Close(); err != nil {
		log.Error("Ошибка при закрытии Redis",
			ports.LogField{Key: "error", Value: err.Error()})
	}

	if err := db.Close(); err != nil {
		log.Error("Ошибка при закрытии БД",
			ports.LogField{Key: "error", Value: err.Error()})
	}

	log.Info("Воркер корректно завершил работу")
}
