package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/athebyme/catalog-feed-service/internal/adapters/storage"
	"github.com/athebyme/catalog-feed-service/internal/delivery"
	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/athebyme/catalog-feed-service/internal/feed"
	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/athebyme/catalog-feed-service/internal/queue"
	"github.com/athebyme/catalog-feed-service/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Ключ кэша артефакта фида в Redis (скоуп - токен канала)
const feedCacheKey = "feed.xml"

// ProgressFunc вызывается после каждой обработанной страницы каталога.
// Значения completed строго возрастают, последнее равно total
type ProgressFunc func(models.BuildProgress)

// RebuildEnqueuer контракт очереди задач, в которую сервис ставит пересборки
type RebuildEnqueuer interface {
	Enqueue(ctx context.Context, channelID string) (*queue.Job, error)
}

// FeedServiceInterface предоставляет бизнес-логику сборки и публикации фидов
type FeedServiceInterface interface {
	// MarkChannelDirty помечает канал на пересборку фида (идемпотентно)
	MarkChannelDirty(ctx context.Context, channelID string) error

	// SweepChannels ставит в очередь пересборку всех помеченных каналов
	SweepChannels(ctx context.Context) (int, error)

	// EnqueueRebuild немедленно ставит пересборку канала в очередь
	EnqueueRebuild(ctx context.Context, channelID string) (*queue.Job, error)

	// BuildChannelFeed собирает и доставляет фид одного канала
	BuildChannelFeed(ctx context.Context, channelID string, progress ProgressFunc) (*models.BuildResult, error)

	// GetChannelFeed возвращает последний собранный фид канала (только pull режим)
	GetChannelFeed(ctx context.Context, channelToken string) ([]byte, error)
}

// FeedService реализация FeedServiceInterface
type FeedService struct {
	repository storage.FeedStoragePort
	cache      ports.CachePort
	fileStore  ports.FileStorePort
	deliveries *delivery.Factory
	enricher   *feed.Enricher
	rebuilds   RebuildEnqueuer
	logger     ports.LoggerPort

	batchSize int
	cacheTTL  time.Duration
}

// NewFeedService создает новый экземпляр FeedService
func NewFeedService(
	repository storage.FeedStoragePort,
	cache ports.CachePort,
	fileStore ports.FileStorePort,
	enricher *feed.Enricher,
	rebuilds RebuildEnqueuer,
	logger ports.LoggerPort,
	batchSize int,
	cacheTTL time.Duration,
) *FeedService {
	if batchSize < 1 {
		batchSize = 50
	}

	return &FeedService{
		repository: repository,
		cache:      cache,
		fileStore:  fileStore,
		deliveries: delivery.NewFactory(fileStore),
		enricher:   enricher,
		rebuilds:   rebuilds,
		logger:     logger,
		batchSize:  batchSize,
		cacheTTL:   cacheTTL,
	}
}

// MarkChannelDirty помечает канал на пересборку фида.
// Для каналов с выключенной публикацией и уже помеченных каналов - no-op,
// поэтому поток событий каталога можно применять без дедупликации
func (s *FeedService) MarkChannelDirty(ctx context.Context, channelID string) error {
	channel, err := s.repository.GetChannel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}
	if channel == nil {
		return ErrChannelNotFound
	}

	if !channel.FeedEnabled() {
		return nil
	}

	if channel.RebuildFeed {
		return nil
	}

	if err := s.repository.MarkChannelForRebuild(ctx, channel.ID); err != nil {
		return fmt.Errorf("failed to mark channel for rebuild: %w", err)
	}

	s.logger.InfoWithContext(ctx, "Канал помечен на пересборку фида",
		ports.LogField{Key: "channel_id", Value: channel.ID},
		ports.LogField{Key: "channel_code", Value: channel.Code},
	)

	return nil
}

// SweepChannels обходит все каналы и ставит в очередь пересборку помеченных.
// Флаг пересборки не снимается: это делает сборщик после успешной доставки,
// поэтому повторная постановка того же канала безвредна
func (s *FeedService) SweepChannels(ctx context.Context) (int, error) {
	channels, err := s.repository.ListChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list channels: %w", err)
	}

	enqueued := 0
	for _, channel := range channels {
		if !channel.RebuildFeed {
			continue
		}

		if _, err := s.rebuilds.Enqueue(ctx, channel.ID); err != nil {
			s.logger.ErrorWithContext(ctx, "Ошибка постановки пересборки в очередь",
				ports.LogField{Key: "channel_id", Value: channel.ID},
				ports.LogField{Key: "error", Value: err.Error()},
			)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.InfoWithContext(ctx, "Обход каналов завершен",
			ports.LogField{Key: "enqueued", Value: enqueued},
		)
	}

	return enqueued, nil
}

// EnqueueRebuild немедленно ставит пересборку канала в очередь
func (s *FeedService) EnqueueRebuild(ctx context.Context, channelID string) (*queue.Job, error) {
	channel, err := s.repository.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}
	if !channel.FeedEnabled() {
		return nil, delivery.ErrOutputDisabled
	}

	return s.rebuilds.Enqueue(ctx, channel.ID)
}

// BuildChannelFeed собирает фид одного канала: постранично извлекает каталог,
// обогащает элементы, потоково сериализует их и передает результат стратегии
// доставки. Флаг пересборки снимается только после успешной доставки; любая
// ошибка оставляет его выставленным, и следующий обход повторит сборку
func (s *FeedService) BuildChannelFeed(ctx context.Context, channelID string, progress ProgressFunc) (*models.BuildResult, error) {
	start := time.Now()

	channel, err := s.repository.GetChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}

	strategy, err := s.deliveries.ForChannel(channel)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := feed.NewWriter(&buf)

	err = writer.Open(models.FeedOptions{
		Title:       fmt.Sprintf("%s product catalog", channel.Code),
		Link:        channel.ShopURL,
		Description: fmt.Sprintf("All products for %s", channel.Code),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open feed document: %w", err)
	}

	// Знаменатель прогресса фиксируется на старте сборки: при конкурентных
	// изменениях каталога прогресс остается приблизительным
	total, err := s.repository.CountItems(ctx, channel.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count catalog items: %w", err)
	}

	completed := 0
	for offset := 0; offset < total; offset += s.batchSize {
		items, err := s.repository.ListItems(ctx, channel.ID, s.batchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch catalog page: %w", err)
		}
		if len(items) == 0 {
			break
		}

		enriched, err := s.enrichPage(ctx, channel, items)
		if err != nil {
			return nil, err
		}

		// Элементы дописываются в порядке пагинации хранилища
		for _, feedItem := range enriched {
			if err := writer.AddItem(feedItem); err != nil {
				return nil, fmt.Errorf("failed to serialize feed item %s: %w", feedItem.ID, err)
			}
		}

		completed += len(items)
		if completed > total {
			completed = total
		}

		if progress != nil {
			progress(models.BuildProgress{
				Total:     total,
				Completed: completed,
				Elapsed:   time.Since(start),
			})
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close feed document: %w", err)
	}

	artifact, err := strategy.Deliver(ctx, channel, buf.Bytes())
	if err != nil {
		return nil, err
	}

	// Единственная запись в канал за всю сборку: снимаем флаг и, для pull
	// режима, запоминаем ключ артефакта
	var location *string
	if channel.Output == models.OutputURL {
		location = &artifact.Location
	}

	if err := s.repository.SaveBuildState(ctx, channel.ID, false, location); err != nil {
		return nil, fmt.Errorf("failed to save build state: %w", err)
	}

	// Сбрасываем кэшированный артефакт, чтобы следующий запрос получил свежий фид
	if channel.Output == models.OutputURL {
		if err := s.cache.DeleteWithChannel(ctx, feedCacheKey, channel.Token); err != nil {
			s.logger.WarnWithContext(ctx, "Ошибка инвалидации кэша фида",
				ports.LogField{Key: "channel_id", Value: channel.ID},
				ports.LogField{Key: "error", Value: err.Error()},
			)
		}
	}

	result := &models.BuildResult{
		TotalItems:     total,
		CompletedItems: total,
		Elapsed:        time.Since(start),
		Output:         channel.Output,
		Location:       artifact.Location,
	}

	s.logger.InfoWithContext(ctx, "Фид канала собран",
		ports.LogField{Key: "channel_id", Value: channel.ID},
		ports.LogField{Key: "channel_code", Value: channel.Code},
		ports.LogField{Key: "total_items", Value: total},
		ports.LogField{Key: "output", Value: string(channel.Output)},
		ports.LogField{Key: "location", Value: artifact.Location},
		ports.LogField{Key: "elapsed", Value: result.Elapsed.String()},
	)

	return result, nil
}

// enrichPage конкурентно обогащает страницу каталога.
// Параллелизм ограничен размером страницы; результат сохраняет исходный
// порядок элементов. Ошибка любого элемента прерывает всю сборку -
// частичный фид никогда не доставляется
func (s *FeedService) enrichPage(ctx context.Context, channel *models.Channel, items []*models.CatalogItem) ([]models.FeedItem, error) {
	enriched := make([]models.FeedItem, len(items))

	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			stock, err := s.repository.GetStockLevel(gctx, item.ID)
			if err != nil {
				return fmt.Errorf("failed to enrich item %s: %w", item.SKU, err)
			}
			enriched[i] = s.enricher.Enrich(item, stock, channel)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return enriched, nil
}

// GetChannelFeed возвращает последний собранный фид канала.
// Доступно только для каналов в pull режиме; до первой успешной сборки
// фид считается отсутствующим - частичные документы не отдаются никогда
func (s *FeedService) GetChannelFeed(ctx context.Context, channelToken string) ([]byte, error) {
	channel, err := s.repository.GetChannelByToken(ctx, channelToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel by token: %w", err)
	}
	if channel == nil {
		return nil, ErrChannelNotFound
	}

	if channel.Output != models.OutputURL || channel.FeedLocation == nil {
		return nil, ErrFeedNotAvailable
	}

	// Сначала пробуем кэш
	if cached, err := s.cache.GetWithChannel(ctx, feedCacheKey, channel.Token); err == nil {
		return cached, nil
	}

	data, err := s.fileStore.ReadFileToBuffer(ctx, *channel.FeedLocation)
	if err != nil {
		if err == utils.ErrFileNotFound {
			return nil, ErrFeedNotAvailable
		}
		return nil, fmt.Errorf("failed to read feed artifact: %w", err)
	}

	if err := s.cache.SetWithChannel(ctx, feedCacheKey, data, channel.Token, s.cacheTTL); err != nil {
		s.logger.WarnWithContext(ctx, "Ошибка записи фида в кэш",
			ports.LogField{Key: "channel_id", Value: channel.ID},
			ports.LogField{Key: "error", Value: err.Error()},
		)
	}

	return data, nil
}
