package services

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/athebyme/catalog-feed-service/internal/adapters/filestore"
	"github.com/athebyme/catalog-feed-service/internal/delivery"
	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/athebyme/catalog-feed-service/internal/feed"
	"github.com/athebyme/catalog-feed-service/internal/ports"
	"github.com/athebyme/catalog-feed-service/internal/queue"
	"github.com/athebyme/catalog-feed-service/internal/utils"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage хранилище каналов и каталога в памяти
type fakeStorage struct {
	mu       sync.Mutex
	channels map[string]*models.Channel
	items    []*models.CatalogItem
	stock    map[string]int
	stockErr error

	marked      []string
	savedStates []savedState
}

type savedState struct {
	channelID string
	rebuild   bool
	location  *string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		channels: make(map[string]*models.Channel),
		stock:    make(map[string]int),
	}
}

func (f *fakeStorage) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[channelID], nil
}

func (f *fakeStorage) GetChannelByToken(ctx context.Context, token string) (*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, channel := range f.channels {
		if channel.Token == token {
			return channel, nil
		}
	}
	return nil, nil
}

func (f *fakeStorage) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	channels := make([]*models.Channel, 0, len(f.channels))
	for _, channel := range f.channels {
		channels = append(channels, channel)
	}
	return channels, nil
}

func (f *fakeStorage) MarkChannelForRebuild(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, channelID)
	if channel, ok := f.channels[channelID]; ok {
		channel.RebuildFeed = true
	}
	return nil
}

func (f *fakeStorage) SaveBuildState(ctx context.Context, channelID string, rebuild bool, feedLocation *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.savedStates = append(f.savedStates, savedState{channelID: channelID, rebuild: rebuild, location: feedLocation})
	if channel, ok := f.channels[channelID]; ok {
		channel.RebuildFeed = rebuild
		if feedLocation != nil {
			channel.FeedLocation = feedLocation
		}
	}
	return nil
}

func (f *fakeStorage) CountItems(ctx context.Context, channelID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items), nil
}

func (f *fakeStorage) ListItems(ctx context.Context, channelID string, limit, offset int) ([]*models.CatalogItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= len(f.items) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.items) {
		end = len(f.items)
	}
	return f.items[offset:end], nil
}

func (f *fakeStorage) GetStockLevel(ctx context.Context, itemID string) (*models.StockLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stockErr != nil {
		return nil, f.stockErr
	}
	return &models.StockLevel{ItemID: itemID, StockOnHand: f.stock[itemID]}, nil
}

func (f *fakeStorage) Close() error { return nil }

// fakeCache кэш в памяти с семантикой промаха как у Redis адаптера
type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte

	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string][]byte)}
}

func (f *fakeCache) key(key, token string) string { return token + ":" + key }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	return f.GetWithChannel(ctx, key, "")
}

func (f *fakeCache) GetWithChannel(ctx context.Context, key, channelToken string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.store[f.key(key, channelToken)]
	if !ok {
		return nil, utils.ErrCacheMiss
	}
	return value, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return f.SetWithChannel(ctx, key, value, "", expiration)
}

func (f *fakeCache) SetWithChannel(ctx context.Context, key string, value []byte, channelToken string, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[f.key(key, channelToken)] = value
	return nil
}

func (f *fakeCache) Delete(ctx context.Context, key string) error {
	return f.DeleteWithChannel(ctx, key, "")
}

func (f *fakeCache) DeleteWithChannel(ctx context.Context, key, channelToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, f.key(key, channelToken))
	f.deleted = append(f.deleted, f.key(key, channelToken))
	return nil
}

func (f *fakeCache) Close() error { return nil }

// fakeEnqueuer записывает поставленные в очередь каналы
type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, channelID string) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, channelID)
	return &queue.Job{ID: fmt.Sprintf("job-%d", len(f.enqueued)), ChannelID: channelID, State: queue.JobPending}, nil
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{})                                  {}
func (nopLogger) Info(msg string, args ...interface{})                                   {}
func (nopLogger) Warn(msg string, args ...interface{})                                   {}
func (nopLogger) Error(msg string, args ...interface{})                                  {}
func (nopLogger) Fatal(msg string, args ...interface{})                                  {}
func (nopLogger) DebugWithContext(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) InfoWithContext(ctx context.Context, msg string, args ...interface{})   {}
func (nopLogger) WarnWithContext(ctx context.Context, msg string, args ...interface{})   {}
func (nopLogger) ErrorWithContext(ctx context.Context, msg string, args ...interface{})  {}
func (nopLogger) WithFields(fields ...ports.LogField) ports.LoggerPort                   { return nopLogger{} }
func (nopLogger) WithField(key string, value interface{}) ports.LoggerPort               { return nopLogger{} }
func (nopLogger) WithChannel(channelID string) ports.LoggerPort                          { return nopLogger{} }
func (nopLogger) Sync() error                                                            { return nil }

type serviceFixture struct {
	storage  *fakeStorage
	cache    *fakeCache
	fs       afero.Fs
	enqueuer *fakeEnqueuer
	service  *FeedService
}

func newFixture(batchSize int) *serviceFixture {
	st := newFakeStorage()
	c := newFakeCache()
	fs := afero.NewMemMapFs()
	enq := &fakeEnqueuer{}

	svc := NewFeedService(
		st,
		c,
		filestore.NewFileStoreWithFs(fs),
		feed.NewEnricher("https://assets.example.com"),
		enq,
		nopLogger{},
		batchSize,
		time.Minute,
	)

	return &serviceFixture{storage: st, cache: c, fs: fs, enqueuer: enq, service: svc}
}

func urlChannel() *models.Channel {
	return &models.Channel{
		ID:      "channel-1",
		Code:    "main-shop",
		Token:   "tok-1",
		ShopURL: "https://shop.example.com",
		Output:  models.OutputURL,
	}
}

func catalogItems(n int) []*models.CatalogItem {
	items := make([]*models.CatalogItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, &models.CatalogItem{
			ID:                 fmt.Sprintf("item-%d", i),
			SKU:                fmt.Sprintf("SKU-%d", i),
			Name:               fmt.Sprintf("Product %d", i),
			ProductDescription: fmt.Sprintf("Description %d", i),
			ProductSlug:        fmt.Sprintf("product-%d", i),
			PriceWithTax:       int64(i) * 100,
			CurrencyCode:       "USD",
		})
	}
	return items
}

func TestMarkChannelDirty(t *testing.T) {
	t.Run("unknown channel", func(t *testing.T) {
		f := newFixture(2)
		err := f.service.MarkChannelDirty(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrChannelNotFound)
	})

	t.Run("disabled channel is a no-op", func(t *testing.T) {
		f := newFixture(2)
		f.storage.channels["channel-1"] = &models.Channel{ID: "channel-1", Output: models.OutputDisabled}

		require.NoError(t, f.service.MarkChannelDirty(context.Background(), "channel-1"))
		assert.Empty(t, f.storage.marked)
	})

	t.Run("already dirty is a no-op", func(t *testing.T) {
		f := newFixture(2)
		channel := urlChannel()
		channel.RebuildFeed = true
		f.storage.channels[channel.ID] = channel

		require.NoError(t, f.service.MarkChannelDirty(context.Background(), channel.ID))
		assert.Empty(t, f.storage.marked)
	})

	t.Run("marks enabled channel", func(t *testing.T) {
		f := newFixture(2)
		channel := urlChannel()
		f.storage.channels[channel.ID] = channel

		require.NoError(t, f.service.MarkChannelDirty(context.Background(), channel.ID))
		assert.Equal(t, []string{channel.ID}, f.storage.marked)
		assert.True(t, channel.RebuildFeed)
	})
}

func TestSweepChannels(t *testing.T) {
	f := newFixture(2)

	dirty := urlChannel()
	dirty.RebuildFeed = true
	f.storage.channels[dirty.ID] = dirty

	clean := &models.Channel{ID: "channel-2", Token: "tok-2", Output: models.OutputURL}
	f.storage.channels[clean.ID] = clean

	count, err := f.service.SweepChannels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{dirty.ID}, f.enqueuer.enqueued)
}

func TestSweepChannels_ContinuesOnEnqueueError(t *testing.T) {
	f := newFixture(2)
	f.enqueuer.err = errors.New("queue unavailable")

	dirty := urlChannel()
	dirty.RebuildFeed = true
	f.storage.channels[dirty.ID] = dirty

	count, err := f.service.SweepChannels(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEnqueueRebuild(t *testing.T) {
	t.Run("unknown channel", func(t *testing.T) {
		f := newFixture(2)
		_, err := f.service.EnqueueRebuild(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrChannelNotFound)
	})

	t.Run("disabled channel", func(t *testing.T) {
		f := newFixture(2)
		f.storage.channels["channel-1"] = &models.Channel{ID: "channel-1", Output: models.OutputDisabled}

		_, err := f.service.EnqueueRebuild(context.Background(), "channel-1")
		assert.ErrorIs(t, err, delivery.ErrOutputDisabled)
	})

	t.Run("enqueues enabled channel", func(t *testing.T) {
		f := newFixture(2)
		channel := urlChannel()
		f.storage.channels[channel.ID] = channel

		job, err := f.service.EnqueueRebuild(context.Background(), channel.ID)
		require.NoError(t, err)
		assert.Equal(t, channel.ID, job.ChannelID)
		assert.Equal(t, queue.JobPending, job.State)
	})
}

func TestBuildChannelFeed_URL(t *testing.T) {
	f := newFixture(2)
	channel := urlChannel()
	channel.RebuildFeed = true
	f.storage.channels[channel.ID] = channel
	f.storage.items = catalogItems(5)
	f.storage.stock["item-1"] = 10
	f.storage.stock["item-3"] = 1

	var progressCalls []models.BuildProgress
	result, err := f.service.BuildChannelFeed(context.Background(), channel.ID, func(p models.BuildProgress) {
		progressCalls = append(progressCalls, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.TotalItems)
	assert.Equal(t, 5, result.CompletedItems)
	assert.Equal(t, models.OutputURL, result.Output)
	assert.Equal(t, "product-catalog/tok-1.xml", result.Location)

	// ceil(5/2) = 3 вызова прогресса с нарастающим completed
	require.Len(t, progressCalls, 3)
	assert.Equal(t, 2, progressCalls[0].Completed)
	assert.Equal(t, 4, progressCalls[1].Completed)
	assert.Equal(t, 5, progressCalls[2].Completed)
	for _, p := range progressCalls {
		assert.Equal(t, 5, p.Total)
	}

	// Флаг снят, ключ артефакта сохранен
	require.Len(t, f.storage.savedStates, 1)
	saved := f.storage.savedStates[0]
	assert.False(t, saved.rebuild)
	require.NotNil(t, saved.location)
	assert.Equal(t, "product-catalog/tok-1.xml", *saved.location)
	assert.False(t, channel.RebuildFeed)

	// Артефакт записан и является валидным XML с элементами в исходном порядке
	data, err := afero.ReadFile(f.fs, "product-catalog/tok-1.xml")
	require.NoError(t, err)
	require.NoError(t, xml.Unmarshal(data, new(struct {
		XMLName xml.Name `xml:"rss"`
	})))

	out := string(data)
	last := -1
	for i := 1; i <= 5; i++ {
		idx := strings.Index(out, fmt.Sprintf("<g:id>SKU-%d</g:id>", i))
		require.NotEqual(t, -1, idx)
		assert.Greater(t, idx, last)
		last = idx
	}

	// Доступность выводится из остатков: только item-1 имеет больше единицы
	assert.Equal(t, 1, strings.Count(out, "<g:availability>in_stock</g:availability>"))
	assert.Equal(t, 4, strings.Count(out, "<g:availability>out_of_stock</g:availability>"))
}

func TestBuildChannelFeed_EmptyCatalog(t *testing.T) {
	f := newFixture(2)
	channel := urlChannel()
	f.storage.channels[channel.ID] = channel

	result, err := f.service.BuildChannelFeed(context.Background(), channel.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, result.TotalItems)

	data, err := afero.ReadFile(f.fs, "product-catalog/tok-1.xml")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<item>")
	require.NoError(t, xml.Unmarshal(data, new(struct {
		XMLName xml.Name `xml:"rss"`
	})))
}

func TestBuildChannelFeed_UnknownChannel(t *testing.T) {
	f := newFixture(2)
	_, err := f.service.BuildChannelFeed(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestBuildChannelFeed_DisabledChannel(t *testing.T) {
	f := newFixture(2)
	f.storage.channels["channel-1"] = &models.Channel{ID: "channel-1", Output: models.OutputDisabled}

	_, err := f.service.BuildChannelFeed(context.Background(), "channel-1", nil)
	assert.ErrorIs(t, err, delivery.ErrOutputDisabled)
}

func TestBuildChannelFeed_EnrichmentErrorAborts(t *testing.T) {
	f := newFixture(2)
	channel := urlChannel()
	channel.RebuildFeed = true
	f.storage.channels[channel.ID] = channel
	f.storage.items = catalogItems(3)
	f.storage.stockErr = errors.New("stock service down")

	_, err := f.service.BuildChannelFeed(context.Background(), channel.ID, nil)
	require.Error(t, err)

	// Частичный фид не доставляется, флаг пересборки остается
	exists, err := afero.Exists(f.fs, "product-catalog/tok-1.xml")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, f.storage.savedStates)
	assert.True(t, channel.RebuildFeed)
}

func TestBuildChannelFeed_DeliveryFailureKeepsDirtyFlag(t *testing.T) {
	st := newFakeStorage()
	channel := urlChannel()
	channel.RebuildFeed = true
	st.channels[channel.ID] = channel
	st.items = catalogItems(2)

	svc := NewFeedService(
		st,
		newFakeCache(),
		filestore.NewFileStoreWithFs(afero.NewReadOnlyFs(afero.NewMemMapFs())),
		feed.NewEnricher(""),
		&fakeEnqueuer{},
		nopLogger{},
		2,
		time.Minute,
	)

	_, err := svc.BuildChannelFeed(context.Background(), channel.ID, nil)
	require.Error(t, err)

	var deliveryErr *delivery.Error
	assert.ErrorAs(t, err, &deliveryErr)

	// Состояние канала не тронуто: следующий обход повторит сборку
	assert.Empty(t, st.savedStates)
	assert.True(t, channel.RebuildFeed)
}

func TestBuildChannelFeed_InvalidatesCachedFeed(t *testing.T) {
	f := newFixture(2)
	channel := urlChannel()
	f.storage.channels[channel.ID] = channel
	f.storage.items = catalogItems(1)

	require.NoError(t, f.cache.SetWithChannel(context.Background(), "feed.xml", []byte("stale"), channel.Token, 0))

	_, err := f.service.BuildChannelFeed(context.Background(), channel.ID, nil)
	require.NoError(t, err)

	_, err = f.cache.GetWithChannel(context.Background(), "feed.xml", channel.Token)
	assert.ErrorIs(t, err, utils.ErrCacheMiss)
}

func TestGetChannelFeed(t *testing.T) {
	t.Run("unknown token", func(t *testing.T) {
		f := newFixture(2)
		_, err := f.service.GetChannelFeed(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrChannelNotFound)
	})

	t.Run("sftp channel has no pull feed", func(t *testing.T) {
		f := newFixture(2)
		location := "tok-1.xml"
		f.storage.channels["channel-1"] = &models.Channel{
			ID: "channel-1", Token: "tok-1", Output: models.OutputSFTP, FeedLocation: &location,
		}

		_, err := f.service.GetChannelFeed(context.Background(), "tok-1")
		assert.ErrorIs(t, err, ErrFeedNotAvailable)
	})

	t.Run("not built yet", func(t *testing.T) {
		f := newFixture(2)
		f.storage.channels["channel-1"] = urlChannel()

		_, err := f.service.GetChannelFeed(context.Background(), "tok-1")
		assert.ErrorIs(t, err, ErrFeedNotAvailable)
	})

	t.Run("missing artifact", func(t *testing.T) {
		f := newFixture(2)
		channel := urlChannel()
		location := "product-catalog/tok-1.xml"
		channel.FeedLocation = &location
		f.storage.channels[channel.ID] = channel

		_, err := f.service.GetChannelFeed(context.Background(), "tok-1")
		assert.ErrorIs(t, err, ErrFeedNotAvailable)
	})

	t.Run("reads artifact and caches it", func(t *testing.T) {
		f := newFixture(2)
		channel := urlChannel()
		location := "product-catalog/tok-1.xml"
		channel.FeedLocation = &location
		f.storage.channels[channel.ID] = channel

		require.NoError(t, afero.WriteFile(f.fs, location, []byte("<rss/>"), 0o644))

		data, err := f.service.GetChannelFeed(context.Background(), "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "<rss/>", string(data))

		cached, err := f.cache.GetWithChannel(context.Background(), "feed.xml", channel.Token)
		require.NoError(t, err)
		assert.Equal(t, "<rss/>", string(cached))
	})

	t.Run("serves from cache", func(t *testing.T) {
		f := newFixture(2)
		channel := urlChannel()
		location := "product-catalog/tok-1.xml"
		channel.FeedLocation = &location
		f.storage.channels[channel.ID] = channel

		require.NoError(t, f.cache.SetWithChannel(context.Background(), "feed.xml", []byte("cached"), channel.Token, 0))

		data, err := f.service.GetChannelFeed(context.Background(), "tok-1")
		require.NoError(t, err)
		assert.Equal(t, "cached", string(data))
	})
}

// Сквозной сценарий: событие каталога -> пометка -> обход -> сборка -> выдача
func TestDirtyLifecycle(t *testing.T) {
	f := newFixture(2)
	channel := urlChannel()
	f.storage.channels[channel.ID] = channel
	f.storage.items = catalogItems(3)
	f.storage.stock["item-2"] = 5

	ctx := context.Background()

	require.NoError(t, f.service.MarkChannelDirty(ctx, channel.ID))
	require.True(t, channel.RebuildFeed)

	count, err := f.service.SweepChannels(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = f.service.BuildChannelFeed(ctx, channel.ID, nil)
	require.NoError(t, err)
	assert.False(t, channel.RebuildFeed)

	data, err := f.service.GetChannelFeed(ctx, channel.Token)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<g:id>SKU-2</g:id>")

	// Повторный обход ничего не ставит в очередь: канал чист
	count, err = f.service.SweepChannels(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
