package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChannelStorageInterface определяет интерфейс взаимодействия с реестром каналов
type ChannelStorageInterface interface {
	// GetChannel получает канал по ID
	// Возвращает nil, nil если канал не найден
	GetChannel(ctx context.Context, channelID string) (*models.Channel, error)

	// GetChannelByToken получает канал по уникальному токену
	GetChannelByToken(ctx context.Context, token string) (*models.Channel, error)

	// ListChannels возвращает все каналы
	ListChannels(ctx context.Context) ([]*models.Channel, error)

	// MarkChannelForRebuild выставляет флаг пересборки фида
	MarkChannelForRebuild(ctx context.Context, channelID string) error

	// SaveBuildState сохраняет состояние сборки фида канала
	// Единственная запись в канал, которую выполняет сборщик
	SaveBuildState(ctx context.Context, channelID string, rebuild bool, feedLocation *string) error
}

// CatalogStorageInterface определяет интерфейс чтения каталога
// Каталог принадлежит платформе, сборщик фида его никогда не изменяет
type CatalogStorageInterface interface {
	// CountItems считает варианты товаров, назначенные каналу
	CountItems(ctx context.Context, channelID string) (int, error)

	// ListItems возвращает страницу вариантов в естественном порядке пагинации
	ListItems(ctx context.Context, channelID string, limit, offset int) ([]*models.CatalogItem, error)

	// GetStockLevel возвращает остаток варианта на складе
	GetStockLevel(ctx context.Context, itemID string) (*models.StockLevel, error)
}

// FeedStoragePort объединяет оба интерфейса хранилища
type FeedStoragePort interface {
	ChannelStorageInterface
	CatalogStorageInterface

	Close() error
}

// FeedStorage реализация хранилища для PostgreSQL
type FeedStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage создает новый экземпляр FeedStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*FeedStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &FeedStorage{
		pool: pool,
	}, nil
}

// NewPostgresStorageWithPool создает хранилище поверх готового пула
func NewPostgresStorageWithPool(ctx context.Context, pool *pgxpool.Pool) (*FeedStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &FeedStorage{
		pool: pool,
	}, nil
}

// Close закрывает соединение с БД
func (r *FeedStorage) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД
func (r *FeedStorage) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const channelColumns = `
	id, code, token, shop_url,
	catalog_output, sftp_server, sftp_port, sftp_user, sftp_password,
	rebuild_feed, feed_location, created_at, updated_at
`

// scanChannel читает канал из строки результата
func scanChannel(row pgx.Row) (*models.Channel, error) {
	var (
		channel      models.Channel
		shopURL      *string
		sftpServer   *string
		sftpPort     *int
		sftpUser     *string
		sftpPassword *string
	)

	err := row.Scan(
		&channel.ID, &channel.Code, &channel.Token, &shopURL,
		&channel.Output, &sftpServer, &sftpPort, &sftpUser, &sftpPassword,
		&channel.RebuildFeed, &channel.FeedLocation, &channel.CreatedAt, &channel.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if shopURL != nil {
		channel.ShopURL = *shopURL
	}
	if sftpServer != nil {
		channel.SftpServer = *sftpServer
	}
	if sftpPort != nil {
		channel.SftpPort = *sftpPort
	}
	if sftpUser != nil {
		channel.SftpUser = *sftpUser
	}
	if sftpPassword != nil {
		channel.SftpPassword = *sftpPassword
	}

	return &channel, nil
}

// GetChannel получает канал по ID
func (r *FeedStorage) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM feed.channels
		WHERE id = $1
	`

	channel, err := scanChannel(r.pool.QueryRow(ctx, query, channelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Канал не найден
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	return channel, nil
}

// GetChannelByToken получает канал по токену
func (r *FeedStorage) GetChannelByToken(ctx context.Context, token string) (*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM feed.channels
		WHERE token = $1
	`

	channel, err := scanChannel(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get channel by token: %w", err)
	}

	return channel, nil
}

// ListChannels возвращает все каналы
func (r *FeedStorage) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM feed.channels
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []*models.Channel
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, channel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate channels: %w", err)
	}

	return channels, nil
}

// MarkChannelForRebuild выставляет флаг пересборки фида
func (r *FeedStorage) MarkChannelForRebuild(ctx context.Context, channelID string) error {
	query := `
		UPDATE feed.channels
		SET rebuild_feed = TRUE, updated_at = $2
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, channelID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark channel for rebuild: %w", err)
	}
	return nil
}

// SaveBuildState сохраняет состояние сборки фида канала
func (r *FeedStorage) SaveBuildState(ctx context.Context, channelID string, rebuild bool, feedLocation *string) error {
	query := `
		UPDATE feed.channels
		SET rebuild_feed = $2,
		    feed_location = COALESCE($3, feed_location),
		    updated_at = $4
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, query, channelID, rebuild, feedLocation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save build state: %w", err)
	}
	return nil
}

// CountItems считает варианты товаров, назначенные каналу
func (r *FeedStorage) CountItems(ctx context.Context, channelID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM catalog.product_variants v
		JOIN catalog.products p ON p.id = v.product_id
		JOIN catalog.product_channels pc ON pc.product_id = p.id
		WHERE pc.channel_id = $1 AND v.deleted_at IS NULL
	`

	var total int
	if err := r.pool.QueryRow(ctx, query, channelID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count catalog items: %w", err)
	}
	return total, nil
}

// ListItems возвращает страницу вариантов с данными, необходимыми для рендеринга фида:
// цена с налогом, превью варианта и родительского товара, описание и slug товара
func (r *FeedStorage) ListItems(ctx context.Context, channelID string, limit, offset int) ([]*models.CatalogItem, error) {
	query := `
		SELECT v.id, v.sku, v.name,
		       p.description, p.slug,
		       COALESCE(va.preview, ''), COALESCE(pa.preview, ''),
		       vp.price_with_tax, vp.currency_code
		FROM catalog.product_variants v
		JOIN catalog.products p ON p.id = v.product_id
		JOIN catalog.product_channels pc ON pc.product_id = p.id
		JOIN catalog.variant_prices vp ON vp.variant_id = v.id AND vp.channel_id = pc.channel_id
		LEFT JOIN catalog.assets va ON va.id = v.featured_asset_id
		LEFT JOIN catalog.assets pa ON pa.id = p.featured_asset_id
		WHERE pc.channel_id = $1 AND v.deleted_at IS NULL
		ORDER BY v.id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, channelID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog items: %w", err)
	}
	defer rows.Close()

	var items []*models.CatalogItem
	for rows.Next() {
		var item models.CatalogItem
		err := rows.Scan(
			&item.ID, &item.SKU, &item.Name,
			&item.ProductDescription, &item.ProductSlug,
			&item.FeaturedAsset, &item.ProductFeaturedAsset,
			&item.PriceWithTax, &item.CurrencyCode,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog item: %w", err)
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catalog items: %w", err)
	}

	return items, nil
}

// GetStockLevel возвращает остаток варианта на складе
func (r *FeedStorage) GetStockLevel(ctx context.Context, itemID string) (*models.StockLevel, error) {
	query := `
		SELECT variant_id, COALESCE(SUM(stock_on_hand), 0)
		FROM catalog.stock_levels
		WHERE variant_id = $1
		GROUP BY variant_id
	`

	var stock models.StockLevel
	err := r.pool.QueryRow(ctx, query, itemID).Scan(&stock.ItemID, &stock.StockOnHand)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Записей об остатках нет - считаем нулевым остатком
			return &models.StockLevel{ItemID: itemID, StockOnHand: 0}, nil
		}
		return nil, fmt.Errorf("failed to get stock level: %w", err)
	}

	return &stock, nil
}
