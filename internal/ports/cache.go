package ports

import (
	"context"
	"time"
)

// CachePort определяет интерфейс для работы с системой кэширования
// Реализация может использовать Redis, Memcached или любую другую систему кэширования
type CachePort interface {
	// Get получает значение из кэша по ключу
	Get(ctx context.Context, key string) ([]byte, error)

	// GetWithChannel получает значение из кэша по ключу с учетом канала
	// Помогает обеспечить изоляцию данных между каналами
	GetWithChannel(ctx context.Context, key string, channelToken string) ([]byte, error)

	// Set сохраняет значение в кэше с указанным сроком действия
	// Если expiration равно 0, срок действия не устанавливается
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// SetWithChannel сохраняет значение в кэше с учетом канала
	SetWithChannel(ctx context.Context, key string, value []byte, channelToken string, expiration time.Duration) error

	// Delete удаляет значение из кэша по ключу
	Delete(ctx context.Context, key string) error

	// DeleteWithChannel удаляет значение из кэша по ключу с учетом канала
	DeleteWithChannel(ctx context.Context, key string, channelToken string) error

	// Close закрывает соединение с системой кэширования
	Close() error
}
