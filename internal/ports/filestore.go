package ports

import "context"

// FileStorePort определяет интерфейс объектного хранилища артефактов фида
// Реализация может использовать локальную файловую систему, S3 и т.д.
type FileStorePort interface {
	// WriteFileFromBuffer записывает данные по ключу и возвращает итоговый ключ.
	// Повторная запись по тому же ключу перезаписывает существующий объект
	WriteFileFromBuffer(ctx context.Context, key string, data []byte) (string, error)

	// ReadFileToBuffer читает данные по ключу
	// Возвращает ErrFileNotFound, если объект отсутствует
	ReadFileToBuffer(ctx context.Context, key string) ([]byte, error)

	// Exists проверяет наличие объекта по ключу
	Exists(ctx context.Context, key string) (bool, error)
}
