package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/athebyme/catalog-feed-service/internal/ports"
)

var (
	// ErrOutputDisabled возвращается фабрикой для каналов с выключенной публикацией
	ErrOutputDisabled = errors.New("catalog output is disabled for channel")
	// ErrUnknownOutput возвращается для неизвестного режима публикации
	ErrUnknownOutput = errors.New("unknown catalog output")
)

// Artifact результат доставки фида
type Artifact struct {
	// Location - ключ в объектном хранилище (url) или имя файла на SFTP сервере (sftp)
	Location string `json:"location"`
}

// Strategy определяет способ доставки собранного фида.
// Ровно две реализации: объектное хранилище (pull) и SFTP (push),
// выбор делается по настройкам канала
type Strategy interface {
	Deliver(ctx context.Context, channel *models.Channel, data []byte) (*Artifact, error)
}

// Error ошибка доставки фида с указанием этапа, на котором она произошла
type Error struct {
	Stage string // connect, delete, upload, store
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("delivery failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Factory выбирает стратегию доставки по настройкам канала
type Factory struct {
	store *FileStoreStrategy
	sftp  *SFTPStrategy
}

// NewFactory создает фабрику стратегий доставки
func NewFactory(fileStore ports.FileStorePort) *Factory {
	return &Factory{
		store: NewFileStoreStrategy(fileStore),
		sftp:  NewSFTPStrategy(),
	}
}

// ForChannel возвращает стратегию для канала.
// Набор вариантов закрыт: url, sftp либо ошибка
func (f *Factory) ForChannel(channel *models.Channel) (Strategy, error) {
	switch channel.Output {
	case models.OutputURL:
		return f.store, nil
	case models.OutputSFTP:
		return f.sftp, nil
	case models.OutputDisabled:
		return nil, ErrOutputDisabled
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutput, channel.Output)
	}
}
