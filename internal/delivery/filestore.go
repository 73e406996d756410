package delivery

import (
	"context"
	"fmt"

	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/athebyme/catalog-feed-service/internal/ports"
)

// FeedKey возвращает детерминированный ключ артефакта фида в объектном хранилище.
// Повторная доставка для того же канала перезаписывает тот же ключ
func FeedKey(channelToken string) string {
	return fmt.Sprintf("product-catalog/%s.xml", channelToken)
}

// FileStoreStrategy доставка фида в объектное хранилище (pull режим).
// Артефакт затем отдается по URL через API сервиса
type FileStoreStrategy struct {
	store ports.FileStorePort
}

// NewFileStoreStrategy создает стратегию доставки в объектное хранилище
func NewFileStoreStrategy(store ports.FileStorePort) *FileStoreStrategy {
	return &FileStoreStrategy{store: store}
}

// Deliver записывает фид по детерминированному ключу и возвращает его
func (s *FileStoreStrategy) Deliver(ctx context.Context, channel *models.Channel, data []byte) (*Artifact, error) {
	key, err := s.store.WriteFileFromBuffer(ctx, FeedKey(channel.Token), data)
	if err != nil {
		return nil, &Error{Stage: "store", Err: err}
	}

	return &Artifact{Location: key}, nil
}
