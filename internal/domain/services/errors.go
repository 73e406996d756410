package services

import "errors"

var (
	// ErrChannelNotFound канал отсутствует в реестре; сборка не перезапускается
	ErrChannelNotFound = errors.New("channel not found")

	// ErrFeedNotAvailable фид для канала не публикуется по URL или еще не собран
	ErrFeedNotAvailable = errors.New("feed not available for channel")
)
