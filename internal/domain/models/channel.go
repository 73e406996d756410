package models

import "time"

// CatalogOutput определяет способ публикации фида канала
type CatalogOutput string

const (
	// OutputDisabled - фид для канала не строится
	OutputDisabled CatalogOutput = "disabled"
	// OutputURL - фид публикуется в объектное хранилище и отдается по URL
	OutputURL CatalogOutput = "url"
	// OutputSFTP - фид загружается на удаленный SFTP сервер
	OutputSFTP CatalogOutput = "sftp"
)

// Channel представляет модель канала продаж (арендатора)
type Channel struct {
	ID      string `json:"id"`
	Code    string `json:"code"`
	Token   string `json:"token"`
	ShopURL string `json:"shop_url,omitempty"`

	// Настройки публикации фида
	Output       CatalogOutput `json:"output"`
	SftpServer   string        `json:"sftp_server,omitempty"`
	SftpPort     int           `json:"sftp_port,omitempty"`
	SftpUser     string        `json:"sftp_user,omitempty"`
	SftpPassword string        `json:"-"`

	// Состояние сборки фида
	RebuildFeed  bool    `json:"rebuild_feed"`            // фид устарел и требует пересборки
	FeedLocation *string `json:"feed_location,omitempty"` // ключ последнего артефакта (только для url)

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeedEnabled сообщает, включена ли публикация фида для канала
func (c *Channel) FeedEnabled() bool {
	return c.Output == OutputURL || c.Output == OutputSFTP
}
