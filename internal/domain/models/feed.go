package models

import "time"

// Availability определяет значение доступности товара в фиде
type Availability string

const (
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
	// Объявлены для совместимости со схемой Google, но сборщиком не вычисляются
	AvailabilityPreorder  Availability = "preorder"
	AvailabilityBackorder Availability = "backorder"
)

// FeedItem представляет обогащенный элемент фида, готовый к сериализации
type FeedItem struct {
	ID           string       `json:"id"` // SKU варианта
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Link         string       `json:"link"`
	ImageLink    string       `json:"image_link,omitempty"`
	Price        int64        `json:"price"` // минорные единицы
	Currency     string       `json:"currency"`
	Availability Availability `json:"availability"`
}

// FeedOptions содержит метаданные фида, записываемые в заголовок документа
type FeedOptions struct {
	Title       string
	Link        string
	Description string
}

// BuildProgress представляет прогресс сборки фида после очередной страницы
type BuildProgress struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Percent возвращает прогресс в процентах для очереди задач
func (p BuildProgress) Percent() int {
	if p.Total == 0 {
		return 100
	}
	return p.Completed * 100 / p.Total
}

// BuildResult представляет результат успешной сборки фида канала
type BuildResult struct {
	TotalItems     int           `json:"total_items"`
	CompletedItems int           `json:"completed_items"`
	Elapsed        time.Duration `json:"elapsed"`
	Output         CatalogOutput `json:"output"`
	Location       string        `json:"location"` // ключ в хранилище или имя файла на SFTP
}
