package feed

import (
	"strings"

	"github.com/athebyme/catalog-feed-service/internal/domain/models"
)

// Enricher превращает сырой вариант каталога в готовый элемент фида:
// абсолютный URL изображения, доступность по остаткам, ссылка на товар.
// Чистая функция от (вариант, остаток, настройки канала)
type Enricher struct {
	assetURLPrefix string
}

// NewEnricher создает обогатитель с указанным префиксом URL изображений
func NewEnricher(assetURLPrefix string) *Enricher {
	return &Enricher{
		assetURLPrefix: strings.TrimSpace(assetURLPrefix),
	}
}

// Enrich собирает элемент фида из варианта каталога и его остатка
func (e *Enricher) Enrich(item *models.CatalogItem, stock *models.StockLevel, channel *models.Channel) models.FeedItem {
	return models.FeedItem{
		ID:           item.SKU,
		Title:        item.Name,
		Description:  item.ProductDescription,
		Link:         e.productLink(channel.ShopURL, item.ProductSlug),
		ImageLink:    e.imageLink(item),
		Price:        item.PriceWithTax,
		Currency:     item.CurrencyCode,
		Availability: Availability(stock),
	}
}

// Availability выводит доступность из остатка на складе.
// Правило намеренно грубое: preorder/backorder не вычисляются
func Availability(stock *models.StockLevel) models.Availability {
	if stock != nil && stock.StockOnHand > 1 {
		return models.AvailabilityInStock
	}
	return models.AvailabilityOutOfStock
}

// imageLink выбирает превью варианта, затем родительского товара.
// Если изображений нет, поле не попадает в фид
func (e *Enricher) imageLink(item *models.CatalogItem) string {
	asset := item.FeaturedAsset
	if asset == "" {
		asset = item.ProductFeaturedAsset
	}
	if asset == "" {
		return ""
	}
	return e.assetURLPrefix + "/" + asset
}

// productLink строит ссылку на страницу товара.
// При пустом URL магазина остается относительная ссылка "product/<slug>"
func (e *Enricher) productLink(shopURL, slug string) string {
	link := "product/" + slug
	shopURL = strings.TrimSpace(shopURL)
	if shopURL == "" {
		return link
	}
	return strings.TrimSuffix(shopURL, "/") + "/" + link
}
