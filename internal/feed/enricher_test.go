package feed

import (
	"testing"

	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/stretchr/testify/assert"
)

func TestAvailability(t *testing.T) {
	tests := []struct {
		name  string
		stock *models.StockLevel
		want  models.Availability
	}{
		{"nil stock", nil, models.AvailabilityOutOfStock},
		{"zero on hand", &models.StockLevel{StockOnHand: 0}, models.AvailabilityOutOfStock},
		{"one on hand", &models.StockLevel{StockOnHand: 1}, models.AvailabilityOutOfStock},
		{"two on hand", &models.StockLevel{StockOnHand: 2}, models.AvailabilityInStock},
		{"many on hand", &models.StockLevel{StockOnHand: 100}, models.AvailabilityInStock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Availability(tt.stock))
		})
	}
}

func TestEnricher_ImageLinkFallback(t *testing.T) {
	e := NewEnricher("https://assets.example.com")
	channel := &models.Channel{ShopURL: "https://shop.example.com"}

	t.Run("variant asset wins", func(t *testing.T) {
		item := e.Enrich(&models.CatalogItem{
			SKU:                  "SKU-1",
			FeaturedAsset:        "variant.jpg",
			ProductFeaturedAsset: "product.jpg",
		}, nil, channel)
		assert.Equal(t, "https://assets.example.com/variant.jpg", item.ImageLink)
	})

	t.Run("falls back to product asset", func(t *testing.T) {
		item := e.Enrich(&models.CatalogItem{
			SKU:                  "SKU-1",
			ProductFeaturedAsset: "product.jpg",
		}, nil, channel)
		assert.Equal(t, "https://assets.example.com/product.jpg", item.ImageLink)
	})

	t.Run("empty when no assets", func(t *testing.T) {
		item := e.Enrich(&models.CatalogItem{SKU: "SKU-1"}, nil, channel)
		assert.Empty(t, item.ImageLink)
	})
}

func TestEnricher_ProductLink(t *testing.T) {
	e := NewEnricher("")
	catalogItem := &models.CatalogItem{SKU: "SKU-1", ProductSlug: "wooden-chair"}

	t.Run("absolute with shop url", func(t *testing.T) {
		item := e.Enrich(catalogItem, nil, &models.Channel{ShopURL: "https://shop.example.com"})
		assert.Equal(t, "https://shop.example.com/product/wooden-chair", item.Link)
	})

	t.Run("trailing slash not doubled", func(t *testing.T) {
		item := e.Enrich(catalogItem, nil, &models.Channel{ShopURL: "https://shop.example.com/"})
		assert.Equal(t, "https://shop.example.com/product/wooden-chair", item.Link)
	})

	t.Run("relative without shop url", func(t *testing.T) {
		item := e.Enrich(catalogItem, nil, &models.Channel{})
		assert.Equal(t, "product/wooden-chair", item.Link)
	})
}

func TestEnricher_CarriesPriceAndIdentity(t *testing.T) {
	e := NewEnricher("https://assets.example.com")

	item := e.Enrich(&models.CatalogItem{
		SKU:                "SKU-42",
		Name:               "Wooden chair",
		ProductDescription: "Solid oak",
		ProductSlug:        "wooden-chair",
		PriceWithTax:       1999,
		CurrencyCode:       "USD",
	}, &models.StockLevel{StockOnHand: 5}, &models.Channel{ShopURL: "https://shop.example.com"})

	assert.Equal(t, "SKU-42", item.ID)
	assert.Equal(t, "Wooden chair", item.Title)
	assert.Equal(t, "Solid oak", item.Description)
	assert.Equal(t, int64(1999), item.Price)
	assert.Equal(t, "USD", item.Currency)
	assert.Equal(t, models.AvailabilityInStock, item.Availability)
}
