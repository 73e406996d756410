package models

// CatalogItem представляет вариант товара каталога, попадающий в фид.
// Снимок только для чтения: сборщик фида никогда не изменяет каталог
type CatalogItem struct {
	ID  string `json:"id"`
	SKU string `json:"sku"`

	// Отображаемые поля варианта
	Name string `json:"name"`

	// Поля родительского товара
	ProductDescription   string `json:"product_description"`
	ProductSlug          string `json:"product_slug"`
	FeaturedAsset        string `json:"featured_asset,omitempty"`         // превью варианта
	ProductFeaturedAsset string `json:"product_featured_asset,omitempty"` // превью родительского товара

	// Цена с учетом налогов, в минорных единицах валюты
	PriceWithTax int64  `json:"price_with_tax"`
	CurrencyCode string `json:"currency_code"`
}

// StockLevel представляет остаток варианта товара на складе
type StockLevel struct {
	ItemID      string `json:"item_id"`
	StockOnHand int    `json:"stock_on_hand"`
}
