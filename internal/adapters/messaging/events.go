package messaging

// KafkaEvent тип события каталога
type KafkaEvent = string

// События каталога, по которым канал помечается на пересборку фида
const (
	ProductCreatedEvent          KafkaEvent = "product_created"
	ProductUpdatedEvent          KafkaEvent = "product_updated"
	ProductDeletedEvent          KafkaEvent = "product_deleted"
	ProductPriceUpdatedEvent     KafkaEvent = "product_price_updated"
	ProductInventoryUpdatedEvent KafkaEvent = "product_inventory_updated"
)

// CatalogEvent представляет событие изменения каталога
type CatalogEvent struct {
	EventType KafkaEvent `json:"event_type"`
	ChannelID string     `json:"channel_id"`
	ProductID string     `json:"product_id,omitempty"`
	VariantID string     `json:"variant_id,omitempty"`
}
