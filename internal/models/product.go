package models

import "github.com/shopspring/decimal"

// Product is the catalog entry an order line item snapshots.
type Product struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Price             decimal.Decimal `json:"price"`
	ProviderFulfilled bool            `json:"provider_fulfilled"`
	ProviderVariantID int64           `json:"provider_variant_id,omitempty"`
	Historic          bool            `json:"historic"`
}
