package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusCancelled ListingStatus = "cancelled"
	ListingStatusExpired   ListingStatus = "expired"
)

// Listing mirrors an on-chain fixed-price listing. Rows are never hard
// deleted; only conditional status transitions mutate them, with every
// transition recorded as an Activity entry. Partial unique indexes keep at
// most one active row per asset (single supply) or per asset+seller
// (multi supply).
type Listing struct {
	bun.BaseModel `bun:"table:listings,alias:l"`

	ID            int64  `bun:"id,pk,autoincrement"`
	Contract      string `bun:"contract,notnull"`
	TokenID       string `bun:"token_id,notnull"`
	SellerAddress string `bun:"seller_address,notnull"`
	Quantity      int64  `bun:"quantity,notnull"`

	// CurrencyID is null for the native currency.
	CurrencyID *int64 `bun:"currency_id,nullzero"`

	// Canonical base-unit integer string, arbitrary precision.
	TotalPrice string `bun:"total_price_base_units,notnull"`

	StartTime time.Time  `bun:"start_time,notnull"`
	EndTime   *time.Time `bun:"end_time,nullzero"`

	Status ListingStatus `bun:"status,notnull"`

	CreationTxHash     string `bun:"creation_tx_hash,nullzero"`
	CancellationTxHash string `bun:"cancellation_tx_hash,nullzero"`
	FillTxHash         string `bun:"fill_tx_hash,nullzero"`
	BuyerAddress       string `bun:"buyer_address,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
