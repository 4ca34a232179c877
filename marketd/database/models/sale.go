package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Sale is the canonical settlement record for a fill or auction finalization,
// deduplicated by (tx_hash, log_index).
type Sale struct {
	bun.BaseModel `bun:"table:sales,alias:s"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Contract string `bun:"contract,notnull"`
	TokenID  string `bun:"token_id,notnull"`

	SellerAddress string `bun:"seller_address,notnull"`
	BuyerAddress  string `bun:"buyer_address,notnull"`
	Quantity      int64  `bun:"quantity,notnull"`

	Price      string `bun:"price_base_units,notnull"`
	Fees       string `bun:"fees_base_units,nullzero"`
	CurrencyID *int64 `bun:"currency_id,nullzero"`

	TxHash      string `bun:"tx_hash,notnull"`
	LogIndex    int64  `bun:"log_index,notnull,default:0"`
	BlockNumber int64  `bun:"block_number,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
