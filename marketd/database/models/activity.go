package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ActivityKind string

const (
	ActivityListing          ActivityKind = "listing"
	ActivityListingCancelled ActivityKind = "listing_cancelled"
	ActivityListingExpired   ActivityKind = "listing_expired"
	ActivitySale             ActivityKind = "sale"
	ActivityAuctionCreated   ActivityKind = "auction_created"
	ActivityAuctionBid       ActivityKind = "auction_bid"
	ActivityAuctionCancelled ActivityKind = "auction_cancelled"
	ActivityAuctionSettled   ActivityKind = "auction_settled"
)

// Activity is the append-only transition log. The partial unique index on
// (tx_hash, log_index) is the canonical external correlation key: a conflict
// means this exact on-chain event is already recorded.
type Activity struct {
	bun.BaseModel `bun:"table:activities,alias:act"`

	ID       int64        `bun:"id,pk,autoincrement"`
	Kind     ActivityKind `bun:"kind,notnull"`
	Contract string       `bun:"contract,notnull"`
	TokenID  string       `bun:"token_id,notnull"`

	ActorAddress        string `bun:"actor_address,notnull"`
	CounterpartyAddress string `bun:"counterparty_address,nullzero"`

	Amount     string `bun:"amount_base_units,nullzero"`
	CurrencyID *int64 `bun:"currency_id,nullzero"`

	TxHash   string `bun:"tx_hash,nullzero"`
	LogIndex int64  `bun:"log_index,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
