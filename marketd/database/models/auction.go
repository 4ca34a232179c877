package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Auction mirrors an on-chain timed auction. HighestBidder, HighestBid and
// BidCount are denormalizations of the auction_bids set and must equal the
// current max bid once reconciled. EndTime is mutable: it extends when a bid
// lands inside the anti-snipe window.
type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID            int64  `bun:"id,pk,autoincrement"`
	Contract      string `bun:"contract,notnull"`
	TokenID       string `bun:"token_id,notnull"`
	SellerAddress string `bun:"seller_address,notnull"`
	Quantity      int64  `bun:"quantity,notnull"`

	// CurrencyID is null for the native currency.
	CurrencyID *int64 `bun:"currency_id,nullzero"`

	// Base-unit integer strings, arbitrary precision.
	StartPrice   string `bun:"start_price_base_units,notnull"`
	MinIncrement string `bun:"min_increment_base_units,notnull,default:'0'"`
	HighestBid   string `bun:"highest_bid_base_units,notnull,default:'0'"`

	HighestBidder string `bun:"highest_bidder_address,nullzero"`
	BidCount      int    `bun:"bid_count,notnull,default:0"`

	StartTime time.Time `bun:"start_time,notnull"`
	EndTime   time.Time `bun:"end_time,notnull"`

	Status AuctionStatus `bun:"status,notnull"`

	CreationTxHash     string `bun:"creation_tx_hash,nullzero"`
	CancellationTxHash string `bun:"cancellation_tx_hash,nullzero"`
	FinalizationTxHash string `bun:"finalization_tx_hash,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// AuctionBid is append-only. While the auction is active exactly one bid
// leads: the max amount, ties broken by earliest timestamp.
type AuctionBid struct {
	bun.BaseModel `bun:"table:auction_bids,alias:ab"`

	ID            int64  `bun:"id,pk,autoincrement"`
	AuctionID     int64  `bun:"auction_id,notnull"`
	BidderAddress string `bun:"bidder_address,notnull"`
	Amount        string `bun:"amount_base_units,notnull"`
	CurrencyID    *int64 `bun:"currency_id,nullzero"`

	// TxHash is null until the bid transaction confirms.
	TxHash      string    `bun:"tx_hash,nullzero"`
	BlockNumber int64     `bun:"block_number,nullzero"`
	Timestamp   time.Time `bun:"timestamp,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
