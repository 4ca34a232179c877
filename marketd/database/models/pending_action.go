package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

type PendingActionType string

const (
	PendingActionAuctionBid      PendingActionType = "auction_bid"
	PendingActionListingPurchase PendingActionType = "listing_purchase"
)

type PendingActionStatus string

const (
	PendingStatusPending   PendingActionStatus = "pending"
	PendingStatusConfirmed PendingActionStatus = "confirmed"
	PendingStatusFailed    PendingActionStatus = "failed"
)

// PendingAction records an off-chain assertion that a ledger transaction is
// in flight. TxHash is globally unique and is the idempotency key of the
// whole subsystem: repeat creation attempts for the same hash return the
// original row unchanged.
type PendingAction struct {
	bun.BaseModel `bun:"table:pending_actions,alias:pa"`

	ID               int64             `bun:"id,pk,autoincrement"`
	Type             PendingActionType `bun:"type,notnull"`
	TxHash           string            `bun:"tx_hash,notnull,unique"`
	SubmitterAddress string            `bun:"submitter_address,notnull"`
	ChainID          int64             `bun:"chain_id,notnull"`

	// Payload is a tagged union keyed by Type, validated before any field
	// is trusted.
	Payload json.RawMessage `bun:"payload,type:jsonb"`

	RelatedEntityID int64               `bun:"related_entity_id,nullzero"`
	Status          PendingActionStatus `bun:"status,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// BidPayload is the auction_bid variant of PendingAction.Payload.
type BidPayload struct {
	AuctionID          int64  `json:"auction_id"`
	BidAmountBaseUnits string `json:"bid_amount_base_units"`
}

// PurchasePayload is the listing_purchase variant of PendingAction.Payload.
type PurchasePayload struct {
	ListingID int64 `json:"listing_id"`
}
