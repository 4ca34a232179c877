package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AssetOwner is the mirror's denormalized ownership view, updated
// optimistically when a fill or finalization lands. It is a cache, not a
// source of truth: Verified flips to false when an optimistic update could
// not be confirmed, pending the next chain-truth reconciliation.
type AssetOwner struct {
	bun.BaseModel `bun:"table:asset_owners,alias:ao"`

	ID           int64  `bun:"id,pk,autoincrement"`
	Contract     string `bun:"contract,notnull"`
	TokenID      string `bun:"token_id,notnull"`
	OwnerAddress string `bun:"owner_address,notnull"`
	Quantity     int64  `bun:"quantity,notnull,default:1"`
	Verified     bool   `bun:"verified,notnull,default:true"`

	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
