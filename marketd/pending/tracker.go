// Package pending tracks client assertions that a ledger transaction is in
// flight before the mirror has seen it. The transaction hash is the
// idempotency key: every mutating client path funnels through a hash-keyed
// insert, so retries and double-submits never create two records for one
// transaction.
package pending

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/astralane/marketd/marketd/amount"
	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/database/repositories"
	"github.com/astralane/marketd/marketd/events"
	"github.com/astralane/marketd/marketd/market"
)

type Tracker struct {
	actions  repositories.PendingActionRepository
	auctions repositories.AuctionRepository
	listings repositories.ListingRepository
	source   market.ChainSource
	hub      *events.Hub
}

func NewTracker(
	actions repositories.PendingActionRepository,
	auctions repositories.AuctionRepository,
	listings repositories.ListingRepository,
	source market.ChainSource,
	hub *events.Hub,
) *Tracker {
	return &Tracker{
		actions:  actions,
		auctions: auctions,
		listings: listings,
		source:   source,
		hub:      hub,
	}
}

type CreateParams struct {
	Type             models.PendingActionType
	TxHash           string
	SubmitterAddress string
	ChainID          int64
	// Payload is the raw tagged union, validated per Type before any field
	// is trusted.
	Payload json.RawMessage
}

// CreateResult reports whether the row was created by this call; Created is
// false when the hash had already been recorded and Action is that original
// row, unchanged.
type CreateResult struct {
	Created bool
	Action  *models.PendingAction
}

func (t *Tracker) Create(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if !isTxHash(p.TxHash) {
		return nil, market.Invalid("txHash", "must be a 0x-prefixed 32-byte hex hash")
	}
	if p.SubmitterAddress == "" {
		return nil, market.Invalid("submitter", "required")
	}
	if p.ChainID <= 0 {
		return nil, market.Invalid("chainId", "must be positive")
	}

	action := &models.PendingAction{
		Type:             p.Type,
		TxHash:           p.TxHash,
		SubmitterAddress: p.SubmitterAddress,
		ChainID:          p.ChainID,
		Payload:          p.Payload,
	}

	var auctionID int64
	switch p.Type {
	case models.PendingActionAuctionBid:
		payload, err := t.validateBidPayload(ctx, p.Payload)
		if err != nil {
			return nil, err
		}
		action.RelatedEntityID = payload.AuctionID
		auctionID = payload.AuctionID

	case models.PendingActionListingPurchase:
		payload, err := t.validatePurchasePayload(ctx, p.Payload)
		if err != nil {
			return nil, err
		}
		action.RelatedEntityID = payload.ListingID

	default:
		return nil, market.Invalid("type", "unknown pending action type")
	}

	created, row, err := t.actions.Insert(ctx, action)
	if err != nil {
		return nil, err
	}
	if !created {
		// Replay of a known hash: the original row, no new fan-out.
		return &CreateResult{Created: false, Action: row}, nil
	}

	slog.Info("Pending action recorded",
		slog.String("type", string(p.Type)),
		slog.String("tx_hash", p.TxHash),
		slog.String("submitter", p.SubmitterAddress))

	if t.hub != nil && p.Type == models.PendingActionAuctionBid {
		payload := map[string]interface{}{
			"txHash":    p.TxHash,
			"auctionId": auctionID,
			"submitter": p.SubmitterAddress,
		}
		t.hub.Publish(events.AuctionTopic(auctionID), events.EventBidPending, payload)
		t.hub.Publish(events.WalletTopic(p.SubmitterAddress), events.EventBidPending, payload)
	}

	return &CreateResult{Created: true, Action: row}, nil
}

// validateBidPayload checks the auction_bid variant. The auction row, not the
// submitter, is authoritative for the currency; the payload carries only the
// target and the amount. The chain guard is soft, as on the confirmed-bid
// path.
func (t *Tracker) validateBidPayload(ctx context.Context, raw json.RawMessage) (*models.BidPayload, error) {
	var payload models.BidPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, market.Invalid("payload", "malformed auction_bid payload")
	}
	if payload.AuctionID <= 0 {
		return nil, market.Invalid("payload.auction_id", "must be positive")
	}
	if !amount.IsCanonicalPositive(payload.BidAmountBaseUnits) {
		return nil, market.Invalid("payload.bid_amount_base_units", "must be a positive base-unit integer")
	}

	auction, err := t.auctions.GetByID(ctx, payload.AuctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, market.ErrNotFound
	}
	if auction.Status != models.AuctionStatusActive {
		return nil, market.Invalid("payload.auction_id", "auction is not active")
	}

	if err := market.GuardBid(ctx, t.source, auction.Contract, auction.TokenID, payload.BidAmountBaseUnits); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (t *Tracker) validatePurchasePayload(ctx context.Context, raw json.RawMessage) (*models.PurchasePayload, error) {
	var payload models.PurchasePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, market.Invalid("payload", "malformed listing_purchase payload")
	}
	if payload.ListingID <= 0 {
		return nil, market.Invalid("payload.listing_id", "must be positive")
	}

	listing, err := t.listings.GetByID(ctx, payload.ListingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, market.ErrNotFound
	}
	if listing.Status != models.ListingStatusActive {
		return nil, market.Invalid("payload.listing_id", "listing is not active")
	}
	return &payload, nil
}

func (t *Tracker) List(ctx context.Context, wallet string, status models.PendingActionStatus) ([]*models.PendingAction, error) {
	if wallet == "" {
		return nil, market.Invalid("wallet", "required")
	}
	switch status {
	case "", models.PendingStatusPending, models.PendingStatusConfirmed, models.PendingStatusFailed:
	default:
		return nil, market.Invalid("status", "unknown status")
	}
	return t.actions.ListByWallet(ctx, wallet, status)
}

// Resolve moves a pending row to its terminal status once the matching
// transaction has synced (or definitively failed). Rows already resolved are
// left alone and no events fire again.
func (t *Tracker) Resolve(ctx context.Context, txHash string, confirmed bool) error {
	row, err := t.actions.GetByTxHash(ctx, txHash)
	if err != nil {
		return err
	}
	if row == nil {
		return market.ErrNotFound
	}

	status := models.PendingStatusConfirmed
	eventName := events.EventBidConfirmed
	if !confirmed {
		status = models.PendingStatusFailed
		eventName = events.EventBidFailed
	}

	moved, err := t.actions.UpdateStatusByTxHash(ctx, txHash, status)
	if err != nil {
		return err
	}
	if !moved {
		return market.ErrAlreadyResolved
	}

	slog.Info("Pending action resolved",
		slog.String("tx_hash", txHash),
		slog.String("status", string(status)))

	if t.hub != nil && row.Type == models.PendingActionAuctionBid {
		payload := map[string]interface{}{
			"txHash":    txHash,
			"auctionId": row.RelatedEntityID,
			"submitter": row.SubmitterAddress,
		}
		t.hub.Publish(events.AuctionTopic(row.RelatedEntityID), eventName, payload)
		t.hub.Publish(events.WalletTopic(row.SubmitterAddress), eventName, payload)
	}

	return nil
}

func isTxHash(s string) bool {
	if len(s) != 66 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
