package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/astralane/marketd/marketd/amount"
	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/database/repositories"
)

// ListingManager drives the listing state machine. Every exactly-once
// transition is a single conditional row update scoped by current status;
// two concurrent fills yield one success and one ErrAlreadyResolved.
type ListingManager struct {
	listings   repositories.ListingRepository
	activities repositories.ActivityRepository
	owners     repositories.OwnershipRepository
	registry   *Registry
}

func NewListingManager(
	listings repositories.ListingRepository,
	activities repositories.ActivityRepository,
	owners repositories.OwnershipRepository,
	registry *Registry,
) *ListingManager {
	return &ListingManager{
		listings:   listings,
		activities: activities,
		owners:     owners,
		registry:   registry,
	}
}

type CreateListingParams struct {
	Contract      string
	TokenID       string
	SellerAddress string
	Quantity      int64
	// CurrencyRef is an id, token address, or the "native" sentinel.
	CurrencyRef string
	// TotalPrice is a canonical base-unit integer string. When empty,
	// HumanPrice is scaled by the currency's decimal exponent instead.
	TotalPrice string
	// HumanPrice is an optional human-denominated decimal ("1.5").
	HumanPrice string
	StartTime  time.Time
	EndTime    *time.Time
	TxHash     string
}

func (m *ListingManager) Create(ctx context.Context, p CreateListingParams) (*models.Listing, error) {
	if p.Contract == "" || p.TokenID == "" {
		return nil, invalid("asset", "contract and tokenId are required")
	}
	if p.SellerAddress == "" {
		return nil, invalid("seller", "required")
	}
	if p.Quantity < 1 {
		return nil, invalid("quantity", "must be a positive integer")
	}
	if p.EndTime != nil && !p.EndTime.After(p.StartTime) {
		return nil, invalid("window", "end must be after start")
	}

	currency, err := m.registry.Resolve(ctx, p.CurrencyRef)
	if err != nil {
		return nil, err
	}

	if p.TotalPrice == "" && p.HumanPrice != "" {
		scaled, err := amount.ToBaseUnits(p.HumanPrice, currency.Decimals)
		if err != nil {
			return nil, invalid("humanPrice", "not a decimal amount")
		}
		p.TotalPrice = scaled
	}
	if !amount.IsCanonicalPositive(p.TotalPrice) {
		return nil, invalid("totalPrice", "must be a positive base-unit integer")
	}

	var currencyID *int64
	if currency.Kind != models.CurrencyKindNative {
		currencyID = &currency.ID
	}

	// Pre-check the one-active-row rule; the partial unique index is the
	// backstop under races.
	seller := ""
	if p.Quantity > 1 {
		seller = p.SellerAddress
	}
	existing, err := m.listings.FindActive(ctx, p.Contract, p.TokenID, seller)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, invalid("asset", "an active listing already exists")
	}

	listing := &models.Listing{
		Contract:       p.Contract,
		TokenID:        p.TokenID,
		SellerAddress:  p.SellerAddress,
		Quantity:       p.Quantity,
		CurrencyID:     currencyID,
		TotalPrice:     p.TotalPrice,
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
		CreationTxHash: p.TxHash,
	}
	if listing.StartTime.IsZero() {
		listing.StartTime = time.Now()
	}

	if err := m.listings.Create(ctx, listing); err != nil {
		return nil, err
	}

	if err := m.activities.Record(ctx, &models.Activity{
		Kind:         models.ActivityListing,
		Contract:     p.Contract,
		TokenID:      p.TokenID,
		ActorAddress: p.SellerAddress,
		Amount:       p.TotalPrice,
		CurrencyID:   currencyID,
		TxHash:       p.TxHash,
	}); err != nil {
		slog.Warn("Failed to record listing activity",
			slog.Int64("listing_id", listing.ID),
			slog.Any("error", err))
	}

	slog.Info("Listing created",
		slog.Int64("listing_id", listing.ID),
		slog.String("contract", p.Contract),
		slog.String("token_id", p.TokenID),
		slog.String("seller", p.SellerAddress))

	return listing, nil
}

type FillParams struct {
	BuyerAddress string
	TxHash       string
	LogIndex     int64
	BlockNumber  int64
	Fees         string
}

// Fill transitions active -> sold. Safe to retry: the conditional update
// carries the idempotency, reinforced by the (tx_hash, log_index) dedup on
// the sale and activity inserts.
func (m *ListingManager) Fill(ctx context.Context, listingID int64, p FillParams) (*models.Listing, error) {
	listing, err := m.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrNotFound
	}
	if p.BuyerAddress == "" {
		return nil, invalid("buyer", "required")
	}

	won, err := m.listings.MarkSold(ctx, listingID, p.BuyerAddress, p.TxHash)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyResolved
	}

	listing.Status = models.ListingStatusSold
	listing.BuyerAddress = p.BuyerAddress
	listing.FillTxHash = p.TxHash

	if err := m.activities.RecordSale(ctx, &models.Sale{
		Contract:      listing.Contract,
		TokenID:       listing.TokenID,
		SellerAddress: listing.SellerAddress,
		BuyerAddress:  p.BuyerAddress,
		Quantity:      listing.Quantity,
		Price:         listing.TotalPrice,
		Fees:          p.Fees,
		CurrencyID:    listing.CurrencyID,
		TxHash:        p.TxHash,
		LogIndex:      p.LogIndex,
		BlockNumber:   p.BlockNumber,
	}); err != nil {
		return nil, err
	}

	if err := m.activities.Record(ctx, &models.Activity{
		Kind:                models.ActivitySale,
		Contract:            listing.Contract,
		TokenID:             listing.TokenID,
		ActorAddress:        p.BuyerAddress,
		CounterpartyAddress: listing.SellerAddress,
		Amount:              listing.TotalPrice,
		CurrencyID:          listing.CurrencyID,
		TxHash:              p.TxHash,
		LogIndex:            p.LogIndex,
	}); err != nil {
		slog.Warn("Failed to record sale activity",
			slog.Int64("listing_id", listingID),
			slog.Any("error", err))
	}

	// Optimistic ownership-view update. It is a cache; failure is logged
	// and swallowed.
	if err := m.owners.Upsert(ctx, &models.AssetOwner{
		Contract:     listing.Contract,
		TokenID:      listing.TokenID,
		OwnerAddress: p.BuyerAddress,
		Quantity:     listing.Quantity,
		Verified:     true,
	}); err != nil {
		slog.Warn("Failed to update ownership view after fill",
			slog.Int64("listing_id", listingID),
			slog.Any("error", err))
	}

	slog.Info("Listing filled",
		slog.Int64("listing_id", listingID),
		slog.String("buyer", p.BuyerAddress),
		slog.String("tx_hash", p.TxHash))

	return listing, nil
}

func (m *ListingManager) Cancel(ctx context.Context, listingID int64, txHash string) error {
	listing, err := m.listings.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if listing == nil {
		return ErrNotFound
	}

	won, err := m.listings.MarkCancelled(ctx, listingID, txHash)
	if err != nil {
		return err
	}
	if !won {
		return ErrAlreadyResolved
	}

	if err := m.activities.Record(ctx, &models.Activity{
		Kind:         models.ActivityListingCancelled,
		Contract:     listing.Contract,
		TokenID:      listing.TokenID,
		ActorAddress: listing.SellerAddress,
		TxHash:       txHash,
	}); err != nil {
		slog.Warn("Failed to record cancel activity",
			slog.Int64("listing_id", listingID),
			slog.Any("error", err))
	}

	return nil
}

func (m *ListingManager) Expire(ctx context.Context, listingID int64) error {
	listing, err := m.listings.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if listing == nil {
		return ErrNotFound
	}

	won, err := m.listings.MarkExpired(ctx, listingID)
	if err != nil {
		return err
	}
	if !won {
		return ErrAlreadyResolved
	}

	if err := m.activities.Record(ctx, &models.Activity{
		Kind:         models.ActivityListingExpired,
		Contract:     listing.Contract,
		TokenID:      listing.TokenID,
		ActorAddress: listing.SellerAddress,
	}); err != nil {
		slog.Warn("Failed to record expire activity",
			slog.Int64("listing_id", listingID),
			slog.Any("error", err))
	}

	return nil
}
