package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/astralane/marketd/marketd/amount"
	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/database/repositories"
	"github.com/astralane/marketd/marketd/events"
)

// AuctionManager drives the auction state machine:
// ACTIVE -bid-> ACTIVE (endTime may extend under anti-snipe),
// ACTIVE -finalize-> ENDED, ACTIVE -cancel-> CANCELLED.
// ENDED and CANCELLED are terminal.
type AuctionManager struct {
	auctions   repositories.AuctionRepository
	activities repositories.ActivityRepository
	owners     repositories.OwnershipRepository
	registry   *Registry
	source     ChainSource
	hub        *events.Hub

	antiSnipeWindow    time.Duration
	antiSnipeExtension time.Duration
}

func NewAuctionManager(
	auctions repositories.AuctionRepository,
	activities repositories.ActivityRepository,
	owners repositories.OwnershipRepository,
	registry *Registry,
	source ChainSource,
	hub *events.Hub,
	antiSnipeWindow, antiSnipeExtension time.Duration,
) *AuctionManager {
	return &AuctionManager{
		auctions:           auctions,
		activities:         activities,
		owners:             owners,
		registry:           registry,
		source:             source,
		hub:                hub,
		antiSnipeWindow:    antiSnipeWindow,
		antiSnipeExtension: antiSnipeExtension,
	}
}

type CreateAuctionParams struct {
	Contract      string
	TokenID       string
	SellerAddress string
	Quantity      int64
	CurrencyRef   string
	// Base-unit integer strings. An empty StartPrice falls back to
	// HumanStartPrice scaled by the currency's decimal exponent.
	StartPrice      string
	HumanStartPrice string
	MinIncrement    string
	StartTime       time.Time
	EndTime         time.Time
	TxHash          string
}

func (m *AuctionManager) Create(ctx context.Context, p CreateAuctionParams) (*models.Auction, error) {
	if p.Contract == "" || p.TokenID == "" {
		return nil, invalid("asset", "contract and tokenId are required")
	}
	if p.SellerAddress == "" {
		return nil, invalid("seller", "required")
	}
	if p.Quantity < 1 {
		return nil, invalid("quantity", "must be a positive integer")
	}
	if p.MinIncrement == "" {
		p.MinIncrement = "0"
	}
	if !p.EndTime.After(p.StartTime) {
		return nil, invalid("window", "end must be after start")
	}

	currency, err := m.registry.Resolve(ctx, p.CurrencyRef)
	if err != nil {
		return nil, err
	}

	if p.StartPrice == "" && p.HumanStartPrice != "" {
		scaled, err := amount.ToBaseUnits(p.HumanStartPrice, currency.Decimals)
		if err != nil {
			return nil, invalid("humanStartPrice", "not a decimal amount")
		}
		p.StartPrice = scaled
	}
	if !amount.IsCanonicalPositive(p.StartPrice) {
		return nil, invalid("startPrice", "must be a positive base-unit integer")
	}
	var currencyID *int64
	if currency.Kind != models.CurrencyKindNative {
		currencyID = &currency.ID
	}

	existing, err := m.auctions.FindActive(ctx, p.Contract, p.TokenID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, invalid("asset", "an active auction already exists")
	}

	auction := &models.Auction{
		Contract:       p.Contract,
		TokenID:        p.TokenID,
		SellerAddress:  p.SellerAddress,
		Quantity:       p.Quantity,
		CurrencyID:     currencyID,
		StartPrice:     p.StartPrice,
		MinIncrement:   p.MinIncrement,
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
		CreationTxHash: p.TxHash,
	}
	if err := m.auctions.Create(ctx, auction); err != nil {
		return nil, err
	}

	if err := m.activities.Record(ctx, &models.Activity{
		Kind:         models.ActivityAuctionCreated,
		Contract:     p.Contract,
		TokenID:      p.TokenID,
		ActorAddress: p.SellerAddress,
		Amount:       p.StartPrice,
		CurrencyID:   currencyID,
		TxHash:       p.TxHash,
	}); err != nil {
		slog.Warn("Failed to record auction activity",
			slog.Int64("auction_id", auction.ID),
			slog.Any("error", err))
	}

	slog.Info("Auction created",
		slog.Int64("auction_id", auction.ID),
		slog.String("contract", p.Contract),
		slog.String("token_id", p.TokenID),
		slog.Time("end_time", auction.EndTime))

	return auction, nil
}

type BidParams struct {
	BidderAddress string
	// Amount is a canonical base-unit integer string.
	Amount      string
	TxHash      string
	BlockNumber int64
	Timestamp   time.Time
}

// Bid appends a confirmed bid and reconciles the leader. The floor check runs
// against a chain-truth snapshot rather than the mirror; when the node cannot
// answer, the guard degrades to accept with a logged warning so a node outage
// never blocks the mirror.
func (m *AuctionManager) Bid(ctx context.Context, auctionID int64, p BidParams) (*models.Auction, error) {
	auction, err := m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, ErrNotFound
	}
	if auction.Status != models.AuctionStatusActive {
		return nil, ErrAlreadyResolved
	}
	if p.BidderAddress == "" {
		return nil, invalid("bidder", "required")
	}
	if !amount.IsCanonicalPositive(p.Amount) {
		return nil, invalid("amount", "must be a positive base-unit integer")
	}

	if err := GuardBid(ctx, m.source, auction.Contract, auction.TokenID, p.Amount); err != nil {
		return nil, err
	}

	now := p.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	// A bid landing inside the trailing window pushes the close out, so a
	// last-second bid always leaves room for a counter.
	var extendEndTo *time.Time
	if m.antiSnipeWindow > 0 && now.After(auction.EndTime.Add(-m.antiSnipeWindow)) && now.Before(auction.EndTime) {
		extended := now.Add(m.antiSnipeExtension)
		extendEndTo = &extended
	}
	previousEnd := auction.EndTime

	bid := &models.AuctionBid{
		BidderAddress: p.BidderAddress,
		Amount:        p.Amount,
		CurrencyID:    auction.CurrencyID,
		TxHash:        p.TxHash,
		BlockNumber:   p.BlockNumber,
		Timestamp:     now,
	}

	updated, err := m.auctions.ApplyBid(ctx, auctionID, bid, extendEndTo)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// The row left ACTIVE between our read and the locked apply.
		return nil, ErrAlreadyResolved
	}

	if err := m.activities.Record(ctx, &models.Activity{
		Kind:         models.ActivityAuctionBid,
		Contract:     auction.Contract,
		TokenID:      auction.TokenID,
		ActorAddress: p.BidderAddress,
		Amount:       p.Amount,
		CurrencyID:   auction.CurrencyID,
		TxHash:       p.TxHash,
	}); err != nil {
		slog.Warn("Failed to record bid activity",
			slog.Int64("auction_id", auctionID),
			slog.Any("error", err))
	}

	if m.hub != nil {
		payload := map[string]interface{}{
			"auctionId":  auctionID,
			"bidder":     p.BidderAddress,
			"amount":     p.Amount,
			"txHash":     p.TxHash,
			"highestBid": updated.HighestBid,
		}
		m.hub.Publish(events.AuctionTopic(auctionID), events.EventBidConfirmed, payload)
		m.hub.Publish(events.WalletTopic(p.BidderAddress), events.EventBidConfirmed, payload)

		if updated.EndTime.After(previousEnd) {
			m.hub.Publish(events.AuctionTopic(auctionID), events.EventAuctionExtended, map[string]interface{}{
				"auctionId": auctionID,
				"endTime":   updated.EndTime,
			})
		}
	}

	slog.Info("Bid accepted",
		slog.Int64("auction_id", auctionID),
		slog.String("bidder", p.BidderAddress),
		slog.String("amount", p.Amount),
		slog.String("highest_bid", updated.HighestBid))

	return updated, nil
}

type FinalizeParams struct {
	WinnerAddress string
	// Price is the hammer price in base units.
	Price       string
	Fees        string
	TxHash      string
	LogIndex    int64
	BlockNumber int64
}

// Finalize settles an ended auction: ACTIVE -> ENDED, a deduplicated Sale row,
// and an optimistic ownership update.
func (m *AuctionManager) Finalize(ctx context.Context, auctionID int64, p FinalizeParams) (*models.Auction, error) {
	auction, err := m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, ErrNotFound
	}
	if auction.BidCount == 0 {
		return nil, invalid("auction", "cannot finalize without bids")
	}
	if time.Now().Before(auction.EndTime) {
		return nil, invalid("auction", "cannot finalize before end time")
	}
	if p.WinnerAddress == "" {
		return nil, invalid("winner", "required")
	}
	if !amount.IsCanonicalPositive(p.Price) {
		return nil, invalid("price", "must be a positive base-unit integer")
	}

	won, err := m.auctions.MarkEnded(ctx, auctionID, p.TxHash)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrAlreadyResolved
	}

	auction.Status = models.AuctionStatusEnded
	auction.FinalizationTxHash = p.TxHash

	if err := m.activities.RecordSale(ctx, &models.Sale{
		Contract:      auction.Contract,
		TokenID:       auction.TokenID,
		SellerAddress: auction.SellerAddress,
		BuyerAddress:  p.WinnerAddress,
		Quantity:      auction.Quantity,
		Price:         p.Price,
		Fees:          p.Fees,
		CurrencyID:    auction.CurrencyID,
		TxHash:        p.TxHash,
		LogIndex:      p.LogIndex,
		BlockNumber:   p.BlockNumber,
	}); err != nil {
		return nil, err
	}

	if err := m.activities.Record(ctx, &models.Activity{
		Kind:                models.ActivityAuctionSettled,
		Contract:            auction.Contract,
		TokenID:             auction.TokenID,
		ActorAddress:        p.WinnerAddress,
		CounterpartyAddress: auction.SellerAddress,
		Amount:              p.Price,
		CurrencyID:          auction.CurrencyID,
		TxHash:              p.TxHash,
		LogIndex:            p.LogIndex,
	}); err != nil {
		slog.Warn("Failed to record settlement activity",
			slog.Int64("auction_id", auctionID),
			slog.Any("error", err))
	}

	if err := m.owners.Upsert(ctx, &models.AssetOwner{
		Contract:     auction.Contract,
		TokenID:      auction.TokenID,
		OwnerAddress: p.WinnerAddress,
		Quantity:     auction.Quantity,
		Verified:     true,
	}); err != nil {
		slog.Warn("Failed to update ownership view after settlement",
			slog.Int64("auction_id", auctionID),
			slog.Any("error", err))
	}

	if m.hub != nil {
		payload := map[string]interface{}{
			"auctionId": auctionID,
			"winner":    p.WinnerAddress,
			"price":     p.Price,
			"txHash":    p.TxHash,
		}
		m.hub.Publish(events.AuctionTopic(auctionID), events.EventAuctionSettled, payload)
		m.hub.Publish(events.WalletTopic(p.WinnerAddress), events.EventAuctionSettled, payload)
	}

	slog.Info("Auction settled",
		slog.Int64("auction_id", auctionID),
		slog.String("winner", p.WinnerAddress),
		slog.String("price", p.Price))

	return auction, nil
}

func (m *AuctionManager) Cancel(ctx context.Context, auctionID int64, txHash string) error {
	auction, err := m.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return err
	}
	if auction == nil {
		return ErrNotFound
	}

	won, err := m.auctions.MarkCancelled(ctx, auctionID, txHash)
	if err != nil {
		return err
	}
	if !won {
		return ErrAlreadyResolved
	}

	if err := m.activities.Record(ctx, &models.Activity{
		Kind:         models.ActivityAuctionCancelled,
		Contract:     auction.Contract,
		TokenID:      auction.TokenID,
		ActorAddress: auction.SellerAddress,
		TxHash:       txHash,
	}); err != nil {
		slog.Warn("Failed to record cancel activity",
			slog.Int64("auction_id", auctionID),
			slog.Any("error", err))
	}

	if m.hub != nil {
		m.hub.Publish(events.AuctionTopic(auctionID), events.EventAuctionCancelled, map[string]interface{}{
			"auctionId": auctionID,
		})
	}

	return nil
}

// GuardBid checks a bid amount against the ledger's live auction state. With
// no bid recorded on chain the floor is the reserve price; with one, the
// current highest (equality tolerated, the snapshot may already reflect this
// very bid). An unreachable or silent node degrades to accept: mirror
// availability outranks strict consistency on this path.
func GuardBid(ctx context.Context, source ChainSource, contract, tokenID, bidAmount string) error {
	if source == nil {
		return nil
	}

	state, err := source.AuctionState(ctx, contract, tokenID)
	if err != nil {
		slog.Warn("Chain-truth snapshot unavailable, accepting bid unguarded",
			slog.String("contract", contract),
			slog.String("token_id", tokenID),
			slog.Any("error", err))
		return nil
	}
	if state == nil {
		slog.Warn("No auction found on chain, accepting bid unguarded",
			slog.String("contract", contract),
			slog.String("token_id", tokenID))
		return nil
	}

	floor := state.ReservePrice
	if state.HighestBidder != "" && amount.Cmp(state.HighestBid, "0") > 0 {
		floor = state.HighestBid
	}
	if amount.Cmp(bidAmount, floor) < 0 {
		return invalid("amount", "bid below the current on-chain floor")
	}
	return nil
}
