package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/uptrace/bun"

	"github.com/astralane/marketd/marketd/amount"
	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/database/repositories"
)

// In-memory doubles for the repository interfaces. They reproduce the store's
// arbitration semantics (conditional transitions, locked bid application) so
// manager tests can exercise concurrency without a database.

type fakeCurrencyRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*models.Currency
}

func newFakeCurrencyRepo() *fakeCurrencyRepo {
	return &fakeCurrencyRepo{nextID: 1}
}

func (f *fakeCurrencyRepo) GetByID(_ context.Context, id int64) (*models.Currency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeCurrencyRepo) GetByTokenAddress(_ context.Context, address string) (*models.Currency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.TokenAddress == address {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeCurrencyRepo) GetOrCreateNative(_ context.Context, symbol string, decimals int) (*models.Currency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.Kind == models.CurrencyKindNative {
			return c, nil
		}
	}
	c := &models.Currency{ID: f.nextID, Kind: models.CurrencyKindNative, Symbol: symbol, Decimals: decimals}
	f.nextID++
	f.rows = append(f.rows, c)
	return c, nil
}

func (f *fakeCurrencyRepo) GetOrCreateToken(_ context.Context, address, symbol string, decimals int) (*models.Currency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.rows {
		if c.TokenAddress == address {
			return c, nil
		}
	}
	c := &models.Currency{ID: f.nextID, Kind: models.CurrencyKindFungible, Symbol: symbol, Decimals: decimals, TokenAddress: address}
	f.nextID++
	f.rows = append(f.rows, c)
	return c, nil
}

type fakeListingRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Listing
}

func newFakeListingRepo() *fakeListingRepo {
	return &fakeListingRepo{nextID: 1, rows: make(map[int64]*models.Listing)}
}

func (f *fakeListingRepo) DB() *bun.DB { return nil }

func (f *fakeListingRepo) Create(_ context.Context, listing *models.Listing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	listing.ID = f.nextID
	f.nextID++
	listing.Status = models.ListingStatusActive
	cp := *listing
	f.rows[listing.ID] = &cp
	return nil
}

func (f *fakeListingRepo) GetByID(_ context.Context, id int64) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeListingRepo) FindActive(_ context.Context, contract, tokenID, seller string) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Status != models.ListingStatusActive || row.Contract != contract || row.TokenID != tokenID {
			continue
		}
		if seller != "" && row.SellerAddress != seller {
			continue
		}
		cp := *row
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeListingRepo) MarkSold(_ context.Context, id int64, buyer, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != models.ListingStatusActive {
		return false, nil
	}
	row.Status = models.ListingStatusSold
	row.BuyerAddress = buyer
	row.FillTxHash = txHash
	return true, nil
}

func (f *fakeListingRepo) MarkCancelled(_ context.Context, id int64, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != models.ListingStatusActive {
		return false, nil
	}
	row.Status = models.ListingStatusCancelled
	row.CancellationTxHash = txHash
	return true, nil
}

func (f *fakeListingRepo) MarkExpired(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != models.ListingStatusActive {
		return false, nil
	}
	row.Status = models.ListingStatusExpired
	return true, nil
}

func (f *fakeListingRepo) AttachCreationTxHash(_ context.Context, id int64, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != models.ListingStatusActive {
		return false, nil
	}
	row.CreationTxHash = txHash
	return true, nil
}

func (f *fakeListingRepo) ListActive(_ context.Context, q repositories.ActiveQuery) ([]*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Listing
	for _, row := range f.rows {
		if row.Status != models.ListingStatusActive {
			continue
		}
		if q.Contract != "" && row.Contract != q.Contract {
			continue
		}
		if q.TokenID != "" && row.TokenID != q.TokenID {
			continue
		}
		if q.Cursor > 0 && row.ID <= q.Cursor {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

type fakeAuctionRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Auction
	bids   []*models.AuctionBid
}

func newFakeAuctionRepo() *fakeAuctionRepo {
	return &fakeAuctionRepo{nextID: 1, rows: make(map[int64]*models.Auction)}
}

func (f *fakeAuctionRepo) DB() *bun.DB { return nil }

func (f *fakeAuctionRepo) Create(_ context.Context, auction *models.Auction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	auction.ID = f.nextID
	f.nextID++
	auction.Status = models.AuctionStatusActive
	if auction.HighestBid == "" {
		auction.HighestBid = "0"
	}
	cp := *auction
	f.rows[auction.ID] = &cp
	return nil
}

func (f *fakeAuctionRepo) GetByID(_ context.Context, id int64) (*models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeAuctionRepo) FindActive(_ context.Context, contract, tokenID string) (*models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Status == models.AuctionStatusActive && row.Contract == contract && row.TokenID == tokenID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAuctionRepo) ApplyBid(_ context.Context, auctionID int64, bid *models.AuctionBid, extendEndTo *time.Time) (*models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[auctionID]
	if !ok || row.Status != models.AuctionStatusActive {
		return nil, nil
	}

	bid.AuctionID = auctionID
	if bid.Timestamp.IsZero() {
		bid.Timestamp = time.Now()
	}
	cp := *bid
	f.bids = append(f.bids, &cp)

	if amount.Cmp(bid.Amount, row.HighestBid) > 0 {
		row.HighestBid = bid.Amount
		row.HighestBidder = bid.BidderAddress
	}
	if extendEndTo != nil && extendEndTo.After(row.EndTime) {
		row.EndTime = *extendEndTo
	}
	row.BidCount++

	out := *row
	return &out, nil
}

func (f *fakeAuctionRepo) MarkEnded(_ context.Context, id int64, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != models.AuctionStatusActive {
		return false, nil
	}
	row.Status = models.AuctionStatusEnded
	row.FinalizationTxHash = txHash
	return true, nil
}

func (f *fakeAuctionRepo) MarkCancelled(_ context.Context, id int64, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.Status != models.AuctionStatusActive {
		return false, nil
	}
	row.Status = models.AuctionStatusCancelled
	row.CancellationTxHash = txHash
	row.EndTime = time.Now()
	return true, nil
}

func (f *fakeAuctionRepo) ListActive(_ context.Context, q repositories.ActiveQuery) ([]*models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Auction
	for _, row := range f.rows {
		if row.Status != models.AuctionStatusActive {
			continue
		}
		if q.Contract != "" && row.Contract != q.Contract {
			continue
		}
		if q.TokenID != "" && row.TokenID != q.TokenID {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeAuctionRepo) BidsForAuction(_ context.Context, auctionID int64) ([]*models.AuctionBid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AuctionBid
	for _, b := range f.bids {
		if b.AuctionID == auctionID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return amount.Cmp(out[i].Amount, out[j].Amount) > 0
	})
	return out, nil
}

type fakeActivityRepo struct {
	mu         sync.Mutex
	activities []*models.Activity
	sales      []*models.Sale
}

func newFakeActivityRepo() *fakeActivityRepo {
	return &fakeActivityRepo{}
}

func (f *fakeActivityRepo) Record(_ context.Context, activity *models.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if activity.TxHash != "" {
		for _, a := range f.activities {
			if a.TxHash == activity.TxHash && a.LogIndex == activity.LogIndex {
				return nil
			}
		}
	}
	cp := *activity
	f.activities = append(f.activities, &cp)
	return nil
}

func (f *fakeActivityRepo) RecordSale(_ context.Context, sale *models.Sale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sales {
		if s.TxHash == sale.TxHash && s.LogIndex == sale.LogIndex {
			return nil
		}
	}
	cp := *sale
	f.sales = append(f.sales, &cp)
	return nil
}

func (f *fakeActivityRepo) Recent(_ context.Context, contract, tokenID string, limit int) ([]*models.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Activity
	for _, a := range f.activities {
		if contract != "" && a.Contract != contract {
			continue
		}
		if tokenID != "" && a.TokenID != tokenID {
			continue
		}
		cp := *a
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeActivityRepo) saleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sales)
}

type fakeOwnershipRepo struct {
	mu      sync.Mutex
	rows    map[string]*models.AssetOwner
	failErr error
}

func newFakeOwnershipRepo() *fakeOwnershipRepo {
	return &fakeOwnershipRepo{rows: make(map[string]*models.AssetOwner)}
}

func ownerKey(contract, tokenID, owner string) string {
	return contract + "|" + tokenID + "|" + owner
}

func (f *fakeOwnershipRepo) Upsert(_ context.Context, owner *models.AssetOwner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	cp := *owner
	f.rows[ownerKey(owner.Contract, owner.TokenID, owner.OwnerAddress)] = &cp
	return nil
}

func (f *fakeOwnershipRepo) Get(_ context.Context, contract, tokenID, owner string) (*models.AssetOwner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[ownerKey(contract, tokenID, owner)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeOwnershipRepo) Holders(_ context.Context, contract, tokenID string) ([]*models.AssetOwner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AssetOwner
	for _, row := range f.rows {
		if row.Contract == contract && row.TokenID == tokenID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeOwnershipRepo) MarkUnverified(_ context.Context, contract, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Contract == contract && row.TokenID == tokenID {
			row.Verified = false
		}
	}
	return nil
}

type fakeChainSource struct {
	auction    *AuctionState
	auctionErr error
	listing    *ListingState
	listingErr error
}

func (f *fakeChainSource) AuctionState(_ context.Context, _, _ string) (*AuctionState, error) {
	return f.auction, f.auctionErr
}

func (f *fakeChainSource) ListingState(_ context.Context, _, _, _ string) (*ListingState, error) {
	return f.listing, f.listingErr
}

func testRegistry(t interface{ Fatalf(string, ...interface{}) }) *Registry {
	registry, err := NewRegistry(newFakeCurrencyRepo(), "ETH", 18, 8)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return registry
}
