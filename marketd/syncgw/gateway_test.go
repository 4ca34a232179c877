package syncgw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/market"
)

type fakeReceipts struct {
	ok  bool
	err error
}

func (f *fakeReceipts) ReceiptOK(_ context.Context, _ string) (bool, error) {
	return f.ok, f.err
}

type fakePendings struct {
	resolved map[string]bool
	err      error
}

func (f *fakePendings) Resolve(_ context.Context, txHash string, confirmed bool) error {
	if f.err != nil {
		return f.err
	}
	if f.resolved == nil {
		f.resolved = make(map[string]bool)
	}
	f.resolved[txHash] = confirmed
	return nil
}

type fakeListingMirror struct {
	created   []market.CreateListingParams
	filled    []int64
	cancelled []int64
	expired   []int64
	fillErr   error
}

func (f *fakeListingMirror) Create(_ context.Context, p market.CreateListingParams) (*models.Listing, error) {
	f.created = append(f.created, p)
	return &models.Listing{ID: 1, Contract: p.Contract, TokenID: p.TokenID}, nil
}

func (f *fakeListingMirror) Fill(_ context.Context, id int64, _ market.FillParams) (*models.Listing, error) {
	if f.fillErr != nil {
		return nil, f.fillErr
	}
	f.filled = append(f.filled, id)
	return &models.Listing{ID: id, Status: models.ListingStatusSold}, nil
}

func (f *fakeListingMirror) Cancel(_ context.Context, id int64, _ string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeListingMirror) Expire(_ context.Context, id int64) error {
	f.expired = append(f.expired, id)
	return nil
}

type fakeAuctionMirror struct {
	created   []market.CreateAuctionParams
	bids      []market.BidParams
	finalized []market.FinalizeParams
	cancelled []int64
}

func (f *fakeAuctionMirror) Create(_ context.Context, p market.CreateAuctionParams) (*models.Auction, error) {
	f.created = append(f.created, p)
	return &models.Auction{ID: 1}, nil
}

func (f *fakeAuctionMirror) Bid(_ context.Context, id int64, p market.BidParams) (*models.Auction, error) {
	f.bids = append(f.bids, p)
	return &models.Auction{ID: id, HighestBid: p.Amount, HighestBidder: p.BidderAddress}, nil
}

func (f *fakeAuctionMirror) Finalize(_ context.Context, id int64, p market.FinalizeParams) (*models.Auction, error) {
	f.finalized = append(f.finalized, p)
	return &models.Auction{ID: id, Status: models.AuctionStatusEnded}, nil
}

func (f *fakeAuctionMirror) Cancel(_ context.Context, id int64, _ string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeListingDir struct {
	active   *models.Listing
	attached map[int64]string
}

func (f *fakeListingDir) FindActive(_ context.Context, _, _, _ string) (*models.Listing, error) {
	return f.active, nil
}

func (f *fakeListingDir) AttachCreationTxHash(_ context.Context, id int64, txHash string) (bool, error) {
	if f.attached == nil {
		f.attached = make(map[int64]string)
	}
	if _, done := f.attached[id]; done {
		return false, nil
	}
	f.attached[id] = txHash
	return true, nil
}

type fakeAuctionDir struct {
	active *models.Auction
}

func (f *fakeAuctionDir) FindActive(_ context.Context, _, _ string) (*models.Auction, error) {
	return f.active, nil
}

const syncHash = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type gatewayFixture struct {
	gw         *Gateway
	receipts   *fakeReceipts
	pendings   *fakePendings
	listings   *fakeListingMirror
	auctions   *fakeAuctionMirror
	listingDir *fakeListingDir
	auctionDir *fakeAuctionDir
}

func newFixture() *gatewayFixture {
	f := &gatewayFixture{
		receipts: &fakeReceipts{ok: true},
		pendings: &fakePendings{},
		listings: &fakeListingMirror{},
		auctions: &fakeAuctionMirror{},
		listingDir: &fakeListingDir{active: &models.Listing{
			ID: 5, Contract: "0xabc", TokenID: "42", SellerAddress: "0xseller",
			Status: models.ListingStatusActive,
		}},
		auctionDir: &fakeAuctionDir{active: &models.Auction{
			ID: 9, Contract: "0xabc", TokenID: "7", Status: models.AuctionStatusActive,
		}},
	}
	f.gw = NewGateway(f.receipts, f.pendings, f.listings, f.auctions, f.listingDir, f.auctionDir)
	return f
}

func TestSyncFailsClosedOnNodeError(t *testing.T) {
	f := newFixture()
	f.receipts.err = errors.New("rpc timeout")
	ctx := context.Background()

	_, err := f.gw.SyncListingCreate(ctx, market.CreateListingParams{TxHash: syncHash})
	if !errors.Is(err, market.ErrChainUnavailable) {
		t.Errorf("expected ErrChainUnavailable, got %v", err)
	}
	if len(f.listings.created) != 0 {
		t.Error("nothing may be mirrored without a verified receipt")
	}

	_, err = f.gw.SyncAuctionBid(ctx, AuctionBidSync{TxHash: syncHash, Amount: "1"})
	if !errors.Is(err, market.ErrChainUnavailable) {
		t.Errorf("expected ErrChainUnavailable, got %v", err)
	}
	if len(f.auctions.bids) != 0 {
		t.Error("bid must not apply when the node is unreachable")
	}
}

func TestSyncRejectsMissingOrRevertedReceipt(t *testing.T) {
	f := newFixture()
	f.receipts.ok = false
	ctx := context.Background()

	_, err := f.gw.SyncAuctionBid(ctx, AuctionBidSync{TxHash: syncHash, Amount: "1"})
	if !market.IsValidation(err) {
		t.Errorf("expected validation error for reverted tx, got %v", err)
	}
	if len(f.auctions.bids) != 0 {
		t.Error("reverted bid must not apply")
	}
	if confirmed, seen := f.pendings.resolved[syncHash]; !seen || confirmed {
		t.Errorf("reverted tx should fail its pending row, got %v/%v", confirmed, seen)
	}
}

func TestSyncRequiresTxHash(t *testing.T) {
	f := newFixture()

	if _, err := f.gw.SyncListingCreate(context.Background(), market.CreateListingParams{}); !market.IsValidation(err) {
		t.Errorf("expected validation error for empty hash, got %v", err)
	}
}

func TestSyncAuctionBidAppliesAndResolvesPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	updated, err := f.gw.SyncAuctionBid(ctx, AuctionBidSync{
		Contract:      "0xabc",
		TokenID:       "7",
		BidderAddress: "0xbidder",
		Amount:        "2000000000000000000",
		TxHash:        syncHash,
		BlockNumber:   100,
		Timestamp:     time.Now(),
	})
	if err != nil {
		t.Fatalf("sync bid: %v", err)
	}
	if updated.HighestBidder != "0xbidder" {
		t.Errorf("leader = %s, want 0xbidder", updated.HighestBidder)
	}
	if confirmed := f.pendings.resolved[syncHash]; !confirmed {
		t.Error("synced bid should confirm its pending row")
	}
}

func TestSyncAuctionBidUnknownAuction(t *testing.T) {
	f := newFixture()
	f.auctionDir.active = nil

	_, err := f.gw.SyncAuctionBid(context.Background(), AuctionBidSync{TxHash: syncHash, Amount: "1"})
	if !errors.Is(err, market.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncAuctionFinalize(t *testing.T) {
	f := newFixture()

	settled, err := f.gw.SyncAuctionFinalize(context.Background(), AuctionFinalizeSync{
		Contract:      "0xabc",
		TokenID:       "7",
		WinnerAddress: "0xwinner",
		Price:         "3000000000000000000",
		TxHash:        syncHash,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if settled.Status != models.AuctionStatusEnded {
		t.Errorf("status = %s, want ended", settled.Status)
	}
	if !f.pendings.resolved[syncHash] {
		t.Error("finalize should confirm its pending row")
	}
}

func TestSyncListingCancelResolvesActiveRow(t *testing.T) {
	f := newFixture()

	if err := f.gw.SyncListingCancel(context.Background(), ListingCancelSync{
		Contract: "0xabc", TokenID: "42", TxHash: syncHash,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(f.listings.cancelled) != 1 || f.listings.cancelled[0] != 5 {
		t.Errorf("cancelled = %v, want the resolved active row", f.listings.cancelled)
	}
}

func TestAttachListingOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("sold requires buyer", func(t *testing.T) {
		f := newFixture()
		err := f.gw.AttachListingOutcome(ctx, ListingOutcome{
			Action: OutcomeSold, Contract: "0xabc", TokenID: "42", TxHash: syncHash,
		})
		if !market.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("sold fills and confirms pending", func(t *testing.T) {
		f := newFixture()
		err := f.gw.AttachListingOutcome(ctx, ListingOutcome{
			Action: OutcomeSold, Contract: "0xabc", TokenID: "42",
			BuyerAddress: "0xbuyer", TxHash: syncHash,
		})
		if err != nil {
			t.Fatalf("attach sold: %v", err)
		}
		if len(f.listings.filled) != 1 || f.listings.filled[0] != 5 {
			t.Errorf("filled = %v, want the resolved active row", f.listings.filled)
		}
		if !f.pendings.resolved[syncHash] {
			t.Error("sold outcome should confirm its pending row")
		}
	})

	t.Run("expired needs no receipt", func(t *testing.T) {
		f := newFixture()
		f.receipts.err = errors.New("node down")
		err := f.gw.AttachListingOutcome(ctx, ListingOutcome{
			Action: OutcomeExpired, Contract: "0xabc", TokenID: "42",
		})
		if err != nil {
			t.Fatalf("attach expired: %v", err)
		}
		if len(f.listings.expired) != 1 {
			t.Errorf("expired = %v, want one transition", f.listings.expired)
		}
	})

	t.Run("created attaches hash once", func(t *testing.T) {
		f := newFixture()
		req := ListingOutcome{
			Action: OutcomeCreated, Contract: "0xabc", TokenID: "42", TxHash: syncHash,
		}
		if err := f.gw.AttachListingOutcome(ctx, req); err != nil {
			t.Fatalf("attach created: %v", err)
		}
		if err := f.gw.AttachListingOutcome(ctx, req); !errors.Is(err, market.ErrAlreadyResolved) {
			t.Errorf("second attach: expected ErrAlreadyResolved, got %v", err)
		}
	})

	t.Run("no active row", func(t *testing.T) {
		f := newFixture()
		f.listingDir.active = nil
		err := f.gw.AttachListingOutcome(ctx, ListingOutcome{
			Action: OutcomeCancelled, Contract: "0xabc", TokenID: "42", TxHash: syncHash,
		})
		if !errors.Is(err, market.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		f := newFixture()
		err := f.gw.AttachListingOutcome(ctx, ListingOutcome{
			Action: "teleported", Contract: "0xabc", TokenID: "42",
		})
		if !market.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}
