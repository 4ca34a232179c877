package pending

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/uptrace/bun"

	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/database/repositories"
	"github.com/astralane/marketd/marketd/events"
	"github.com/astralane/marketd/marketd/market"
)

type fakePendingRepo struct {
	mu     sync.Mutex
	nextID int64
	byHash map[string]*models.PendingAction
}

func newFakePendingRepo() *fakePendingRepo {
	return &fakePendingRepo{nextID: 1, byHash: make(map[string]*models.PendingAction)}
}

func (f *fakePendingRepo) Insert(_ context.Context, action *models.PendingAction) (bool, *models.PendingAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byHash[action.TxHash]; ok {
		cp := *existing
		return false, &cp, nil
	}
	action.ID = f.nextID
	f.nextID++
	action.Status = models.PendingStatusPending
	cp := *action
	f.byHash[action.TxHash] = &cp
	out := cp
	return true, &out, nil
}

func (f *fakePendingRepo) GetByTxHash(_ context.Context, txHash string) (*models.PendingAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.byHash[txHash]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakePendingRepo) ListByWallet(_ context.Context, wallet string, status models.PendingActionStatus) ([]*models.PendingAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PendingAction
	for _, row := range f.byHash {
		if row.SubmitterAddress != wallet {
			continue
		}
		if status != "" && row.Status != status {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakePendingRepo) UpdateStatusByTxHash(_ context.Context, txHash string, status models.PendingActionStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.byHash[txHash]
	if !ok || row.Status != models.PendingStatusPending {
		return false, nil
	}
	row.Status = status
	return true, nil
}

func (f *fakePendingRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byHash)
}

// fakeAuctionLookup satisfies AuctionRepository; the tracker only reads rows.
type fakeAuctionLookup struct {
	rows map[int64]*models.Auction
}

func (f *fakeAuctionLookup) DB() *bun.DB { return nil }

func (f *fakeAuctionLookup) Create(_ context.Context, _ *models.Auction) error { return nil }

func (f *fakeAuctionLookup) GetByID(_ context.Context, id int64) (*models.Auction, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeAuctionLookup) FindActive(_ context.Context, _, _ string) (*models.Auction, error) {
	return nil, nil
}

func (f *fakeAuctionLookup) ApplyBid(_ context.Context, _ int64, _ *models.AuctionBid, _ *time.Time) (*models.Auction, error) {
	return nil, nil
}

func (f *fakeAuctionLookup) MarkEnded(_ context.Context, _ int64, _ string) (bool, error) {
	return false, nil
}

func (f *fakeAuctionLookup) MarkCancelled(_ context.Context, _ int64, _ string) (bool, error) {
	return false, nil
}

func (f *fakeAuctionLookup) ListActive(_ context.Context, _ repositories.ActiveQuery) ([]*models.Auction, error) {
	return nil, nil
}

func (f *fakeAuctionLookup) BidsForAuction(_ context.Context, _ int64) ([]*models.AuctionBid, error) {
	return nil, nil
}

type fakeListingLookup struct {
	rows map[int64]*models.Listing
}

func (f *fakeListingLookup) DB() *bun.DB { return nil }

func (f *fakeListingLookup) Create(_ context.Context, _ *models.Listing) error { return nil }

func (f *fakeListingLookup) GetByID(_ context.Context, id int64) (*models.Listing, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (f *fakeListingLookup) FindActive(_ context.Context, _, _, _ string) (*models.Listing, error) {
	return nil, nil
}

func (f *fakeListingLookup) MarkSold(_ context.Context, _ int64, _, _ string) (bool, error) {
	return false, nil
}

func (f *fakeListingLookup) MarkCancelled(_ context.Context, _ int64, _ string) (bool, error) {
	return false, nil
}

func (f *fakeListingLookup) MarkExpired(_ context.Context, _ int64) (bool, error) {
	return false, nil
}

func (f *fakeListingLookup) AttachCreationTxHash(_ context.Context, _ int64, _ string) (bool, error) {
	return false, nil
}

func (f *fakeListingLookup) ListActive(_ context.Context, _ repositories.ActiveQuery) ([]*models.Listing, error) {
	return nil, nil
}

type fakeSource struct {
	auction *market.AuctionState
	err     error
}

func (f *fakeSource) AuctionState(_ context.Context, _, _ string) (*market.AuctionState, error) {
	return f.auction, f.err
}

func (f *fakeSource) ListingState(_ context.Context, _, _, _ string) (*market.ListingState, error) {
	return nil, nil
}

const (
	testHash  = "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	otherHash = "0x" + "1111111111111111111111111111111111111111111111111111111111111111"
)

func newTestTracker(source market.ChainSource) (*Tracker, *fakePendingRepo, *events.Hub) {
	repo := newFakePendingRepo()
	auctions := &fakeAuctionLookup{rows: map[int64]*models.Auction{
		1: {ID: 1, Contract: "0xabc", TokenID: "7", Status: models.AuctionStatusActive, HighestBid: "0"},
		2: {ID: 2, Contract: "0xabc", TokenID: "8", Status: models.AuctionStatusEnded, HighestBid: "0"},
	}}
	listings := &fakeListingLookup{rows: map[int64]*models.Listing{
		10: {ID: 10, Contract: "0xabc", TokenID: "9", Status: models.ListingStatusActive},
	}}
	hub := events.NewHub()
	return NewTracker(repo, auctions, listings, source, hub), repo, hub
}

func bidParams(hash string) CreateParams {
	payload, _ := json.Marshal(models.BidPayload{AuctionID: 1, BidAmountBaseUnits: "2000000000000000000"})
	return CreateParams{
		Type:             models.PendingActionAuctionBid,
		TxHash:           hash,
		SubmitterAddress: "0xwallet",
		ChainID:          1,
		Payload:          payload,
	}
}

func TestCreateIdempotentByTxHash(t *testing.T) {
	tracker, repo, hub := newTestTracker(nil)
	ctx := context.Background()

	sub := hub.Subscribe(events.AuctionTopic(1))
	defer sub.Close()

	first, err := tracker.Create(ctx, bidParams(testHash))
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if !first.Created {
		t.Error("first create should report Created")
	}

	second, err := tracker.Create(ctx, bidParams(testHash))
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.Created {
		t.Error("replay should not report Created")
	}
	if second.Action.ID != first.Action.ID {
		t.Errorf("replay returned row %d, want original %d", second.Action.ID, first.Action.ID)
	}
	if repo.count() != 1 {
		t.Errorf("row count = %d, want exactly one per tx hash", repo.count())
	}

	// Exactly one bid_pending fan-out despite two calls.
	pendingEvents := 0
	timeout := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case ev := <-sub.C:
			if ev.Name == events.EventBidPending {
				pendingEvents++
			}
		case <-timeout:
			break drain
		}
	}
	if pendingEvents != 1 {
		t.Errorf("bid_pending events = %d, want 1", pendingEvents)
	}
}

func TestCreateValidation(t *testing.T) {
	tracker, _, _ := newTestTracker(nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"short hash", func(p *CreateParams) { p.TxHash = "0xabc" }},
		{"non-hex hash", func(p *CreateParams) {
			p.TxHash = "0x" + "zz12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
		}},
		{"missing submitter", func(p *CreateParams) { p.SubmitterAddress = "" }},
		{"zero chain id", func(p *CreateParams) { p.ChainID = 0 }},
		{"unknown type", func(p *CreateParams) { p.Type = "teleport" }},
		{"malformed payload", func(p *CreateParams) { p.Payload = json.RawMessage(`{`) }},
		{"zero auction id", func(p *CreateParams) {
			p.Payload, _ = json.Marshal(models.BidPayload{AuctionID: 0, BidAmountBaseUnits: "1"})
		}},
		{"decimal amount", func(p *CreateParams) {
			p.Payload, _ = json.Marshal(models.BidPayload{AuctionID: 1, BidAmountBaseUnits: "1.5"})
		}},
		{"inactive auction", func(p *CreateParams) {
			p.Payload, _ = json.Marshal(models.BidPayload{AuctionID: 2, BidAmountBaseUnits: "1"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := bidParams(testHash)
			tt.mutate(&p)
			if _, err := tracker.Create(ctx, p); !market.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCreateUnknownAuction(t *testing.T) {
	tracker, _, _ := newTestTracker(nil)

	p := bidParams(testHash)
	p.Payload, _ = json.Marshal(models.BidPayload{AuctionID: 404, BidAmountBaseUnits: "1"})
	if _, err := tracker.Create(context.Background(), p); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateChainGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("below floor rejected", func(t *testing.T) {
		tracker, _, _ := newTestTracker(&fakeSource{auction: &market.AuctionState{
			Seller:        "0xseller",
			ReservePrice:  "1",
			HighestBidder: "0xother",
			HighestBid:    "9000000000000000000",
		}})
		if _, err := tracker.Create(ctx, bidParams(testHash)); !market.IsValidation(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("unavailable snapshot accepts", func(t *testing.T) {
		tracker, _, _ := newTestTracker(&fakeSource{err: market.ErrChainUnavailable})
		res, err := tracker.Create(ctx, bidParams(testHash))
		if err != nil || !res.Created {
			t.Errorf("soft guard should accept, got %v (created=%v)", err, res != nil && res.Created)
		}
	})
}

func TestCreateListingPurchase(t *testing.T) {
	tracker, _, _ := newTestTracker(nil)
	ctx := context.Background()

	payload, _ := json.Marshal(models.PurchasePayload{ListingID: 10})
	res, err := tracker.Create(ctx, CreateParams{
		Type:             models.PendingActionListingPurchase,
		TxHash:           testHash,
		SubmitterAddress: "0xwallet",
		ChainID:          1,
		Payload:          payload,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Action.RelatedEntityID != 10 {
		t.Errorf("related entity = %d, want 10", res.Action.RelatedEntityID)
	}

	payload, _ = json.Marshal(models.PurchasePayload{ListingID: 404})
	if _, err := tracker.Create(ctx, CreateParams{
		Type:             models.PendingActionListingPurchase,
		TxHash:           otherHash,
		SubmitterAddress: "0xwallet",
		ChainID:          1,
		Payload:          payload,
	}); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown listing, got %v", err)
	}
}

func TestListByWallet(t *testing.T) {
	tracker, _, _ := newTestTracker(nil)
	ctx := context.Background()

	if _, err := tracker.Create(ctx, bidParams(testHash)); err != nil {
		t.Fatalf("create: %v", err)
	}

	rows, err := tracker.List(ctx, "0xwallet", models.PendingStatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want 1", len(rows))
	}

	rows, err = tracker.List(ctx, "0xother", "")
	if err != nil {
		t.Fatalf("list other wallet: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows for other wallet = %d, want 0", len(rows))
	}

	if _, err := tracker.List(ctx, "", ""); !market.IsValidation(err) {
		t.Errorf("expected validation error for empty wallet, got %v", err)
	}
	if _, err := tracker.List(ctx, "0xwallet", "sideways"); !market.IsValidation(err) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}

func TestResolve(t *testing.T) {
	tracker, repo, hub := newTestTracker(nil)
	ctx := context.Background()

	if _, err := tracker.Create(ctx, bidParams(testHash)); err != nil {
		t.Fatalf("create: %v", err)
	}

	sub := hub.Subscribe(events.WalletTopic("0xwallet"))
	defer sub.Close()

	if err := tracker.Resolve(ctx, testHash, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	row, _ := repo.GetByTxHash(ctx, testHash)
	if row.Status != models.PendingStatusConfirmed {
		t.Errorf("status = %s, want confirmed", row.Status)
	}

	select {
	case ev := <-sub.C:
		if ev.Name != events.EventBidConfirmed {
			t.Errorf("event = %s, want bid_confirmed", ev.Name)
		}
	case <-time.After(time.Second):
		t.Error("no bid_confirmed event delivered")
	}

	if err := tracker.Resolve(ctx, testHash, false); !errors.Is(err, market.ErrAlreadyResolved) {
		t.Errorf("second resolve: expected ErrAlreadyResolved, got %v", err)
	}
	if err := tracker.Resolve(ctx, otherHash, true); !errors.Is(err, market.ErrNotFound) {
		t.Errorf("resolve unknown hash: expected ErrNotFound, got %v", err)
	}
}

func TestResolveFailure(t *testing.T) {
	tracker, repo, hub := newTestTracker(nil)
	ctx := context.Background()

	if _, err := tracker.Create(ctx, bidParams(testHash)); err != nil {
		t.Fatalf("create: %v", err)
	}

	sub := hub.Subscribe(events.AuctionTopic(1))
	defer sub.Close()

	if err := tracker.Resolve(ctx, testHash, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	row, _ := repo.GetByTxHash(ctx, testHash)
	if row.Status != models.PendingStatusFailed {
		t.Errorf("status = %s, want failed", row.Status)
	}

	select {
	case ev := <-sub.C:
		if ev.Name != events.EventBidFailed {
			t.Errorf("event = %s, want bid_failed", ev.Name)
		}
	case <-time.After(time.Second):
		t.Error("no bid_failed event delivered")
	}
}

func TestConcurrentCreatesOneRow(t *testing.T) {
	tracker, repo, _ := newTestTracker(nil)
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	created := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := tracker.Create(ctx, bidParams(testHash))
			if err != nil {
				t.Errorf("create %d: %v", i, err)
				return
			}
			created[i] = res.Created
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, c := range created {
		if c {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("created wins = %d, want 1", wins)
	}
	if repo.count() != 1 {
		t.Errorf("row count = %d, want 1", repo.count())
	}
}
