package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/astralane/marketd/marketd/amount"
	"github.com/astralane/marketd/marketd/database/models"
)

type AuctionRepository interface {
	DB() *bun.DB
	Create(ctx context.Context, auction *models.Auction) error
	GetByID(ctx context.Context, id int64) (*models.Auction, error)
	FindActive(ctx context.Context, contract, tokenID string) (*models.Auction, error)
	// ApplyBid appends the bid and reconciles the denormalized leader fields
	// in one transaction. The row lock on the active auction row is the race
	// arbiter; a bid that ties the current highest does not displace the
	// leader (earliest timestamp wins ties). Returns the updated auction, or
	// nil when no active row exists.
	ApplyBid(ctx context.Context, auctionID int64, bid *models.AuctionBid, extendEndTo *time.Time) (*models.Auction, error)
	MarkEnded(ctx context.Context, id int64, txHash string) (bool, error)
	MarkCancelled(ctx context.Context, id int64, txHash string) (bool, error)
	ListActive(ctx context.Context, q ActiveQuery) ([]*models.Auction, error)
	BidsForAuction(ctx context.Context, auctionID int64) ([]*models.AuctionBid, error)
}

type auctionRepository struct {
	db *bun.DB
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

func (r *auctionRepository) DB() *bun.DB {
	return r.db
}

func (r *auctionRepository) Create(ctx context.Context, auction *models.Auction) error {
	auction.Status = models.AuctionStatusActive
	auction.BidCount = 0
	if auction.HighestBid == "" {
		auction.HighestBid = "0"
	}
	auction.CreatedAt = time.Now()
	auction.UpdatedAt = time.Now()

	_, err := r.db.NewInsert().Model(auction).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) GetByID(ctx context.Context, id int64) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) FindActive(ctx context.Context, contract, tokenID string) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("contract = ? AND token_id = ? AND status = ?", contract, tokenID, models.AuctionStatusActive).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active auction: %w", err)
	}
	return auction, nil
}

func (r *auctionRepository) ApplyBid(ctx context.Context, auctionID int64, bid *models.AuctionBid, extendEndTo *time.Time) (*models.Auction, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	auction := new(models.Auction)
	err = tx.NewSelect().
		Model(auction).
		Where("id = ? AND status = ?", auctionID, models.AuctionStatusActive).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock auction for bid: %w", err)
	}

	bid.AuctionID = auctionID
	bid.CreatedAt = time.Now()
	if bid.Timestamp.IsZero() {
		bid.Timestamp = time.Now()
	}

	if _, err = tx.NewInsert().Model(bid).Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to append bid: %w", err)
	}

	update := tx.NewUpdate().
		Model(auction).
		Set("bid_count = bid_count + 1").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", auctionID)

	// Strictly greater displaces the leader; a tie leaves the earlier bid
	// in front.
	if amount.Cmp(bid.Amount, auction.HighestBid) > 0 {
		update = update.
			Set("highest_bid_base_units = ?", bid.Amount).
			Set("highest_bidder_address = ?", bid.BidderAddress)
		auction.HighestBid = bid.Amount
		auction.HighestBidder = bid.BidderAddress
	}

	if extendEndTo != nil && extendEndTo.After(auction.EndTime) {
		update = update.Set("end_time = ?", *extendEndTo)
		auction.EndTime = *extendEndTo
	}

	if _, err = update.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}

	auction.BidCount++
	return auction, nil
}

func (r *auctionRepository) MarkEnded(ctx context.Context, id int64, txHash string) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusEnded).
		Set("finalization_tx_hash = ?", txHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, models.AuctionStatusActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark auction ended: %w", err)
	}
	return oneRowAffected(result)
}

func (r *auctionRepository) MarkCancelled(ctx context.Context, id int64, txHash string) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("status = ?", models.AuctionStatusCancelled).
		Set("cancellation_tx_hash = ?", txHash).
		Set("end_time = ?", time.Now()).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, models.AuctionStatusActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark auction cancelled: %w", err)
	}
	return oneRowAffected(result)
}

func (r *auctionRepository) ListActive(ctx context.Context, q ActiveQuery) ([]*models.Auction, error) {
	var auctions []*models.Auction

	query := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusActive)
	if q.Contract != "" {
		query = query.Where("contract = ?", q.Contract)
	}
	if q.TokenID != "" {
		query = query.Where("token_id = ?", q.TokenID)
	}
	if q.Cursor > 0 {
		query = query.Where("id > ?", q.Cursor)
	}

	err := query.Order("id ASC").Limit(q.Limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active auctions: %w", err)
	}
	return auctions, nil
}

func (r *auctionRepository) BidsForAuction(ctx context.Context, auctionID int64) ([]*models.AuctionBid, error) {
	var bids []*models.AuctionBid
	// Amounts are canonical integer strings, so numeric order is length
	// first, then lexicographic; a bare text sort would rank "9" over "10".
	err := r.db.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		OrderExpr("length(amount_base_units) DESC, amount_base_units DESC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get auction bids: %w", err)
	}
	return bids, nil
}
