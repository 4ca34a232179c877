package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/astralane/marketd/marketd/database/models"
)

// ActiveQuery is a cursor-paginated filter over active rows. Cursor is the
// last seen row id; zero starts from the beginning.
type ActiveQuery struct {
	Contract string
	TokenID  string
	Cursor   int64
	Limit    int
}

type ListingRepository interface {
	DB() *bun.DB
	Create(ctx context.Context, listing *models.Listing) error
	GetByID(ctx context.Context, id int64) (*models.Listing, error)
	// FindActive resolves the unique active row for an asset, optionally
	// scoped by seller for multi-supply assets. Returns nil when absent.
	FindActive(ctx context.Context, contract, tokenID, seller string) (*models.Listing, error)
	// MarkSold flips active -> sold iff the row is still active. The false
	// return is the optimistic-concurrency loss signal, not an error.
	MarkSold(ctx context.Context, id int64, buyer, txHash string) (bool, error)
	MarkCancelled(ctx context.Context, id int64, txHash string) (bool, error)
	MarkExpired(ctx context.Context, id int64) (bool, error)
	// AttachCreationTxHash back-fills the creation hash on an active row
	// that was mirrored before its transaction was known.
	AttachCreationTxHash(ctx context.Context, id int64, txHash string) (bool, error)
	ListActive(ctx context.Context, q ActiveQuery) ([]*models.Listing, error)
}

type listingRepository struct {
	db *bun.DB
}

func NewListingRepository(db *bun.DB) ListingRepository {
	return &listingRepository{db: db}
}

func (r *listingRepository) DB() *bun.DB {
	return r.db
}

func (r *listingRepository) Create(ctx context.Context, listing *models.Listing) error {
	listing.Status = models.ListingStatusActive
	listing.CreatedAt = time.Now()
	listing.UpdatedAt = time.Now()

	_, err := r.db.NewInsert().Model(listing).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

func (r *listingRepository) GetByID(ctx context.Context, id int64) (*models.Listing, error) {
	listing := new(models.Listing)
	err := r.db.NewSelect().
		Model(listing).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, nil
}

func (r *listingRepository) FindActive(ctx context.Context, contract, tokenID, seller string) (*models.Listing, error) {
	listing := new(models.Listing)
	query := r.db.NewSelect().
		Model(listing).
		Where("contract = ? AND token_id = ? AND status = ?", contract, tokenID, models.ListingStatusActive)
	if seller != "" {
		query = query.Where("seller_address = ?", seller)
	}

	err := query.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active listing: %w", err)
	}
	return listing, nil
}

func (r *listingRepository) MarkSold(ctx context.Context, id int64, buyer, txHash string) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("status = ?", models.ListingStatusSold).
		Set("buyer_address = ?", buyer).
		Set("fill_tx_hash = ?", txHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, models.ListingStatusActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark listing sold: %w", err)
	}
	return oneRowAffected(result)
}

func (r *listingRepository) MarkCancelled(ctx context.Context, id int64, txHash string) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("status = ?", models.ListingStatusCancelled).
		Set("cancellation_tx_hash = ?", txHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, models.ListingStatusActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark listing cancelled: %w", err)
	}
	return oneRowAffected(result)
}

func (r *listingRepository) MarkExpired(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("status = ?", models.ListingStatusExpired).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, models.ListingStatusActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to mark listing expired: %w", err)
	}
	return oneRowAffected(result)
}

func (r *listingRepository) AttachCreationTxHash(ctx context.Context, id int64, txHash string) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Listing)(nil)).
		Set("creation_tx_hash = ?", txHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ? AND status = ?", id, models.ListingStatusActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to attach creation tx hash: %w", err)
	}
	return oneRowAffected(result)
}

func (r *listingRepository) ListActive(ctx context.Context, q ActiveQuery) ([]*models.Listing, error) {
	var listings []*models.Listing

	query := r.db.NewSelect().
		Model(&listings).
		Where("status = ?", models.ListingStatusActive)
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
		return nil, fmt.Errorf("failed to list active listings: %w", err)
	}
	return listings, nil
}
