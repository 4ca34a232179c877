package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/astralane/marketd/marketd/database/models"
)

type OwnershipRepository interface {
	// Upsert writes the optimistic ownership view after a fill or
	// finalization. Callers treat failure as non-fatal; the view is a
	// cache, not a source of truth.
	Upsert(ctx context.Context, owner *models.AssetOwner) error
	Get(ctx context.Context, contract, tokenID, owner string) (*models.AssetOwner, error)
	// Holders returns every recorded holder of an asset.
	Holders(ctx context.Context, contract, tokenID string) ([]*models.AssetOwner, error)
	MarkUnverified(ctx context.Context, contract, tokenID string) error
}

type ownershipRepository struct {
	db *bun.DB
}

func NewOwnershipRepository(db *bun.DB) OwnershipRepository {
	return &ownershipRepository{db: db}
}

func (r *ownershipRepository) Upsert(ctx context.Context, owner *models.AssetOwner) error {
	owner.UpdatedAt = time.Now()

	_, err := r.db.NewInsert().
		Model(owner).
		On("CONFLICT (contract, token_id, owner_address) DO UPDATE").
		Set("quantity = EXCLUDED.quantity").
		Set("verified = EXCLUDED.verified").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert asset owner: %w", err)
	}
	return nil
}

func (r *ownershipRepository) Get(ctx context.Context, contract, tokenID, owner string) (*models.AssetOwner, error) {
	row := new(models.AssetOwner)
	err := r.db.NewSelect().
		Model(row).
		Where("contract = ? AND token_id = ? AND owner_address = ?", contract, tokenID, owner).
		Scan(ctx)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get asset owner: %w", err)
	}
	return row, nil
}

func (r *ownershipRepository) Holders(ctx context.Context, contract, tokenID string) ([]*models.AssetOwner, error) {
	var rows []*models.AssetOwner
	err := r.db.NewSelect().
		Model(&rows).
		Where("contract = ? AND token_id = ?", contract, tokenID).
		Order("updated_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset holders: %w", err)
	}
	return rows, nil
}

func (r *ownershipRepository) MarkUnverified(ctx context.Context, contract, tokenID string) error {
	_, err := r.db.NewUpdate().
		Model((*models.AssetOwner)(nil)).
		Set("verified = ?", false).
		Set("updated_at = ?", time.Now()).
		Where("contract = ? AND token_id = ?", contract, tokenID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to mark ownership unverified: %w", err)
	}
	return nil
}
