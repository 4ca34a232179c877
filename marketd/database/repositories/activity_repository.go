package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/astralane/marketd/marketd/database/models"
)

type ActivityRepository interface {
	// Record appends a transition entry. Entries carrying a tx_hash are
	// deduplicated on (tx_hash, log_index); replays are silently absorbed.
	Record(ctx context.Context, activity *models.Activity) error
	// RecordSale inserts the canonical sale row with the same dedup key.
	RecordSale(ctx context.Context, sale *models.Sale) error
	Recent(ctx context.Context, contract, tokenID string, limit int) ([]*models.Activity, error)
}

type activityRepository struct {
	db *bun.DB
}

func NewActivityRepository(db *bun.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Record(ctx context.Context, activity *models.Activity) error {
	activity.CreatedAt = time.Now()

	query := r.db.NewInsert().Model(activity)
	if activity.TxHash != "" {
		query = query.On("CONFLICT (tx_hash, log_index) WHERE tx_hash IS NOT NULL DO NOTHING")
	}

	if _, err := query.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

func (r *activityRepository) RecordSale(ctx context.Context, sale *models.Sale) error {
	sale.CreatedAt = time.Now()

	_, err := r.db.NewInsert().
		Model(sale).
		On("CONFLICT (tx_hash, log_index) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record sale: %w", err)
	}
	return nil
}

func (r *activityRepository) Recent(ctx context.Context, contract, tokenID string, limit int) ([]*models.Activity, error) {
	var activities []*models.Activity

	query := r.db.NewSelect().Model(&activities)
	if contract != "" {
		query = query.Where("contract = ?", contract)
	}
	if tokenID != "" {
		query = query.Where("token_id = ?", tokenID)
	}

	err := query.Order("created_at DESC").Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent activity: %w", err)
	}
	return activities, nil
}
