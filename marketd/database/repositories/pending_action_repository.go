package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/astralane/marketd/marketd/database/models"
)

type PendingActionRepository interface {
	// Insert is the idempotency root of the subsystem: on tx_hash conflict
	// the original row comes back unchanged and created is false. Every
	// mutating client path funnels through this so retries, double-submits
	// and duplicate delivery never produce two records for one transaction.
	Insert(ctx context.Context, action *models.PendingAction) (created bool, row *models.PendingAction, err error)
	GetByTxHash(ctx context.Context, txHash string) (*models.PendingAction, error)
	ListByWallet(ctx context.Context, wallet string, status models.PendingActionStatus) ([]*models.PendingAction, error)
	// UpdateStatusByTxHash only moves rows still in pending state.
	UpdateStatusByTxHash(ctx context.Context, txHash string, status models.PendingActionStatus) (bool, error)
}

type pendingActionRepository struct {
	db *bun.DB
}

func NewPendingActionRepository(db *bun.DB) PendingActionRepository {
	return &pendingActionRepository{db: db}
}

func (r *pendingActionRepository) Insert(ctx context.Context, action *models.PendingAction) (bool, *models.PendingAction, error) {
	action.Status = models.PendingStatusPending
	action.CreatedAt = time.Now()
	action.UpdatedAt = time.Now()

	result, err := r.db.NewInsert().
		Model(action).
		On("CONFLICT (tx_hash) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert pending action: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return true, action, nil
	}

	existing, err := r.GetByTxHash(ctx, action.TxHash)
	if err != nil {
		return false, nil, err
	}
	if existing == nil {
		return false, nil, fmt.Errorf("pending action %s missing after conflict", action.TxHash)
	}
	return false, existing, nil
}

func (r *pendingActionRepository) GetByTxHash(ctx context.Context, txHash string) (*models.PendingAction, error) {
	action := new(models.PendingAction)
	err := r.db.NewSelect().
		Model(action).
		Where("tx_hash = ?", txHash).
		Scan(ctx)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending action: %w", err)
	}
	return action, nil
}

func (r *pendingActionRepository) ListByWallet(ctx context.Context, wallet string, status models.PendingActionStatus) ([]*models.PendingAction, error) {
	var actions []*models.PendingAction

	query := r.db.NewSelect().
		Model(&actions).
		Where("submitter_address = ?", wallet)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	err := query.Order("created_at DESC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	return actions, nil
}

func (r *pendingActionRepository) UpdateStatusByTxHash(ctx context.Context, txHash string, status models.PendingActionStatus) (bool, error) {
	result, err := r.db.NewUpdate().
		Model((*models.PendingAction)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("tx_hash = ? AND status = ?", txHash, models.PendingStatusPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update pending action status: %w", err)
	}
	return oneRowAffected(result)
}
