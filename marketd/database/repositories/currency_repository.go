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

type CurrencyRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Currency, error)
	GetByTokenAddress(ctx context.Context, address string) (*models.Currency, error)
	// GetOrCreateNative inserts the native row on first use. The insert is
	// ON CONFLICT DO NOTHING against the partial unique index on
	// kind = 'native'; a find-then-create would race.
	GetOrCreateNative(ctx context.Context, symbol string, decimals int) (*models.Currency, error)
	GetOrCreateToken(ctx context.Context, address, symbol string, decimals int) (*models.Currency, error)
}

type currencyRepository struct {
	db *bun.DB
}

func NewCurrencyRepository(db *bun.DB) CurrencyRepository {
	return &currencyRepository{db: db}
}

func (r *currencyRepository) GetByID(ctx context.Context, id int64) (*models.Currency, error) {
	currency := new(models.Currency)
	err := r.db.NewSelect().
		Model(currency).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get currency: %w", err)
	}
	return currency, nil
}

func (r *currencyRepository) GetByTokenAddress(ctx context.Context, address string) (*models.Currency, error) {
	currency := new(models.Currency)
	err := r.db.NewSelect().
		Model(currency).
		Where("token_address = ?", address).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get currency by token address: %w", err)
	}
	return currency, nil
}

func (r *currencyRepository) GetOrCreateNative(ctx context.Context, symbol string, decimals int) (*models.Currency, error) {
	currency := &models.Currency{
		Kind:      models.CurrencyKindNative,
		Symbol:    symbol,
		Decimals:  decimals,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	_, err := r.db.NewInsert().
		Model(currency).
		On("CONFLICT (kind) WHERE kind = 'native' DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to insert native currency: %w", err)
	}

	existing := new(models.Currency)
	err = r.db.NewSelect().
		Model(existing).
		Where("kind = ?", models.CurrencyKindNative).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch native currency: %w", err)
	}
	return existing, nil
}

func (r *currencyRepository) GetOrCreateToken(ctx context.Context, address, symbol string, decimals int) (*models.Currency, error) {
	currency := &models.Currency{
		Kind:         models.CurrencyKindFungible,
		Symbol:       symbol,
		Decimals:     decimals,
		TokenAddress: address,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	_, err := r.db.NewInsert().
		Model(currency).
		On("CONFLICT (token_address) WHERE token_address IS NOT NULL DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to insert token currency: %w", err)
	}

	existing, err := r.GetByTokenAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("token currency %s missing after upsert", address)
	}
	return existing, nil
}
