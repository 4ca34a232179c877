package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/database/repositories"
)

// Registry resolves a currency id, the "native" sentinel, or a token address
// to its kind, symbol and decimal exponent. Every amount computation selects
// its scale through here; native and token amounts are never compared or
// summed without passing through the registry first.
type Registry struct {
	repo           repositories.CurrencyRepository
	cache          *lru.Cache
	nativeSymbol   string
	nativeDecimals int
}

func NewRegistry(repo repositories.CurrencyRepository, nativeSymbol string, nativeDecimals, cacheSize int) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create currency cache: %w", err)
	}

	return &Registry{
		repo:           repo,
		cache:          cache,
		nativeSymbol:   nativeSymbol,
		nativeDecimals: nativeDecimals,
	}, nil
}

// Resolve accepts "" or "native", a decimal id, or a 0x token address.
func (r *Registry) Resolve(ctx context.Context, ref string) (*models.Currency, error) {
	ref = strings.TrimSpace(strings.ToLower(ref))

	if ref == "" || ref == models.NativeCurrencyRef {
		return r.Native(ctx)
	}

	if cached, ok := r.cache.Get(ref); ok {
		return cached.(*models.Currency), nil
	}

	var currency *models.Currency
	var err error
	if strings.HasPrefix(ref, "0x") {
		currency, err = r.repo.GetByTokenAddress(ctx, ref)
	} else {
		var id int64
		id, err = strconv.ParseInt(ref, 10, 64)
		if err != nil {
			return nil, invalid("currency", fmt.Sprintf("unrecognized reference %q", ref))
		}
		currency, err = r.repo.GetByID(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if currency == nil {
		return nil, fmt.Errorf("currency %q: %w", ref, ErrNotFound)
	}

	r.cache.Add(ref, currency)
	return currency, nil
}

// Native returns the single native currency row, creating it lazily on
// first use.
func (r *Registry) Native(ctx context.Context) (*models.Currency, error) {
	if cached, ok := r.cache.Get(models.NativeCurrencyRef); ok {
		return cached.(*models.Currency), nil
	}

	currency, err := r.repo.GetOrCreateNative(ctx, r.nativeSymbol, r.nativeDecimals)
	if err != nil {
		return nil, err
	}

	r.cache.Add(models.NativeCurrencyRef, currency)
	return currency, nil
}

// ByID resolves a mirror row's currency_id column; nil means native.
func (r *Registry) ByID(ctx context.Context, id *int64) (*models.Currency, error) {
	if id == nil {
		return r.Native(ctx)
	}

	key := strconv.FormatInt(*id, 10)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(*models.Currency), nil
	}

	currency, err := r.repo.GetByID(ctx, *id)
	if err != nil {
		return nil, err
	}
	if currency == nil {
		return nil, fmt.Errorf("currency id %d: %w", *id, ErrNotFound)
	}

	r.cache.Add(key, currency)
	return currency, nil
}
