package models

import (
	"time"

	"github.com/uptrace/bun"
)

type CurrencyKind string

const (
	CurrencyKindNative   CurrencyKind = "native"
	CurrencyKindFungible CurrencyKind = "fungible"
)

// NativeCurrencyRef is the sentinel clients pass instead of a currency id or
// token address.
const NativeCurrencyRef = "native"

// Currency maps a currency id, the native sentinel, or a token address to its
// kind, symbol and decimal exponent. Exactly one native row exists; it is
// created lazily via insert-or-fetch-on-conflict, backed by a partial unique
// index on kind = 'native'.
type Currency struct {
	bun.BaseModel `bun:"table:currencies,alias:cur"`

	ID           int64        `bun:"id,pk,autoincrement"`
	Kind         CurrencyKind `bun:"kind,notnull"`
	Symbol       string       `bun:"symbol,notnull"`
	Decimals     int          `bun:"decimals,notnull"`
	TokenAddress string       `bun:"token_address,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
