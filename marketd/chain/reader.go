// Package chain reads trading state directly from the ledger's marketplace
// contract, bypassing the mirror. It is the validation source for bid guards
// and strict-owner filtering, and the receipt oracle for the sync gateway.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/semaphore"

	"github.com/astralane/marketd/marketd/logger"
)

// ErrUnavailable wraps any node failure or timeout. Callers decide whether
// it soft-degrades (bid guard) or fails closed (sync).
var ErrUnavailable = errors.New("ledger node unavailable")

// The view surface of the marketplace contract. The contract returns zeroed
// storage for absent rows; decoding applies the zero-seller/zero-price
// sentinel so callers never see phantom rows.
const marketplaceABI = `[
	{"type":"function","name":"getListing","stateMutability":"view",
	 "inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"seller","type":"address"}],
	 "outputs":[{"name":"seller","type":"address"},{"name":"quantity","type":"uint256"},{"name":"payToken","type":"address"},{"name":"pricePerItem","type":"uint256"},{"name":"startingTime","type":"uint256"},{"name":"deadline","type":"uint256"}]},
	{"type":"function","name":"getAuction","stateMutability":"view",
	 "inputs":[{"name":"nft","type":"address"},{"name":"tokenId","type":"uint256"}],
	 "outputs":[{"name":"seller","type":"address"},{"name":"payToken","type":"address"},{"name":"reservePrice","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"endTime","type":"uint256"},{"name":"highestBidder","type":"address"},{"name":"highestBid","type":"uint256"}]}
]`

// Caller is the slice of the ethclient surface the reader needs; satisfied
// by *ethclient.Client and by test doubles.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Config struct {
	Contract    common.Address
	CallTimeout time.Duration
	MaxInflight int64
}

type Reader struct {
	caller   Caller
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration
	sem      *semaphore.Weighted
}

// ListingSnapshot is a chain-truth listing row.
type ListingSnapshot struct {
	Seller       common.Address
	Quantity     *big.Int
	PayToken     common.Address
	PricePerItem *big.Int
	StartingTime *big.Int
	Deadline     *big.Int
}

// AuctionSnapshot is a chain-truth auction row.
type AuctionSnapshot struct {
	Seller        common.Address
	PayToken      common.Address
	ReservePrice  *big.Int
	StartTime     *big.Int
	EndTime       *big.Int
	HighestBidder common.Address
	HighestBid    *big.Int
}

func Dial(url string, cfg Config) (*Reader, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger node: %w", err)
	}
	return NewReader(client, cfg)
}

func NewReader(caller Caller, cfg Config) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(marketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	inflight := cfg.MaxInflight
	if inflight <= 0 {
		inflight = 8
	}

	return &Reader{
		caller:   caller,
		contract: cfg.Contract,
		abi:      parsed,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(inflight),
	}, nil
}

// ActiveListing returns the chain-truth listing for an asset, or nil when
// the ledger holds no row. The zero-seller / zero-price sentinel is applied
// here: the contract cannot signal absence any other way.
func (r *Reader) ActiveListing(ctx context.Context, nft common.Address, tokenID *big.Int, seller common.Address) (*ListingSnapshot, error) {
	out, err := r.call(ctx, "getListing", nft, tokenID, seller)
	if err != nil {
		return nil, err
	}

	snap := new(ListingSnapshot)
	if err := r.abi.UnpackIntoInterface(snap, "getListing", out); err != nil {
		return nil, fmt.Errorf("failed to decode listing snapshot: %w", err)
	}
	if isZeroAddress(snap.Seller) || snap.PricePerItem == nil || snap.PricePerItem.Sign() == 0 {
		return nil, nil
	}
	return snap, nil
}

// ActiveAuction returns the chain-truth auction for an asset, or nil when
// the ledger holds no row.
func (r *Reader) ActiveAuction(ctx context.Context, nft common.Address, tokenID *big.Int) (*AuctionSnapshot, error) {
	out, err := r.call(ctx, "getAuction", nft, tokenID)
	if err != nil {
		return nil, err
	}

	snap := new(AuctionSnapshot)
	if err := r.abi.UnpackIntoInterface(snap, "getAuction", out); err != nil {
		return nil, fmt.Errorf("failed to decode auction snapshot: %w", err)
	}
	if isZeroAddress(snap.Seller) || snap.ReservePrice == nil || snap.ReservePrice.Sign() == 0 {
		return nil, nil
	}
	return snap, nil
}

// ReceiptOK reports whether txHash has a successful receipt. A missing
// receipt is (false, nil); a node failure is (false, ErrUnavailable).
func (r *Reader) ReceiptOK(ctx context.Context, txHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer r.sem.Release(1)

	start := time.Now()
	receipt, err := r.caller.TransactionReceipt(ctx, common.HexToHash(txHash))
	logger.LogChainRead("transaction_receipt", time.Since(start), err)

	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return receipt != nil && receipt.Status == types.ReceiptStatusSuccessful, nil
}

func (r *Reader) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer r.sem.Release(1)

	input, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}

	start := time.Now()
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.contract, Data: input}, nil)
	logger.LogChainRead(method, time.Since(start), err)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func isZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
