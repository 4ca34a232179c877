// Package syncgw applies confirmed on-chain outcomes to the mirror. Unlike
// the bid guard, every sync entry point fails closed: without a successful
// receipt for the named transaction, nothing is written.
package syncgw

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/market"
)

// ReceiptVerifier is the slice of the chain reader the gateway needs.
type ReceiptVerifier interface {
	ReceiptOK(ctx context.Context, txHash string) (bool, error)
}

// PendingResolver moves pending rows to their terminal status when the
// matching transaction syncs.
type PendingResolver interface {
	Resolve(ctx context.Context, txHash string, confirmed bool) error
}

// ListingMirror and AuctionMirror are the lifecycle-manager surfaces the
// gateway drives.
type ListingMirror interface {
	Create(ctx context.Context, p market.CreateListingParams) (*models.Listing, error)
	Fill(ctx context.Context, listingID int64, p market.FillParams) (*models.Listing, error)
	Cancel(ctx context.Context, listingID int64, txHash string) error
	Expire(ctx context.Context, listingID int64) error
}

type AuctionMirror interface {
	Create(ctx context.Context, p market.CreateAuctionParams) (*models.Auction, error)
	Bid(ctx context.Context, auctionID int64, p market.BidParams) (*models.Auction, error)
	Finalize(ctx context.Context, auctionID int64, p market.FinalizeParams) (*models.Auction, error)
	Cancel(ctx context.Context, auctionID int64, txHash string) error
}

// ListingDirectory and AuctionDirectory resolve the unique active row for an
// asset; the repositories satisfy them.
type ListingDirectory interface {
	FindActive(ctx context.Context, contract, tokenID, seller string) (*models.Listing, error)
	AttachCreationTxHash(ctx context.Context, id int64, txHash string) (bool, error)
}

type AuctionDirectory interface {
	FindActive(ctx context.Context, contract, tokenID string) (*models.Auction, error)
}

type Gateway struct {
	receipts   ReceiptVerifier
	pendings   PendingResolver
	listings   ListingMirror
	auctions   AuctionMirror
	listingDir ListingDirectory
	auctionDir AuctionDirectory
}

func NewGateway(
	receipts ReceiptVerifier,
	pendings PendingResolver,
	listings ListingMirror,
	auctions AuctionMirror,
	listingDir ListingDirectory,
	auctionDir AuctionDirectory,
) *Gateway {
	return &Gateway{
		receipts:   receipts,
		pendings:   pendings,
		listings:   listings,
		auctions:   auctions,
		listingDir: listingDir,
		auctionDir: auctionDir,
	}
}

// requireReceipt is the hard gate on every sync path. A node failure is
// ErrChainUnavailable; a missing or reverted receipt rejects the request and
// fails any pending row waiting on that hash.
func (g *Gateway) requireReceipt(ctx context.Context, txHash string) error {
	if txHash == "" {
		return market.Invalid("txHash", "required")
	}

	ok, err := g.receipts.ReceiptOK(ctx, txHash)
	if err != nil {
		return fmt.Errorf("%w: %v", market.ErrChainUnavailable, err)
	}
	if !ok {
		g.resolvePending(ctx, txHash, false)
		return market.Invalid("txHash", "transaction missing or reverted on chain")
	}
	return nil
}

// resolvePending is best effort: most synced transactions were never
// pre-announced, so an absent row is the normal case.
func (g *Gateway) resolvePending(ctx context.Context, txHash string, confirmed bool) {
	if g.pendings == nil {
		return
	}
	err := g.pendings.Resolve(ctx, txHash, confirmed)
	if err == nil || errors.Is(err, market.ErrNotFound) || errors.Is(err, market.ErrAlreadyResolved) {
		return
	}
	slog.Warn("Failed to resolve pending action during sync",
		slog.String("tx_hash", txHash),
		slog.Any("error", err))
}

func (g *Gateway) SyncListingCreate(ctx context.Context, p market.CreateListingParams) (*models.Listing, error) {
	if err := g.requireReceipt(ctx, p.TxHash); err != nil {
		return nil, err
	}
	return g.listings.Create(ctx, p)
}

type ListingCancelSync struct {
	Contract      string
	TokenID       string
	SellerAddress string
	TxHash        string
}

func (g *Gateway) SyncListingCancel(ctx context.Context, req ListingCancelSync) error {
	if err := g.requireReceipt(ctx, req.TxHash); err != nil {
		return err
	}
	listing, err := g.listingDir.FindActive(ctx, req.Contract, req.TokenID, req.SellerAddress)
	if err != nil {
		return err
	}
	if listing == nil {
		return market.ErrNotFound
	}
	return g.listings.Cancel(ctx, listing.ID, req.TxHash)
}

func (g *Gateway) SyncAuctionCreate(ctx context.Context, p market.CreateAuctionParams) (*models.Auction, error) {
	if err := g.requireReceipt(ctx, p.TxHash); err != nil {
		return nil, err
	}
	return g.auctions.Create(ctx, p)
}

type AuctionBidSync struct {
	Contract      string
	TokenID       string
	BidderAddress string
	Amount        string
	TxHash        string
	BlockNumber   int64
	Timestamp     time.Time
}

func (g *Gateway) SyncAuctionBid(ctx context.Context, req AuctionBidSync) (*models.Auction, error) {
	if err := g.requireReceipt(ctx, req.TxHash); err != nil {
		return nil, err
	}
	auction, err := g.auctionDir.FindActive(ctx, req.Contract, req.TokenID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, market.ErrNotFound
	}

	updated, err := g.auctions.Bid(ctx, auction.ID, market.BidParams{
		BidderAddress: req.BidderAddress,
		Amount:        req.Amount,
		TxHash:        req.TxHash,
		BlockNumber:   req.BlockNumber,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	g.resolvePending(ctx, req.TxHash, true)
	return updated, nil
}

type AuctionCancelSync struct {
	Contract string
	TokenID  string
	TxHash   string
}

func (g *Gateway) SyncAuctionCancel(ctx context.Context, req AuctionCancelSync) error {
	if err := g.requireReceipt(ctx, req.TxHash); err != nil {
		return err
	}
	auction, err := g.auctionDir.FindActive(ctx, req.Contract, req.TokenID)
	if err != nil {
		return err
	}
	if auction == nil {
		return market.ErrNotFound
	}
	return g.auctions.Cancel(ctx, auction.ID, req.TxHash)
}

type AuctionFinalizeSync struct {
	Contract      string
	TokenID       string
	WinnerAddress string
	Price         string
	Fees          string
	TxHash        string
	LogIndex      int64
	BlockNumber   int64
}

func (g *Gateway) SyncAuctionFinalize(ctx context.Context, req AuctionFinalizeSync) (*models.Auction, error) {
	if err := g.requireReceipt(ctx, req.TxHash); err != nil {
		return nil, err
	}
	auction, err := g.auctionDir.FindActive(ctx, req.Contract, req.TokenID)
	if err != nil {
		return nil, err
	}
	if auction == nil {
		return nil, market.ErrNotFound
	}

	settled, err := g.auctions.Finalize(ctx, auction.ID, market.FinalizeParams{
		WinnerAddress: req.WinnerAddress,
		Price:         req.Price,
		Fees:          req.Fees,
		TxHash:        req.TxHash,
		LogIndex:      req.LogIndex,
		BlockNumber:   req.BlockNumber,
	})
	if err != nil {
		return nil, err
	}

	g.resolvePending(ctx, req.TxHash, true)
	return settled, nil
}

type OutcomeAction string

const (
	OutcomeCreated   OutcomeAction = "created"
	OutcomeSold      OutcomeAction = "sold"
	OutcomeCancelled OutcomeAction = "cancelled"
	OutcomeExpired   OutcomeAction = "expired"
)

type ListingOutcome struct {
	Action        OutcomeAction
	Contract      string
	TokenID       string
	SellerAddress string
	BuyerAddress  string
	TxHash        string
}

// AttachListingOutcome resolves the unique active row for an asset
// (optionally scoped by seller) and applies the matching transition. The
// receipt gate runs only when the caller names a transaction; expiry in
// particular has none.
func (g *Gateway) AttachListingOutcome(ctx context.Context, req ListingOutcome) error {
	if req.TxHash != "" {
		if err := g.requireReceipt(ctx, req.TxHash); err != nil {
			return err
		}
	}

	listing, err := g.listingDir.FindActive(ctx, req.Contract, req.TokenID, req.SellerAddress)
	if err != nil {
		return err
	}
	if listing == nil {
		return market.ErrNotFound
	}

	switch req.Action {
	case OutcomeCreated:
		if req.TxHash == "" {
			return market.Invalid("txHash", "required for created outcome")
		}
		attached, err := g.listingDir.AttachCreationTxHash(ctx, listing.ID, req.TxHash)
		if err != nil {
			return err
		}
		if !attached {
			return market.ErrAlreadyResolved
		}
		return nil

	case OutcomeSold:
		if req.BuyerAddress == "" {
			return market.Invalid("buyer", "required for sold outcome")
		}
		_, err := g.listings.Fill(ctx, listing.ID, market.FillParams{
			BuyerAddress: req.BuyerAddress,
			TxHash:       req.TxHash,
		})
		if err != nil {
			return err
		}
		g.resolvePending(ctx, req.TxHash, true)
		return nil

	case OutcomeCancelled:
		return g.listings.Cancel(ctx, listing.ID, req.TxHash)

	case OutcomeExpired:
		return g.listings.Expire(ctx, listing.ID)

	default:
		return market.Invalid("action", "unknown outcome action")
	}
}
