package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/astralane/marketd/marketd/chain"
)

// AuctionState is the chain-truth view of an auction, reduced to the fields
// the bid guard needs. All amounts are canonical base-unit integer strings.
type AuctionState struct {
	Seller        string
	ReservePrice  string
	HighestBidder string
	HighestBid    string
}

// ListingState is the chain-truth view of a listing, reduced to what the
// strict-owner filter needs.
type ListingState struct {
	Seller string
	Price  string
}

// ChainSource exposes chain-truth snapshots with mirror-native types. A nil
// state with a nil error means "no row on the ledger".
type ChainSource interface {
	AuctionState(ctx context.Context, contract, tokenID string) (*AuctionState, error)
	ListingState(ctx context.Context, contract, tokenID, seller string) (*ListingState, error)
}

// readerSource adapts chain.Reader to the mirror's string-typed domain.
type readerSource struct {
	reader *chain.Reader
}

func NewChainSource(reader *chain.Reader) ChainSource {
	return &readerSource{reader: reader}
}

func (s *readerSource) AuctionState(ctx context.Context, contract, tokenID string) (*AuctionState, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, invalid("tokenId", "not a decimal integer")
	}

	snap, err := s.reader.ActiveAuction(ctx, common.HexToAddress(contract), id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}

	return &AuctionState{
		Seller:        snap.Seller.Hex(),
		ReservePrice:  snap.ReservePrice.String(),
		HighestBidder: snap.HighestBidder.Hex(),
		HighestBid:    snap.HighestBid.String(),
	}, nil
}

func (s *readerSource) ListingState(ctx context.Context, contract, tokenID, seller string) (*ListingState, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, invalid("tokenId", "not a decimal integer")
	}

	snap, err := s.reader.ActiveListing(ctx, common.HexToAddress(contract), id, common.HexToAddress(seller))
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, nil
	}

	return &ListingState{
		Seller: snap.Seller.Hex(),
		Price:  snap.PricePerItem.String(),
	}, nil
}
