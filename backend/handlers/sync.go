package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/astralane/marketd/backend/utils"
	"github.com/astralane/marketd/marketd/market"
	"github.com/astralane/marketd/marketd/syncgw"
)

type listingCreateSyncRequest struct {
	Contract       string `json:"contract"`
	TokenID        string `json:"token_id"`
	SellerAddress  string `json:"seller_address"`
	Quantity       int64  `json:"quantity"`
	Currency       string `json:"currency"`
	TotalPriceBase string `json:"total_price_base_units"`
	// TotalPriceHuman is the optional human-denominated alternative,
	// scaled server-side by the currency's decimals.
	TotalPriceHuman string `json:"total_price_human"`
	StartTimeUnix   int64  `json:"start_time"`
	EndTimeUnix     int64  `json:"end_time"`
	TxHash          string `json:"tx_hash"`
}

// SyncListingCreate mirrors a confirmed on-chain listing creation.
func SyncListingCreate(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req listingCreateSyncRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "malformed request body", nil)
		}

		params := market.CreateListingParams{
			Contract:      req.Contract,
			TokenID:       req.TokenID,
			SellerAddress: req.SellerAddress,
			Quantity:      req.Quantity,
			CurrencyRef:   req.Currency,
			TotalPrice:    req.TotalPriceBase,
			HumanPrice:    req.TotalPriceHuman,
			TxHash:        req.TxHash,
		}
		if req.StartTimeUnix > 0 {
			params.StartTime = time.Unix(req.StartTimeUnix, 0)
		}
		if req.EndTimeUnix > 0 {
			end := time.Unix(req.EndTimeUnix, 0)
			params.EndTime = &end
		}

		listing, err := webApp.Gateway.SyncListingCreate(c.Context(), params)
		if err != nil {
			return err
		}
		return utils.SendCreated(c, listing, "listing mirrored")
	}
}

type listingCancelSyncRequest struct {
	Contract      string `json:"contract"`
	TokenID       string `json:"token_id"`
	SellerAddress string `json:"seller_address"`
	TxHash        string `json:"tx_hash"`
}

func SyncListingCancel(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req listingCancelSyncRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "malformed request body", nil)
		}

		err := webApp.Gateway.SyncListingCancel(c.Context(), syncgw.ListingCancelSync{
			Contract:      req.Contract,
			TokenID:       req.TokenID,
			SellerAddress: req.SellerAddress,
			TxHash:        req.TxHash,
		})
		if err != nil {
			return err
		}
		return utils.SendSuccess(c, nil, "listing cancellation mirrored")
	}
}

type auctionCreateSyncRequest struct {
	Contract         string `json:"contract"`
	TokenID          string `json:"token_id"`
	SellerAddress    string `json:"seller_address"`
	Quantity         int64  `json:"quantity"`
	Currency         string `json:"currency"`
	StartPriceBase   string `json:"start_price_base_units"`
	StartPriceHuman  string `json:"start_price_human"`
	MinIncrementBase string `json:"min_increment_base_units"`
	StartTimeUnix    int64  `json:"start_time"`
	EndTimeUnix      int64  `json:"end_time"`
	TxHash           string `json:"tx_hash"`
}

func SyncAuctionCreate(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req auctionCreateSyncRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "malformed request body", nil)
		}

		auction, err := webApp.Gateway.SyncAuctionCreate(c.Context(), market.CreateAuctionParams{
			Contract:        req.Contract,
			TokenID:         req.TokenID,
			SellerAddress:   req.SellerAddress,
			Quantity:        req.Quantity,
			CurrencyRef:     req.Currency,
			StartPrice:      req.StartPriceBase,
			HumanStartPrice: req.StartPriceHuman,
			MinIncrement:    req.MinIncrementBase,
			StartTime:       time.Unix(req.StartTimeUnix, 0),
			EndTime:         time.Unix(req.EndTimeUnix, 0),
			TxHash:          req.TxHash,
		})
		if err != nil {
			return err
		}
		return utils.SendCreated(c, auction, "auction mirrored")
	}
}

type auctionBidSyncRequest struct {
	Contract      string `json:"contract"`
	TokenID       string `json:"token_id"`
	BidderAddress string `json:"bidder_address"`
	AmountBase    string `json:"amount_base_units"`
	TxHash        string `json:"tx_hash"`
	BlockNumber   int64  `json:"block_number"`
	TimestampUnix int64  `json:"timestamp"`
}

func SyncAuctionBid(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req auctionBidSyncRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "malformed request body", nil)
		}

		sync := syncgw.AuctionBidSync{
			Contract:      req.Contract,
			TokenID:       req.TokenID,
			BidderAddress: req.BidderAddress,
			Amount:        req.AmountBase,
			TxHash:        req.TxHash,
			BlockNumber:   req.BlockNumber,
		}
		if req.TimestampUnix > 0 {
			sync.Timestamp = time.Unix(req.TimestampUnix, 0)
		}

		auction, err := webApp.Gateway.SyncAuctionBid(c.Context(), sync)
		if err != nil {
			return err
		}
		return utils.SendSuccess(c, auction, "bid mirrored")
	}
}

type auctionCancelSyncRequest struct {
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
	TxHash   string `json:"tx_hash"`
}

func SyncAuctionCancel(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req auctionCancelSyncRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "malformed request body", nil)
		}

		err := webApp.Gateway.SyncAuctionCancel(c.Context(), syncgw.AuctionCancelSync{
			Contract: req.Contract,
			TokenID:  req.TokenID,
			TxHash:   req.TxHash,
		})
		if err != nil {
			return err
		}
		return utils.SendSuccess(c, nil, "auction cancellation mirrored")
	}
}

type auctionFinalizeSyncRequest struct {
	Contract      string `json:"contract"`
	TokenID       string `json:"token_id"`
	WinnerAddress string `json:"winner_address"`
	PriceBase     string `json:"price_base_units"`
	FeesBase      string `json:"fees_base_units"`
	TxHash        string `json:"tx_hash"`
	LogIndex      int64  `json:"log_index"`
	BlockNumber   int64  `json:"block_number"`
}

func SyncAuctionFinalize(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req auctionFinalizeSyncRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "malformed request body", nil)
		}

		auction, err := webApp.Gateway.SyncAuctionFinalize(c.Context(), syncgw.AuctionFinalizeSync{
			Contract:      req.Contract,
			TokenID:       req.TokenID,
			WinnerAddress: req.WinnerAddress,
			Price:         req.PriceBase,
			Fees:          req.FeesBase,
			TxHash:        req.TxHash,
			LogIndex:      req.LogIndex,
			BlockNumber:   req.BlockNumber,
		})
		if err != nil {
			return err
		}
		return utils.SendSuccess(c, auction, "auction settlement mirrored")
	}
}

type listingOutcomeRequest struct {
	Action        string `json:"action"`
	Contract      string `json:"contract"`
	TokenID       string `json:"token_id"`
	SellerAddress string `json:"seller_address"`
	BuyerAddress  string `json:"buyer_address"`
	TxHash        string `json:"tx_hash"`
}

// ListingOutcomeAttach resolves the unique active listing for an asset and
// applies the stated outcome.
func ListingOutcomeAttach(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req listingOutcomeRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "malformed request body", nil)
		}

		err := webApp.Gateway.AttachListingOutcome(c.Context(), syncgw.ListingOutcome{
			Action:        syncgw.OutcomeAction(req.Action),
			Contract:      req.Contract,
			TokenID:       req.TokenID,
			SellerAddress: req.SellerAddress,
			BuyerAddress:  req.BuyerAddress,
			TxHash:        req.TxHash,
		})
		if err != nil {
			return err
		}
		return utils.SendSuccess(c, nil, "listing outcome applied")
	}
}
