package handlers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/astralane/marketd/backend/utils"
	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/database/repositories"
)

// ActiveListings browses the mirror's active listings, cursor-paginated.
// strictOwner=1 drops rows whose recorded seller no longer matches the
// owner view; with chain=1 the check runs against the ledger instead of the
// mirror. Downstream failures degrade to an empty page, never an error.
func ActiveListings(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cursor, _ := parseInt64(c.Query("cursor", "0"))

		q := repositories.ActiveQuery{
			Contract: c.Query("contract"),
			TokenID:  c.Query("tokenId"),
			Cursor:   cursor,
			Limit:    webApp.pageSize(c.QueryInt("limit")),
		}
		strictOwner := c.QueryBool("strictOwner")
		useChain := c.QueryBool("chain")

		rows, err := webApp.ListingRepo.ListActive(c.Context(), q)
		if err != nil {
			slog.Warn("Active listing query failed, degrading to empty page",
				slog.Any("error", err))
			return utils.SendCursorPage(c, []*models.Listing{}, 0, 0)
		}

		var nextCursor int64
		if len(rows) == q.Limit && len(rows) > 0 {
			nextCursor = rows[len(rows)-1].ID
		}

		if strictOwner {
			rows = webApp.filterBySeller(c.Context(), rows, useChain)
		}
		if rows == nil {
			rows = []*models.Listing{}
		}

		return utils.SendCursorPage(c, rows, nextCursor, len(rows))
	}
}

// filterBySeller keeps only listings whose seller still holds the asset. A
// chain read failure keeps the row: the strict filter refines the view, it
// does not gate it.
func (w *WebApp) filterBySeller(ctx context.Context, rows []*models.Listing, useChain bool) []*models.Listing {
	kept := rows[:0]
	for _, row := range rows {
		if w.sellerStillHolds(ctx, row, useChain) {
			kept = append(kept, row)
		}
	}
	return kept
}

func (w *WebApp) sellerStillHolds(ctx context.Context, row *models.Listing, useChain bool) bool {
	if useChain && w.Source != nil {
		state, err := w.Source.ListingState(ctx, row.Contract, row.TokenID, row.SellerAddress)
		if err != nil {
			slog.Warn("Chain ownership check failed, keeping row",
				slog.Int64("listing_id", row.ID),
				slog.Any("error", err))
			return true
		}
		// The ledger keys listings by seller: no row means the seller no
		// longer has this asset listed.
		if state != nil && strings.EqualFold(state.Seller, row.SellerAddress) {
			return true
		}
		// Chain truth contradicts the mirror; flag the cached owner view
		// until the next reconciliation rewrites it.
		if err := w.OwnerRepo.MarkUnverified(ctx, row.Contract, row.TokenID); err != nil {
			slog.Warn("Failed to flag owner view as unverified",
				slog.String("contract", row.Contract),
				slog.String("token_id", row.TokenID),
				slog.Any("error", err))
		}
		return false
	}

	holders, err := w.OwnerRepo.Holders(ctx, row.Contract, row.TokenID)
	if err != nil {
		slog.Warn("Owner view check failed, keeping row",
			slog.Int64("listing_id", row.ID),
			slog.Any("error", err))
		return true
	}
	if len(holders) == 0 {
		// No ownership data recorded: nothing to contradict the seller.
		return true
	}
	for _, h := range holders {
		if strings.EqualFold(h.OwnerAddress, row.SellerAddress) {
			return true
		}
	}
	return false
}

// RecentActivity returns the latest transition entries for an asset, newest
// first. Stream clients call this after a reconnect instead of relying on
// event back-fill.
func RecentActivity(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := webApp.pageSize(c.QueryInt("limit"))

		rows, err := webApp.ActivityRepo.Recent(c.Context(), c.Query("contract"), c.Query("tokenId"), limit)
		if err != nil {
			slog.Warn("Recent activity query failed, degrading to empty page",
				slog.Any("error", err))
			rows = []*models.Activity{}
		}
		if rows == nil {
			rows = []*models.Activity{}
		}
		return utils.SendSuccess(c, rows, "")
	}
}

// ActiveAuctions browses the mirror's active auctions, cursor-paginated,
// with the same degradation contract as ActiveListings.
func ActiveAuctions(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cursor, _ := parseInt64(c.Query("cursor", "0"))

		q := repositories.ActiveQuery{
			Contract: c.Query("contract"),
			TokenID:  c.Query("tokenId"),
			Cursor:   cursor,
			Limit:    webApp.pageSize(c.QueryInt("limit")),
		}

		rows, err := webApp.AuctionRepo.ListActive(c.Context(), q)
		if err != nil {
			slog.Warn("Active auction query failed, degrading to empty page",
				slog.Any("error", err))
			return utils.SendCursorPage(c, []*models.Auction{}, 0, 0)
		}

		var nextCursor int64
		if len(rows) == q.Limit && len(rows) > 0 {
			nextCursor = rows[len(rows)-1].ID
		}
		if rows == nil {
			rows = []*models.Auction{}
		}

		return utils.SendCursorPage(c, rows, nextCursor, len(rows))
	}
}
