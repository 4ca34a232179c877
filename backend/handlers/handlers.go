// Package handlers is the HTTP surface of the mirror: pending-action
// submission, sync entry points, active-row browsing and SSE streams.
package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/astralane/marketd/backend/models"
	"github.com/astralane/marketd/backend/utils"
	"github.com/astralane/marketd/marketd"
	"github.com/astralane/marketd/marketd/database"
	"github.com/astralane/marketd/marketd/database/repositories"
	"github.com/astralane/marketd/marketd/events"
	"github.com/astralane/marketd/marketd/market"
	"github.com/astralane/marketd/marketd/pending"
	"github.com/astralane/marketd/marketd/syncgw"
)

// WebApp carries the wired application for the HTTP handlers.
type WebApp struct {
	Config *marketd.Config
	DB     *database.DB

	Listings *market.ListingManager
	Auctions *market.AuctionManager
	Tracker  *pending.Tracker
	Gateway  *syncgw.Gateway
	Hub      *events.Hub
	Source   market.ChainSource

	ListingRepo  repositories.ListingRepository
	AuctionRepo  repositories.AuctionRepository
	OwnerRepo    repositories.OwnershipRepository
	ActivityRepo repositories.ActivityRepository

	Version string
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// pageSize clamps the requested limit to the configured bounds.
func (w *WebApp) pageSize(requested int) int {
	def := w.Config.Market.DefaultPageSize
	if def <= 0 {
		def = 25
	}
	max := w.Config.Market.MaxPageSize
	if max <= 0 {
		max = 100
	}
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}

// HealthCheck reports component status; the mirror stays "degraded" rather
// than failing the endpoint when the node or store misbehaves.
func HealthCheck(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := models.NewHealthCheck(webApp.Version)

		ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
		defer cancel()

		if err := webApp.DB.Ping(ctx); err != nil {
			health.AddComponent("database", "unhealthy", err.Error())
		} else {
			health.AddComponent("database", "healthy", "")
		}

		if webApp.Source == nil {
			health.AddComponent("chain", "degraded", "no ledger node configured")
		} else {
			health.AddComponent("chain", "healthy", "")
		}

		return utils.SendJSON(c, fiber.StatusOK, health)
	}
}
