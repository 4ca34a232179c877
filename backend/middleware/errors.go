package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/astralane/marketd/backend/utils"
	"github.com/astralane/marketd/marketd/market"
)

// CustomErrorHandler maps the domain error taxonomy onto HTTP statuses:
// validation 400, unknown entity 404, lost-race transition 409, unreachable
// node 503. Anything unrecognized is a 500 with the detail kept out of the
// response body.
func CustomErrorHandler(c *fiber.Ctx, err error) error {
	var ve *market.ValidationError
	if errors.As(err, &ve) {
		return utils.SendBadRequest(c, ve.Reason, map[string]string{"field": ve.Field})
	}
	if errors.Is(err, market.ErrNotFound) {
		return utils.SendNotFound(c, "resource not found")
	}
	if errors.Is(err, market.ErrAlreadyResolved) {
		return utils.SendConflict(c, "already resolved by an earlier transition", nil)
	}
	if errors.Is(err, market.ErrChainUnavailable) {
		return utils.SendServiceUnavailable(c, "ledger node unavailable, retry later")
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return utils.SendError(c, fe.Code, "HTTP_ERROR", fe.Message, nil)
	}

	return utils.SendInternalServerError(c, "internal server error")
}

// SecurityHeaders adds security headers to responses
func SecurityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		return c.Next()
	}
}
