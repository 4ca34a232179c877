package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/astralane/marketd/backend/utils"
	"github.com/astralane/marketd/marketd/database/models"
	"github.com/astralane/marketd/marketd/pending"
)

type pendingActionRequest struct {
	Type             string          `json:"type"`
	TxHash           string          `json:"tx_hash"`
	SubmitterAddress string          `json:"submitter_address"`
	ChainID          int64           `json:"chain_id"`
	Payload          json.RawMessage `json:"payload"`
}

// PendingActionCreate submits an in-flight transaction assertion. A fresh
// hash answers 201; replaying a known hash answers 200 with the original row,
// which is the contract retrying clients rely on.
func PendingActionCreate(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req pendingActionRequest
		if err := c.BodyParser(&req); err != nil {
			return utils.SendBadRequest(c, "malformed request body", nil)
		}

		result, err := webApp.Tracker.Create(c.Context(), pending.CreateParams{
			Type:             models.PendingActionType(req.Type),
			TxHash:           req.TxHash,
			SubmitterAddress: req.SubmitterAddress,
			ChainID:          req.ChainID,
			Payload:          req.Payload,
		})
		if err != nil {
			return err
		}

		if result.Created {
			return utils.SendCreated(c, result.Action, "pending action recorded")
		}
		return utils.SendSuccess(c, result.Action, "pending action already recorded")
	}
}

// PendingActionList lists a wallet's pending actions, optionally filtered by
// status, for optimistic UI.
func PendingActionList(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := c.Query("wallet")
		status := models.PendingActionStatus(c.Query("status"))

		rows, err := webApp.Tracker.List(c.Context(), wallet, status)
		if err != nil {
			return err
		}
		if rows == nil {
			rows = []*models.PendingAction{}
		}
		return utils.SendSuccess(c, rows, "")
	}
}
