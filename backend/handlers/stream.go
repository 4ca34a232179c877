package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/astralane/marketd/backend/utils"
	"github.com/astralane/marketd/marketd/events"
)

// StreamAuction streams an auction topic over SSE.
func StreamAuction(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auctionID, err := parseInt64(c.Params("id"))
		if err != nil || auctionID <= 0 {
			return utils.SendBadRequest(c, "invalid auction id", nil)
		}
		return streamTopic(webApp, c, events.AuctionTopic(auctionID))
	}
}

// StreamWallet streams a wallet topic over SSE.
func StreamWallet(webApp *WebApp) fiber.Handler {
	return func(c *fiber.Ctx) error {
		address := c.Params("address")
		if address == "" {
			return utils.SendBadRequest(c, "invalid wallet address", nil)
		}
		return streamTopic(webApp, c, events.WalletTopic(address))
	}
}

// streamTopic emits `ready` once, heartbeat `ping`s on the configured
// interval, then whatever the topic publishes. The server never expires an
// idle connection; clients drop and reconnect, re-fetching a snapshot instead
// of relying on back-fill.
func streamTopic(webApp *WebApp, c *fiber.Ctx, topic string) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	heartbeat := webApp.Config.Market.StreamHeartbeat()
	sub := webApp.Hub.Subscribe(topic)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		if err := writeEvent(w, events.Event{
			Name:    events.EventReady,
			Payload: map[string]string{"topic": topic},
			At:      time.Now(),
		}); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					slog.Debug("SSE subscriber dropped",
						slog.String("topic", topic),
						slog.Any("error", err))
					return
				}

			case <-ticker.C:
				if err := writeEvent(w, events.Event{
					Name: events.EventPing,
					At:   time.Now(),
				}); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

func writeEvent(w *bufio.Writer, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, payload); err != nil {
		return err
	}
	return w.Flush()
}
