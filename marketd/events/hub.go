// Package events is the in-process broadcast fabric: one topic per auction,
// one per wallet. Delivery is fire-and-forget; with nobody subscribed an
// event is dropped, and a reconnecting client re-fetches a recent snapshot
// instead of relying on back-fill. A multi-instance deployment needs a
// shared pub/sub backbone in front of this.
package events

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	EventReady            = "ready"
	EventPing             = "ping"
	EventBidPending       = "bid_pending"
	EventBidConfirmed     = "bid_confirmed"
	EventBidFailed        = "bid_failed"
	EventAuctionExtended  = "auction_extended"
	EventAuctionSettled   = "auction_settled"
	EventAuctionCancelled = "auction_cancelled"
)

// subscriberBuffer bounds the per-connection queue. A subscriber that falls
// this far behind starts losing events rather than blocking publishers.
const subscriberBuffer = 16

type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

type Subscription struct {
	C     <-chan Event
	ch    chan Event
	topic string
	hub   *Hub
	once  sync.Once
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
		close(s.ch)
	})
}

type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

func AuctionTopic(auctionID int64) string {
	return fmt.Sprintf("auction:%d", auctionID)
}

func WalletTopic(address string) string {
	return "wallet:" + strings.ToLower(address)
}

func (h *Hub) Subscribe(topic string) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, topic: topic, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.topics[sub.topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
}

// Publish delivers to every open subscription on the topic without
// blocking. A full subscriber queue drops the event for that subscriber.
func (h *Hub) Publish(topic, name string, payload interface{}) {
	ev := Event{Name: name, Payload: payload, At: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	subs, ok := h.topics[topic]
	if !ok {
		return
	}

	for sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("Dropping event for slow subscriber",
				slog.String("type", "event"),
				slog.String("topic", topic),
				slog.String("event", name))
		}
	}
}

// Subscribers reports how many connections listen on a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
