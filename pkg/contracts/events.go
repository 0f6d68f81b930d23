package contracts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventCartItemAdded       = "cart.item_added"
	EventCartItemUpdated     = "cart.item_updated"
	EventCartItemRemoved     = "cart.item_removed"
	EventCartCleared         = "cart.cleared"
	EventCheckoutConfirmed   = "checkout.confirmed"
	EventCheckoutFailed      = "checkout.failed"
	EventNotificationEmitted = "notification.emitted"
)

const DefaultTopic = "cartlab.events"

func NewEvent(typ, orderID string, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:   uuid.NewString(),
		OrderID:   orderID,
		CreatedAt: time.Now().UTC(),
		Type:      typ,
		Payload:   payload,
	}
}

// Publisher delivers events to a broker or an outbox.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
