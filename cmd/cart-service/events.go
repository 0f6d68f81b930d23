package main

import (
	"context"

	"github.com/nazeru/cart-lab-go/internal/cart/store"
	"github.com/nazeru/cart-lab-go/internal/notice"
	"github.com/nazeru/cart-lab-go/pkg/contracts"
	"github.com/nazeru/cart-lab-go/pkg/logging"
)

var changeTypes = map[string]string{
	store.OpAdd:    contracts.EventCartItemAdded,
	store.OpUpdate: contracts.EventCartItemUpdated,
	store.OpRemove: contracts.EventCartItemRemoved,
	store.OpClear:  contracts.EventCartCleared,
}

func cartEvent(ch store.Change) contracts.Event {
	qty := 0
	for _, l := range ch.Lines {
		if l.Product.ID == ch.ProductID {
			qty = l.Quantity
		}
	}
	payload := map[string]any{"version": ch.Version, "lines": len(ch.Lines)}
	if ch.ProductID != 0 {
		payload["product_id"] = int64(ch.ProductID)
		payload["quantity"] = qty
	}
	return contracts.NewEvent(changeTypes[ch.Op], "", payload)
}

func noticeEvent(e notice.Entry) contracts.Event {
	return contracts.NewEvent(contracts.EventNotificationEmitted, "", map[string]any{
		"message":  e.Message,
		"severity": string(e.Severity),
	})
}

// forwarder moves events off the store's commit path. Enqueue never blocks;
// events are dropped when the buffer is full.
type forwarder struct {
	pub   contracts.Publisher
	queue chan contracts.Event
}

func newForwarder(pub contracts.Publisher, size int) *forwarder {
	return &forwarder{pub: pub, queue: make(chan contracts.Event, size)}
}

func (f *forwarder) Enqueue(evt contracts.Event) bool {
	select {
	case f.queue <- evt:
		return true
	default:
		logging.Log(logging.Fields{Service: service, EventID: evt.EventID, Step: evt.Type, Status: "dropped"})
		return false
	}
}

func (f *forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-f.queue:
			if err := f.pub.Publish(ctx, evt); err != nil {
				logging.Log(logging.Err(logging.Fields{Service: service, EventID: evt.EventID, Step: evt.Type, Status: "publish_failed"}, err))
			}
		}
	}
}
