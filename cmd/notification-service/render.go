package main

import (
	"fmt"

	"github.com/nazeru/cart-lab-go/pkg/contracts"
	"github.com/nazeru/cart-lab-go/pkg/money"
)

// render turns a checkout event into customer-facing text. Cart events are
// not notified.
func render(evt contracts.Event) (string, bool) {
	email, _ := evt.Payload["email"].(string)
	total, _ := evt.Payload["total"].(float64)
	switch evt.Type {
	case contracts.EventCheckoutConfirmed:
		return fmt.Sprintf("order %s confirmed for %s, total %s", evt.OrderID, email, money.Format(total, "")), true
	case contracts.EventCheckoutFailed:
		reason, _ := evt.Payload["reason"].(string)
		return fmt.Sprintf("checkout for %s failed: %s", email, reason), true
	default:
		return "", false
	}
}
