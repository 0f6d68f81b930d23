package store

import (
	"encoding/json"
	"fmt"

	"github.com/nazeru/cart-lab-go/internal/cart/domain"
)

// Encode serializes lines as an ordered JSON array of {product, quantity}.
func Encode(lines []domain.CartLine) ([]byte, error) {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("encode cart: %w", err)
	}
	return data, nil
}

// Decode parses a persisted snapshot. Records that do not form a valid line
// are dropped and counted; repeated product ids are folded into the first
// occurrence. Only a payload that is not a JSON array is an error.
func Decode(data []byte) (lines []domain.CartLine, dropped int, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("decode cart: %w", err)
	}

	var c domain.Cart
	for _, r := range raw {
		var l domain.CartLine
		if err := json.Unmarshal(r, &l); err != nil || l.Quantity <= 0 || l.Product.Validate() != nil {
			dropped++
			continue
		}
		if existing, ok := c.Line(l.Product.ID); ok {
			existing.Quantity += l.Quantity
			c.Put(existing)
			continue
		}
		c.Put(l)
	}
	return c.Lines(), dropped, nil
}
