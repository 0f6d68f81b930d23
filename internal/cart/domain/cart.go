package domain

// CartLine pairs a product snapshot with a positive quantity.
type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

func (l CartLine) Subtotal() float64 {
	return l.Product.Price * float64(l.Quantity)
}

// Cart is an ordered set of lines, at most one per product.
// The zero value is an empty cart.
type Cart struct {
	lines []CartLine
}

func NewCart(lines []CartLine) Cart {
	c := Cart{}
	for _, l := range lines {
		c.Put(l)
	}
	return c
}

func (c *Cart) index(id ProductID) int {
	for i, l := range c.lines {
		if l.Product.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cart) Line(id ProductID) (CartLine, bool) {
	if i := c.index(id); i >= 0 {
		return c.lines[i], true
	}
	return CartLine{}, false
}

// Put replaces the line for l.Product.ID in place, or appends it.
func (c *Cart) Put(l CartLine) {
	if i := c.index(l.Product.ID); i >= 0 {
		c.lines[i] = l
		return
	}
	c.lines = append(c.lines, l)
}

// Remove reports whether a line was removed.
func (c *Cart) Remove(id ProductID) bool {
	i := c.index(id)
	if i < 0 {
		return false
	}
	c.lines = append(c.lines[:i:i], c.lines[i+1:]...)
	return true
}

func (c *Cart) Reset() {
	c.lines = nil
}

// Lines returns a copy.
func (c Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c Cart) Len() int {
	return len(c.lines)
}

func (c Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Total is recomputed on every call. Rounding happens only at presentation.
func (c Cart) Total() float64 {
	var total float64
	for _, l := range c.lines {
		total += l.Subtotal()
	}
	return total
}

// ItemCount is the number of units across all lines.
func (c Cart) ItemCount() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Items projects the cart to (product id, quantity) pairs in line order.
func (c Cart) Items() []OrderItem {
	out := make([]OrderItem, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, OrderItem{ProductID: l.Product.ID, Quantity: l.Quantity, Price: l.Product.Price})
	}
	return out
}
