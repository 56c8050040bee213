// Package cart implements the client-held shopping cart: its mutation rules
// and the codecs that move it in and out of a cookie token.
package cart

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Cart limits.
const (
	MaxItems    = 50
	MaxQuantity = 99
)

var (
	// ErrCartFull is returned when adding a new line to a cart that already
	// holds MaxItems lines.
	ErrCartFull = errors.New("cart is full")
	// ErrItemNotFound is returned when a mutation targets a slug that is not
	// in the cart.
	ErrItemNotFound = errors.New("item not found in cart")
)

// Item is a single cart line. Slug is unique within a cart.
type Item struct {
	ProductID string
	Slug      string
	Name      string
	Price     decimal.Decimal
	Quantity  int
	Image     string
}

// Cart is the full client-held cart state.
type Cart struct {
	Items     []Item
	UpdatedAt time.Time
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{Items: []Item{}}
}

func (c *Cart) indexOf(slug string) int {
	for i, it := range c.Items {
		if it.Slug == slug {
			return i
		}
	}
	return -1
}

// Add merges item into the cart. An existing line with the same slug has its
// quantity increased, capped at MaxQuantity; the excess is dropped silently.
// A new line is appended unless the cart is full.
func (c *Cart) Add(item Item, now time.Time) error {
	if i := c.indexOf(item.Slug); i >= 0 {
		c.Items[i].Quantity = min(c.Items[i].Quantity+item.Quantity, MaxQuantity)
		c.UpdatedAt = now
		return nil
	}

	if len(c.Items) >= MaxItems {
		return ErrCartFull
	}

	item.Quantity = min(item.Quantity, MaxQuantity)
	c.Items = append(c.Items, item)
	c.UpdatedAt = now
	return nil
}

// SetQuantity overwrites the quantity of the line identified by slug.
// Quantity 0 removes the line.
func (c *Cart) SetQuantity(slug string, quantity int, now time.Time) error {
	i := c.indexOf(slug)
	if i < 0 {
		return ErrItemNotFound
	}

	if quantity <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	} else {
		c.Items[i].Quantity = min(quantity, MaxQuantity)
	}
	c.UpdatedAt = now
	return nil
}

// Remove deletes the line identified by slug.
func (c *Cart) Remove(slug string, now time.Time) error {
	i := c.indexOf(slug)
	if i < 0 {
		return ErrItemNotFound
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.UpdatedAt = now
	return nil
}

// Clear removes every line.
func (c *Cart) Clear(now time.Time) {
	c.Items = []Item{}
	c.UpdatedAt = now
}

// Summary is the cart view returned by every cart endpoint.
type Summary struct {
	Items      []Item
	TotalItems int
	TotalPrice decimal.Decimal
	UpdatedAt  time.Time
}

// Summary computes the totals. TotalPrice is rounded to 2 decimal places.
func (c *Cart) Summary() Summary {
	totalItems := 0
	totalPrice := decimal.Zero
	for _, it := range c.Items {
		totalItems += it.Quantity
		totalPrice = totalPrice.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}

	items := c.Items
	if items == nil {
		items = []Item{}
	}

	return Summary{
		Items:      items,
		TotalItems: totalItems,
		TotalPrice: totalPrice.Round(2),
		UpdatedAt:  c.UpdatedAt,
	}
}
