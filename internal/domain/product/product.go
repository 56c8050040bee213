package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Slug           string            `json:"slug"`
	Category       string            `json:"category"`
	Brand          string            `json:"brand"`
	Price          decimal.Decimal   `json:"price"`
	OriginalPrice  *decimal.Decimal  `json:"originalPrice,omitempty"`
	Description    string            `json:"description"`
	InStock        bool              `json:"inStock"`
	Image          string            `json:"image,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
	SourceURL      string            `json:"sourceUrl,omitempty"`
}

// InvalidProductError reports a catalog record that breaks a load invariant.
type InvalidProductError struct {
	Index  int
	Slug   string
	Reason string
}

func (e *InvalidProductError) Error() string {
	if e.Slug == "" {
		return fmt.Sprintf("product #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("product #%d (%s): %s", e.Index, e.Slug, e.Reason)
}

// Source provides the raw product list a Catalog is built from.
type Source interface {
	LoadProducts(ctx context.Context) ([]Product, error)
}
