package product

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
)

// Catalog is the read-only product store. It is built once at startup and
// shared by every request; nothing mutates it afterwards.
type Catalog struct {
	products []Product
	bySlug   map[string]int
}

// NewCatalog validates products and wraps them in a Catalog. Slugs must be
// unique and non-empty. Prices must be non-negative and pass PriceInRange.
// The input order is kept as the catalog's natural ("newest") order.
func NewCatalog(products []Product) (*Catalog, error) {
	bySlug := make(map[string]int, len(products))
	for i, p := range products {
		if p.Slug == "" {
			return nil, &InvalidProductError{Index: i, Reason: "empty slug"}
		}
		if _, dup := bySlug[p.Slug]; dup {
			return nil, &InvalidProductError{Index: i, Slug: p.Slug, Reason: "duplicate slug"}
		}
		if p.Price.IsNegative() {
			return nil, &InvalidProductError{Index: i, Slug: p.Slug, Reason: "negative price"}
		}
		if !PriceInRange(p.Price) || (p.OriginalPrice != nil && !PriceInRange(*p.OriginalPrice)) {
			return nil, &InvalidProductError{Index: i, Slug: p.Slug, Reason: "price out of range"}
		}
		bySlug[p.Slug] = i
	}

	return &Catalog{
		products: products,
		bySlug:   bySlug,
	}, nil
}

// LoadCatalog builds a Catalog from src.
func LoadCatalog(ctx context.Context, src Source) (*Catalog, error) {
	products, err := src.LoadProducts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load products")
	}
	return NewCatalog(products)
}

// Len returns the number of products in the catalog.
func (c *Catalog) Len() int {
	return len(c.products)
}

// All returns the products in natural order. The slice is shared and must not
// be modified.
func (c *Catalog) All() []Product {
	return c.products
}

// BySlug returns the product with the given slug or ErrNotFound.
func (c *Catalog) BySlug(slug string) (Product, error) {
	i, ok := c.bySlug[slug]
	if !ok {
		return Product{}, ErrNotFound
	}
	return c.products[i], nil
}

// Query runs the query pipeline over the whole catalog.
func (c *Catalog) Query(q Query) Result {
	return Apply(c.products, q)
}

// FileSource reads a catalog document from disk. Files ending in ".gz" are
// decompressed transparently.
type FileSource struct {
	Path string
}

var _ Source = FileSource{}

// LoadProducts implements Source.
func (s FileSource) LoadProducts(_ context.Context) ([]Product, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", s.Path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(s.Path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", s.Path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	products, err := Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", s.Path)
	}
	return products, nil
}

// rawProduct mirrors the on-disk record. Pointers distinguish absent fields
// from zero values.
type rawProduct struct {
	ID             json.RawMessage   `json:"id"`
	Name           string            `json:"name"`
	Slug           string            `json:"slug"`
	Category       string            `json:"category"`
	Brand          string            `json:"brand"`
	Price          *decimal.Decimal  `json:"price"`
	OriginalPrice  *decimal.Decimal  `json:"originalPrice"`
	Description    string            `json:"description"`
	InStock        *bool             `json:"inStock"`
	Image          string            `json:"image"`
	Specifications map[string]string `json:"specifications"`
	SourceURL      string            `json:"sourceUrl"`
}

// Decode parses a catalog document. Both {"products": [...]} and a bare
// array are accepted. Records without inStock are treated as in stock;
// records without a price are rejected.
func Decode(r io.Reader) ([]Product, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}

	var raw []rawProduct
	dec := json.NewDecoder(br)
	switch first {
	case '[':
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "parse product array")
		}
	case '{':
		var doc struct {
			Products []rawProduct `json:"products"`
		}
		if err := dec.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "parse catalog document")
		}
		raw = doc.Products
	default:
		return nil, errors.Errorf("unexpected catalog start %q", first)
	}

	products := make([]Product, len(raw))
	for i, rp := range raw {
		if rp.Price == nil {
			return nil, &InvalidProductError{Index: i, Slug: rp.Slug, Reason: "missing price"}
		}
		inStock := true
		if rp.InStock != nil {
			inStock = *rp.InStock
		}
		products[i] = Product{
			ID:             rawID(rp.ID),
			Name:           rp.Name,
			Slug:           rp.Slug,
			Category:       rp.Category,
			Brand:          rp.Brand,
			Price:          *rp.Price,
			OriginalPrice:  rp.OriginalPrice,
			Description:    rp.Description,
			InStock:        inStock,
			Image:          rp.Image,
			Specifications: rp.Specifications,
			SourceURL:      rp.SourceURL,
		}
	}
	return products, nil
}

// rawID accepts both string and numeric identifiers.
func rawID(b json.RawMessage) string {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(b))
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
