package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-catalog/internal/domain/product"
)

var _ product.Source = (*ProductRepository)(nil)

// ProductRepository reads and replaces the catalog snapshot.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

const selectProducts = `
SELECT id, name, slug, category, brand, price, original_price, description,
       in_stock, image, specifications, source_url
FROM products
ORDER BY position`

// LoadProducts implements product.Source. Products come back in the order
// they were written by Replace.
func (r *ProductRepository) LoadProducts(ctx context.Context) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, selectProducts)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}

	products, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Product, error) {
		var (
			p        product.Product
			original decimal.NullDecimal
			specs    map[string]string
		)
		if err := row.Scan(
			&p.ID, &p.Name, &p.Slug, &p.Category, &p.Brand, &p.Price, &original,
			&p.Description, &p.InStock, &p.Image, &specs, &p.SourceURL,
		); err != nil {
			return product.Product{}, err
		}
		if original.Valid {
			p.OriginalPrice = &original.Decimal
		}
		p.Specifications = specs
		return p, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}
	return products, nil
}

var productColumns = []string{
	"slug", "position", "id", "name", "category", "brand", "price", "original_price",
	"description", "in_stock", "image", "specifications", "source_url",
}

// Replace swaps the whole catalog for products in a single transaction. The
// slice order is kept as the listing order.
func (r *ProductRepository) Replace(ctx context.Context, products []product.Product) (int64, error) {
	var n int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM products"); err != nil {
			return errors.Wrap(err, "clear products")
		}

		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"products"}, productColumns,
			pgx.CopyFromSlice(len(products), func(i int) ([]any, error) {
				p := products[i]
				var original decimal.NullDecimal
				if p.OriginalPrice != nil {
					original = decimal.NewNullDecimal(*p.OriginalPrice)
				}
				var specs any
				if len(p.Specifications) > 0 {
					specs = p.Specifications
				}
				return []any{
					p.Slug, i, p.ID, p.Name, p.Category, p.Brand, p.Price, original,
					p.Description, p.InStock, p.Image, specs, p.SourceURL,
				}, nil
			}),
		)
		if err != nil {
			return errors.Wrap(err, "copy products")
		}
		n = copied
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
