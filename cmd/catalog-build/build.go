package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/internal/storage/postgres"
)

const bloomFPR = 0.001

// mergeStats summarizes a merge for logging.
type mergeStats struct {
	Read       int
	Duplicates int
	NoSlug     int
}

func run(ctx context.Context, shards []string, out, databaseURL string) error {
	slog.Info("loading shards", slog.Int("shards", len(shards)))

	loaded, err := loadShards(ctx, shards)
	if err != nil {
		return errors.Wrap(err, "load shards")
	}

	products, stats := merge(loaded)
	slog.Info("shards merged",
		slog.Int("read", stats.Read),
		slog.Int("kept", len(products)),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("missing_slug", stats.NoSlug),
	)

	// The output must load back into the API server.
	if _, err := product.NewCatalog(products); err != nil {
		return errors.Wrap(err, "validate merged catalog")
	}

	if err := writeFile(out, products); err != nil {
		return errors.Wrap(err, "write catalog")
	}
	slog.Info("catalog written", slog.String("path", out), slog.Int("products", len(products)))

	if databaseURL == "" {
		return nil
	}
	return seedProducts(ctx, databaseURL, products)
}

// loadShards reads every shard concurrently. The result keeps argument order
// so the first-wins rule follows the command line.
func loadShards(ctx context.Context, paths []string) ([][]product.Product, error) {
	shards := make([][]product.Product, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			products, err := product.FileSource{Path: path}.LoadProducts(ctx)
			if err != nil {
				return err
			}
			slog.Info("shard loaded", slog.String("path", path), slog.Int("products", len(products)))
			shards[i] = products
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return shards, nil
}

// merge concatenates shards, normalizing each record. Records without a slug
// are dropped, and for a repeated slug the first occurrence wins.
func merge(shards [][]product.Product) ([]product.Product, mergeStats) {
	var total int
	for _, s := range shards {
		total += len(s)
	}

	// The bloom filter answers "definitely new" for most slugs, so the exact
	// set is only consulted on a possible hit.
	filter := bloom.NewWithEstimates(uint(max(total, 1)), bloomFPR)
	seen := make(map[string]struct{}, total)
	merged := make([]product.Product, 0, total)
	stats := mergeStats{Read: total}

	for _, shard := range shards {
		for _, p := range shard {
			p = normalize(p)
			if p.Slug == "" {
				stats.NoSlug++
				continue
			}
			if filter.TestAndAddString(p.Slug) {
				if _, dup := seen[p.Slug]; dup {
					stats.Duplicates++
					continue
				}
			}
			seen[p.Slug] = struct{}{}
			merged = append(merged, p)
		}
	}
	return merged, stats
}

func normalize(p product.Product) product.Product {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Slug = strings.ToLower(strings.TrimSpace(p.Slug))
	p.Category = strings.TrimSpace(p.Category)
	p.Brand = strings.TrimSpace(p.Brand)
	p.Description = strings.TrimSpace(p.Description)
	p.Image = strings.TrimSpace(p.Image)
	p.SourceURL = strings.TrimSpace(p.SourceURL)
	if p.ID == "" {
		p.ID = p.Slug
	}
	return p
}

// writeFile writes the catalog document to path, gzip compressed when path
// ends in ".gz".
func writeFile(path string, products []product.Product) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	if !strings.HasSuffix(path, ".gz") {
		return writeCatalog(f, products)
	}

	gz := pgzip.NewWriter(f)
	if err := writeCatalog(gz, products); err != nil {
		return err
	}
	return errors.Wrap(gz.Close(), "flush gzip")
}

// writeCatalog encodes products as {"products":[...]}, the shape
// product.Decode reads.
func writeCatalog(w io.Writer, products []product.Product) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	doc := struct {
		Products []product.Product `json:"products"`
	}{Products: products}
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "encode catalog")
	}
	return nil
}

func seedProducts(ctx context.Context, databaseURL string, products []product.Product) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	n, err := postgres.NewProductRepository(pool).Replace(ctx, products)
	if err != nil {
		return errors.Wrap(err, "replace products")
	}
	slog.Info("products seeded", slog.Int64("rows", n))
	return nil
}
