package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-catalog/internal/domain/product"
)

func testProduct(slug, name, price string) product.Product {
	return product.Product{
		ID:      slug,
		Name:    name,
		Slug:    slug,
		Price:   decimal.RequireFromString(price),
		InStock: true,
	}
}

func TestMerge(t *testing.T) {
	shards := [][]product.Product{
		{
			testProduct("pastiglia-freno", "Pastiglia freno", "34.90"),
			testProduct(" Catena-428 ", "Catena 428", "45.00"),
		},
		{
			testProduct("catena-428", "Catena 428 duplicata", "99.00"),
			testProduct("", "Senza slug", "1.00"),
			testProduct("disco-freno", "Disco freno", "89.00"),
		},
	}

	merged, stats := merge(shards)

	require.Len(t, merged, 3)
	assert.Equal(t, "pastiglia-freno", merged[0].Slug)
	assert.Equal(t, "catena-428", merged[1].Slug)
	assert.Equal(t, "Catena 428", merged[1].Name, "first occurrence wins")
	assert.Equal(t, "disco-freno", merged[2].Slug)
	assert.Equal(t, mergeStats{Read: 5, Duplicates: 1, NoSlug: 1}, stats)
}

func TestMerge_Empty(t *testing.T) {
	merged, stats := merge(nil)
	assert.Empty(t, merged)
	assert.Zero(t, stats.Read)
}

func TestNormalize(t *testing.T) {
	p := normalize(product.Product{
		Name:  "  Volante  ",
		Slug:  " Volante-OTK ",
		Brand: " OTK ",
	})
	assert.Equal(t, "Volante", p.Name)
	assert.Equal(t, "volante-otk", p.Slug)
	assert.Equal(t, "OTK", p.Brand)
	assert.Equal(t, "volante-otk", p.ID, "missing id falls back to the slug")
}

func TestWriteCatalog_RoundTrip(t *testing.T) {
	original := decimal.RequireFromString("120.00")
	in := []product.Product{testProduct("casco", "Casco", "299.99")}
	in[0].OriginalPrice = &original
	in[0].Specifications = map[string]string{"Taglia": "M"}

	var buf bytes.Buffer
	require.NoError(t, writeCatalog(&buf, in))

	out, err := product.Decode(&buf)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, in[0].Price.Equal(out[0].Price))
	require.NotNil(t, out[0].OriginalPrice)
	assert.True(t, original.Equal(*out[0].OriginalPrice))
	assert.Equal(t, "M", out[0].Specifications["Taglia"])
}

func TestRun_GzipShards(t *testing.T) {
	dir := t.TempDir()

	first := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(first, []byte(`[
		{"id": 1, "name": "Pastiglia freno", "slug": "pastiglia-freno", "price": 34.90},
		{"id": 2, "name": "Catena 428", "slug": "catena-428", "price": "45.00"}
	]`), 0o600))

	second := filepath.Join(dir, "b.json.gz")
	require.NoError(t, writeFile(second, []product.Product{
		testProduct("catena-428", "Catena 428 duplicata", "99.00"),
		testProduct("disco-freno", "Disco freno", "89.00"),
	}))

	out := filepath.Join(dir, "out", "products.json.gz")
	require.NoError(t, run(context.Background(), []string{first, second}, out, ""))

	got, err := product.FileSource{Path: out}.LoadProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "Catena 428", got[1].Name)
	assert.Equal(t, "disco-freno", got[2].Slug)
}

func TestRun_MissingShard(t *testing.T) {
	err := run(context.Background(), []string{filepath.Join(t.TempDir(), "missing.json")}, filepath.Join(t.TempDir(), "out.json"), "")
	require.Error(t, err)
}
