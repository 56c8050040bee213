package product

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Sort selects the ordering applied by the query pipeline.
type Sort string

const (
	SortPriceAsc  Sort = "price_asc"
	SortPriceDesc Sort = "price_desc"
	SortNameAsc   Sort = "name_asc"
	SortNameDesc  Sort = "name_desc"
	// SortNewest keeps the catalog's natural order.
	SortNewest Sort = "newest"
)

// Pagination defaults and bounds.
const (
	DefaultPage    = 1
	DefaultPerPage = 24
	MaxPerPage     = 100
)

// AllValues is the filter value meaning "no filter" for category and brand.
const AllValues = "tutti"

// Query holds validated pipeline parameters. Zero values mean "no filter",
// except Page and PerPage which fall back to their defaults.
type Query struct {
	Category string
	Brand    string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	InStock  *bool
	Search   string
	Sort     Sort
	Page     int
	PerPage  int
}

// Meta describes the page returned and the refinements available in the
// filtered (pre-pagination) result set.
type Meta struct {
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	PerPage    int      `json:"per_page"`
	LastPage   int      `json:"last_page"`
	From       int      `json:"from"`
	To         int      `json:"to"`
	Brands     []string `json:"brands"`
	Categories []string `json:"categories"`
}

// Result is one page of products plus its metadata.
type Result struct {
	Data []Product
	Meta Meta
}

// Apply filters, searches, sorts and paginates products. All filters are
// combined with AND. The input slice is never modified.
func Apply(products []Product, q Query) Result {
	page := q.Page
	if page < 1 {
		page = DefaultPage
	}
	perPage := q.PerPage
	if perPage < 1 {
		perPage = DefaultPerPage
	}

	filtered := filter(products, q)
	sortProducts(filtered, q.Sort)

	total := len(filtered)
	lastPage := total / perPage
	if total%perPage != 0 {
		lastPage++
	}

	// Pages past the end report from = total+1 and to = total. The offset is
	// only computed for in-range pages so a huge page cannot overflow it.
	data := []Product{}
	from, to := total+1, total
	if page <= lastPage {
		offset := (page - 1) * perPage
		to = min(offset+perPage, total)
		from = offset + 1
		data = filtered[offset:to]
	}

	brands, categories := facets(filtered)

	return Result{
		Data: data,
		Meta: Meta{
			Total:      total,
			Page:       page,
			PerPage:    perPage,
			LastPage:   lastPage,
			From:       from,
			To:         to,
			Brands:     brands,
			Categories: categories,
		},
	}
}

// filter applies category, brand, min_price, max_price, in_stock and search
// in that order. The result is always a fresh slice.
func filter(products []Product, q Query) []Product {
	out := make([]Product, 0, len(products))
	out = append(out, products...)

	if q.Category != "" && q.Category != AllValues {
		out = keep(out, func(p Product) bool { return p.Category == q.Category })
	}
	if q.Brand != "" && !strings.EqualFold(q.Brand, AllValues) {
		out = keep(out, func(p Product) bool { return strings.EqualFold(p.Brand, q.Brand) })
	}
	if q.MinPrice != nil {
		out = keep(out, func(p Product) bool { return p.Price.GreaterThanOrEqual(*q.MinPrice) })
	}
	if q.MaxPrice != nil {
		out = keep(out, func(p Product) bool { return p.Price.LessThanOrEqual(*q.MaxPrice) })
	}
	if q.InStock != nil {
		out = keep(out, func(p Product) bool { return p.InStock == *q.InStock })
	}
	if tokens := searchTokens(q.Search); len(tokens) > 0 {
		out = keep(out, func(p Product) bool { return matchesAll(haystack(p), tokens) })
	}
	return out
}

func keep(products []Product, pred func(Product) bool) []Product {
	return slices.DeleteFunc(products, func(p Product) bool { return !pred(p) })
}

// searchTokens lowercases the query, splits it on whitespace and drops
// tokens of a single character.
func searchTokens(search string) []string {
	fields := strings.Fields(strings.ToLower(search))
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func haystack(p Product) string {
	return strings.ToLower(strings.Join([]string{p.Name, p.Description, p.Brand, p.Category}, " "))
}

func matchesAll(hay string, tokens []string) bool {
	for _, t := range tokens {
		if !strings.Contains(hay, t) {
			return false
		}
	}
	return true
}

// sortProducts orders products in place with a stable sort. Unknown or empty
// sorts behave like SortNewest.
func sortProducts(products []Product, s Sort) {
	switch s {
	case SortPriceAsc:
		slices.SortStableFunc(products, func(a, b Product) int { return a.Price.Cmp(b.Price) })
	case SortPriceDesc:
		slices.SortStableFunc(products, func(a, b Product) int { return b.Price.Cmp(a.Price) })
	case SortNameAsc, SortNameDesc:
		// Collators keep internal buffers and are not safe for concurrent
		// use, so each query gets its own.
		c := collate.New(language.Italian)
		if s == SortNameAsc {
			slices.SortStableFunc(products, func(a, b Product) int { return c.CompareString(a.Name, b.Name) })
		} else {
			slices.SortStableFunc(products, func(a, b Product) int { return c.CompareString(b.Name, a.Name) })
		}
	}
}

// facets returns the distinct non-empty brands and categories, sorted.
func facets(products []Product) (brands, categories []string) {
	brands = make([]string, 0)
	categories = make([]string, 0)
	for _, p := range products {
		if p.Brand != "" {
			brands = append(brands, p.Brand)
		}
		if p.Category != "" {
			categories = append(categories, p.Category)
		}
	}
	slices.Sort(brands)
	slices.Sort(categories)
	return slices.Compact(brands), slices.Compact(categories)
}
