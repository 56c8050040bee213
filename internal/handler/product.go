package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-catalog/internal/domain/product"
)

var validSorts = map[product.Sort]struct{}{
	product.SortPriceAsc:  {},
	product.SortPriceDesc: {},
	product.SortNameAsc:   {},
	product.SortNameDesc:  {},
	product.SortNewest:    {},
}

// ListProducts serves GET /api/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q, err := parseProductQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	res := h.catalog.Query(q)
	writeData(w, http.StatusOK, res.Data, res.Meta, "")
}

// GetProduct serves GET /api/products/{slug}.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.BySlug(chi.URLParam(r, "slug"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, p, nil, "")
}

// parseProductQuery validates the listing parameters. Every problem is
// reported at once, keyed by parameter name.
func parseProductQuery(values url.Values) (product.Query, error) {
	details := make(map[string]string)
	get := func(key string) string {
		return strings.TrimSpace(values.Get(key))
	}

	q := product.Query{
		Category: get("categoria"),
		Brand:    get("brand"),
		Search:   get("search"),
		Sort:     product.SortNewest,
		Page:     product.DefaultPage,
		PerPage:  product.DefaultPerPage,
	}

	price := func(key string) *decimal.Decimal {
		raw := get(key)
		if raw == "" {
			return nil
		}
		d, err := decimal.NewFromString(raw)
		switch {
		case err != nil || d.IsNegative():
			details[key] = "must be a non-negative number"
			return nil
		case !product.PriceInRange(d):
			details[key] = "is out of range"
			return nil
		}
		return &d
	}
	q.MinPrice = price("min_price")
	q.MaxPrice = price("max_price")

	if raw := get("in_stock"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			details["in_stock"] = "must be true or false"
		} else {
			q.InStock = &v
		}
	}

	if raw := get("sort"); raw != "" {
		s := product.Sort(raw)
		if _, ok := validSorts[s]; !ok {
			details["sort"] = "must be one of price_asc, price_desc, name_asc, name_desc, newest"
		} else {
			q.Sort = s
		}
	}

	intParam := func(key string, lo, hi int, dst *int) {
		raw := get(key)
		if raw == "" {
			return
		}
		v, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			details[key] = "must be an integer"
		case v < lo:
			details[key] = "must be at least " + strconv.Itoa(lo)
		case hi > 0 && v > hi:
			details[key] = "must be at most " + strconv.Itoa(hi)
		default:
			*dst = v
		}
	}
	intParam("page", 1, 0, &q.Page)
	intParam("per_page", 1, product.MaxPerPage, &q.PerPage)

	if len(details) > 0 {
		return product.Query{}, &ValidationError{Details: details}
	}
	return q, nil
}
