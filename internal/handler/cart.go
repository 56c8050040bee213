package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/domain/cart"
)

// maxCookieBytes is the practical per-cookie limit of browsers.
const maxCookieBytes = 4096

type addToCartRequest struct {
	ProductID string          `json:"productId" validate:"required"`
	Slug      string          `json:"slug" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Price     decimal.Decimal `json:"price" validate:"price,gt=0"`
	Quantity  *int            `json:"quantity" validate:"omitempty,min=1,max=99"`
	Image     string          `json:"image"`
}

type updateCartRequest struct {
	Slug     string `json:"slug" validate:"required"`
	Quantity *int   `json:"quantity" validate:"required,min=0,max=99"`
}

type removeFromCartRequest struct {
	Slug string `json:"slug"`
}

type cartItemResponse struct {
	ProductID string          `json:"productId"`
	Slug      string          `json:"slug"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

type cartResponse struct {
	Items      []cartItemResponse `json:"items"`
	TotalItems int                `json:"total_items"`
	TotalPrice decimal.Decimal    `json:"total_price"`
	UpdatedAt  *time.Time         `json:"updated_at"`
}

func newCartResponse(s cart.Summary) cartResponse {
	items := make([]cartItemResponse, len(s.Items))
	for i, it := range s.Items {
		items[i] = cartItemResponse{
			ProductID: it.ProductID,
			Slug:      it.Slug,
			Name:      it.Name,
			Price:     it.Price,
			Quantity:  it.Quantity,
			Image:     it.Image,
		}
	}
	resp := cartResponse{
		Items:      items,
		TotalItems: s.TotalItems,
		TotalPrice: s.TotalPrice,
	}
	if !s.UpdatedAt.IsZero() {
		updated := s.UpdatedAt.UTC()
		resp.UpdatedAt = &updated
	}
	return resp
}

// GetCart serves GET /api/cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c := h.readCart(r)
	writeData(w, http.StatusOK, newCartResponse(c.Summary()), nil, "")
}

// AddToCart serves POST /api/cart. When the slug is in the catalog, the
// catalog's id, name, price and image replace the client-supplied values.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req addToCartRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	trimStrings(&req)
	if err := h.check(&req); err != nil {
		writeError(w, r, err)
		return
	}

	item := cart.Item{
		ProductID: req.ProductID,
		Slug:      req.Slug,
		Name:      req.Name,
		Price:     req.Price,
		Quantity:  1,
		Image:     req.Image,
	}
	if req.Quantity != nil {
		item.Quantity = *req.Quantity
	}
	if p, err := h.catalog.BySlug(req.Slug); err == nil {
		item.ProductID, item.Name, item.Price = p.ID, p.Name, p.Price
		if p.Image != "" {
			item.Image = p.Image
		}
	}

	c := h.readCart(r)
	if err := c.Add(item, h.now()); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, c, "item added to cart")
}

// UpdateCart serves PUT /api/cart. Quantity 0 removes the line.
func (h *Handler) UpdateCart(w http.ResponseWriter, r *http.Request) {
	var req updateCartRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	trimStrings(&req)
	if err := h.check(&req); err != nil {
		writeError(w, r, err)
		return
	}

	c := h.readCart(r)
	if err := c.SetQuantity(req.Slug, *req.Quantity, h.now()); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, c, "cart updated")
}

// RemoveFromCart serves DELETE /api/cart. With a slug it removes that line;
// with no body or no slug it empties the cart.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	var req removeFromCartRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	trimStrings(&req)

	c := h.readCart(r)
	if req.Slug == "" {
		c.Clear(h.now())
		h.respondCart(w, r, c, "cart cleared")
		return
	}
	if err := c.Remove(req.Slug, h.now()); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(w, r, c, "item removed from cart")
}

func (h *Handler) readCart(r *http.Request) *cart.Cart {
	ck, err := r.Cookie(h.cfg.Cookie.Name)
	if err != nil {
		return cart.New()
	}
	return h.codec.Decode(ck.Value)
}

// respondCart stores c in the cookie and answers with its summary.
func (h *Handler) respondCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, message string) {
	token, err := h.codec.Encode(c)
	if err != nil {
		writeError(w, r, errors.Wrap(err, "encode cart"))
		return
	}
	if len(token) > maxCookieBytes {
		zctx.From(r.Context()).Warn("Cart cookie exceeds browser limit",
			zap.Int("bytes", len(token)),
			zap.Int("items", len(c.Items)),
		)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Cookie.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.cfg.Cookie.MaxAge / time.Second),
		Expires:  h.now().Add(h.cfg.Cookie.MaxAge),
		HttpOnly: true,
		Secure:   h.cfg.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeData(w, http.StatusOK, newCartResponse(c.Summary()), nil, message)
}
