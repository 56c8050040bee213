package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-catalog/pkg/httpmiddleware"
	"github.com/xenking/kart-catalog/pkg/ratelimit"
)

// Register mounts the API under /api on r. Every route is rate limited in
// its own bucket.
func (h *Handler) Register(r chi.Router) {
	products := h.limit(BucketProducts, h.cfg.Limits.Products)
	cartRead := h.limit(BucketCartRead, h.cfg.Limits.CartRead)
	cartWrite := h.limit(BucketCartWrite, h.cfg.Limits.CartWrite)
	contactLimit := h.limit(BucketContact, h.cfg.Limits.Contact)

	r.Route("/api", func(r chi.Router) {
		r.With(products).Get("/products", h.ListProducts)
		r.With(products).Get("/products/{slug}", h.GetProduct)

		r.With(cartRead).Get("/cart", h.GetCart)
		r.With(cartWrite).Post("/cart", h.AddToCart)
		r.With(cartWrite).Put("/cart", h.UpdateCart)
		r.With(cartWrite).Delete("/cart", h.RemoveFromCart)

		r.With(contactLimit).Post("/contact", h.SubmitContact)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorEnvelope{Error: "method not allowed"})
	})
}

func (h *Handler) limit(bucket string, p ratelimit.Policy) httpmiddleware.Middleware {
	return httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
		Limiter:        h.limiter,
		Bucket:         bucket,
		Policy:         p,
		Rejected:       h.cfg.Rejected,
		TrustedProxies: h.cfg.TrustedProxies,
	})
}
