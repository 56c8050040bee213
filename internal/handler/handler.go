// Package handler implements the HTTP API: product listing, the cookie cart
// and the contact form, all answering with the shared JSON envelope.
package handler

import (
	"net/netip"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/kart-catalog/internal/domain/cart"
	"github.com/xenking/kart-catalog/internal/domain/contact"
	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/pkg/ratelimit"
)

// Rate limit buckets.
const (
	BucketProducts  = "products"
	BucketCartRead  = "cart:read"
	BucketCartWrite = "cart:write"
	BucketContact   = "contact"
)

// Limits holds the policy for every bucket.
type Limits struct {
	Products  ratelimit.Policy
	CartRead  ratelimit.Policy
	CartWrite ratelimit.Policy
	Contact   ratelimit.Policy
}

// DefaultLimits returns the production quotas.
func DefaultLimits() Limits {
	return Limits{
		Products:  ratelimit.Policy{Limit: 60, Window: time.Minute},
		CartRead:  ratelimit.Policy{Limit: 120, Window: time.Minute},
		CartWrite: ratelimit.Policy{Limit: 60, Window: time.Minute},
		Contact:   ratelimit.Policy{Limit: 5, Window: 10 * time.Minute},
	}
}

// CookieConfig controls the cart cookie.
type CookieConfig struct {
	Name   string
	MaxAge time.Duration
	// Secure should be set in production so the cart only travels over TLS.
	Secure bool
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	Cookie CookieConfig
	Limits Limits
	// Rejected counts 429 responses per bucket. Optional.
	Rejected metric.Int64Counter
	// TrustedProxies may set forwarding headers that identify the client.
	TrustedProxies []netip.Prefix
}

// Handler serves the /api routes.
type Handler struct {
	catalog  *product.Catalog
	codec    cart.Codec
	contact  *contact.Service
	limiter  ratelimit.Limiter
	cfg      Config
	validate *validator.Validate
	now      func() time.Time
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	catalog *product.Catalog,
	codec cart.Codec,
	contactService *contact.Service,
	limiter ratelimit.Limiter,
) *Handler {
	if cfg.Cookie.Name == "" {
		cfg.Cookie.Name = "cart"
	}
	if cfg.Cookie.MaxAge == 0 {
		cfg.Cookie.MaxAge = 30 * 24 * time.Hour
	}
	return &Handler{
		catalog:  catalog,
		codec:    codec,
		contact:  contactService,
		limiter:  limiter,
		cfg:      cfg,
		validate: newValidator(),
		now:      time.Now,
	}
}
