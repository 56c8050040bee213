package httpmiddleware

import (
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/pkg/ratelimit"
)

// RateLimitConfig configures one rate-limited bucket.
type RateLimitConfig struct {
	// Limiter stores the counters.
	Limiter ratelimit.Limiter
	// Bucket prefixes every key so endpoints do not share quotas.
	Bucket string
	// Policy is the limit and window for the bucket.
	Policy ratelimit.Policy
	// KeyFunc identifies the client. Defaults to ClientIP(TrustedProxies).
	KeyFunc func(*http.Request) string
	// TrustedProxies lists the reverse proxies whose forwarding headers are
	// believed. Empty means the direct peer address is always the key.
	TrustedProxies []netip.Prefix
	// Rejected, when set, is incremented for every 429 with a bucket label.
	Rejected metric.Int64Counter
	// Now defaults to time.Now.
	Now func() time.Time
}

// RateLimit returns a middleware that enforces cfg.Policy per client within
// cfg.Bucket. Every response carries X-RateLimit-Limit, X-RateLimit-Remaining
// and X-RateLimit-Reset. A rejected request gets 429 with Retry-After and the
// {"error","reset"} envelope. When the limiter itself fails the request is
// let through and a warning is logged.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP(cfg.TrustedProxies)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	limit := strconv.Itoa(cfg.Policy.Limit)
	bucketAttr := metric.WithAttributes(attribute.String("bucket", cfg.Bucket))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := cfg.Bucket + ":" + cfg.KeyFunc(r)

			d, err := cfg.Limiter.Allow(ctx, key, cfg.Policy)
			if err != nil {
				zctx.From(ctx).Warn("Rate limiter unavailable, allowing request",
					zap.String("bucket", cfg.Bucket),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				if cfg.Rejected != nil {
					cfg.Rejected.Add(ctx, 1, bucketAttr)
				}
				retryAfter := int(math.Ceil(d.RetryAfter(cfg.Now()).Seconds()))
				h.Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", func(e *jx.Encoder) {
					e.Field("reset", func(e *jx.Encoder) {
						e.Str(d.Reset.UTC().Format(time.RFC3339))
					})
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns a key func that resolves the client address. Forwarding
// headers are only read when the direct peer is one of trusted; then the
// rightmost X-Forwarded-For hop that is not a trusted proxy wins, with
// X-Real-IP as the fallback when no X-Forwarded-For is present. Without
// trusted proxies it is RemoteIP.
func ClientIP(trusted []netip.Prefix) func(*http.Request) string {
	if len(trusted) == 0 {
		return RemoteIP
	}
	isTrusted := func(addr netip.Addr) bool {
		for _, p := range trusted {
			if p.Contains(addr) {
				return true
			}
		}
		return false
	}

	return func(r *http.Request) string {
		peer := RemoteIP(r)
		addr, err := netip.ParseAddr(peer)
		if err != nil || !isTrusted(addr.Unmap()) {
			return peer
		}

		var hops []string
		for _, v := range r.Header.Values("X-Forwarded-For") {
			hops = append(hops, strings.Split(v, ",")...)
		}
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return peer
			}
			hop = hop.Unmap()
			if !isTrusted(hop) || i == 0 {
				return hop.String()
			}
		}

		if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return xri.Unmap().String()
		}
		return peer
	}
}

// RemoteIP returns the host part of r.RemoteAddr.
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
