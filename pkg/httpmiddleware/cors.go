package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultExposeHeaders are readable by browser clients unless overridden.
var DefaultExposeHeaders = []string{
	"X-Request-ID",
	"X-RateLimit-Limit",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	"Retry-After",
}

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	// AllowOrigins lists allowed origins. Empty or "*" allows any origin.
	AllowOrigins []string
	// AllowMethods defaults to the methods the API serves.
	AllowMethods []string
	// AllowHeaders, when empty, echoes Access-Control-Request-Headers.
	AllowHeaders []string
	// ExposeHeaders defaults to DefaultExposeHeaders.
	ExposeHeaders []string
	// AllowCredentials lets browsers send the cart cookie cross-origin. The
	// wildcard origin is then replaced by the request origin.
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds; 0 omits the header.
	MaxAge int
}

type corsPolicy struct {
	allowAll      bool
	echoOrigin    bool
	origins       map[string]string // lowercase -> configured spelling
	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	credentials   bool
	maxAge        string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		allowAll:    len(cfg.AllowOrigins) == 0,
		origins:     make(map[string]string, len(cfg.AllowOrigins)),
		credentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			p.allowAll = true
			continue
		}
		if o != "" {
			p.origins[strings.ToLower(o)] = o
		}
	}
	// "*" is not valid together with credentials.
	p.echoOrigin = p.allowAll && p.credentials

	methods := cfg.AllowMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	}
	p.allowMethods = strings.Join(methods, ", ")
	p.allowHeaders = strings.Join(cfg.AllowHeaders, ", ")

	expose := cfg.ExposeHeaders
	if expose == nil {
		expose = DefaultExposeHeaders
	}
	p.exposeHeaders = strings.Join(expose, ", ")

	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when the origin is not allowed.
func (p *corsPolicy) allowOrigin(origin string) string {
	switch {
	case p.echoOrigin:
		return origin
	case p.allowAll:
		return "*"
	}
	return p.origins[strings.ToLower(origin)]
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing.
// Preflight requests are answered with 204 and never reach the router.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if !p.allowAll || p.echoOrigin {
				h.Add("Vary", "Origin")
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			allowed := p.allowOrigin(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
				if allowed != "" {
					h.Set("Access-Control-Allow-Origin", allowed)
					h.Set("Access-Control-Allow-Methods", p.allowMethods)
					switch {
					case p.allowHeaders != "":
						h.Set("Access-Control-Allow-Headers", p.allowHeaders)
					case r.Header.Get("Access-Control-Request-Headers") != "":
						h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
					}
					if p.credentials {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
					if p.maxAge != "" {
						h.Set("Access-Control-Max-Age", p.maxAge)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed != "" {
				h.Set("Access-Control-Allow-Origin", allowed)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
				if p.exposeHeaders != "" {
					h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
