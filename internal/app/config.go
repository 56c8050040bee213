package app

import (
	"io/fs"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/kart-catalog/internal/handler"
	"github.com/xenking/kart-catalog/pkg/ratelimit"
)

// Catalog sources.
const (
	CatalogSourceFile     = "file"
	CatalogSourcePostgres = "postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Production  bool   `default:"false" usage:"Production mode: cart cookie is marked Secure"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis URL for the shared rate limiter (KART_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Catalog     CatalogConfig
	Cart        CartConfig
	RateLimit   RateLimitConfig
	Mail        MailConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// CatalogConfig selects where the product snapshot is loaded from.
type CatalogConfig struct {
	Source string `default:"file" usage:"Catalog source: file or postgres"`
	Path   string `default:"data/products.json" usage:"Catalog JSON file, optionally gzip compressed"`
}

// CartConfig controls the cart cookie.
type CartConfig struct {
	CookieName string        `default:"cart" usage:"Cart cookie name"`
	MaxAge     time.Duration `default:"720h" usage:"Cart cookie lifetime"`
	Secret     string        `usage:"HMAC secret for signed cart cookies; empty stores plain JSON"`
}

// PolicyConfig overrides a single rate limit bucket. Zero fields keep the
// built-in default for that bucket.
type PolicyConfig struct {
	Limit  int           `usage:"Requests allowed per window"`
	Window time.Duration `usage:"Window length"`
}

// RateLimitConfig controls the per-bucket fixed window limiter.
type RateLimitConfig struct {
	Products      PolicyConfig
	CartRead      PolicyConfig
	CartWrite     PolicyConfig
	Contact       PolicyConfig
	SweepInterval time.Duration `usage:"Evict expired in-memory windows this often; 0 disables"`
	// TrustedProxies is empty by default, so X-Forwarded-For is ignored.
	TrustedProxies []string `usage:"IPs or CIDRs of reverse proxies allowed to set X-Forwarded-For and X-Real-IP"`
}

// MailConfig configures the SMTP transport for contact messages. Without a
// host, messages are only logged.
type MailConfig struct {
	Host      string `usage:"SMTP host"`
	Port      int    `default:"587" usage:"SMTP port"`
	Username  string `usage:"SMTP username"`
	Password  string `usage:"SMTP password"`
	From      string `usage:"Sender address"`
	To        string `usage:"Recipient address"`
	PerMinute int    `default:"10" usage:"Max mails sent per minute"`
}

// Enabled reports whether an SMTP transport is configured.
func (c MailConfig) Enabled() bool {
	return c.Host != ""
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from a .env file, environment variables,
// flags and YAML config files, then applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}
	return loadConfig(nil, []string{"config.yaml", "/etc/kart/config.yaml"})
}

func loadConfig(args, files []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Args:      args,
		SkipFiles: len(files) == 0,
		Files:     files,
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's KART_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Catalog.Source {
	case CatalogSourceFile:
		if c.Catalog.Path == "" {
			return errors.New("catalog path is required for the file source")
		}
	case CatalogSourcePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required for the postgres catalog: set KART_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	if c.Mail.Enabled() && (c.Mail.From == "" || c.Mail.To == "") {
		return errors.New("mail from and to addresses are required when a mail host is set")
	}
	if c.Cart.Secret != "" && len(c.Cart.Secret) < 16 {
		return errors.New("cart secret must be at least 16 bytes")
	}
	if _, err := c.RateLimit.Proxies(); err != nil {
		return err
	}
	return nil
}

// Proxies parses TrustedProxies. A bare address is a single host prefix.
func (c RateLimitConfig) Proxies() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, errors.Errorf("invalid trusted proxy %q", raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Limits merges the configured overrides into the default bucket policies.
func (c RateLimitConfig) Limits() handler.Limits {
	l := handler.DefaultLimits()
	l.Products = c.Products.apply(l.Products)
	l.CartRead = c.CartRead.apply(l.CartRead)
	l.CartWrite = c.CartWrite.apply(l.CartWrite)
	l.Contact = c.Contact.apply(l.Contact)
	return l
}

func (c PolicyConfig) apply(p ratelimit.Policy) ratelimit.Policy {
	if c.Limit > 0 {
		p.Limit = c.Limit
	}
	if c.Window > 0 {
		p.Window = c.Window
	}
	return p
}
