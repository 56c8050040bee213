package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/domain/cart"
	"github.com/xenking/kart-catalog/internal/domain/contact"
	"github.com/xenking/kart-catalog/internal/domain/product"
	"github.com/xenking/kart-catalog/internal/handler"
	"github.com/xenking/kart-catalog/pkg/health"
	"github.com/xenking/kart-catalog/pkg/httpmiddleware"
	"github.com/xenking/kart-catalog/pkg/ratelimit"
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }

func (noopTelemetry) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }

func newTestRouter(t *testing.T, cors CORSConfig) (http.Handler, *health.Health) {
	t.Helper()

	catalog, err := product.NewCatalog([]product.Product{{
		ID:      "1",
		Name:    "Telaio OTK Tonykart",
		Slug:    "telaio-otk",
		Price:   decimal.RequireFromString("3200.00"),
		InStock: true,
	}})
	require.NoError(t, err)

	h := handler.New(handler.Config{Limits: handler.DefaultLimits()},
		catalog,
		cart.PlainCodec{},
		contact.NewService(nil, contact.NewLogNotifier(zap.NewNop())),
		ratelimit.NewMemoryStore(),
	)
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("catalog", time.Second, health.NonEmptyCheck("catalog", catalog.Len))

	return newRouter(zap.NewNop(), noopTelemetry{}, cors, healthSvc, h), healthSvc
}

func TestRouter_HealthEndpoints(t *testing.T) {
	r, healthSvc := newTestRouter(t, CORSConfig{Origins: []string{"*"}})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "service is not ready")

	healthSvc.SetReady(true)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_APIResponseHeaders(t *testing.T) {
	r, _ := newTestRouter(t, CORSConfig{Origins: []string{"https://kart.example"}, AllowCredentials: true})

	req := httptest.NewRequest(http.MethodGet, "/api/products/telaio-otk", nil)
	req.Header.Set("Origin", "https://kart.example")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(httpmiddleware.RequestIDHeader))
	assert.Equal(t, "https://kart.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRouter_PreflightSkipsRouting(t *testing.T) {
	r, _ := newTestRouter(t, CORSConfig{Origins: []string{"*"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/contact", nil)
	req.Header.Set("Origin", "https://kart.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestNewCodec(t *testing.T) {
	assert.IsType(t, cart.PlainCodec{}, newCodec(CartConfig{}))
	assert.IsType(t, &cart.SignedCodec{}, newCodec(CartConfig{Secret: "0123456789abcdef", MaxAge: time.Hour}))
}

func TestNewNotifier(t *testing.T) {
	assert.IsType(t, &contact.LogNotifier{}, newNotifier(zap.NewNop(), MailConfig{}))
	assert.IsType(t, &contact.ThrottledNotifier{}, newNotifier(zap.NewNop(), MailConfig{
		Host:      "smtp.example.com",
		From:      "shop@example.com",
		To:        "info@example.com",
		PerMinute: 10,
	}))
}

func TestNewLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("memory", func(t *testing.T) {
		healthSvc := health.New()
		l, closeFn, err := newLimiter(ctx, zap.NewNop(), &Config{}, healthSvc)
		require.NoError(t, err)
		defer closeFn()

		assert.IsType(t, &ratelimit.MemoryStore{}, l)
		assert.Empty(t, healthSvc.Report(health.Readiness).Failures["redis"])
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		healthSvc := health.New()

		l, closeFn, err := newLimiter(ctx, zap.NewNop(), &Config{RedisURL: "redis://" + mr.Addr()}, healthSvc)
		require.NoError(t, err)
		defer closeFn()

		require.IsType(t, &ratelimit.RedisStore{}, l)
		d, err := l.Allow(ctx, "products:203.0.113.9", ratelimit.Policy{Limit: 2, Window: time.Minute})
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Remaining)
	})

	t.Run("bad url", func(t *testing.T) {
		_, _, err := newLimiter(ctx, zap.NewNop(), &Config{RedisURL: "://nope"}, health.New())
		require.Error(t, err)
	})
}
