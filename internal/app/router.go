package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/handler"
	"github.com/xenking/kart-catalog/pkg/health"
	"github.com/xenking/kart-catalog/pkg/httpmiddleware"
)

// newRouter assembles the HTTP stack. Middlewares that do not depend on the
// matched route wrap the router, so CORS preflights are answered before
// routing. Tracing and request logging run inside chi to see the route
// pattern.
func newRouter(
	lg *zap.Logger,
	t httpmiddleware.TelemetryProvider,
	cors CORSConfig,
	healthSvc *health.Health,
	h *handler.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Instrument(serviceName, t),
		httpmiddleware.LogRequests(),
	)

	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Register(r)

	return httpmiddleware.Wrap(r,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cors.Origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
			AllowCredentials: cors.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
	)
}
