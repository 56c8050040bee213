package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryProvider exposes the providers used by Instrument. It is
// satisfied by *app.Telemetry from go-faster/sdk.
type TelemetryProvider interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Instrument wraps requests in an otelhttp span and records the standard
// HTTP server metrics. Once the router has matched, the span is renamed to
// "METHOD /route" and the route is added as a metric label.
func Instrument(service string, t TelemetryProvider) Middleware {
	return func(next http.Handler) http.Handler {
		labeled := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			route := RoutePattern(r)
			if route == "" {
				return
			}
			trace.SpanFromContext(r.Context()).SetName(r.Method + " " + route)
			if l, ok := otelhttp.LabelerFromContext(r.Context()); ok {
				l.Add(attribute.String("http.route", route))
			}
		})

		return otelhttp.NewHandler(labeled, service,
			otelhttp.WithTracerProvider(t.TracerProvider()),
			otelhttp.WithMeterProvider(t.MeterProvider()),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method
			}),
		)
	}
}
