// Package httpmiddleware contains net/http middleware shared by the API
// server: recovery, CORS, request ids, logging, telemetry and rate limiting.
package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
)

// Middleware is a net/http middleware.
type Middleware = func(http.Handler) http.Handler

// Wrap applies middlewares to h. The first middleware is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RoutePattern returns the chi route pattern matched for r, or "" when the
// request did not go through a chi router or matched nothing. It is only
// complete after the router has served the request.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

// writeError writes the {"error": msg} envelope. extra may add fields.
func writeError(w http.ResponseWriter, status int, msg string, extra func(e *jx.Encoder)) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
		if extra != nil {
			extra(e)
		}
	})

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
