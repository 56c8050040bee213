package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/domain/cart"
	"github.com/xenking/kart-catalog/internal/domain/product"
)

// envelope is the success body.
type envelope struct {
	Data    any    `json:"data"`
	Meta    any    `json:"meta,omitempty"`
	Message string `json:"message,omitempty"`
}

// errorEnvelope is the error body.
type errorEnvelope struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// ValidationError carries field-level failures keyed by the JSON field or
// query parameter name.
type ValidationError struct {
	Details map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// errMalformedBody is returned when the request body is not valid JSON for
// the expected shape.
var errMalformedBody = errors.New("malformed request body")

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// The status is already sent; an encode failure means the client left.
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data, meta any, message string) {
	writeJSON(w, status, envelope{Data: data, Meta: meta, Message: message})
}

// writeError maps domain and boundary errors to the error envelope. Anything
// unrecognized is logged in full and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorEnvelope{
			Error:   vErr.Error(),
			Details: vErr.Details,
		})
		return
	}

	switch {
	case errors.Is(err, errMalformedBody):
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "malformed request body"})
	case errors.Is(err, cart.ErrCartFull):
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: cart.ErrCartFull.Error()})
	case errors.Is(err, cart.ErrItemNotFound):
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: cart.ErrItemNotFound.Error()})
	case errors.Is(err, product.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: product.ErrNotFound.Error()})
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: "internal server error"})
	}
}
