package handler

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-catalog/internal/domain/contact"
)

type contactRequest struct {
	Name    string `json:"name" validate:"required,min=2"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"omitempty,phone"`
	Subject string `json:"subject" validate:"required,min=3"`
	Message string `json:"message" validate:"required,min=10,max=5000"`
	Privacy bool   `json:"privacy" validate:"eq=true"`
}

type contactResponse struct {
	ID uuid.UUID `json:"id"`
}

// SubmitContact serves POST /api/contact.
func (h *Handler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	trimStrings(&req)
	if err := h.check(&req); err != nil {
		writeError(w, r, err)
		return
	}

	msg, err := h.contact.Submit(r.Context(), contact.Submission{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Subject: req.Subject,
		Message: req.Message,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Contact message accepted", zap.Stringer("id", msg.ID))
	writeData(w, http.StatusCreated, contactResponse{ID: msg.ID}, nil, "message sent")
}
