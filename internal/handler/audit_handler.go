package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"go-photoshare/internal/service"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// History lists the auth events recorded for one user, newest first.
func (h *AuditHandler) History(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	items, err := h.service.History(r.Context(), principal, chi.URLParam(r, "id"), parseIntOrDefault(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"events": items}, nil)
}
