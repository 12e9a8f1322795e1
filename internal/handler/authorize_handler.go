package handler

import (
	"net/http"

	"go-photoshare/internal/guard"
	"go-photoshare/internal/model"
)

// AuthorizeHandler exposes the guard to the content services that sit behind this one.
type AuthorizeHandler struct {
	guard *guard.Guard
}

func NewAuthorizeHandler(g *guard.Guard) *AuthorizeHandler {
	return &AuthorizeHandler{guard: g}
}

func (h *AuthorizeHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	var payload model.AuthorizeRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	op, err := guard.ParseOperation(payload.Operation)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := guard.ParseResource(payload.Resource)
	if err != nil {
		writeError(w, err)
		return
	}

	allowed := h.guard.Authorize(principal, guard.Action{Op: op, Resource: res}, payload.OwnerID)
	writeSuccess(w, http.StatusOK, model.AuthorizeResponse{Allowed: allowed}, nil)
}
