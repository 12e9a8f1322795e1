package handler

import (
	"net/http"

	"go-photoshare/internal/middleware"
	"go-photoshare/internal/model"
	"go-photoshare/pkg/apierror"
)

// principalFromRequest returns the authenticated principal or writes a 401.
func principalFromRequest(w http.ResponseWriter, r *http.Request) (model.Principal, bool) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("authentication required"))
		return model.Principal{}, false
	}
	return principal, true
}
