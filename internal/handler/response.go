package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go-photoshare/internal/model"
	"go-photoshare/pkg/apierror"
)

const maxBodyBytes = 1 << 20

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
	// details copies the error text into the response.
	details bool
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{model.ErrInvalidInput, http.StatusBadRequest, "BAD_REQUEST", "Invalid input", true},
	{model.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS", "Account already exists", true},
	{model.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", false},
	{model.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired", false},
	{model.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", false},
	{model.ErrSessionRevoked, http.StatusUnauthorized, "SESSION_REVOKED", "Session revoked, log in again", false},
	{model.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", false},
	{model.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "Access denied", true},
	{model.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND", "User not found", false},
	{model.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Service temporarily unavailable", false},
}

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	matched := false
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
		matched = true
	} else {
		for _, m := range errorMappings {
			if !errors.Is(err, m.target) {
				continue
			}
			status = m.status
			body.Code = m.code
			body.Message = m.message
			if m.details {
				body.Details = detailsOf(err, m.target)
			}
			matched = true
			break
		}
	}

	switch {
	case status >= http.StatusInternalServerError:
		// Includes ErrCredentialCorrupt, which must look like any other failure to clients.
		slog.Error("request failed", "error", err.Error())
	case !matched:
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

// detailsOf strips the sentinel's own text from the front of err.
func detailsOf(err error, sentinel error) string {
	text := err.Error()
	if text == sentinel.Error() {
		return ""
	}
	return strings.TrimPrefix(text, sentinel.Error()+": ")
}

// decodeJSON reads a JSON body into dst. An empty body is allowed when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apierror.New("PAYLOAD_TOO_LARGE", "request body is too large", fmt.Sprintf("limit is %d bytes", maxBodyBytes), http.StatusRequestEntityTooLarge)
		}
		return apierror.BadRequest("invalid JSON body", "")
	}
	return nil
}

func parseIntOrDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}
