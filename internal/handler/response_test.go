package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-photoshare/internal/model"
	"go-photoshare/pkg/apierror"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) model.APIResponse {
	t.Helper()
	var body model.APIResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestWriteError_Mapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid input", fmt.Errorf("%w: username: too short", model.ErrInvalidInput), http.StatusBadRequest, "BAD_REQUEST"},
		{"already exists", model.ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
		{"bad credentials", model.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"expired", model.ErrTokenExpired, http.StatusUnauthorized, "TOKEN_EXPIRED"},
		{"invalid token", fmt.Errorf("%w: kind mismatch", model.ErrInvalidToken), http.StatusUnauthorized, "INVALID_TOKEN"},
		{"revoked", model.ErrSessionRevoked, http.StatusUnauthorized, "SESSION_REVOKED"},
		{"forbidden", model.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
		{"not found", model.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"store down", fmt.Errorf("find user: %w", model.ErrStoreUnavailable), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"corrupt credential", fmt.Errorf("verify: %w", model.ErrCredentialCorrupt), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"api error", apierror.New("PAYLOAD_TOO_LARGE", "too big", "", http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decodeEnvelope(t, rec)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tc.code, body.Error.Code)
		})
	}
}

func TestWriteError_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: username: too short", model.ErrInvalidInput))
	assert.Equal(t, "username: too short", decodeEnvelope(t, rec).Error.Details)

	// Credential failures carry no detail, whatever the cause.
	rec = httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: account banned", model.ErrInvalidCredentials))
	assert.Empty(t, decodeEnvelope(t, rec).Error.Details)

	rec = httptest.NewRecorder()
	writeError(rec, fmt.Errorf("verify: %w", model.ErrCredentialCorrupt))
	body := decodeEnvelope(t, rec)
	assert.Empty(t, body.Error.Details)
	assert.NotContains(t, body.Error.Message, "corrupt")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		var dst payload
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		require.NoError(t, decodeJSON(httptest.NewRecorder(), r, &dst, false))
		assert.Equal(t, "x", dst.Name)
	})

	t.Run("empty body required", func(t *testing.T) {
		var dst payload
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		err := decodeJSON(httptest.NewRecorder(), r, &dst, false)
		var apiErr *apierror.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	})

	t.Run("empty body optional", func(t *testing.T) {
		var dst payload
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		require.NoError(t, decodeJSON(httptest.NewRecorder(), r, &dst, true))
	})

	t.Run("too large", func(t *testing.T) {
		var dst payload
		body := `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		err := decodeJSON(httptest.NewRecorder(), r, &dst, false)
		var apiErr *apierror.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusRequestEntityTooLarge, apiErr.HTTPStatus)
	})
}

func TestParseIntOrDefault(t *testing.T) {
	assert.Equal(t, 5, parseIntOrDefault("", 5))
	assert.Equal(t, 5, parseIntOrDefault("abc", 5))
	assert.Equal(t, 12, parseIntOrDefault("12", 5))
}
