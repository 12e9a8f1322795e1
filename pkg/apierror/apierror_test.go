package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	err := BadRequest("refresh_token is required", "refresh_token")
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.Equal(t, "BAD_REQUEST: refresh_token is required (refresh_token)", err.Error())

	assert.Equal(t, "UNAUTHORIZED: authentication required", Unauthorized("authentication required").Error())

	var target *APIError
	require.True(t, errors.As(fmt.Errorf("decode: %w", err), &target))
	assert.Equal(t, "BAD_REQUEST", target.Code)

	var nilErr *APIError
	assert.Empty(t, nilErr.Error())
}
