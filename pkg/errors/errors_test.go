package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[int]*AppError{
		http.StatusNotFound:              NotFound("tracker", nil),
		http.StatusBadRequest:            BadRequest("bad", nil),
		http.StatusUnauthorized:          Unauthorized(nil),
		http.StatusForbidden:             Forbidden("no"),
		http.StatusConflict:              Conflict("dup", nil),
		http.StatusTooManyRequests:       TooManyRequests("slow down"),
		http.StatusRequestEntityTooLarge: TooLarge("big"),
		http.StatusInternalServerError:   Internal(nil),
	}
	for status, err := range cases {
		assert.Equal(t, status, err.HTTPStatus(), err.Message)
	}
}

func TestAsThroughWrapping(t *testing.T) {
	cause := stderrors.New("row missing")
	wrapped := fmt.Errorf("get tracker: %w", NotFound("tracker", cause))

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrNotFound, appErr.Code)
	assert.Equal(t, "tracker not found: row missing", appErr.Error())
	assert.ErrorIs(t, wrapped, cause)

	_, ok = As(cause)
	assert.False(t, ok)
}
