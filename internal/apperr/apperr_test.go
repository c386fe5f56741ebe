package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindUnauthorized:    http.StatusUnauthorized,
		KindForbidden:       http.StatusForbidden,
		KindNotFound:        http.StatusNotFound,
		KindConflict:        http.StatusConflict,
		KindUnprocessable:   http.StatusUnprocessableEntity,
		KindTooManyRequests: http.StatusTooManyRequests,
		KindInternal:        http.StatusInternalServerError,
	}
	for k, want := range cases {
		assert.Equal(t, want, k.Status(), k.String())
	}
}

func TestFrom_WrapsUnknownAsInternal(t *testing.T) {
	boom := errors.New("boom")
	e := From(boom)
	require.NotNil(t, e)
	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, CodeInternal, e.Code)
	assert.ErrorIs(t, e, boom)
	assert.Nil(t, From(nil))
}

func TestFrom_FindsWrappedAppError(t *testing.T) {
	orig := Conflict(CodeEmailExists, "email already registered")
	wrapped := fmt.Errorf("register: %w", orig)

	e := From(wrapped)
	assert.Same(t, orig, e)
	assert.Equal(t, http.StatusConflict, e.Status())
}

func TestIs_MatchesKindAndCode(t *testing.T) {
	a := Unauthorized(CodeInvalidCredentials, "a")
	b := Unauthorized(CodeInvalidCredentials, "different message")
	c := Unauthorized(CodeAccountDisabled, "a")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestWithDetails_DoesNotMutate(t *testing.T) {
	base := NotFound("missing")
	d := base.WithDetails(map[string]string{"id": "1"})
	assert.Nil(t, base.Details)
	assert.NotNil(t, d.Details)
}

func TestField(t *testing.T) {
	e := Field("token", "INVALID_TOKEN", "token is invalid or expired")
	assert.Equal(t, KindValidation, e.Kind)
	assert.Equal(t, CodeValidation, e.Code)
	fields, ok := e.Details.([]FieldError)
	require.True(t, ok)
	require.Len(t, fields, 1)
	assert.Equal(t, "token", fields[0].Field)
}
