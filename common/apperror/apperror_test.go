package apperror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"resource-service/common/apperror"

	"github.com/stretchr/testify/assert"
)

var errThingMissing = apperror.NotFound("thing not found")

func TestError_IsSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("loading thing: %w", apperror.Wrap(errThingMissing, errors.New("no rows")))

	assert.True(t, errors.Is(wrapped, errThingMissing))
	assert.False(t, errors.Is(wrapped, apperror.NotFound("other")))
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(wrapped))
}

func TestError_Status(t *testing.T) {
	cases := map[*apperror.Error]int{
		apperror.Validation("x"):                     http.StatusBadRequest,
		apperror.Unauthorized("x"):                   http.StatusUnauthorized,
		apperror.Forbidden("x"):                      http.StatusForbidden,
		apperror.NotFound("x"):                       http.StatusNotFound,
		apperror.Conflict("x"):                       http.StatusConflict,
		apperror.TooManyRequests("x"):                http.StatusTooManyRequests,
		apperror.Dependency("x", errors.New("boom")): http.StatusInternalServerError,
	}
	for e, want := range cases {
		assert.Equal(t, want, e.Status(), string(e.Kind))
	}
}

func TestKindOf_UnknownIsDependency(t *testing.T) {
	assert.Equal(t, apperror.KindDependency, apperror.KindOf(errors.New("plain")))
	assert.Nil(t, apperror.From(errors.New("plain")))
}
