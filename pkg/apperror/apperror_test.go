package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneMatchesSentinel(t *testing.T) {
	err := Conflict("a poll is already active")
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "a poll is already active", err.Error())
	assert.Equal(t, http.StatusConflict, err.Status)

	wrapped := fmt.Errorf("vote: %w", NotFound("poll not found"))
	assert.True(t, errors.Is(wrapped, ErrNotFound))
}

func TestFromStore(t *testing.T) {
	assert.NoError(t, FromStore(nil))

	nf := NotFound("question not found")
	assert.Same(t, nf, FromStore(nf))

	err := FromStore(context.DeadlineExceeded)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))
	e := FromError(errors.New("boom"))
	assert.Equal(t, CodeUnavailable, e.Code)
	assert.Equal(t, http.StatusServiceUnavailable, e.Status)
}
