package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = Conflict("budget exceeded")

func TestKindOfWalksWrappedChain(t *testing.T) {
	err := fmt.Errorf("post transaction: %w", errSentinel)

	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, errors.Is(err, errSentinel))
	assert.True(t, Is(err, KindConflict))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindInternal))
}

func TestWrapKeepsCauseButNotInMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Upstream("exchange rates unavailable", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "exchange rates unavailable", err.Message)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, http.StatusServiceUnavailable, err.Kind.Status())
}

func TestFieldsErrorString(t *testing.T) {
	err := Fields(map[string]string{"title": "is required", "amount": "must be positive"})

	assert.Equal(t, "validation failed (amount: must be positive; title: is required)", err.Error())
	assert.Equal(t, http.StatusBadRequest, err.Kind.Status())
	assert.Equal(t, "validation_failed", err.Kind.String())
}
