package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrappedErrors(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound("part %q not found", "ABC123"))

	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, `part "ABC123" not found`, MessageOf(err))
}

func TestContextErrorsBecomeTimeouts(t *testing.T) {
	err := FromContext(context.DeadlineExceeded, "resolve chain")

	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatus(CodeOf(err)))
	assert.Equal(t, CodeTimeout, CodeOf(context.Canceled))
}

func TestInternalDetailIsHidden(t *testing.T) {
	cause := errors.New("bolt: connection reset by peer 10.0.0.7:7687")
	err := Unavailable(cause, "merge relationship")

	assert.Equal(t, CodeDependencyUnavailable, CodeOf(err))
	assert.NotContains(t, MessageOf(err), "10.0.0.7")
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, "internal error", MessageOf(errors.New("boom")))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Transient(errors.New("conflict"), "merge")))
	assert.False(t, IsTransient(Validation("bad")))
	assert.False(t, IsTransient(nil))
}

func TestConflictIsTransient(t *testing.T) {
	err := fmt.Errorf("populate: %w", Conflict(errors.New("Transaction Conflict"), "merge_relationship"))
	assert.True(t, IsConflict(err))
	assert.True(t, IsTransient(err))
	assert.False(t, IsConflict(Transient(errors.New("connection reset"), "merge")))
}
