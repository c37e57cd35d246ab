package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunError_Error(t *testing.T) {
	t.Parallel()

	err := NewRunError("FinalizeRun", "run-1", ErrRunAlreadyFinal)
	assert.Contains(t, err.Error(), "FinalizeRun")
	assert.Contains(t, err.Error(), "run-1")

	keyErr := NewRunKeyError("FindRunByKey", "generate-copy:abc", ErrRunNotFound)
	assert.Contains(t, keyErr.Error(), "key generate-copy:abc")
}

func TestRunError_Unwrapping(t *testing.T) {
	t.Parallel()

	err := NewRunError("RunByID", "run-2", ErrRunNotFound)
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.True(t, IsRunNotFound(err))
	assert.False(t, IsRunAlreadyFinal(err))

	wrapped := fmt.Errorf("outer: %w", NewRunError("FinalizeRun", "run-3", ErrRunAlreadyFinal))
	assert.True(t, IsRunAlreadyFinal(wrapped))
}
