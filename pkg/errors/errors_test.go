package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionMatchesByCode(t *testing.T) {
	custom := InvalidStep.WithMessage("step %d out of range", 12)

	assert.True(t, stderrors.Is(custom, InvalidStep))
	assert.False(t, stderrors.Is(custom, UnknownRoute))
	assert.Equal(t, "step 12 out of range", custom.Error())
}

func TestTransientWrapping(t *testing.T) {
	cause := stderrors.New("connection reset by peer")
	err := Transient("upsert progress", cause)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, stderrors.Is(err, cause))
	assert.False(t, IsTransient(cause))
	assert.Nil(t, Transient("noop", nil))
}

func TestValidationErrorUnwrapsToDefinition(t *testing.T) {
	err := &ValidationError{Step: 3, Fields: map[string]string{
		"phone_number": "required",
		"address":      "required",
	}}

	wrapped := fmt.Errorf("complete step: %w", err)
	assert.True(t, stderrors.Is(wrapped, ValidationFailed))
	assert.False(t, IsTransient(wrapped))
	assert.Equal(t, "step 3: Step data failed validation (address: required; phone_number: required)", err.Error())

	def, ok := AsDefinition(wrapped)
	require.True(t, ok)
	assert.Equal(t, ValidationFailed.Code, def.Code)
}

func TestGetUnknownCode(t *testing.T) {
	assert.Equal(t, ProgressNotFound, Get(ProgressNotFound.Code))
	assert.Equal(t, "Unexpected error", Get("NOPE").Message)
}
