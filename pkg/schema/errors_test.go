package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMacroError_Format(t *testing.T) {
	err := NewError(ErrCodeKeyboard, "key_down w rejected")
	assert.Equal(t, "[KEYBOARD_ERROR] key_down w rejected", err.Error())

	err = NewErrorf(ErrCodeRoutine, "sequence %d failed", 2).WithRoutine(7)
	assert.Equal(t, "[ROUTINE_ERROR] routine 7: sequence 2 failed", err.Error())
}

func TestMacroError_Unwrap(t *testing.T) {
	root := errors.New("exit status 1")
	err := NewError(ErrCodeDriver, "xdotool failed").WithCause(root)
	assert.ErrorIs(t, err, root)
}

func TestCodeOf(t *testing.T) {
	inner := NewError(ErrCodeKeyboard, "boom")
	wrapped := fmt.Errorf("run: %w", inner)

	assert.Equal(t, ErrCodeKeyboard, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestHasCode_WalksCauseChain(t *testing.T) {
	inner := NewError(ErrCodeMouse, "button rejected")
	outer := NewError(ErrCodeRoutine, "routine aborted").WithCause(inner)

	assert.True(t, HasCode(outer, ErrCodeRoutine))
	assert.True(t, HasCode(outer, ErrCodeMouse))
	assert.False(t, HasCode(outer, ErrCodeStore))
}

func TestIsActionError(t *testing.T) {
	for _, code := range []string{ErrCodeKeyboard, ErrCodeMouse, ErrCodeDriver, ErrCodeParallel} {
		assert.True(t, IsActionError(NewError(code, "x")), code)
	}
	assert.False(t, IsActionError(NewError(ErrCodeValidation, "x")))
	assert.True(t, IsActionError(NewError(ErrCodeRoutine, "x").WithCause(NewError(ErrCodeKeyboard, "y"))))
	assert.False(t, IsActionError(errors.New("plain")))
}
