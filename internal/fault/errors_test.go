package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  New(CodeNotReady, "", "engine not initialized"),
			want: "NOT_READY: engine not initialized",
		},
		{
			name: "op and message",
			err:  New(CodeTransitionRejected, "open", "transition in flight"),
			want: "TRANSITION_REJECTED: open: transition in flight",
		},
		{
			name: "op and cause",
			err:  &Error{Code: CodeAttach, Op: "attach", Err: errors.New("surface gone")},
			want: "ATTACH: attach: surface gone",
		},
		{
			name: "message and cause",
			err:  &Error{Code: CodeDetach, Op: "close", Message: "teardown failed", Err: errors.New("boom")},
			want: "DETACH: close: teardown failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(CodeCamera, "camera", nil))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("license rejected")
	err := Wrap(CodeEngineInit, "initialize", cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsEngineInitError(err))
}

func TestClassifiersThroughWrapping(t *testing.T) {
	base := New(CodeAttach, "open", "no surface")
	wrapped := fmt.Errorf("open station: %w", base)

	assert.True(t, IsAttachError(wrapped))
	assert.False(t, IsDetachError(wrapped))
	assert.False(t, IsTransitionRejected(wrapped))

	code, ok := CodeOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeAttach, code)
}

func TestClassifiersOnPlainError(t *testing.T) {
	err := errors.New("plain")

	assert.False(t, IsEngineInitError(err))
	assert.False(t, IsNotReady(err))
	assert.False(t, IsRetryable(err))

	_, ok := CodeOf(err)
	assert.False(t, ok)
}

func TestIsRetryable(t *testing.T) {
	retryable := []Code{CodeEngineInit, CodeAttach, CodeTransitionRejected, CodeNotReady}
	silent := []Code{CodeDetach, CodeCamera, CodeDetection, CodePersistenceRead}

	for _, c := range retryable {
		assert.True(t, IsRetryable(New(c, "op", "x")), "code %s", c)
	}
	for _, c := range silent {
		assert.False(t, IsRetryable(New(c, "op", "x")), "code %s", c)
	}
}
