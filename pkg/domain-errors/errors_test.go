package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs(t *testing.T) {
	err := New(CodeSequence, "NONCE_INVALID")

	assert.True(t, Is(err, CodeSequence))
	assert.False(t, Is(err, CodeTiming))
	assert.False(t, Is(nil, CodeSequence))
	assert.False(t, Is(errors.New("plain"), CodeSequence))

	t.Run("survives wrapping with fmt", func(t *testing.T) {
		wrapped := fmt.Errorf("during execute: %w", err)
		assert.True(t, Is(wrapped, CodeSequence))
	})
}

func TestWrapPreservesTheCause(t *testing.T) {
	cause := errors.New("row not found")
	err := Wrap(CodeNotFound, "CHANNEL_NOT_FOUND", cause)

	assert.True(t, Is(err, CodeNotFound))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "CHANNEL_NOT_FOUND", err.Error())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeConflict, CodeOf(New(CodeConflict, "dup")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain failure")))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("wrapped: %w", errors.New("x"))))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeUnauthorized: http.StatusForbidden,
		CodeNotFound:     http.StatusNotFound,
		CodeConflict:     http.StatusConflict,
		CodeInvalidInput: http.StatusBadRequest,
		CodeBadRequest:   http.StatusBadRequest,
		CodeSequence:     http.StatusConflict,
		CodeTiming:       http.StatusPreconditionFailed,
		CodeSignature:    http.StatusUnauthorized,
		CodeInvariant:    http.StatusConflict,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}

	t.Run("unknown codes fail closed", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(Code("MYSTERY")))
	})
}

func TestNilErrorIsPrintable(t *testing.T) {
	var e *Error
	assert.Equal(t, "<nil>", e.Error())
	assert.Nil(t, e.Unwrap())
}
