package qb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindThrottle, KindOf(newError(KindThrottle, "budget exhausted")))

	// The kind survives wrapping by callers.
	wrapped := fmt.Errorf("reading invoices: %w", newError(KindAuth, "token rejected"))
	assert.Equal(t, KindAuth, KindOf(wrapped))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapError(KindTransport, "request failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "request failed")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestErrorMessageIncludesFaultSummary(t *testing.T) {
	fault := &Fault{
		Type: "ValidationFault",
		Errors: []FaultError{
			{Message: "Duplicate Name Exists Error", Code: "6240"},
		},
	}
	assert.Contains(t, fault.Summary(), "6240")
	assert.Contains(t, fault.Summary(), "Duplicate Name Exists Error")
}
