package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingError_IsMatchesByCode(t *testing.T) {
	err := NewResourceMissingError("msg-1", "/data/a.pdf", nil)
	wrapped := fmt.Errorf("resolve: %w", err)

	assert.True(t, stderrors.Is(wrapped, ErrResourceMissing))
	assert.False(t, stderrors.Is(wrapped, ErrDocumentUnreadable))
	assert.Equal(t, ErrorResourceMissing, CodeOf(wrapped))
}

func TestProcessingError_UnwrapReachesCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := NewDocumentUnreadableError("msg-2", "corrupt xref", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "DOCUMENT_UNREADABLE")
	assert.Contains(t, err.Error(), "boom")
}

func TestProcessingError_ToMap(t *testing.T) {
	err := NewProcessingTimeoutError("msg-3", 2*time.Second, stderrors.New("deadline"))
	m := err.ToMap()

	require.Equal(t, "PROCESSING_TIMEOUT", m["error_code"])
	assert.Equal(t, "msg-3", m["message_id"])
	assert.Equal(t, "2s", m["timeout_duration"])
	assert.Equal(t, "deadline", m["cause"])
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}
