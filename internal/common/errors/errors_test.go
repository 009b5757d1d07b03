package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
	}{
		{403, ErrCodeBlocked, false},
		{429, ErrCodeThrottled, true},
		{500, ErrCodeServerError, true},
		{503, ErrCodeServerError, true},
		{404, ErrCodeUnexpectedStatus, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus("https://www.pap.fr/x", tt.status)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, Status(err))
		})
	}
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("page 2: %w", NewConcurrentRunError("u1"))
	assert.True(t, IsCode(err, ErrCodeConcurrentRun))
	assert.False(t, IsCode(err, ErrCodeBlocked))
	assert.False(t, IsCode(stderrors.New("plain"), ErrCodeBlocked))
}

func TestWrap_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := NewNetworkTimeoutError("https://x", cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "connection reset")
}
