package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		code     int
		expected ErrorType
	}{
		{0, ErrorTypeTransientNetwork},
		{429, ErrorTypeUpstreamThrottled},
		{401, ErrorTypeSessionInvalid},
		{403, ErrorTypeSessionInvalid},
		{502, ErrorTypeTransientNetwork},
		{404, ErrorTypeMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.code), func(t *testing.T) {
			err := FromStatusCode(tt.code, "listing")
			if assert.NotNil(t, err) {
				assert.Equal(t, tt.expected, err.Type)
				assert.Equal(t, tt.code, err.Code)
			}
		})
	}

	assert.Nil(t, FromStatusCode(200, "ok"))
}

func TestTypeOfWrapped(t *testing.T) {
	base := Wrap(ErrorTypeTransientNetwork, context.DeadlineExceeded, "navigate")
	wrapped := fmt.Errorf("target 42: %w", base)

	assert.Equal(t, ErrorTypeTransientNetwork, TypeOf(wrapped))
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.Equal(t, ErrorTypeUnknown, TypeOf(fmt.Errorf("plain")))
	assert.Equal(t, ErrorType(""), TypeOf(nil))
}

func TestRecoverableAndFatal(t *testing.T) {
	assert.True(t, IsRecoverable(ErrorTypeTransientNetwork))
	assert.True(t, IsRecoverable(ErrorTypeUpstreamThrottled))
	assert.False(t, IsRecoverable(ErrorTypeMalformedResponse))

	assert.True(t, IsFatal(ErrorTypeSessionInvalid))
	assert.True(t, IsFatal(ErrorTypeRetryBudgetExhausted))
	assert.False(t, IsFatal(ErrorTypeTransientNetwork))
}
