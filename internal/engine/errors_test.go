package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineError_IsMatchesByCode(t *testing.T) {
	err := NewEngineError(ErrCodeNavigationTimeout, "goto tt001", context.DeadlineExceeded)
	wrapped := fmt.Errorf("attempt 2: %w", err)

	assert.ErrorIs(t, wrapped, ErrNavigationTimeout)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.NotErrorIs(t, wrapped, ErrSelectorTimeout)
	assert.Equal(t, ErrCodeNavigationTimeout, CodeOf(wrapped))
	assert.Contains(t, err.Error(), "NAVIGATION_TIMEOUT")
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("boom")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"navigation timeout", NewEngineError(ErrCodeNavigationTimeout, "t", nil), true},
		{"selector timeout", NewEngineError(ErrCodeSelectorTimeout, "t", nil), true},
		{"pool exhausted", fmt.Errorf("acquire: %w", ErrPoolExhausted), false},
		{"pool closed", ErrPoolClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsBrowserFault(t *testing.T) {
	assert.True(t, IsBrowserFault(NewEngineError(ErrCodeNavigationError, "x", nil)))
	assert.True(t, IsBrowserFault(ErrBrowserCrash))
	assert.True(t, IsBrowserFault(NewEngineError(ErrCodeSelectorNotFound, "section", ErrBrowserCrash)))
	assert.False(t, IsBrowserFault(NewEngineError(ErrCodeSelectorNotFound, "x", nil)))
	assert.False(t, IsBrowserFault(errors.New("x")))
}

func TestWithDetail(t *testing.T) {
	err := (&EngineError{Code: ErrCodeParseError}).WithDetail("identifier", "tt1").WithRetry()
	assert.Equal(t, "tt1", err.Details["identifier"])
	assert.True(t, err.Retry)
}
