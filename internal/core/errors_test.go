package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("listing rows: %w", Errorf(CodeNotFound, "table %q not found", "nope"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := ValidationError("invalid row", map[string]string{"b": "is required", "a": "expected a number"})
	assert.Equal(t, "invalid row (a: expected a number; b: is required)", err.Error())

	assert.Equal(t, "session invalid", ErrSessionInvalid.Error())
	assert.Equal(t, "boom: cause", Wrap(CodeUnknown, errors.New("cause"), "boom").Error())
}

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		retryable  bool
		invalidate bool
	}{
		{"nil", nil, false, false},
		{"temporary", Temporary(errors.New("reset"), "connection reset"), true, false},
		{"plain unknown", Wrap(CodeUnknown, errors.New("x"), "x"), false, false},
		{"session invalid", ErrSessionInvalid, false, true},
		{"auth", Errorf(CodeAuthenticationFailed, "bad password"), false, true},
		{"host", Errorf(CodeHostUnreachable, "no route"), false, true},
		{"db missing", Errorf(CodeDatabaseNotFound, "gone"), false, true},
		{"validation", ValidationError("bad", nil), false, false},
		{"not found", ErrNotFound, false, false},
		{"foreign", errors.New("other"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, Retryable(tt.err))
			assert.Equal(t, tt.invalidate, InvalidatesSession(tt.err))
		})
	}
}

func TestRetryRead(t *testing.T) {
	RetryDelay = time.Millisecond

	t.Run("retries transient then succeeds", func(t *testing.T) {
		calls := 0
		err := RetryRead(context.Background(), 3, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return Temporary(errors.New("reset"), "connection reset")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after bound", func(t *testing.T) {
		calls := 0
		err := RetryRead(context.Background(), 3, func(ctx context.Context) error {
			calls++
			return Temporary(errors.New("reset"), "connection reset")
		})
		require.Error(t, err)
		assert.True(t, Retryable(err))
		assert.Equal(t, 4, calls)
	})

	t.Run("session invalid aborts immediately", func(t *testing.T) {
		calls := 0
		err := RetryRead(context.Background(), 3, func(ctx context.Context) error {
			calls++
			return ErrSessionInvalid
		})
		assert.ErrorIs(t, err, ErrSessionInvalid)
		assert.Equal(t, 1, calls)
	})

	t.Run("authentication aborts immediately", func(t *testing.T) {
		calls := 0
		err := RetryRead(context.Background(), 3, func(ctx context.Context) error {
			calls++
			return Errorf(CodeAuthenticationFailed, "password authentication failed")
		})
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
		assert.Equal(t, 1, calls)
	})
}
