package errors_test

import (
	"fmt"
	"testing"

	apperrors "github.com/jrsteele09/go-store-claimer/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapf(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, apperrors.Wrapf(nil, "context %d", 1))
	})

	t.Run("wrapped error keeps chain", func(t *testing.T) {
		err := apperrors.Wrapf(apperrors.ErrAuthenticationRejected, "probe %s", "user@example.com")
		require.EqualError(t, err, "probe user@example.com: authentication rejected")
		require.True(t, apperrors.IsAuthRejected(err))
		require.False(t, apperrors.IsTransient(err))
	})
}

func TestIsTransient(t *testing.T) {
	err := fmt.Errorf("GET /account: %w", apperrors.ErrTransientNetwork)
	require.True(t, apperrors.IsTransient(err))
	require.False(t, apperrors.IsAuthRejected(err))
}
