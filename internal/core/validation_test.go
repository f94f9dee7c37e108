package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateMessage(t *testing.T) {
	t.Run("should reject a send without text or image", func(t *testing.T) {
		require.ErrorIs(t, ValidateMessage(OutgoingMessage{}), ErrEmptyMessage)
	})

	t.Run("should accept an image without text", func(t *testing.T) {
		require.NoError(t, ValidateMessage(OutgoingMessage{ImageURL: "https://img.test/cat.png"}))
	})

	t.Run("should accept text without image", func(t *testing.T) {
		require.NoError(t, ValidateMessage(OutgoingMessage{Text: "hello"}))
	})

	t.Run("should reject a malformed image url", func(t *testing.T) {
		err := ValidateMessage(OutgoingMessage{Text: "hello", ImageURL: "not a url"})
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrEmptyMessage)
	})
}

func TestValidateJoin(t *testing.T) {
	require.ErrorIs(t, ValidateJoin(JoinRequest{}), ErrInvalidUsername)
	require.NoError(t, ValidateJoin(JoinRequest{Username: "alice"}))
}
