package signing

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignUnsign(t *testing.T) {
	t.Run("round-trips the value", func(t *testing.T) {
		signer := NewSigner("test-secret")
		token := signer.Sign("session-42")

		value, err := signer.Unsign(token, 120*time.Second)
		require.NoError(t, err)
		assert.Equal(t, "session-42", value)
	})

	t.Run("rejects tampered value", func(t *testing.T) {
		signer := NewSigner("test-secret")
		token := signer.Sign("session-42")
		tampered := strings.Replace(token, "session-42", "session-43", 1)

		_, err := signer.Unsign(tampered, 120*time.Second)
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		token := NewSigner("other-secret").Sign("session-42")

		_, err := NewSigner("test-secret").Unsign(token, 120*time.Second)
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("rejects malformed tokens", func(t *testing.T) {
		signer := NewSigner("test-secret")
		for _, token := range []string{"", "nocolons", "a:b", "a:b:c"} {
			_, err := signer.Unsign(token, 120*time.Second)
			assert.Error(t, err, "token %q should be rejected", token)
		}
	})
}

func TestExpiry(t *testing.T) {
	t.Run("accepts token inside the window", func(t *testing.T) {
		now := time.Now()
		signer := NewSigner("test-secret")
		signer.now = func() time.Time { return now }
		token := signer.Sign("session-42")

		signer.now = func() time.Time { return now.Add(119 * time.Second) }
		_, err := signer.Unsign(token, 120*time.Second)
		assert.NoError(t, err)
	})

	t.Run("rejects token presented at 121s with 120s window", func(t *testing.T) {
		now := time.Now()
		signer := NewSigner("test-secret")
		signer.now = func() time.Time { return now }
		token := signer.Sign("session-42")

		signer.now = func() time.Time { return now.Add(121 * time.Second) }
		_, err := signer.Unsign(token, 120*time.Second)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("expired beats malformed only after signature passes", func(t *testing.T) {
		now := time.Now()
		signer := NewSigner("test-secret")
		signer.now = func() time.Time { return now.Add(-10 * time.Minute) }
		token := signer.Sign("session-42")
		tampered := strings.Replace(token, "session-42", "session-43", 1)

		signer.now = time.Now
		_, err := signer.Unsign(tampered, 120*time.Second)
		assert.ErrorIs(t, err, ErrBadSignature)
		assert.False(t, errors.Is(err, ErrExpired))
	})
}
