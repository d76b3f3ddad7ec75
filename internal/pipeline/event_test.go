package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
)

func TestParseEvent(t *testing.T) {
	t.Run("content", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"content": "hello"}`))
		require.NoError(t, err)
		require.NotNil(t, ev.Content)
		assert.Equal(t, "hello", *ev.Content)
		assert.False(t, ev.InvokeAI)
	})

	t.Run("invoke_ai", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"invoke_ai": true}`))
		require.NoError(t, err)
		assert.True(t, ev.InvokeAI)
		assert.Nil(t, ev.Content)
	})

	t.Run("invoke_function", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"invoke_function": true}`))
		require.NoError(t, err)
		assert.True(t, ev.InvokeFunction)
	})

	t.Run("content wins over invocation flags", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"content": "hi", "invoke_ai": true, "invoke_function": true}`))
		require.NoError(t, err)
		require.NotNil(t, ev.Content)
		assert.False(t, ev.InvokeAI)
		assert.False(t, ev.InvokeFunction)
	})

	t.Run("invoke_ai wins over invoke_function", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"invoke_ai": true, "invoke_function": true}`))
		require.NoError(t, err)
		assert.True(t, ev.InvokeAI)
		assert.False(t, ev.InvokeFunction)
	})

	t.Run("empty string content is still a content event", func(t *testing.T) {
		ev, err := ParseEvent([]byte(`{"content": ""}`))
		require.NoError(t, err)
		require.NotNil(t, ev.Content)
	})

	t.Run("no action", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{"invoke_ai": false}`))
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseEvent([]byte(`{not json`))
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err))
	})
}
