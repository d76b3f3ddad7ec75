package pipeline

import (
	"encoding/json"

	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
)

// Event is one inbound client action on the chat channel: say something,
// ask the assistant to continue, or run the function call it proposed.
type Event struct {
	Content        *string `json:"content"`
	InvokeAI       bool    `json:"invoke_ai"`
	InvokeFunction bool    `json:"invoke_function"`
}

// ParseEvent decodes a raw chat frame. When several actions are present,
// content wins over invoke_ai, which wins over invoke_function; a frame
// carrying none of them is invalid.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, apperrors.ValidationError("malformed chat event").WithCause(err)
	}

	switch {
	case ev.Content != nil:
		return Event{Content: ev.Content}, nil
	case ev.InvokeAI:
		return Event{InvokeAI: true}, nil
	case ev.InvokeFunction:
		return Event{InvokeFunction: true}, nil
	}
	return Event{}, apperrors.ValidationError("chat event carries no action")
}
