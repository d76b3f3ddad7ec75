package pipeline

import (
	"strings"

	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
)

// Function call turns are persisted as plain text so they render in the
// chat history like any other message. The separators below define that
// encoding; ParseFunctionCall is its strict inverse.
const (
	funcallPrefix       = "Function: "
	funcallArgSeparator = ", Arguments: "
)

func FormatFunctionCall(name, arguments string) string {
	return funcallPrefix + name + funcallArgSeparator + arguments
}

// ParseFunctionCall recovers the function name and raw argument string from
// a persisted function call turn. Anything that does not match the encoding
// exactly is rejected; the caller decides what that means for the turn.
func ParseFunctionCall(content string) (name, arguments string, err error) {
	rest, ok := strings.CutPrefix(content, funcallPrefix)
	if !ok {
		return "", "", apperrors.ValidationError("message is not a function call")
	}
	name, arguments, ok = strings.Cut(rest, funcallArgSeparator)
	if !ok {
		return "", "", apperrors.ValidationError("function call has no arguments section")
	}
	if name == "" {
		return "", "", apperrors.ValidationError("function call has an empty name")
	}
	return name, arguments, nil
}
