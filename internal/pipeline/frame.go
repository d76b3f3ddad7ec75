package pipeline

import (
	"context"

	"github.com/apiforllm/chat-server-go/internal/model"
)

// Frame is one outbound realtime message: either a chat message carrying
// role and content, or a function-call marker carrying only the two flags.
// Clients switch on which keys are present, so unset fields must stay off
// the wire entirely.
type Frame struct {
	Role                     model.Role `json:"role,omitempty"`
	Content                  *string    `json:"content,omitempty"`
	IsFunctionCall           *bool      `json:"is_function_call,omitempty"`
	FunctionApprovalRequired *bool      `json:"function_approval_required,omitempty"`
}

// Text returns the frame's content, empty for a flags-only frame.
func (f Frame) Text() string {
	if f.Content == nil {
		return ""
	}
	return *f.Content
}

// Broadcaster fans a frame out to every connection subscribed to a session.
type Broadcaster interface {
	Publish(ctx context.Context, sessionID string, frame Frame) error
}

// SystemNotice is an operational status or error surfaced to the client.
// Notices are broadcast only, never persisted as chat history.
func SystemNotice(content string) Frame {
	return Frame{Role: model.RoleSystem, Content: &content}
}

func MessageFrame(role model.Role, content string) Frame {
	return Frame{Role: role, Content: &content}
}

// FunctionCallFrame marks the assistant message broadcast just before it
// as a function call, telling the client whether the user must approve the
// call before it runs. It carries no role or content of its own.
func FunctionCallFrame(approvalRequired bool) Frame {
	isCall := true
	return Frame{
		IsFunctionCall:           &isCall,
		FunctionApprovalRequired: &approvalRequired,
	}
}
