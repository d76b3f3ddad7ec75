// Package llm wraps the upstream completion and moderation APIs behind the
// narrow request/result shapes the turn pipeline needs.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	apperrors "github.com/apiforllm/chat-server-go/internal/errors"
	"github.com/apiforllm/chat-server-go/internal/model"
)

type CompletionRequest struct {
	Model       string
	Temperature float64
	// User is an opaque caller identifier forwarded upstream for abuse
	// attribution. Callers pass a hash, never the raw username.
	User      string
	Turns     []model.ChatTurn
	Functions []json.RawMessage
}

type FunctionCall struct {
	Name      string
	Arguments string
}

type CompletionResult struct {
	Role             model.Role
	Content          string
	FunctionCall     *FunctionCall
	PromptTokens     int
	CompletionTokens int
	InputCost        decimal.Decimal
	OutputCost       decimal.Decimal
}

type Client struct {
	api *openai.Client
}

// NewClient builds a completion client. baseURL overrides the default
// upstream endpoint when non-empty, for gateways and test servers.
func NewClient(apiKey, baseURL string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// Complete sends the chat history upstream and returns the assistant's reply
// with its token usage priced. Transport and API failures surface as
// upstream errors so callers can refuse to charge for them.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns))
	for _, turn := range req.Turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: float32(req.Temperature),
		User:        req.User,
		Messages:    messages,
	}
	for _, raw := range req.Functions {
		var def openai.FunctionDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, apperrors.ValidationError(fmt.Sprintf("invalid function schema: %v", err))
		}
		apiReq.Functions = append(apiReq.Functions, def)
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return nil, apperrors.Upstream("completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperrors.Upstream("completion", fmt.Errorf("no choices in response"))
	}

	choice := resp.Choices[0].Message
	result := &CompletionResult{
		Role:             model.Role(choice.Role),
		Content:          choice.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		InputCost:        InputCost(resp.Usage.PromptTokens),
		OutputCost:       OutputCost(resp.Usage.CompletionTokens),
	}
	if choice.FunctionCall != nil {
		result.FunctionCall = &FunctionCall{
			Name:      choice.FunctionCall.Name,
			Arguments: choice.FunctionCall.Arguments,
		}
	}

	log.Debug().
		Str("model", req.Model).
		Int("promptTokens", result.PromptTokens).
		Int("completionTokens", result.CompletionTokens).
		Bool("functionCall", result.FunctionCall != nil).
		Msg("completion finished")

	return result, nil
}

// Moderate reports whether the input violates upstream content policy.
// Empty input is never flagged and never leaves the process.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	if input == "" {
		return false, nil
	}

	resp, err := c.api.Moderations(ctx, openai.ModerationRequest{Input: input})
	if err != nil {
		return false, apperrors.Upstream("moderation", err)
	}
	for _, result := range resp.Results {
		if result.Flagged {
			return true, nil
		}
	}
	return false, nil
}
