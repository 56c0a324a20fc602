package brain

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"

	"cortex/events"
)

// UnsavedPrompt stands in for a history query that was never persisted.
const UnsavedPrompt = "Unsaved user message"

// Lifecycle event kinds published by a Brain.
const (
	EventTokensCounted       events.Kind = "brain.chatTokens"
	EventPartialChunk        events.Kind = "brain.chatPartial"
	EventIntermediateStep    events.Kind = "brain.chatIntermediate"
	EventCompleted           events.Kind = "brain.chatComplete"
	EventError               events.Kind = "brain.chatError"
	EventToolBeforeExecution events.Kind = "brain.toolBeforeExecution"
	EventToolExecuted        events.Kind = "brain.toolExecuted"
)

var (
	ErrNoBackend      = errors.New("brain: no backend model configured")
	ErrNegativeMemory = errors.New("brain: memory window must not be negative")
	ErrEmptyResponse  = errors.New("brain: backend returned no choices")
)

// Exchange is one past turn of a conversation. A nil Query renders as UnsavedPrompt.
type Exchange struct {
	Query  *string `json:"query,omitempty"`
	Answer string  `json:"answer"`
}

// Request is everything the caller supplies for one call to Generate.
type Request struct {
	ID           string     `json:"id,omitempty"`      // Exchange ID, generated when empty
	Project      string     `json:"project,omitempty"` // Selects project rules and project info
	Prompt       string     `json:"prompt"`
	Images       []string   `json:"images,omitempty"` // Image URLs or data URIs, in order
	History      []Exchange `json:"history,omitempty"`
	AgentEnabled bool       `json:"agent_enabled,omitempty"`
}

// Response is the payload of EventCompleted and EventIntermediateStep.
type Response struct {
	Text           string          `json:"text"`
	StopReason     string          `json:"stop_reason,omitempty"`
	GenerationInfo map[string]any  `json:"generation_info,omitempty"`
	ToolCalls      []llms.ToolCall `json:"tool_calls,omitempty"`
}

// ToolRequest is the payload of EventToolBeforeExecution.
type ToolRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolExecution is the payload of EventToolExecuted.
type ToolExecution struct {
	Request ToolRequest `json:"request"`
	Result  string      `json:"result"`
	Err     error       `json:"-"`
}

// RulesProvider supplies the system rules prepended to every conversation.
type RulesProvider interface {
	GlobalRules() string
	ProjectRules(project string) string
}

// TokenRecorder receives the composed input and the final output of each exchange.
// Implementations must not fail the call; errors are theirs to log.
type TokenRecorder interface {
	RecordInput(ctx context.Context, exchangeID string, messages []llms.MessageContent) int
	RecordOutput(ctx context.Context, exchangeID string, text string)
}

// ProjectInfo describes a project for the model. An empty result adds nothing.
type ProjectInfo func(project string) string

type noopRecorder struct{}

func (noopRecorder) RecordInput(context.Context, string, []llms.MessageContent) int { return 0 }
func (noopRecorder) RecordOutput(context.Context, string, string)                  {}

func responseFrom(choice *llms.ContentChoice) *Response {
	return &Response{
		Text:           choice.Content,
		StopReason:     choice.StopReason,
		GenerationInfo: choice.GenerationInfo,
		ToolCalls:      choice.ToolCalls,
	}
}
