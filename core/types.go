// Request and response types of the HTTP API.

package core

import "cortex/brain"

// ChatRequest represents incoming chat requests from clients.
type ChatRequest struct {
	Message   string   `json:"message"`             // The user's message
	SessionID string   `json:"sessionId,omitempty"` // Optional session for conversation continuity
	Project   string   `json:"project,omitempty"`   // Selects project rules and description
	Images    []string `json:"images,omitempty"`    // Image URLs or data URIs attached to the message
	Agent     *bool    `json:"agent,omitempty"`     // Agent mode, the server default when absent
}

// ChatResponse is the result of a chat or describe request.
type ChatResponse struct {
	Response   string `json:"response"`        // The answer, or a rendered failure
	SessionID  string `json:"sessionId"`       // Session to send with the next request
	ExchangeID string `json:"exchangeId"`      // Identifies the exchange in events and usage
	Error      string `json:"error,omitempty"` // Set when the backend failed
}

// DescribeRequest asks a question about a piece of code.
type DescribeRequest struct {
	SessionID     string   `json:"sessionId,omitempty"`
	Project       string   `json:"project,omitempty"`
	Source        string   `json:"source,omitempty"`        // Whole source file
	MethodContent string   `json:"methodContent,omitempty"` // Single method, preferred over Source
	Query         string   `json:"query"`
	SessionRules  string   `json:"sessionRules,omitempty"`
	Images        []string `json:"images,omitempty"`
	Agent         *bool    `json:"agent,omitempty"`
}

// PairRequest is the body of POST /pair/:specialist. Which fields are read
// depends on the specialist and action.
type PairRequest struct {
	Action       string `json:"action,omitempty"`  // techwriter: "generate", "enhance" or "describe"
	Element      string `json:"element,omitempty"` // techwriter: "class", "method" or "member"
	Project      string `json:"project,omitempty"`
	Code         string `json:"code,omitempty"`
	Javadoc      string `json:"javadoc,omitempty"`
	Prompt       string `json:"prompt,omitempty"`   // db: the user's question
	Metadata     string `json:"metadata,omitempty"` // db: schema metadata
	Query        string `json:"query,omitempty"`    // test: what to test
	ProjectCode  string `json:"projectCode,omitempty"`
	ClassCode    string `json:"classCode,omitempty"`
	MethodCode   string `json:"methodCode,omitempty"`
	SessionRules string `json:"sessionRules,omitempty"`
}

// PairResponse is the answer of a pair programmer.
type PairResponse struct {
	Specialist string `json:"specialist"`
	Response   string `json:"response"`
}

// StreamMessage is one server-sent event of POST /chat/stream. The Type field
// determines how the client should handle it: "session", "execution_started",
// "tokens", "partial", "intermediate", "tool", "tool_result", "response",
// "error" or "stopped".
type StreamMessage struct {
	Type       string                 `json:"type"`
	Content    string                 `json:"content"`
	ExchangeID string                 `json:"exchangeId,omitempty"`
	Tool       string                 `json:"tool,omitempty"`
	Complete   bool                   `json:"complete"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// StopRequest represents a client request to stop waiting on an exchange.
type StopRequest struct {
	ExecutionID string `json:"executionId"` // Exchange ID announced by execution_started
}

// StopResponse represents the server's response to a stop request.
type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stopped bool   `json:"stopped"`
}

func (r ChatRequest) agentMode(fallback bool) bool {
	if r.Agent == nil {
		return fallback
	}
	return *r.Agent
}

func (r DescribeRequest) agentMode(fallback bool) bool {
	if r.Agent == nil {
		return fallback
	}
	return *r.Agent
}

func (r ChatRequest) brainRequest(exchangeID string, history []brain.Exchange, agent bool) brain.Request {
	return brain.Request{
		ID:           exchangeID,
		Project:      r.Project,
		Prompt:       r.Message,
		Images:       r.Images,
		History:      history,
		AgentEnabled: agent,
	}
}
