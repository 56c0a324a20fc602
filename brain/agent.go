package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/agents"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/tools"

	"cortex/events"
)

const (
	agentInputKey  = "input"
	agentOutputKey = "output"
)

// agentRunner drives one tool-augmented exchange.
type agentRunner struct {
	agent    *toolAgent
	executor *agents.Executor
	window   *MessageWindow
	base     []llms.MessageContent
	query    string
	logger   *logrus.Entry
}

// newAgentRunner wires model, the Brain's tools and memory window into an
// executor for x. It performs no I/O.
func (b *Brain) newAgentRunner(model llms.Model, x *exchange, streaming bool) *agentRunner {
	if model == nil {
		panic("brain: agent runner requires a backend model")
	}

	observer := &eventHandler{brain: b, x: x}
	var handler callbacks.Handler = observer
	if b.callbacks != nil {
		if extra := b.callbacks(x.id); extra != nil {
			handler = callbacks.CombiningHandler{Callbacks: []callbacks.Handler{observer, extra}}
		}
	}

	observed := make([]tools.Tool, 0, len(b.tools))
	for _, t := range b.tools {
		observed = append(observed, &observedTool{Tool: t, observer: observer})
	}

	var opts []llms.CallOption
	if len(observed) > 0 {
		opts = append(opts, llms.WithTools(toolDefinitions(observed)))
	}
	if streaming {
		opts = append(opts, llms.WithStreamingFunc(b.partials(x)))
	}

	agent := &toolAgent{
		model:   model,
		tools:   observed,
		handler: handler,
		options: opts,
	}

	return &agentRunner{
		agent: agent,
		executor: agents.NewExecutor(agent,
			agents.WithMaxIterations(b.maxIterations),
			agents.WithCallbacksHandler(handler),
		),
		window: b.window,
		base:   x.messages,
		query:  textOf(x.messages[len(x.messages)-1]),
		logger: x.logger,
	}
}

func (r *agentRunner) run(ctx context.Context) (*Response, error) {
	r.agent.messages = r.window.splice(ctx, r.base)
	r.logger.WithFields(logrus.Fields{
		"tools":      len(r.agent.tools),
		"remembered": len(r.agent.messages) - len(r.base),
	}).Info("Starting agent execution")

	output, err := chains.Run(ctx, r.executor, r.query)
	if err != nil {
		return nil, fmt.Errorf("agent execution: %w", err)
	}

	r.window.Record(ctx, r.query, output)

	resp := &Response{Text: output}
	if last := r.agent.lastChoice(); last != nil {
		resp.StopReason = last.StopReason
		resp.GenerationInfo = last.GenerationInfo
	}
	return resp, nil
}

// toolAgent is an agents.Agent using the backend's native tool calling. Each
// plan replays the conversation followed by one call/result pair per step.
type toolAgent struct {
	model    llms.Model
	tools    []tools.Tool
	handler  callbacks.Handler
	options  []llms.CallOption
	messages []llms.MessageContent

	mu   sync.Mutex
	last *llms.ContentChoice
}

var _ agents.Agent = (*toolAgent)(nil)

func (a *toolAgent) Plan(ctx context.Context, steps []schema.AgentStep, _ map[string]string) ([]schema.AgentAction, *schema.AgentFinish, error) {
	transcript := a.transcript(steps)

	if a.handler != nil {
		a.handler.HandleLLMGenerateContentStart(ctx, transcript)
	}
	resp, err := a.model.GenerateContent(ctx, transcript, a.options...)
	if err != nil {
		if a.handler != nil {
			a.handler.HandleLLMError(ctx, err)
		}
		return nil, nil, err
	}
	if a.handler != nil {
		a.handler.HandleLLMGenerateContentEnd(ctx, resp)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	a.mu.Lock()
	a.last = choice
	a.mu.Unlock()

	if len(choice.ToolCalls) == 0 {
		return nil, &schema.AgentFinish{
			ReturnValues: map[string]any{agentOutputKey: choice.Content},
			Log:          choice.Content,
		}, nil
	}

	actions := make([]schema.AgentAction, 0, len(choice.ToolCalls))
	for _, call := range choice.ToolCalls {
		if call.FunctionCall == nil {
			continue
		}
		actions = append(actions, schema.AgentAction{
			Tool:      call.FunctionCall.Name,
			ToolInput: call.FunctionCall.Arguments,
			Log:       choice.Content,
			ToolID:    call.ID,
		})
	}
	return actions, nil, nil
}

func (a *toolAgent) transcript(steps []schema.AgentStep) []llms.MessageContent {
	out := slices.Clone(a.messages)
	for _, step := range steps {
		call := llms.ToolCall{
			ID:   step.Action.ToolID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      step.Action.Tool,
				Arguments: step.Action.ToolInput,
			},
		}
		out = append(out,
			llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: []llms.ContentPart{call}},
			llms.MessageContent{Role: llms.ChatMessageTypeTool, Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: step.Action.ToolID,
				Name:       step.Action.Tool,
				Content:    step.Observation,
			}}},
		)
	}
	return out
}

func (a *toolAgent) lastChoice() *llms.ContentChoice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *toolAgent) GetInputKeys() []string  { return []string{agentInputKey} }
func (a *toolAgent) GetOutputKeys() []string { return []string{agentOutputKey} }
func (a *toolAgent) GetTools() []tools.Tool  { return a.tools }

// toolDefinitions describes every tool as a function taking a single string.
func toolDefinitions(ts []tools.Tool) []llms.Tool {
	defs := make([]llms.Tool, 0, len(ts))
	for _, t := range ts {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"input": map[string]any{
							"type":        "string",
							"description": "Input passed to the tool",
						},
					},
					"required": []string{"input"},
				},
			},
		})
	}
	return defs
}

// toolInput unwraps the {"input": "..."} arguments object. Anything else is
// passed through unchanged.
func toolInput(arguments string) string {
	var args struct {
		Input *string `json:"input"`
	}
	trimmed := strings.TrimSpace(arguments)
	if !strings.HasPrefix(trimmed, "{") {
		return arguments
	}
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil || args.Input == nil {
		return arguments
	}
	return *args.Input
}

// observedTool publishes tool lifecycle events around an invocation.
type observedTool struct {
	tools.Tool
	observer *eventHandler
}

func (t *observedTool) Call(ctx context.Context, arguments string) (string, error) {
	req := t.observer.pendingRequest(t.Name(), arguments)
	t.observer.fire(EventToolBeforeExecution, req)

	result, err := t.Tool.Call(ctx, toolInput(arguments))
	t.observer.fire(EventToolExecuted, ToolExecution{Request: req, Result: result, Err: err})
	if err != nil {
		t.observer.x.logger.WithError(err).WithField("tool", t.Name()).Warn("Tool execution failed")
		// The model sees the failure and may recover.
		return fmt.Sprintf("Error: %v", err), nil
	}
	return result, nil
}

// eventHandler re-publishes agent lifecycle callbacks on the Brain's bus.
type eventHandler struct {
	callbacks.SimpleHandler
	brain *Brain
	x     *exchange

	mu      sync.Mutex
	pending *ToolRequest
}

var _ callbacks.Handler = (*eventHandler)(nil)

func (h *eventHandler) fire(kind events.Kind, value any) {
	h.brain.fire(h.x, kind, value)
}

func (h *eventHandler) HandleLLMGenerateContentEnd(_ context.Context, res *llms.ContentResponse) {
	if res == nil || len(res.Choices) == 0 || len(res.Choices[0].ToolCalls) == 0 {
		return
	}
	h.fire(EventIntermediateStep, responseFrom(res.Choices[0]))
}

// HandleAgentAction runs right before the executor invokes a tool and carries
// the call ID the tool itself never sees.
func (h *eventHandler) HandleAgentAction(_ context.Context, action schema.AgentAction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = &ToolRequest{ID: action.ToolID, Name: action.Tool, Arguments: action.ToolInput}
}

func (h *eventHandler) pendingRequest(name, arguments string) ToolRequest {
	h.mu.Lock()
	defer h.mu.Unlock()

	req := ToolRequest{Name: name, Arguments: arguments}
	if h.pending != nil && strings.EqualFold(h.pending.Name, name) {
		req.ID = h.pending.ID
	}
	h.pending = nil
	return req
}
