package brain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"cortex/events"
)

// turn is one scripted backend answer.
type turn struct {
	content   string
	toolCalls []llms.ToolCall
	chunks    []string
	err       error
	panicWith any
}

// scriptedModel answers GenerateContent with successive turns and records
// every request it receives.
type scriptedModel struct {
	mu      sync.Mutex
	turns   []turn
	calls   [][]llms.MessageContent
	options []llms.CallOptions
}

func newScriptedModel(turns ...turn) *scriptedModel {
	return &scriptedModel{turns: turns}
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	var o llms.CallOptions
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, messages)
	m.options = append(m.options, o)
	m.mu.Unlock()

	if idx >= len(m.turns) {
		return nil, errors.New("no scripted turn left")
	}
	t := m.turns[idx]
	if t.panicWith != nil {
		panic(t.panicWith)
	}
	if t.err != nil {
		return nil, t.err
	}
	if o.StreamingFunc != nil {
		for _, chunk := range t.chunks {
			if err := o.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:    t.content,
		ToolCalls:  t.toolCalls,
		StopReason: "stop",
	}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func (m *scriptedModel) requests() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

func (m *scriptedModel) callOptions() []llms.CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llms.CallOptions(nil), m.options...)
}

// recorder collects every event published by a Brain.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
	done   chan events.Event
}

func record(b *Brain) *recorder {
	r := &recorder{done: make(chan events.Event, 16)}
	b.Subscribe(func(ev events.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		if ev.Kind == EventCompleted || ev.Kind == EventError {
			r.done <- ev
		}
	})
	return r
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) ofKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// wait blocks until a completion or error event arrives.
func (r *recorder) wait(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-r.done:
		return ev
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for the exchange to finish")
		return events.Event{}
	}
}

// fakeRecorder counts words and remembers outputs.
type fakeRecorder struct {
	mu      sync.Mutex
	inputs  map[string]int
	outputs map[string]string
	written chan struct{}
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		inputs:  make(map[string]int),
		outputs: make(map[string]string),
		written: make(chan struct{}, 16),
	}
}

func (f *fakeRecorder) RecordInput(_ context.Context, exchangeID string, messages []llms.MessageContent) int {
	count := 0
	for _, msg := range messages {
		count += len(strings.Fields(textOf(msg)))
	}
	f.mu.Lock()
	f.inputs[exchangeID] = count
	f.mu.Unlock()
	return count
}

func (f *fakeRecorder) RecordOutput(_ context.Context, exchangeID string, text string) {
	f.mu.Lock()
	f.outputs[exchangeID] = text
	f.mu.Unlock()
	f.written <- struct{}{}
}

func (f *fakeRecorder) output(exchangeID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[exchangeID]
}

type staticRules struct {
	global   string
	projects map[string]string
}

func (s staticRules) GlobalRules() string                { return s.global }
func (s staticRules) ProjectRules(project string) string { return s.projects[project] }

// echoTool returns its input prefixed with its name.
type echoTool struct {
	name   string
	err    error
	mu     sync.Mutex
	inputs []string
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "Echoes its input" }

func (e *echoTool) Call(_ context.Context, input string) (string, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, input)
	e.mu.Unlock()
	if e.err != nil {
		return "", e.err
	}
	return e.name + ": " + input, nil
}

func toolCall(id, name, arguments string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: arguments},
	}
}

func strPtr(s string) *string { return &s }
