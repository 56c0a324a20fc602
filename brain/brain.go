/*
Package brain turns application requests into conversations with a language
model backend.

A Brain is bound to exactly one backend, either used synchronously or in
streaming mode, and optionally to a fixed set of tools the model may call.
Every call to Generate composes the message sequence, reports the input to the
token recorder and dispatches it through one of four execution strategies.
Lifecycle notifications (token counts, partial chunks, intermediate steps, tool
invocations, completion and errors) are published on the Brain's embedded
events.Emitter, tagged with the exchange ID so concurrent exchanges can be told
apart.
*/
package brain

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"

	"cortex/events"
)

const (
	defaultMaxIterations = 10
	defaultStreamTimeout = 5 * time.Minute
)

// Brain dispatches requests to a single backend model.
type Brain struct {
	events.Emitter

	name           string
	chatModel      llms.Model
	streamingModel llms.Model
	streaming      bool
	tools          []tools.Tool
	memorySize     int
	window         *MessageWindow
	rules          RulesProvider
	recorder       TokenRecorder
	projectInfo    ProjectInfo
	callbacks      func(exchangeID string) callbacks.Handler
	maxIterations  int
	streamTimeout  time.Duration
	logger         *logrus.Entry
}

// Option configures a Brain at construction.
type Option func(*Brain)

// WithName labels the Brain in logs.
func WithName(name string) Option {
	return func(b *Brain) { b.name = name }
}

// WithStreaming binds the model as a streaming backend.
func WithStreaming() Option {
	return func(b *Brain) { b.streaming = true }
}

// WithTools fixes the tools available in agent mode. The slice is copied.
func WithTools(ts ...tools.Tool) Option {
	return func(b *Brain) { b.tools = slices.Clone(ts) }
}

// WithMemory keeps the last size messages of agent conversations.
func WithMemory(size int) Option {
	return func(b *Brain) { b.memorySize = size }
}

// WithRules sets the provider of global and per-project system rules.
func WithRules(rules RulesProvider) Option {
	return func(b *Brain) { b.rules = rules }
}

// WithTokenRecorder sets the token accounting collaborator.
func WithTokenRecorder(recorder TokenRecorder) Option {
	return func(b *Brain) { b.recorder = recorder }
}

// WithProjectInfo appends a project description to prompts that name a project.
func WithProjectInfo(info ProjectInfo) Option {
	return func(b *Brain) { b.projectInfo = info }
}

// WithCallbacks adds a per-exchange langchaingo callback handler to agent runs,
// typically for verbose logging.
func WithCallbacks(factory func(exchangeID string) callbacks.Handler) Option {
	return func(b *Brain) { b.callbacks = factory }
}

// WithMaxIterations bounds the number of model turns of an agent run.
func WithMaxIterations(n int) Option {
	return func(b *Brain) {
		if n > 0 {
			b.maxIterations = n
		}
	}
}

// WithStreamTimeout bounds how long a streaming session may run after the
// caller's context is gone.
func WithStreamTimeout(d time.Duration) Option {
	return func(b *Brain) {
		if d > 0 {
			b.streamTimeout = d
		}
	}
}

// WithLogger sets the logger entry the Brain writes to.
func WithLogger(logger *logrus.Entry) Option {
	return func(b *Brain) { b.logger = logger }
}

// New returns a Brain bound to model.
func New(model llms.Model, opts ...Option) (*Brain, error) {
	b := &Brain{
		name:          "default",
		maxIterations: defaultMaxIterations,
		streamTimeout: defaultStreamTimeout,
		recorder:      noopRecorder{},
		logger:        logrus.WithField("component", "brain"),
	}
	for _, opt := range opts {
		opt(b)
	}

	if model == nil {
		return nil, ErrNoBackend
	}
	if b.memorySize < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeMemory, b.memorySize)
	}
	if b.recorder == nil {
		b.recorder = noopRecorder{}
	}

	if b.streaming {
		b.streamingModel = model
	} else {
		b.chatModel = model
	}
	b.window = NewMessageWindow(b.memorySize)
	b.logger = b.logger.WithField("brain", b.name)
	b.SetSource(b)

	return b, nil
}

// Name returns the label given at construction.
func (b *Brain) Name() string { return b.name }

// Streaming reports whether the Brain is bound to a streaming backend.
func (b *Brain) Streaming() bool { return b.streamingModel != nil }

// Tools returns a copy of the tools available in agent mode.
func (b *Brain) Tools() []tools.Tool { return slices.Clone(b.tools) }

// MemorySize returns the configured agent memory window.
func (b *Brain) MemorySize() int { return b.memorySize }

// ClearMemory forgets the agent memory window.
func (b *Brain) ClearMemory(ctx context.Context) { b.window.Clear(ctx) }

// exchange is the per-call state shared by the strategies.
type exchange struct {
	id       string
	messages []llms.MessageContent
	logger   *logrus.Entry
}

// Generate dispatches req to the backend and returns the answer text.
//
// Synchronous Brains block until the backend answers and return either the
// answer or a rendered failure. Streaming Brains return "" once the session is
// started; the answer arrives through EventCompleted.
func (b *Brain) Generate(ctx context.Context, req Request) string {
	if b == nil || (b.chatModel == nil && b.streamingModel == nil) {
		panic(ErrNoBackend)
	}

	x := &exchange{id: req.ID}
	if x.id == "" {
		x.id = uuid.NewString()
	}
	x.logger = b.logger.WithFields(logrus.Fields{
		"exchange_id": x.id,
		"agent":       req.AgentEnabled,
		"streaming":   b.Streaming(),
	})

	x.messages = Compose(b.systemRules(req.Project), req.History, b.promptFor(req), req.Images)
	x.logger.WithFields(logrus.Fields{
		"messages": len(x.messages),
		"images":   len(req.Images),
		"history":  len(req.History),
	}).Debug("Composed conversation")

	b.fire(x, EventTokensCounted, b.recordInput(ctx, x))

	return b.strategyFor(req.AgentEnabled).run(ctx, x)
}

func (b *Brain) systemRules(project string) string {
	if b.rules == nil {
		return ""
	}
	var projectRules string
	if project != "" {
		projectRules = b.rules.ProjectRules(project)
	}
	return joinRules(b.rules.GlobalRules(), projectRules)
}

func (b *Brain) promptFor(req Request) string {
	if req.Project == "" || b.projectInfo == nil {
		return req.Prompt
	}
	if info := b.projectInfo(req.Project); info != "" {
		return req.Prompt + "\n" + info
	}
	return req.Prompt
}

func (b *Brain) fire(x *exchange, kind events.Kind, value any) {
	b.PublishEvent(events.Event{Kind: kind, Exchange: x.id, NewValue: value})
}
