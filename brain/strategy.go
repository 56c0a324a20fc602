package brain

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// strategy is one of the four execution modes, chosen once per call.
type strategy interface {
	run(ctx context.Context, x *exchange) string
}

type (
	syncPlain      struct{ b *Brain }
	syncAgent      struct{ b *Brain }
	streamingPlain struct{ b *Brain }
	streamingAgent struct{ b *Brain }
)

func (b *Brain) strategyFor(agent bool) strategy {
	switch {
	case b.streamingModel != nil && agent:
		return streamingAgent{b}
	case b.streamingModel != nil:
		return streamingPlain{b}
	case agent:
		return syncAgent{b}
	default:
		return syncPlain{b}
	}
}

func (s syncPlain) run(ctx context.Context, x *exchange) string {
	resp, err := guard(func() (*Response, error) {
		return generate(ctx, s.b.chatModel, x.messages)
	})
	return s.b.finish(ctx, x, resp, err)
}

func (s syncAgent) run(ctx context.Context, x *exchange) string {
	resp, err := guard(func() (*Response, error) {
		return s.b.newAgentRunner(s.b.chatModel, x, false).run(ctx)
	})
	return s.b.finish(ctx, x, resp, err)
}

func (s streamingPlain) run(ctx context.Context, x *exchange) string {
	b := s.b
	go b.stream(ctx, x, func(sctx context.Context) (*Response, error) {
		return generate(sctx, b.streamingModel, x.messages, llms.WithStreamingFunc(b.partials(x)))
	})
	return ""
}

func (s streamingAgent) run(ctx context.Context, x *exchange) string {
	runner := s.b.newAgentRunner(s.b.streamingModel, x, true)
	go s.b.stream(ctx, x, runner.run)
	return ""
}

// finish publishes the outcome of a synchronous call and returns its text.
func (b *Brain) finish(ctx context.Context, x *exchange, resp *Response, err error) string {
	if err != nil {
		x.logger.WithError(err).Error("Backend call failed")
		b.fire(x, EventError, err)
		return RenderFailure(err)
	}

	x.logger.WithField("answer_length", len(resp.Text)).Info("Exchange completed")
	b.fire(x, EventCompleted, resp)

	go b.recordOutput(context.WithoutCancel(ctx), x, resp.Text)
	return resp.Text
}

// stream runs a streaming session to completion on the calling goroutine.
// The session outlives the caller's context, bounded by the stream timeout.
func (b *Brain) stream(ctx context.Context, x *exchange, session func(context.Context) (*Response, error)) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.streamTimeout)
	defer cancel()

	resp, err := guard(func() (*Response, error) { return session(sctx) })
	if err != nil {
		x.logger.WithError(err).Error("Streaming session failed")
		b.fire(x, EventError, err)
		return
	}

	x.logger.WithField("answer_length", len(resp.Text)).Info("Streaming session completed")
	b.fire(x, EventCompleted, resp)
}

// partials re-publishes streamed chunks of x.
func (b *Brain) partials(x *exchange) func(context.Context, []byte) error {
	return func(_ context.Context, chunk []byte) error {
		if len(chunk) > 0 {
			b.fire(x, EventPartialChunk, string(chunk))
		}
		return nil
	}
}

func generate(ctx context.Context, model llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (*Response, error) {
	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return responseFrom(resp.Choices[0]), nil
}

// guard converts a backend panic into an error.
func guard(fn func() (*Response, error)) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("backend panic: %v", r)
		}
	}()
	return fn()
}

// recordInput counts the tokens of x. A failing recorder counts zero.
func (b *Brain) recordInput(ctx context.Context, x *exchange) (tokens int) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.WithField("panic", r).Error("Token recorder failed on input")
			tokens = 0
		}
	}()
	return b.recorder.RecordInput(ctx, x.id, x.messages)
}

func (b *Brain) recordOutput(ctx context.Context, x *exchange, text string) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.WithField("panic", r).Error("Token recorder failed on output")
		}
	}()
	b.recorder.RecordOutput(ctx, x.id, text)
}
