package core

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// VerboseCallbackHandler logs every step of an agent run. One handler serves
// one exchange; NewVerboseCallbacks builds the per-exchange factory the Brain
// expects.
type VerboseCallbackHandler struct {
	requestLogger  *logrus.Entry
	iteration      int
	step           int
	truncateLength int
}

var _ callbacks.Handler = (*VerboseCallbackHandler)(nil)

func NewVerboseCallbackHandler(requestLogger *logrus.Entry, truncateLength int) *VerboseCallbackHandler {
	return &VerboseCallbackHandler{
		requestLogger:  requestLogger,
		truncateLength: truncateLength,
	}
}

// NewVerboseCallbacks returns a factory of handlers tagged with the exchange ID.
func NewVerboseCallbacks(logger *logrus.Entry, truncateLength int) func(exchangeID string) callbacks.Handler {
	return func(exchangeID string) callbacks.Handler {
		return NewVerboseCallbackHandler(logger.WithField("exchange_id", exchangeID), truncateLength)
	}
}

func (h *VerboseCallbackHandler) truncateForLog(text string) string {
	return truncate(text, h.truncateLength)
}

func (h *VerboseCallbackHandler) fields() logrus.Fields {
	return logrus.Fields{
		"iteration": h.iteration,
		"step":      h.step,
	}
}

func (h *VerboseCallbackHandler) HandleText(ctx context.Context, text string) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"text":       h.truncateForLog(text),
		"textLength": len(text),
	}).Debug("Agent processing text")
}

func (h *VerboseCallbackHandler) HandleLLMStart(ctx context.Context, prompts []string) {
	h.requestLogger.WithFields(h.fields()).WithField("promptCount", len(prompts)).Debug("LLM call beginning")
}

// HandleLLMGenerateContentStart opens a new iteration: each model turn of the
// agent loop starts here.
func (h *VerboseCallbackHandler) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	h.iteration++
	h.step = 0
	h.requestLogger.WithFields(h.fields()).WithField("messageCount", len(ms)).Info("Agent iteration started")
}

func (h *VerboseCallbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	h.step++
	fields := h.fields()
	if res != nil && len(res.Choices) > 0 {
		fields["response"] = h.truncateForLog(res.Choices[0].Content)
		fields["toolCalls"] = len(res.Choices[0].ToolCalls)
	}
	h.requestLogger.WithFields(fields).Info("LLM content generation completed")
}

func (h *VerboseCallbackHandler) HandleLLMError(ctx context.Context, err error) {
	h.requestLogger.WithFields(h.fields()).WithError(err).Error("LLM call failed")
}

func (h *VerboseCallbackHandler) HandleChainStart(ctx context.Context, inputs map[string]any) {
	h.requestLogger.WithFields(h.fields()).WithField("inputs", inputs).Debug("Agent chain execution started")
}

func (h *VerboseCallbackHandler) HandleChainEnd(ctx context.Context, outputs map[string]any) {
	h.requestLogger.WithFields(h.fields()).WithField("totalIterations", h.iteration).Info("Agent chain execution completed")
}

func (h *VerboseCallbackHandler) HandleChainError(ctx context.Context, err error) {
	h.requestLogger.WithFields(h.fields()).WithError(err).WithField("totalIterations", h.iteration).Error("Agent chain execution failed")
}

func (h *VerboseCallbackHandler) HandleToolStart(ctx context.Context, input string) {
	h.step++
	h.requestLogger.WithFields(h.fields()).WithField("input", h.truncateForLog(input)).Info("Tool execution started")
}

func (h *VerboseCallbackHandler) HandleToolEnd(ctx context.Context, output string) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"output":       h.truncateForLog(output),
		"outputLength": len(output),
	}).Info("Tool execution completed")
}

func (h *VerboseCallbackHandler) HandleToolError(ctx context.Context, err error) {
	h.requestLogger.WithFields(h.fields()).WithError(err).Error("Tool execution failed")
}

func (h *VerboseCallbackHandler) HandleAgentAction(ctx context.Context, action schema.AgentAction) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"action":     action.Tool,
		"input":      h.truncateForLog(action.ToolInput),
		"toolCallID": action.ToolID,
	}).Info("Agent decided on action")
}

func (h *VerboseCallbackHandler) HandleAgentFinish(ctx context.Context, finish schema.AgentFinish) {
	fields := h.fields()
	if output, ok := finish.ReturnValues["output"].(string); ok {
		fields["finalResponse"] = h.truncateForLog(output)
	}
	fields["totalIterations"] = h.iteration
	h.requestLogger.WithFields(fields).Info("Agent finished successfully")
}

func (h *VerboseCallbackHandler) HandleRetrieverStart(ctx context.Context, query string) {
	h.requestLogger.WithFields(h.fields()).WithField("query", query).Debug("Retriever started")
}

func (h *VerboseCallbackHandler) HandleRetrieverEnd(ctx context.Context, query string, documents []schema.Document) {
	h.requestLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"query":         query,
		"documentCount": len(documents),
	}).Debug("Retriever completed")
}

func (h *VerboseCallbackHandler) HandleStreamingFunc(ctx context.Context, chunk []byte) {
	h.requestLogger.WithFields(h.fields()).WithField("chunkSize", len(chunk)).Debug("Streaming chunk received")
}
