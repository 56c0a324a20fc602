package brain

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"cortex/pair"
)

// DescriptionRequest asks for an answer about a piece of code.
type DescriptionRequest struct {
	ID            string
	Project       string
	Source        string // Whole source file, ignored when MethodContent is set
	MethodContent string
	Query         string
	SessionRules  string
	Images        []string
	History       []Exchange
	AgentEnabled  bool
}

// GenerateDescription wraps the query with session rules and the code under
// discussion and dispatches it through Generate.
func (b *Brain) GenerateDescription(ctx context.Context, req DescriptionRequest) string {
	return b.Generate(ctx, Request{
		ID:           req.ID,
		Project:      req.Project,
		Prompt:       describePrompt(req),
		Images:       req.Images,
		History:      req.History,
		AgentEnabled: req.AgentEnabled,
	})
}

func describePrompt(req DescriptionRequest) string {
	var sb strings.Builder
	if req.SessionRules != "" {
		sb.WriteString(req.SessionRules)
		sb.WriteString("\n\n")
	}

	switch {
	case req.MethodContent != "":
		sb.WriteString("Method Content:\n")
		sb.WriteString(req.MethodContent)
		sb.WriteString("\n\nDo not return complete Java Class, return only Method\n\n")
	case req.Source != "":
		sb.WriteString("Source:\n")
		sb.WriteString(req.Source)
		sb.WriteString("\n\n")
	}

	sb.WriteString("User Query:\n")
	sb.WriteString(req.Query)
	return sb.String()
}

// TechWriter returns a javadoc writer bound to the synchronous backend.
// It panics on a streaming Brain.
func (b *Brain) TechWriter() *pair.TechWriter {
	return pair.NewTechWriter(b.pairModel(), b.pairOptions()...)
}

// DBSpecialist returns a database assistant bound to the synchronous backend.
// It panics on a streaming Brain.
func (b *Brain) DBSpecialist() *pair.DBSpecialist {
	return pair.NewDBSpecialist(b.pairModel(), b.pairOptions()...)
}

// TestSpecialist returns a unit test writer bound to the synchronous backend.
// It panics on a streaming Brain.
func (b *Brain) TestSpecialist() *pair.TestSpecialist {
	return pair.NewTestSpecialist(b.pairModel(), b.pairOptions()...)
}

func (b *Brain) pairModel() llms.Model {
	if b.chatModel == nil {
		panic("brain: pair programmers require a synchronous backend")
	}
	return b.chatModel
}

// pairOptions gives each specialist a window of its own so that whole classes
// sent for documentation never reach later agent runs.
func (b *Brain) pairOptions() []pair.Option {
	opts := []pair.Option{pair.WithLogger(b.logger)}
	if window := NewMessageWindow(b.memorySize); window != nil {
		opts = append(opts, pair.WithMemory(window))
	}
	return opts
}
