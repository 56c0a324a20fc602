/*
Package pair holds the pair programmer specialists: fixed system and user
prompt templates bound to a chat model.

Each specialist renders its templates with langchaingo go-template prompts,
sends a system message followed by the rendered user turn and returns the
model's text. A specialist may share a memory window with its Brain so that
follow-up questions see earlier answers.
*/
package pair

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

// NoRules replaces blank rule sets in prompts.
const NoRules = "no rules"

var ErrNoModel = errors.New("pair: no chat model configured")

// Memory is a trailing window of earlier turns.
type Memory interface {
	Messages(ctx context.Context) []llms.MessageContent
	Record(ctx context.Context, query, answer string)
}

// Option configures a specialist.
type Option func(*specialist)

// WithMemory shares a memory window with the specialist.
func WithMemory(memory Memory) Option {
	return func(s *specialist) { s.memory = memory }
}

// WithLogger sets the logger entry the specialist writes to.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *specialist) { s.logger = logger }
}

type specialist struct {
	name   string
	model  llms.Model
	system prompts.PromptTemplate
	user   prompts.PromptTemplate
	memory Memory
	logger *logrus.Entry
}

func newSpecialist(name string, model llms.Model, system, user string, opts []Option) specialist {
	s := specialist{
		name:   name,
		model:  model,
		system: prompts.NewPromptTemplate(system, nil),
		user:   prompts.NewPromptTemplate(user, nil),
		logger: logrus.WithField("component", "pair"),
	}
	for _, opt := range opts {
		opt(&s)
	}
	s.logger = s.logger.WithField("specialist", name)
	return s
}

// ask renders both templates with vars and returns the model's answer.
func (s *specialist) ask(ctx context.Context, vars map[string]any) (string, error) {
	if s.model == nil {
		return "", ErrNoModel
	}

	system, err := s.system.Format(vars)
	if err != nil {
		return "", fmt.Errorf("render %s system prompt: %w", s.name, err)
	}
	user, err := s.user.Format(vars)
	if err != nil {
		return "", fmt.Errorf("render %s user prompt: %w", s.name, err)
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, system)}
	if s.memory != nil {
		messages = append(messages, s.memory.Messages(ctx)...)
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, user))

	s.logger.WithFields(logrus.Fields{
		"messages":    len(messages),
		"user_length": len(user),
	}).Debug("Asking specialist")

	resp, err := s.model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: backend returned no choices", s.name)
	}

	answer := resp.Choices[0].Content
	if s.memory != nil {
		s.memory.Record(ctx, user, answer)
	}
	return answer, nil
}

// NormalizeRules maps blank rules to NoRules.
func NormalizeRules(rules string) string {
	if strings.TrimSpace(rules) == "" {
		return NoRules
	}
	return rules
}
