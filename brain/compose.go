package brain

import (
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Compose turns system rules, prior exchanges and the current prompt into the
// ordered message sequence sent to the backend.
//
// The result holds an optional system message (only when systemRules is not
// blank), a human/AI pair per exchange and the current human turn, so its
// length is always (rules?1:0) + 2*len(history) + 1. Images are attached to
// the current turn as one part each, after the text part.
func Compose(systemRules string, history []Exchange, prompt string, images []string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, 2*len(history)+2)

	if strings.TrimSpace(systemRules) != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, systemRules))
	}

	for _, exchange := range history {
		query := UnsavedPrompt
		if exchange.Query != nil {
			query = *exchange.Query
		}
		messages = append(messages,
			llms.TextParts(llms.ChatMessageTypeHuman, query),
			llms.TextParts(llms.ChatMessageTypeAI, exchange.Answer),
		)
	}

	return append(messages, userTurn(prompt, images))
}

func userTurn(prompt string, images []string) llms.MessageContent {
	parts := make([]llms.ContentPart, 0, len(images)+1)
	parts = append(parts, llms.TextContent{Text: prompt})
	for _, image := range images {
		parts = append(parts, llms.ImageURLContent{URL: image})
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts}
}

// joinRules merges global and project rules, skipping blank parts.
func joinRules(global, project string) string {
	var parts []string
	for _, r := range []string{global, project} {
		if strings.TrimSpace(r) != "" {
			parts = append(parts, r)
		}
	}
	return strings.Join(parts, "\n")
}

// textOf concatenates the text parts of a message.
func textOf(msg llms.MessageContent) string {
	var sb strings.Builder
	for _, part := range msg.Parts {
		if text, ok := part.(llms.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}
