// This file implements a wrapper around the backend model that removes the
// reasoning blocks some models (qwen3, deepseek-r1) put in front of their
// answers, both from complete responses and from streamed chunks.

package core

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

var (
	thinkBlockRegex   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	openThinkRegex    = regexp.MustCompile(`(?is)<think>.*`)
	reasoningRegex    = regexp.MustCompile(`(?is)<reasoning>.*?</reasoning>`)
	multiNewlineRegex = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// CleaningLLMWrapper strips reasoning tags from the responses of the wrapped model.
type CleaningLLMWrapper struct {
	wrappedLLM     llms.Model
	logger         *logrus.Entry
	truncateLength int
}

var _ llms.Model = (*CleaningLLMWrapper)(nil)

// NewCleaningLLMWrapper wraps llm. truncateLength bounds logged previews.
func NewCleaningLLMWrapper(llm llms.Model, logger *logrus.Entry, truncateLength int) *CleaningLLMWrapper {
	return &CleaningLLMWrapper{
		wrappedLLM:     llm,
		logger:         logger,
		truncateLength: truncateLength,
	}
}

// CleanResponse removes <think> and <reasoning> blocks, including an unclosed
// trailing <think>, and collapses the blank lines they leave behind.
func CleanResponse(response string) string {
	cleaned := thinkBlockRegex.ReplaceAllString(response, "")
	cleaned = openThinkRegex.ReplaceAllString(cleaned, "")
	cleaned = reasoningRegex.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	return multiNewlineRegex.ReplaceAllString(cleaned, "\n\n")
}

// GenerateContent cleans every choice of the wrapped model's response. A
// streaming function among options only sees text outside <think> blocks.
// Tool calls pass through untouched.
func (w *CleaningLLMWrapper) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}
	if opts.StreamingFunc != nil {
		filter := &thinkFilter{next: opts.StreamingFunc}
		options = append(options, llms.WithStreamingFunc(filter.write))
	}

	response, err := w.wrappedLLM.GenerateContent(ctx, messages, options...)
	if err != nil {
		return response, err
	}

	if response != nil {
		for _, choice := range response.Choices {
			original := choice.Content
			choice.Content = CleanResponse(original)
			if len(original) != len(choice.Content) {
				w.logger.WithFields(logrus.Fields{
					"originalLength":  len(original),
					"cleanedLength":   len(choice.Content),
					"originalPreview": truncate(original, w.truncateLength),
				}).Debug("Cleaned LLM response content")
			}
		}
	}

	return response, nil
}

// Call implements the legacy single prompt interface on top of GenerateContent.
func (w *CleaningLLMWrapper) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, w, prompt, options...)
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter drops streamed text between <think> and </think>. Tags may be
// split across chunks, so a suffix that could start a tag is held back until
// the next chunk decides it.
type thinkFilter struct {
	next    func(context.Context, []byte) error
	pending string
	inThink bool
}

func (f *thinkFilter) write(ctx context.Context, chunk []byte) error {
	s := f.pending + string(chunk)
	f.pending = ""

	var out strings.Builder
	for s != "" {
		if f.inThink {
			if i := strings.Index(s, thinkClose); i >= 0 {
				s = s[i+len(thinkClose):]
				f.inThink = false
				continue
			}
			f.pending = partialTag(s, thinkClose)
			break
		}
		if i := strings.Index(s, thinkOpen); i >= 0 {
			out.WriteString(s[:i])
			s = s[i+len(thinkOpen):]
			f.inThink = true
			continue
		}
		held := partialTag(s, thinkOpen)
		out.WriteString(s[:len(s)-len(held)])
		f.pending = held
		break
	}

	if out.Len() == 0 {
		return nil
	}
	return f.next(ctx, []byte(out.String()))
}

// partialTag returns the longest suffix of s that is a proper prefix of tag.
func partialTag(s, tag string) string {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return s[len(s)-n:]
		}
	}
	return ""
}

func truncate(text string, length int) string {
	if length <= 0 || len(text) <= length {
		return text
	}
	return text[:length] + "..."
}
