package brain

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
)

// MessageWindow keeps the trailing messages of agent conversations so later
// calls can see earlier tool-augmented turns. Only text is retained; image
// parts of a human turn are dropped when it is recorded.
type MessageWindow struct {
	mu      sync.Mutex
	size    int
	history *memory.ChatMessageHistory
}

// NewMessageWindow returns a window holding at most size messages. A size of
// zero or less returns nil, which behaves as a window that never remembers.
func NewMessageWindow(size int) *MessageWindow {
	if size <= 0 {
		return nil
	}
	return &MessageWindow{
		size:    size,
		history: memory.NewChatMessageHistory(),
	}
}

// Size returns the maximum number of retained messages.
func (w *MessageWindow) Size() int {
	if w == nil {
		return 0
	}
	return w.size
}

// Messages returns the retained messages, oldest first.
func (w *MessageWindow) Messages(ctx context.Context) []llms.MessageContent {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	stored, _ := w.history.Messages(ctx)
	out := make([]llms.MessageContent, 0, len(stored))
	for _, msg := range stored {
		out = append(out, llms.TextParts(msg.GetType(), msg.GetContent()))
	}
	return out
}

// Record appends a completed turn and trims the window to its size.
func (w *MessageWindow) Record(ctx context.Context, query, answer string) {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.history.AddUserMessage(ctx, query)
	_ = w.history.AddAIMessage(ctx, answer)

	stored, _ := w.history.Messages(ctx)
	if len(stored) > w.size {
		trimmed := make([]llms.ChatMessage, w.size)
		copy(trimmed, stored[len(stored)-w.size:])
		_ = w.history.SetMessages(ctx, trimmed)
	}
}

// Clear forgets every retained message.
func (w *MessageWindow) Clear(ctx context.Context) {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.history.Clear(ctx)
}

// splice inserts the window contents before the final message of base.
func (w *MessageWindow) splice(ctx context.Context, base []llms.MessageContent) []llms.MessageContent {
	remembered := w.Messages(ctx)
	if len(remembered) == 0 || len(base) == 0 {
		return base
	}

	last := len(base) - 1
	out := make([]llms.MessageContent, 0, len(base)+len(remembered))
	out = append(out, base[:last]...)
	out = append(out, remembered...)
	return append(out, base[last])
}
