package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

// Counter returns the number of tokens of text for model.
type Counter func(model, text string) int

// Tracker counts the tokens of each exchange and persists them. Failures are
// logged and never reach the caller.
type Tracker struct {
	store   Store
	model   string
	counter Counter
	now     func() time.Time
	logger  *logrus.Entry
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithCounter replaces the tiktoken based counter.
func WithCounter(counter Counter) TrackerOption {
	return func(t *Tracker) { t.counter = counter }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker counts tokens as model does and saves them to store. A nil store
// only counts.
func NewTracker(store Store, model string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:   store,
		model:   model,
		counter: llms.CountTokens,
		now:     time.Now,
		logger:  logrus.WithField("component", "usage"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordInput counts the text of messages and stores the total.
func (t *Tracker) RecordInput(ctx context.Context, exchangeID string, messages []llms.MessageContent) int {
	tokens := 0
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				tokens += t.count(text.Text)
			}
		}
	}
	t.save(ctx, exchangeID, DirectionInput, tokens)
	return tokens
}

// RecordOutput counts text and stores it.
func (t *Tracker) RecordOutput(ctx context.Context, exchangeID string, text string) {
	t.save(ctx, exchangeID, DirectionOutput, t.count(text))
}

func (t *Tracker) count(text string) (tokens int) {
	if text == "" {
		return 0
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithField("panic", r).Warn("Token counter failed, approximating")
			tokens = len(text) / 4
		}
	}()
	return t.counter(t.model, text)
}

func (t *Tracker) save(ctx context.Context, exchangeID string, direction Direction, tokens int) {
	if t.store == nil {
		return
	}

	err := t.store.SaveUsage(ctx, &Record{
		ID:         uuid.NewString(),
		ExchangeID: exchangeID,
		Direction:  direction,
		Model:      t.model,
		Tokens:     tokens,
		CreatedAt:  t.now(),
	})
	if err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"exchange_id": exchangeID,
			"direction":   direction,
		}).Warn("Failed to save token usage")
	}
}
