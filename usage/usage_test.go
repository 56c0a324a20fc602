package usage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func wordCounter(_, text string) int { return len(strings.Fields(text)) }

func TestStore_SaveAndExchangeUsage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveUsage(ctx, &Record{
		ID: uuid.NewString(), ExchangeID: "ex-1", Direction: DirectionInput, Model: "gpt-4", Tokens: 120, CreatedAt: created,
	}))
	require.NoError(t, store.SaveUsage(ctx, &Record{
		ID: uuid.NewString(), ExchangeID: "ex-1", Direction: DirectionOutput, Model: "gpt-4", Tokens: 40, CreatedAt: created.Add(time.Second),
	}))
	require.NoError(t, store.SaveUsage(ctx, &Record{
		ID: uuid.NewString(), ExchangeID: "ex-2", Direction: DirectionInput, Tokens: 7, CreatedAt: created,
	}))

	records, err := store.ExchangeUsage(ctx, "ex-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, DirectionInput, records[0].Direction)
	assert.Equal(t, 120, records[0].Tokens)
	assert.Equal(t, "gpt-4", records[0].Model)
	assert.True(t, created.Equal(records[0].CreatedAt))
	assert.Equal(t, DirectionOutput, records[1].Direction)

	none, err := store.ExchangeUsage(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_RejectsUnknownDirection(t *testing.T) {
	store := setupTestStore(t)
	err := store.SaveUsage(context.Background(), &Record{
		ID: uuid.NewString(), ExchangeID: "ex", Direction: "sideways", CreatedAt: time.Now(),
	})
	assert.Error(t, err)
}

func TestStore_Stats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, r := range []Record{
		{ExchangeID: "a", Direction: DirectionInput, Tokens: 10, CreatedAt: base},
		{ExchangeID: "a", Direction: DirectionOutput, Tokens: 5, CreatedAt: base},
		{ExchangeID: "b", Direction: DirectionInput, Tokens: 20, CreatedAt: base.Add(48 * time.Hour)},
	} {
		r.ID = uuid.NewString()
		require.NoError(t, store.SaveUsage(ctx, &r), "record %d", i)
	}

	all, err := store.Stats(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, &Stats{InputTokens: 30, OutputTokens: 5, TotalTokens: 35, Exchanges: 2}, all)

	since := base.Add(24 * time.Hour)
	recent, err := store.Stats(ctx, Filter{Since: &since})
	require.NoError(t, err)
	assert.Equal(t, &Stats{InputTokens: 20, TotalTokens: 20, Exchanges: 1}, recent)

	early, err := store.Stats(ctx, Filter{Until: &since})
	require.NoError(t, err)
	assert.Equal(t, int64(15), early.TotalTokens)
}

func TestTracker_RecordsBothDirections(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	tracker := NewTracker(store, "gpt-4", WithCounter(wordCounter))

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "be brief"),
		{Role: llms.ChatMessageTypeHuman, Parts: []llms.ContentPart{
			llms.TextContent{Text: "what is in this image"},
			llms.ImageURLContent{URL: "https://example.com/cat.png"},
		}},
	}

	assert.Equal(t, 7, tracker.RecordInput(ctx, "ex-1", messages))
	tracker.RecordOutput(ctx, "ex-1", "a cat")

	records, err := store.ExchangeUsage(ctx, "ex-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 7, records[0].Tokens)
	assert.Equal(t, 2, records[1].Tokens)
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) SaveUsage(context.Context, *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("disk full")
}

func (f *failingStore) ExchangeUsage(context.Context, string) ([]*Record, error) { return nil, nil }
func (f *failingStore) Stats(context.Context, Filter) (*Stats, error)            { return &Stats{}, nil }

func TestTracker_StoreFailuresAreSwallowed(t *testing.T) {
	store := &failingStore{}
	tracker := NewTracker(store, "gpt-4", WithCounter(wordCounter))

	assert.NotPanics(t, func() {
		assert.Equal(t, 2, tracker.RecordInput(context.Background(), "ex", []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeHuman, "two words"),
		}))
		tracker.RecordOutput(context.Background(), "ex", "three more words")
	})
	assert.Equal(t, 2, store.calls)
}

func TestTracker_CounterPanicFallsBackToApproximation(t *testing.T) {
	tracker := NewTracker(nil, "unknown", WithCounter(func(string, string) int { panic("no encoding") }))

	tokens := tracker.RecordInput(context.Background(), "ex", []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, "twelve chars"),
	})
	assert.Equal(t, 3, tokens)
}

func TestTracker_UsesClock(t *testing.T) {
	store := setupTestStore(t)
	fixed := time.Date(2024, 12, 24, 18, 30, 0, 0, time.UTC)
	tracker := NewTracker(store, "m", WithCounter(wordCounter), WithClock(func() time.Time { return fixed }))

	tracker.RecordOutput(context.Background(), "ex", "done")

	records, err := store.ExchangeUsage(context.Background(), "ex")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, fixed.Equal(records[0].CreatedAt))
}
