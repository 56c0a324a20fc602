package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"cortex/usage"
)

// reply is one scripted answer of the fake backend.
type reply struct {
	content   string
	chunks    []string
	toolCalls []llms.ToolCall
	err       error
	block     bool // wait for the request context to end
}

// fakeModel answers GenerateContent with successive replies. Once the script
// is exhausted every call answers with fallback.
type fakeModel struct {
	mu       sync.Mutex
	replies  []reply
	fallback string
	calls    [][]llms.MessageContent
}

func newFakeModel(replies ...reply) *fakeModel {
	return &fakeModel{replies: replies, fallback: "fallback answer"}
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, messages)
	r := reply{content: m.fallback}
	if idx < len(m.replies) {
		r = m.replies[idx]
	}
	m.mu.Unlock()

	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, r.err
	}
	if opts.StreamingFunc != nil {
		for _, chunk := range r.chunks {
			if err := opts.StreamingFunc(ctx, []byte(chunk)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:    r.content,
		ToolCalls:  r.toolCalls,
		StopReason: "stop",
	}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *fakeModel) requests() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

// lastPrompt returns the text of the final message of the last request.
func (m *fakeModel) lastPrompt() string {
	reqs := m.requests()
	if len(reqs) == 0 {
		return ""
	}
	messages := reqs[len(reqs)-1]
	return messageText(messages[len(messages)-1])
}

func messageText(msg llms.MessageContent) string {
	var sb strings.Builder
	for _, part := range msg.Parts {
		if text, ok := part.(llms.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

// wordCounter keeps token counts deterministic and offline.
func wordCounter(_, text string) int {
	return len(strings.Fields(text))
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const testRules = `global_rules: "Answer in English."
projects:
  shop:
    rules: "Prefer records over classes."
    description: "An online shop written in Java."
`

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()

	workspace := filepath.Join(dir, "workspace")
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "src", "Order.java"), []byte("public record Order(long id) {}\n"), 0o644))

	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0o644))

	return &Config{
		Port:              "0",
		LLMProvider:       "ollama",
		OllamaModel:       "test-model",
		AgentEnabled:      false,
		MaxIterations:     5,
		RequestTimeout:    5 * time.Second,
		StreamTimeout:     5 * time.Second,
		ContextLimit:      10,
		RulesFile:         rulesPath,
		UsageDBPath:       filepath.Join(dir, "usage.db"),
		WorkspaceDir:      workspace,
		SessionMaxAge:     time.Hour,
		LogLevel:          "error",
		LogTruncateLength: 200,
	}
}

// setupTestServer builds a server around model with routes registered on a
// fresh echo instance.
func setupTestServer(t *testing.T, model llms.Model, configure ...func(*Config)) (*Server, *echo.Echo) {
	t.Helper()

	config := testConfig(t)
	for _, fn := range configure {
		fn(config)
	}

	s, err := NewServerWithModel(config, quietLogger(), model, WithTrackerOptions(usage.WithCounter(wordCounter)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	e := echo.New()
	s.RegisterRoutes(e)
	return s, e
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// readStream parses the server-sent events of a /chat/stream response.
func readStream(t *testing.T, body io.Reader) []StreamMessage {
	t.Helper()

	var messages []StreamMessage
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var msg StreamMessage
		require.NoError(t, json.Unmarshal([]byte(data), &msg), data)
		messages = append(messages, msg)
	}
	require.NoError(t, scanner.Err())
	return messages
}

func messageTypes(messages []StreamMessage) []string {
	types := make([]string, 0, len(messages))
	for _, msg := range messages {
		types = append(types, msg.Type)
	}
	return types
}

var errBackendDown = errors.New("connection refused")

func boolPtr(b bool) *bool { return &b }
