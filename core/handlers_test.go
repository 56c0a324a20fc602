package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

func TestVerboseCallbacksTrackIterations(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	ctx := context.Background()

	handler := NewVerboseCallbacks(logger.WithField("component", "agent"), 10)("x1")

	handler.HandleLLMGenerateContentStart(ctx, nil)
	handler.HandleLLMGenerateContentEnd(ctx, &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content: strings.Repeat("a", 50),
	}}})
	handler.HandleAgentAction(ctx, schema.AgentAction{Tool: "ls", ToolInput: "src", ToolID: "call-1"})
	handler.HandleToolStart(ctx, "src")
	handler.HandleToolError(ctx, errors.New("denied"))
	handler.HandleLLMGenerateContentStart(ctx, nil)

	entries := hook.AllEntries()
	require.Len(t, entries, 6)
	for _, entry := range entries {
		assert.Equal(t, "x1", entry.Data["exchange_id"])
	}

	assert.Equal(t, "Agent iteration started", entries[0].Message)
	assert.Equal(t, 1, entries[0].Data["iteration"])
	assert.Equal(t, strings.Repeat("a", 10)+"...", entries[1].Data["response"])
	assert.Equal(t, "call-1", entries[2].Data["toolCallID"])
	assert.Equal(t, 2, entries[3].Data["step"])
	assert.Equal(t, logrus.ErrorLevel, entries[4].Level)

	last := hook.LastEntry()
	assert.Equal(t, 2, last.Data["iteration"])
	assert.Equal(t, 0, last.Data["step"])
}
