package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var catLogger = logrus.WithField("tool", "cat")

// catMaxLines bounds the output so a large file cannot flood the context.
const catMaxLines = 200

type CatTool struct {
	workspace *Workspace
}

func NewCatTool(workspace *Workspace) *CatTool {
	catLogger.WithField("workspace", workspace.Root()).Debug("Initializing cat tool")
	return &CatTool{workspace: workspace}
}

func (c *CatTool) Description() string {
	return fmt.Sprintf("Display the contents of a workspace file. Provide a relative file path. Only the first %d lines are shown.", catMaxLines)
}

func (c *CatTool) Name() string {
	return "cat"
}

func (c *CatTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := catLogger.WithField("input", input)
	toolLogger.Info("Cat tool called")
	startTime := time.Now()

	if strings.TrimSpace(input) == "" {
		toolLogger.Warn("Empty file path provided")
		return "Error: Please provide a file path", nil
	}

	targetPath, err := c.workspace.Resolve(input)
	if err != nil {
		toolLogger.WithError(err).Warn("Rejected path")
		return "Error: " + err.Error(), nil
	}

	data, err := os.ReadFile(targetPath)
	if err != nil {
		toolLogger.WithError(err).WithField("targetPath", targetPath).Warn("Reading file failed")
		return fmt.Sprintf("Error: cannot read %s", c.workspace.relative(targetPath)), nil
	}
	if isBinary(data) {
		return fmt.Sprintf("Error: %s is a binary file", c.workspace.relative(targetPath)), nil
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lines := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if lines == catMaxLines {
			fmt.Fprintf(&sb, "... truncated after %d lines\n", catMaxLines)
			break
		}
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
		lines++
	}

	toolLogger.WithFields(logrus.Fields{
		"targetPath":    targetPath,
		"lines":         lines,
		"executionTime": time.Since(startTime),
	}).Info("cat completed")

	return sb.String(), nil
}

var _ tools.Tool = (*CatTool)(nil)
