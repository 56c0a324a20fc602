package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var lsLogger = logrus.WithField("tool", "ls")

type LsTool struct {
	workspace *Workspace
}

func NewLsTool(workspace *Workspace) *LsTool {
	lsLogger.WithField("workspace", workspace.Root()).Debug("Initializing ls tool")
	return &LsTool{workspace: workspace}
}

func (l *LsTool) Description() string {
	return "List the files and directories of a workspace directory. Use empty input or '.' for the workspace root, or a relative directory path."
}

func (l *LsTool) Name() string {
	return "ls"
}

func (l *LsTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := lsLogger.WithField("input", input)
	toolLogger.Info("Ls tool called")
	startTime := time.Now()

	targetPath, err := l.workspace.Resolve(input)
	if err != nil {
		toolLogger.WithError(err).Warn("Rejected path")
		return "Error: " + err.Error(), nil
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		toolLogger.WithError(err).Warn("ls failed")
		return fmt.Sprintf("Error: %s does not exist", l.workspace.relative(targetPath)), nil
	}
	if !info.IsDir() {
		return formatEntry(info), nil
	}

	entries, err := os.ReadDir(targetPath)
	if err != nil {
		toolLogger.WithError(err).Error("Reading directory failed")
		return "Error: " + err.Error(), nil
	}

	if len(entries) == 0 {
		return fmt.Sprintf("%s is empty", l.workspace.relative(targetPath)), nil
	}

	var sb strings.Builder
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		sb.WriteString(formatEntry(info))
		sb.WriteByte('\n')
	}

	toolLogger.WithFields(logrus.Fields{
		"entries":       len(entries),
		"executionTime": time.Since(startTime),
	}).Info("ls completed")

	return sb.String(), nil
}

func formatEntry(info os.FileInfo) string {
	name := info.Name()
	if info.IsDir() {
		name += "/"
	}
	return fmt.Sprintf("%s %10d %s %s", info.Mode().String(), info.Size(), info.ModTime().Format("2006-01-02 15:04"), name)
}

var _ tools.Tool = (*LsTool)(nil)
