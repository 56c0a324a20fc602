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

var statLogger = logrus.WithField("tool", "stat")

type StatTool struct {
	workspace *Workspace
}

func NewStatTool(workspace *Workspace) *StatTool {
	statLogger.WithField("workspace", workspace.Root()).Debug("Initializing stat tool")
	return &StatTool{workspace: workspace}
}

func (s *StatTool) Description() string {
	return "Show the type, size, permissions and modification time of a workspace file or directory. Provide a relative path."
}

func (s *StatTool) Name() string {
	return "stat"
}

func (s *StatTool) Call(_ context.Context, input string) (string, error) {
	toolLogger := statLogger.WithField("input", input)
	toolLogger.Info("Stat tool called")

	if strings.TrimSpace(input) == "" {
		toolLogger.Warn("Empty path provided")
		return "Error: Please provide a file or directory path", nil
	}

	targetPath, err := s.workspace.Resolve(input)
	if err != nil {
		toolLogger.WithError(err).Warn("Rejected path")
		return "Error: " + err.Error(), nil
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		toolLogger.WithError(err).WithField("targetPath", targetPath).Warn("stat failed")
		return fmt.Sprintf("Error: %s does not exist", s.workspace.relative(targetPath)), nil
	}

	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}

	return fmt.Sprintf("Path: %s\nType: %s\nSize: %d\nMode: %s\nModified: %s\n",
		s.workspace.relative(targetPath),
		kind,
		info.Size(),
		info.Mode().String(),
		info.ModTime().Format(time.RFC3339),
	), nil
}

var _ tools.Tool = (*StatTool)(nil)
