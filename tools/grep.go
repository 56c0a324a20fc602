package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

// grepLogger provides structured logging for all grep operations.
var grepLogger = logrus.WithField("tool", "grep")

const (
	grepMaxMatches  = 100
	grepMaxFileSize = 2 << 20
)

// GrepTool searches workspace files for a regular expression.
type GrepTool struct {
	workspace *Workspace
}

func NewGrepTool(workspace *Workspace) *GrepTool {
	grepLogger.WithField("workspace", workspace.Root()).Debug("Initializing grep tool")
	return &GrepTool{workspace: workspace}
}

func (g *GrepTool) Description() string {
	return "Search workspace files for a regular expression. Format: 'pattern' to search the whole workspace or 'pattern path' to search a file or directory."
}

func (g *GrepTool) Name() string {
	return "grep"
}

// Call runs the search. Matches are reported as path:line: text, hidden
// directories and binary files are skipped.
func (g *GrepTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := grepLogger.WithField("input", input)
	toolLogger.Info("Grep tool called")
	startTime := time.Now()

	parts := strings.SplitN(strings.TrimSpace(input), " ", 2)
	if parts[0] == "" {
		toolLogger.Warn("Empty search pattern provided")
		return "Error: Please provide a search pattern", nil
	}

	re, err := regexp.Compile(parts[0])
	if err != nil {
		return fmt.Sprintf("Error: invalid pattern: %v", err), nil
	}

	target := ""
	if len(parts) == 2 {
		target = parts[1]
	}
	root, err := g.workspace.Resolve(target)
	if err != nil {
		toolLogger.WithError(err).Warn("Rejected path")
		return "Error: " + err.Error(), nil
	}

	var (
		matches   []string
		truncated bool
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		found, done := g.searchFile(path, re, grepMaxMatches-len(matches))
		matches = append(matches, found...)
		if done {
			truncated = true
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	toolLogger.WithFields(logrus.Fields{
		"pattern":       parts[0],
		"matches":       len(matches),
		"executionTime": time.Since(startTime),
	}).Info("grep completed")

	if len(matches) == 0 {
		return "No matches found", nil
	}
	out := strings.Join(matches, "\n") + "\n"
	if truncated {
		out += fmt.Sprintf("... stopped after %d matches\n", grepMaxMatches)
	}
	return out, nil
}

// searchFile returns up to limit matches of re in path and whether the limit was hit.
func (g *GrepTool) searchFile(path string, re *regexp.Regexp, limit int) ([]string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > grepMaxFileSize {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil || isBinary(data) {
		return nil, false
	}

	var found []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if !re.Match(scanner.Bytes()) {
			continue
		}
		if len(found) == limit {
			return found, true
		}
		found = append(found, fmt.Sprintf("%s:%d: %s", g.workspace.relative(path), line, scanner.Text()))
	}
	return found, false
}

// Ensure GrepTool implements the tools.Tool interface
var _ tools.Tool = (*GrepTool)(nil)
