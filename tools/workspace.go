/*
Package tools provides the read-only workspace tools a Brain may offer to the
model in agent mode.

Every tool resolves its paths against a Workspace root and refuses paths that
would leave it. Problems with the input (missing files, bad patterns) are
reported to the model as "Error: ..." text rather than returned as errors, so
the model can correct itself and the agent run continues.
*/
package tools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/tools"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Workspace is the directory tree the tools may read.
type Workspace struct {
	root string
}

// NewWorkspace roots the tools at dir, which must exist.
func NewWorkspace(dir string) (*Workspace, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", root)
	}
	return &Workspace{root: root}, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// Resolve turns tool input into an absolute path inside the workspace.
// Empty input and the "none" placeholder some models send mean the root.
func (w *Workspace) Resolve(input string) (string, error) {
	target := strings.Trim(strings.TrimSpace(input), `"'`)
	if target == "" || strings.EqualFold(target, "none") {
		target = "."
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(w.root, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(w.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, input)
	}
	return target, nil
}

// relative shows path relative to the root, the way the model should refer to it.
func (w *Workspace) relative(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Tools returns every workspace tool.
func (w *Workspace) Tools() []tools.Tool {
	return []tools.Tool{
		NewLsTool(w),
		NewCatTool(w),
		NewGrepTool(w),
		NewStatTool(w),
		NewDateTimeTool(),
	}
}

// isBinary reports whether data looks like a binary file.
func isBinary(data []byte) bool {
	if len(data) > 512 {
		data = data[:512]
	}
	for _, b := range data {
		if b == 0 {
			return true
		}
	}
	return false
}
