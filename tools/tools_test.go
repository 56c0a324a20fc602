package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupWorkspace(t *testing.T) *Workspace {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"README.md":                       "# shop\nOnline shop.\n",
		"src/main/java/shop/Order.java":   "package shop;\n\npublic class Order {\n  // TODO totals\n}\n",
		"src/main/java/shop/Invoice.java": "package shop;\n\npublic class Invoice {}\n",
		".git/config":                     "class hidden\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 'P', 'N', 'G', 0, 0, 1}, 0o644))

	ws, err := NewWorkspace(dir)
	require.NoError(t, err)
	return ws
}

func TestNewWorkspace_Errors(t *testing.T) {
	_, err := NewWorkspace(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewWorkspace(file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestWorkspace_Resolve(t *testing.T) {
	ws := setupWorkspace(t)

	tests := []struct {
		input string
		want  string
		err   bool
	}{
		{input: "", want: ws.Root()},
		{input: "None", want: ws.Root()},
		{input: "src/main", want: filepath.Join(ws.Root(), "src", "main")},
		{input: `"README.md"`, want: filepath.Join(ws.Root(), "README.md")},
		{input: "src/../README.md", want: filepath.Join(ws.Root(), "README.md")},
		{input: "../outside", err: true},
		{input: "/etc/passwd", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ws.Resolve(tt.input)
			if tt.err {
				assert.ErrorIs(t, err, ErrOutsideWorkspace)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWorkspace_Tools(t *testing.T) {
	ws := setupWorkspace(t)
	var names []string
	for _, tool := range ws.Tools() {
		names = append(names, tool.Name())
		assert.NotEmpty(t, tool.Description())
	}
	assert.Equal(t, []string{"ls", "cat", "grep", "stat", "datetime"}, names)
}

func TestLsTool(t *testing.T) {
	ws := setupWorkspace(t)
	ls := NewLsTool(ws)
	ctx := context.Background()

	out, err := ls.Call(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, out, "README.md")
	assert.Contains(t, out, "src/")

	out, err = ls.Call(ctx, "README.md")
	require.NoError(t, err)
	assert.Contains(t, out, "README.md")
	assert.NotContains(t, out, "\n")

	out, err = ls.Call(ctx, "nope")
	require.NoError(t, err)
	assert.Equal(t, "Error: nope does not exist", out)

	out, err = ls.Call(ctx, "../")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error: path is outside the workspace"))
}

func TestCatTool(t *testing.T) {
	ws := setupWorkspace(t)
	cat := NewCatTool(ws)
	ctx := context.Background()

	out, err := cat.Call(ctx, "README.md")
	require.NoError(t, err)
	assert.Equal(t, "# shop\nOnline shop.\n", out)

	out, err = cat.Call(ctx, "  ")
	require.NoError(t, err)
	assert.Equal(t, "Error: Please provide a file path", out)

	out, err = cat.Call(ctx, "logo.png")
	require.NoError(t, err)
	assert.Equal(t, "Error: logo.png is a binary file", out)

	out, err = cat.Call(ctx, "src")
	require.NoError(t, err)
	assert.Equal(t, "Error: cannot read src", out)
}

func TestCatTool_Truncates(t *testing.T) {
	ws := setupWorkspace(t)
	var sb strings.Builder
	for i := 0; i < catMaxLines+50; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "big.txt"), []byte(sb.String()), 0o644))

	out, err := NewCatTool(ws).Call(context.Background(), "big.txt")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Len(t, lines, catMaxLines+1)
	assert.Equal(t, fmt.Sprintf("... truncated after %d lines", catMaxLines), lines[catMaxLines])
}

func TestGrepTool(t *testing.T) {
	ws := setupWorkspace(t)
	grep := NewGrepTool(ws)
	ctx := context.Background()

	out, err := grep.Call(ctx, "public class")
	require.NoError(t, err)
	assert.Equal(t, "No matches found", out, "the pattern stops at the first space")

	out, err = grep.Call(ctx, "class")
	require.NoError(t, err)
	assert.Contains(t, out, "src/main/java/shop/Order.java:3: public class Order {")
	assert.Contains(t, out, "src/main/java/shop/Invoice.java:3: public class Invoice {}")
	assert.NotContains(t, out, ".git", "hidden directories are skipped")

	out, err = grep.Call(ctx, "TODO src/main/java/shop/Order.java")
	require.NoError(t, err)
	assert.Equal(t, "src/main/java/shop/Order.java:4:   // TODO totals\n", out)

	out, err = grep.Call(ctx, "(unclosed")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error: invalid pattern"))

	out, err = grep.Call(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "Error: Please provide a search pattern", out)
}

func TestGrepTool_StopsAtLimit(t *testing.T) {
	ws := setupWorkspace(t)
	var sb strings.Builder
	for i := 0; i < grepMaxMatches+10; i++ {
		sb.WriteString("needle\n")
	}
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root(), "hay.txt"), []byte(sb.String()), 0o644))

	out, err := NewGrepTool(ws).Call(context.Background(), "needle")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	assert.Len(t, lines, grepMaxMatches+1)
	assert.Contains(t, lines[grepMaxMatches], "stopped after")
}

func TestStatTool(t *testing.T) {
	ws := setupWorkspace(t)
	stat := NewStatTool(ws)

	out, err := stat.Call(context.Background(), "README.md")
	require.NoError(t, err)
	assert.Contains(t, out, "Path: README.md\n")
	assert.Contains(t, out, "Type: file\n")
	assert.Contains(t, out, "Size: 20\n")

	out, err = stat.Call(context.Background(), "src")
	require.NoError(t, err)
	assert.Contains(t, out, "Type: directory\n")

	out, err = stat.Call(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "Error: Please provide a file or directory path", out)
}

func TestDateTimeTool(t *testing.T) {
	tool := NewDateTimeTool()
	tool.now = func() time.Time { return time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC) }
	ctx := context.Background()

	out, err := tool.Call(ctx, "utc")
	require.NoError(t, err)
	assert.Equal(t, "Monday, 02 June 2025 09:30:00 UTC", out)

	out, err = tool.Call(ctx, "Not/AZone")
	require.NoError(t, err)
	assert.Equal(t, "Error: unknown time zone Not/AZone", out)
}
