package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexcodex/codeanalysis/framework"
)

// ErrMissingDelimiter is returned for a file spec without a "|".
var ErrMissingDelimiter = errors.New(`invalid file spec: expected "path|content"`)

// RunDirectory returns the per-run playground directory under workspace,
// named after the current minute.
func RunDirectory(workspace string, now time.Time) string {
	return filepath.Join(workspace, "playground", now.Format("200601021504"))
}

// FileWriter writes "path|content" specs. Relative paths resolve under
// BaseDir; missing parents are created and existing files are replaced.
type FileWriter struct {
	BaseDir string
}

// Write applies spec and returns the confirmation observation.
func (w *FileWriter) Write(spec string) (string, error) {
	path, content, ok := strings.Cut(spec, "|")
	if !ok {
		return "", ErrMissingDelimiter
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrMissingDelimiter)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.BaseDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", abs, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", abs, err)
	}
	return fmt.Sprintf("File written to %s.", abs), nil
}

// FileWriterTool exposes FileWriter under the name "FileWriter".
type FileWriterTool struct {
	Writer *FileWriter
}

func (t *FileWriterTool) Name() string { return "FileWriter" }
func (t *FileWriterTool) Description() string {
	return "Useful to write a file to a given path with a given content. " +
		"The input to this tool should be a pipe (|) separated text of length two, " +
		"representing the path of the file and its content, e.g. `src/app.py|print('hi')`."
}
func (t *FileWriterTool) Category() string { return "file" }
func (t *FileWriterTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{{Name: "spec", Type: "string", Required: true, Description: "path|content"}}
}
func (t *FileWriterTool) IsAvailable(ctx context.Context, state *framework.Context) bool {
	return t.Writer != nil
}
func (t *FileWriterTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	out, err := t.Writer.Write(stringArg(args, "spec"))
	if err != nil {
		return nil, err
	}
	return &framework.ToolResult{Success: true, Data: map[string]interface{}{"observation": out}}, nil
}
