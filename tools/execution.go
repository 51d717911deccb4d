package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
)

const (
	// DefaultMaxOutput caps the accumulated observation of one command chain.
	DefaultMaxOutput = 10_000_000
	// DefaultPromptTimeout is how long a silent process may wait for input
	// before its pending output is treated as a prompt.
	DefaultPromptTimeout = 1800 * time.Second

	// TruncationMarker is appended when the output cap is reached.
	TruncationMarker = " \n ###The rest of the response was truncated due to length####\n"
	// DirectoryNotFound is the observation for a cd into a missing directory.
	DirectoryNotFound = "Error: Directory not found."

	// WorkdirKey holds the tracked shell directory in the run context.
	WorkdirKey = "shell.workdir"

	heredocPrefix = "cat << EOF >"
)

// ShellExecutor runs command chains against an explicit working directory.
// It holds no per-run state: the directory is passed in and the possibly
// changed directory is returned, so one executor can serve concurrent runs.
type ShellExecutor struct {
	Runner        framework.CommandRunner
	Dialogs       *framework.DialogBroker
	PromptTimeout time.Duration
	MaxOutput     int
	Logger        *zap.Logger
}

// NewShellExecutor wires a runner with defaults. dialogs may be nil, in which
// case processes waiting for input are killed and reported.
func NewShellExecutor(runner framework.CommandRunner, dialogs *framework.DialogBroker, logger *zap.Logger) *ShellExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShellExecutor{
		Runner:        runner,
		Dialogs:       dialogs,
		PromptTimeout: DefaultPromptTimeout,
		MaxOutput:     DefaultMaxOutput,
		Logger:        logger.With(zap.String("component", "shell")),
	}
}

func (e *ShellExecutor) maxOutput() int {
	if e.MaxOutput <= 0 {
		return DefaultMaxOutput
	}
	return e.MaxOutput
}

// Run executes command in dir and returns the observation plus the working
// directory after any cd segments.
func (e *ShellExecutor) Run(ctx context.Context, dir, command string) (string, string) {
	command = strings.TrimSpace(command)
	if strings.HasPrefix(command, heredocPrefix) {
		return e.writeHeredoc(dir, command), dir
	}
	limit := e.maxOutput()
	var output strings.Builder
	for _, segment := range strings.Split(command, "&&") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if isChdir(segment) {
			next, ok := resolveDir(dir, strings.TrimSpace(segment[2:]))
			if !ok {
				return DirectoryNotFound, dir
			}
			dir = next
			continue
		}
		output.WriteString(e.runSegment(ctx, dir, segment))
		output.WriteString("\n")
		if output.Len() > limit {
			trimmed := strings.TrimSpace(output.String())
			if len(trimmed) > limit {
				trimmed = trimmed[:limit]
			}
			return trimmed + TruncationMarker, dir
		}
	}
	return strings.TrimSpace(output.String()), dir
}

func (e *ShellExecutor) runSegment(ctx context.Context, dir, segment string) string {
	req := framework.CommandRequest{
		Workdir:     dir,
		Args:        []string{"bash", "-c", segment},
		IdleTimeout: e.PromptTimeout,
		OnIdle: func(ctx context.Context, pending string) (string, bool) {
			return e.askOperator(ctx, segment, pending)
		},
	}
	stdout, stderr, err := e.Runner.Run(ctx, req)
	switch {
	case err == nil:
		return strings.TrimSpace(stdout)
	case errors.Is(err, framework.ErrProcessHung):
		e.Logger.Warn("command hung", zap.String("command", segment), zap.Error(err))
		return strings.TrimSpace(strings.TrimSpace(stdout) + "\nError: " + err.Error())
	}
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return msg
		}
		return strings.TrimSpace(stdout + stderr)
	}
	return fmt.Sprintf("Error: %v", err)
}

func (e *ShellExecutor) askOperator(ctx context.Context, command, prompt string) (string, bool) {
	if e.Dialogs == nil {
		return "", false
	}
	reply, err := e.Dialogs.RequestReply(ctx, framework.DialogRequest{Command: command, Prompt: prompt})
	if err != nil {
		e.Logger.Warn("operator did not answer", zap.String("prompt", prompt), zap.Error(err))
		return "", false
	}
	return reply, true
}

// writeHeredoc handles "cat << EOF > path" without a shell so the content is
// written verbatim.
func (e *ShellExecutor) writeHeredoc(dir, command string) string {
	header, body, _ := strings.Cut(command[len(heredocPrefix):], "\n")
	path := strings.TrimSpace(header)
	if path == "" {
		return "Error: missing file path for heredoc."
	}
	if end := strings.LastIndex(body, "EOF"); end >= 0 {
		body = body[:end]
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if err := os.WriteFile(target, []byte(strings.TrimSpace(body)), 0o644); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("File '%s' created successfully.", path)
}

func isChdir(segment string) bool {
	return segment == "cd" || strings.HasPrefix(segment, "cd ") || strings.HasPrefix(segment, "cd\t")
}

func resolveDir(dir, target string) (string, bool) {
	target = strings.Trim(target, `"'`)
	switch {
	case target == "":
		return dir, true
	case target == "..":
		return filepath.Dir(filepath.Clean(dir)), true
	case target == "~" || strings.HasPrefix(target, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return dir, false
		}
		target = filepath.Join(home, strings.TrimPrefix(target, "~"))
	case !filepath.IsAbs(target):
		target = filepath.Join(dir, target)
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return dir, false
	}
	return filepath.Clean(target), true
}

// BashTool exposes the executor to the model under the name "Bash". The
// tracked directory lives in the run context.
type BashTool struct {
	Executor   *ShellExecutor
	DefaultDir string
}

func (t *BashTool) Name() string        { return "Bash" }
func (t *BashTool) Description() string { return "Execute bash commands" }
func (t *BashTool) Category() string    { return "execution" }
func (t *BashTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{{Name: "command", Type: "string", Required: true}}
}
func (t *BashTool) IsAvailable(ctx context.Context, state *framework.Context) bool {
	return t.Executor != nil && t.Executor.Runner != nil
}

// Workdir returns the tracked directory for state, seeding it on first use.
func (t *BashTool) Workdir(state *framework.Context) string {
	if state != nil {
		if dir := state.GetString(WorkdirKey); dir != "" {
			return dir
		}
	}
	dir := t.DefaultDir
	if dir == "" {
		dir, _ = os.Getwd()
	}
	if state != nil {
		state.Set(WorkdirKey, dir)
	}
	return dir
}

func (t *BashTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	command := stringArg(args, "command")
	if command == "" {
		return nil, errors.New("command required")
	}
	observation, dir := t.Executor.Run(ctx, t.Workdir(state), command)
	if state != nil {
		state.Set(WorkdirKey, dir)
	}
	return &framework.ToolResult{
		Success: true,
		Data: map[string]interface{}{
			"observation": observation,
			"workdir":     dir,
		},
	}, nil
}

func stringArg(args map[string]interface{}, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
