package framework

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// CommandRequest captures process execution metadata.
type CommandRequest struct {
	Workdir string
	Args    []string
	// Env is appended to the inherited process environment.
	Env     []string
	Input   string
	Timeout time.Duration

	// IdleTimeout enables interactive mode: when the process stays silent for
	// this long while still running, OnIdle receives the pending partial
	// output. A reply is written to stdin followed by a newline; ok=false
	// kills the process and Run returns ErrProcessHung.
	IdleTimeout time.Duration
	OnIdle      func(ctx context.Context, pending string) (reply string, ok bool)
}

// CommandRunner describes a primitive capable of executing commands.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (stdout string, stderr string, err error)
}

// ErrProcessHung reports a silent process nobody could answer.
var ErrProcessHung = errors.New("process hung waiting for input")

// LocalCommandRunner launches commands on the host with the caller's
// environment.
type LocalCommandRunner struct {
	Logger *zap.Logger
}

// NewLocalCommandRunner builds a runner; a nil logger disables logging.
func NewLocalCommandRunner(logger *zap.Logger) *LocalCommandRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalCommandRunner{Logger: logger.With(zap.String("component", "command_runner"))}
}

func (r *LocalCommandRunner) logger() *zap.Logger {
	if r == nil || r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run executes the requested command.
func (r *LocalCommandRunner) Run(ctx context.Context, req CommandRequest) (string, string, error) {
	if len(req.Args) == 0 {
		return "", "", errors.New("command arguments required")
	}
	execCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()
	cmd := exec.CommandContext(execCtx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Workdir
	cmd.Env = append(os.Environ(), req.Env...)
	r.logger().Debug("run command", zap.Strings("args", req.Args), zap.String("dir", req.Workdir))

	if req.IdleTimeout > 0 && req.OnIdle != nil {
		return r.runInteractive(execCtx, cmd, req)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// promptTracker accumulates output and remembers the unterminated tail,
// which is what an interactive prompt looks like while it waits.
type promptTracker struct {
	mu      sync.Mutex
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	pending string
}

func (p *promptTracker) write(buf *bytes.Buffer, chunk []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf.Write(chunk)
	text := p.pending + string(chunk)
	if idx := strings.LastIndex(text, "\n"); idx >= 0 {
		text = text[idx+1:]
	}
	p.pending = text
}

func (p *promptTracker) takePending() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := strings.TrimSpace(p.pending)
	p.pending = ""
	return out
}

func (p *promptTracker) recordDialog(prompt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdout.Len() > 0 && !bytes.HasSuffix(p.stdout.Bytes(), []byte("\n")) {
		p.stdout.WriteString("\n")
	}
	fmt.Fprintf(&p.stdout, "System Dialog: %s\n", prompt)
}

func (p *promptTracker) result() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout.String(), p.stderr.String()
}

func (r *LocalCommandRunner) runInteractive(ctx context.Context, cmd *exec.Cmd, req CommandRequest) (string, string, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", "", fmt.Errorf("stdin pipe: %w", err)
	}
	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("stdout pipe: %w", err)
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("stderr pipe: %w", err)
	}
	// own process group so a kill also reaps children holding the pipes
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return "", "", err
	}
	if req.Input != "" {
		_, _ = io.WriteString(stdin, req.Input)
	}

	tracker := &promptTracker{}
	activity := make(chan struct{}, 1)
	pump := func(src io.Reader, dst *bytes.Buffer, wg *sync.WaitGroup) {
		defer wg.Done()
		chunk := make([]byte, 4096)
		for {
			n, readErr := src.Read(chunk)
			if n > 0 {
				tracker.write(dst, chunk[:n])
				select {
				case activity <- struct{}{}:
				default:
				}
			}
			if readErr != nil {
				return
			}
		}
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(outPipe, &tracker.stdout, &wg)
	go pump(errPipe, &tracker.stderr, &wg)
	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(req.IdleTimeout)
	defer timer.Stop()
	for {
		select {
		case waitErr := <-done:
			stdout, stderr := tracker.result()
			return stdout, stderr, waitErr
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(req.IdleTimeout)
		case <-timer.C:
			prompt := tracker.takePending()
			tracker.recordDialog(prompt)
			reply, ok := req.OnIdle(ctx, prompt)
			if !ok {
				r.logger().Warn("killing silent process", zap.String("prompt", prompt))
				if cmd.Process != nil {
					_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				}
				<-done
				stdout, stderr := tracker.result()
				return stdout, stderr, fmt.Errorf("%w after %s: %q", ErrProcessHung, req.IdleTimeout, prompt)
			}
			if _, err := io.WriteString(stdin, reply+"\n"); err != nil {
				r.logger().Warn("write reply failed", zap.Error(err))
			}
			timer.Reset(req.IdleTimeout)
		}
	}
}
