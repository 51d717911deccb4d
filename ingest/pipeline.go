// Package ingest clones a repository, asks the knowledge index to document
// every source file and uploads the generated documentation back into it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/knowledge"
)

// DocumentationPrompt is sent with every attached source file.
const DocumentationPrompt = "Come up with a list of questions and answers about the attached file. " +
	"Keep answers dense with information. A good question for a database related file would be " +
	"\"What is the database technology and architecture?\" or for a python file " +
	"\"What libraries are used here?\""

const (
	DefaultDestination      = "repositories"
	DefaultDocumentationDir = "documentation"
	DefaultAttempts         = 3
	DefaultBackoff          = 15 * time.Second
)

var skippedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".zip":  true,
}

// KnowledgeBase is the part of the knowledge connector the pipeline uses.
type KnowledgeBase interface {
	Ask(ctx context.Context, prompt string, attachment *knowledge.Attachment) (knowledge.ChatAnswer, error)
	Upload(ctx context.Context, title string, body []byte, sourceURI string) (string, error)
}

// Report lists the files that were documented and the ones that gave up.
type Report struct {
	Processed []string
	Failed    []string
}

// Pipeline documents one repository. CloneURL, when set, is what git clones
// (an ssh remote for instance); RepoURL always builds the source links.
type Pipeline struct {
	Runner           framework.CommandRunner
	Knowledge        KnowledgeBase
	RepoURL          string
	CloneURL         string
	Destination      string
	DocumentationDir string
	Attempts         int
	Backoff          time.Duration
	Limiter          *rate.Limiter
	Logger           *zap.Logger
}

// NewPipeline fills in the defaults. kb and runner are required.
func NewPipeline(runner framework.CommandRunner, kb KnowledgeBase, repoURL string, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Runner:           runner,
		Knowledge:        kb,
		RepoURL:          repoURL,
		Destination:      DefaultDestination,
		DocumentationDir: DefaultDocumentationDir,
		Attempts:         DefaultAttempts,
		Backoff:          DefaultBackoff,
		Limiter:          rate.NewLimiter(rate.Limit(1), 1),
		Logger:           logger.With(zap.String("component", "ingest")),
	}
}

// Run clones the repository and documents every file in it.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if err := p.Clone(ctx); err != nil {
		return nil, err
	}
	return p.Process(ctx, p.Destination)
}

// Clone checks the repository out into a temporary directory and copies it
// over Destination.
func (p *Pipeline) Clone(ctx context.Context) error {
	url := p.CloneURL
	if url == "" {
		url = p.RepoURL
	}
	if url == "" {
		return errors.New("repository url required")
	}
	tmp, err := os.MkdirTemp("", "codeanalysis-clone-")
	if err != nil {
		return fmt.Errorf("create clone dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	p.Logger.Info("cloning repository", zap.String("url", url))
	_, stderr, err := p.Runner.Run(ctx, framework.CommandRequest{
		Args: []string{"git", "clone", "--quiet", url, tmp},
	})
	if err != nil {
		return fmt.Errorf("git clone %s: %w: %s", url, err, strings.TrimSpace(stderr))
	}
	if err := copyTree(tmp, p.Destination); err != nil {
		return fmt.Errorf("copy clone to %s: %w", p.Destination, err)
	}
	return nil
}

// Process documents every eligible file under root. A file that still fails
// after all attempts is reported, not returned as an error; only a cancelled
// context or a broken walk aborts the run.
func (p *Pipeline) Process(ctx context.Context, root string) (*Report, error) {
	files, err := p.collect(root)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.processWithRetry(ctx, root, file); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			p.Logger.Error("giving up on file", zap.String("file", file), zap.Error(err))
			report.Failed = append(report.Failed, file)
			continue
		}
		report.Processed = append(report.Processed, file)
	}
	p.Logger.Info("ingestion finished",
		zap.Int("processed", len(report.Processed)),
		zap.Int("failed", len(report.Failed)),
		zap.Strings("failed_files", report.Failed))
	return report, nil
}

func (p *Pipeline) collect(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || skippedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func (p *Pipeline) processWithRetry(ctx context.Context, root, file string) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, p.processFile(ctx, root, file)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Backoff)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			p.Logger.Warn("retrying file", zap.String("file", file), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	return err
}

func (p *Pipeline) processFile(ctx context.Context, root, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("read %s: %w", file, err))
	}
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
	}
	answer, err := p.Knowledge.Ask(ctx, DocumentationPrompt, &knowledge.Attachment{Name: file, Data: data})
	if err != nil {
		return fmt.Errorf("document %s: %w", file, err)
	}
	body := fmt.Sprintf("%s | %s | %s", file, DocumentationPrompt, answer.Text)
	if _, err := p.Knowledge.Upload(ctx, file, []byte(body), p.SourceURL(root, file)); err != nil {
		return fmt.Errorf("upload %s: %w", file, err)
	}
	target := p.DocumentationPath(file)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return backoff.Permanent(err)
	}
	if err := os.WriteFile(target, []byte(answer.Text), 0o644); err != nil {
		return backoff.Permanent(fmt.Errorf("save documentation for %s: %w", file, err))
	}
	p.Logger.Info("documented file", zap.String("file", file), zap.String("documentation", target))
	return nil
}

// SourceURL links file back to the hosted repository.
func (p *Pipeline) SourceURL(root, file string) string {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		rel = file
	}
	base := strings.TrimSuffix(strings.TrimSuffix(p.RepoURL, "/"), ".git")
	return base + "/" + filepath.ToSlash(rel)
}

// DocumentationPath mirrors file under DocumentationDir with a .txt
// extension.
func (p *Pipeline) DocumentationPath(file string) string {
	dir := p.DocumentationDir
	if dir == "" {
		dir = DefaultDocumentationDir
	}
	return filepath.Join(dir, strings.TrimSuffix(file, filepath.Ext(file))+".txt")
}

// copyTree replaces dst with the contents of src.
func copyTree(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
