package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/knowledge"
)

type upload struct {
	title string
	body  string
	url   string
}

type fakeKnowledge struct {
	mu       sync.Mutex
	failures map[string]int
	asks     map[string]int
	uploads  []upload
}

func newFakeKnowledge() *fakeKnowledge {
	return &fakeKnowledge{failures: map[string]int{}, asks: map[string]int{}}
}

func (k *fakeKnowledge) Ask(ctx context.Context, prompt string, attachment *knowledge.Attachment) (knowledge.ChatAnswer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.asks[attachment.Name]++
	if k.failures[attachment.Name] > 0 {
		k.failures[attachment.Name]--
		return knowledge.ChatAnswer{}, errors.New("throttled")
	}
	return knowledge.ChatAnswer{Text: "Q: what is " + filepath.Base(attachment.Name) + "? A: " + string(attachment.Data)}, nil
}

func (k *fakeKnowledge) Upload(ctx context.Context, title string, body []byte, sourceURI string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.uploads = append(k.uploads, upload{title: title, body: string(body), url: sourceURI})
	return "doc-id", nil
}

// cloneRunner writes files into the clone target instead of running git.
type cloneRunner struct {
	files map[string]string
	args  []string
	err   error
}

func (r *cloneRunner) Run(ctx context.Context, req framework.CommandRequest) (string, string, error) {
	r.args = req.Args
	if r.err != nil {
		return "", "fatal: repository not found", r.err
	}
	target := req.Args[len(req.Args)-1]
	for name, content := range r.files {
		path := filepath.Join(target, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", "", err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return "", "", err
		}
	}
	return "", "", nil
}

func newTestPipeline(t *testing.T, runner framework.CommandRunner, kb KnowledgeBase) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	p := NewPipeline(runner, kb, "https://github.com/acme/shop.git", nil)
	p.Destination = filepath.Join(dir, "repositories")
	p.DocumentationDir = filepath.Join(dir, "documentation")
	p.Backoff = 0
	p.Limiter = rate.NewLimiter(rate.Inf, 1)
	return p
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestPipelineSkipsHiddenAndBinaryFiles(t *testing.T) {
	kb := newFakeKnowledge()
	p := newTestPipeline(t, nil, kb)
	writeTree(t, p.Destination, map[string]string{
		"main.py":          "print('hi')",
		"db/schema.sql":    "create table t();",
		".git/config":      "[core]",
		".env":             "SECRET=1",
		"assets/logo.png":  "png",
		"assets/photo.JPG": "jpg",
		"dist/bundle.zip":  "zip",
	})

	report, err := p.Process(context.Background(), p.Destination)
	require.NoError(t, err)

	processed := append([]string(nil), report.Processed...)
	sort.Strings(processed)
	assert.Equal(t, []string{
		filepath.Join(p.Destination, "db/schema.sql"),
		filepath.Join(p.Destination, "main.py"),
	}, processed)
	assert.Empty(t, report.Failed)
	assert.Len(t, kb.uploads, 2)
}

func TestPipelineUploadsAndSavesDocumentation(t *testing.T) {
	kb := newFakeKnowledge()
	p := newTestPipeline(t, nil, kb)
	writeTree(t, p.Destination, map[string]string{"src/app.py": "import flask"})
	file := filepath.Join(p.Destination, "src/app.py")

	report, err := p.Process(context.Background(), p.Destination)
	require.NoError(t, err)
	require.Equal(t, []string{file}, report.Processed)

	require.Len(t, kb.uploads, 1)
	up := kb.uploads[0]
	answer := "Q: what is app.py? A: import flask"
	assert.Equal(t, file, up.title)
	assert.Equal(t, file+" | "+DocumentationPrompt+" | "+answer, up.body)
	assert.Equal(t, "https://github.com/acme/shop/src/app.py", up.url)

	saved, err := os.ReadFile(p.DocumentationPath(file))
	require.NoError(t, err)
	assert.Equal(t, answer, string(saved))
	assert.Equal(t, ".txt", filepath.Ext(p.DocumentationPath(file)))
}

func TestPipelineRetriesThenReportsFailure(t *testing.T) {
	kb := newFakeKnowledge()
	p := newTestPipeline(t, nil, kb)
	writeTree(t, p.Destination, map[string]string{
		"flaky.go":  "package flaky",
		"broken.go": "package broken",
	})
	flaky := filepath.Join(p.Destination, "flaky.go")
	broken := filepath.Join(p.Destination, "broken.go")
	kb.failures[flaky] = 2
	kb.failures[broken] = 10

	report, err := p.Process(context.Background(), p.Destination)
	require.NoError(t, err)
	assert.Equal(t, []string{flaky}, report.Processed)
	assert.Equal(t, []string{broken}, report.Failed)
	assert.Equal(t, 3, kb.asks[flaky])
	assert.Equal(t, 3, kb.asks[broken])
}

func TestPipelineStopsOnCancelledContext(t *testing.T) {
	kb := newFakeKnowledge()
	p := newTestPipeline(t, nil, kb)
	writeTree(t, p.Destination, map[string]string{"a.go": "package a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, p.Destination)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, kb.uploads)
}

func TestPipelineRunClonesIntoDestination(t *testing.T) {
	kb := newFakeKnowledge()
	runner := &cloneRunner{files: map[string]string{"README.md": "# shop", ".git/HEAD": "ref"}}
	p := newTestPipeline(t, runner, kb)
	p.CloneURL = "git@github.com:acme/shop.git"
	writeTree(t, p.Destination, map[string]string{"stale.txt": "old"})

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"git", "clone", "--quiet", "git@github.com:acme/shop.git"}, runner.args[:4])
	assert.Equal(t, []string{filepath.Join(p.Destination, "README.md")}, report.Processed)
	assert.NoFileExists(t, filepath.Join(p.Destination, "stale.txt"))
	assert.FileExists(t, filepath.Join(p.Destination, ".git/HEAD"))
	assert.NoDirExists(t, runner.args[4])
}

func TestPipelineCloneFailure(t *testing.T) {
	runner := &cloneRunner{err: errors.New("exit status 128")}
	p := newTestPipeline(t, runner, newFakeKnowledge())

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repository not found")
}

func TestDocumentationPathReplacesExtension(t *testing.T) {
	p := &Pipeline{DocumentationDir: "documentation"}
	assert.Equal(t, filepath.Join("documentation", "repositories/src/app.txt"), p.DocumentationPath("repositories/src/app.py"))
	assert.Equal(t, filepath.Join("documentation", "repositories/Makefile.txt"), p.DocumentationPath("repositories/Makefile"))
}
