package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeanalysis/framework"
)

func TestFileWriterWritesRelativeToBase(t *testing.T) {
	dir := t.TempDir()
	writer := &FileWriter{BaseDir: dir}

	out, err := writer.Write("hello.txt|hi")
	require.NoError(t, err)
	path := filepath.Join(dir, "hello.txt")
	assert.Equal(t, "File written to "+path+".", out)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestFileWriterSplitsOnFirstPipe(t *testing.T) {
	dir := t.TempDir()
	writer := &FileWriter{BaseDir: dir}

	_, err := writer.Write("nested/deep/cmd.sh|echo a | grep a")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "nested", "deep", "cmd.sh"))
	require.NoError(t, err)
	assert.Equal(t, "echo a | grep a", string(data))

	_, err = writer.Write("nested/deep/cmd.sh|replaced")
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, "nested", "deep", "cmd.sh"))
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))
}

func TestFileWriterMissingDelimiter(t *testing.T) {
	dir := t.TempDir()
	writer := &FileWriter{BaseDir: dir}

	_, err := writer.Write("hello.txt")
	assert.ErrorIs(t, err, ErrMissingDelimiter)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestFileWriterToolObservation(t *testing.T) {
	dir := t.TempDir()
	tool := &FileWriterTool{Writer: &FileWriter{BaseDir: dir}}
	res, err := tool.Execute(context.Background(), framework.NewContext(), map[string]interface{}{"spec": "a.txt|x"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Observation(), "File written to")
}

func TestRunDirectoryNamedByMinute(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 5, 59, 0, time.UTC)
	assert.Equal(t, filepath.Join("/work", "playground", "202406010905"), RunDirectory("/work", now))
}
