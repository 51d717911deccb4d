package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVSuccessTableAppendKeepsPriorRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "successful_invocations.csv")
	table, err := OpenCSVSuccessTable(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, table.Append(ctx, SuccessRecord{
		Goal:                "write hello.txt",
		InstantiationPrompt: "Your name is David.\nGoal: {input}",
		Constraints:         "No vim, no nano",
		Tips:                `Use "&&" to chain`,
	}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(before), "Goal,InstantiationPrompt,Constraints,Tips\n"))

	reopened, err := OpenCSVSuccessTable(path)
	require.NoError(t, err)
	require.NoError(t, reopened.Append(ctx, SuccessRecord{Goal: "second", InstantiationPrompt: "p"}))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(after), string(before)))

	records, err := reopened.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Your name is David.\nGoal: {input}", records[0].InstantiationPrompt)
	assert.Equal(t, `Use "&&" to chain`, records[0].Tips)
	assert.Equal(t, "second", records[1].Goal)
}
