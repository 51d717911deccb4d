package david

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/persistence"
	"github.com/lexcodex/codeanalysis/tools"
)

// scriptedModel answers each chain from its own queue, telling the chains
// apart by their prompt text. An exhausted queue repeats its last entry.
type scriptedModel struct {
	mu         sync.Mutex
	decisions  []string
	verdicts   []string
	worlds     []string
	revisions  []string
	decideErr  error
	errAfter   int
	prompts    []string
	decideSeen int
}

func pop(queue *[]string) string {
	if len(*queue) == 0 {
		return ""
	}
	head := (*queue)[0]
	if len(*queue) > 1 {
		*queue = (*queue)[1:]
	}
	return head
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case strings.Contains(prompt, "(Yes/No)"):
		return &framework.LLMResponse{Text: pop(&m.verdicts)}, nil
	case strings.Contains(prompt, "###Actions and Observations###"):
		return &framework.LLMResponse{Text: pop(&m.worlds)}, nil
	case strings.Contains(prompt, "IMPROVED PROMPT"):
		return &framework.LLMResponse{Text: pop(&m.revisions)}, nil
	}
	m.prompts = append(m.prompts, prompt)
	m.decideSeen++
	if m.decideErr != nil && m.decideSeen > m.errAfter {
		return nil, m.decideErr
	}
	return &framework.LLMResponse{Text: pop(&m.decisions)}, nil
}

func (m *scriptedModel) Chat(ctx context.Context, messages []framework.Message, options *framework.LLMOptions) (*framework.LLMResponse, error) {
	return nil, errors.New("not supported")
}

type stubRunner struct{ stdout string }

func (r stubRunner) Run(ctx context.Context, req framework.CommandRequest) (string, string, error) {
	return r.stdout, "", nil
}

type memoryJournal struct {
	entries []persistence.EpisodeEntry
}

func (j *memoryJournal) RecordEpisode(ctx context.Context, entry persistence.EpisodeEntry) error {
	j.entries = append(j.entries, entry)
	return nil
}

func (j *memoryJournal) Episodes(ctx context.Context, runID string) ([]persistence.EpisodeEntry, error) {
	return j.entries, nil
}

func newTestController(t *testing.T, model *scriptedModel, opts Options) (*Controller, string, *persistence.CSVSuccessTable) {
	t.Helper()
	dir := t.TempDir()
	registry, err := tools.NewRegistry(tools.RegistryOptions{
		Executor: tools.NewShellExecutor(stubRunner{stdout: "stub-out"}, nil, nil),
		Workdir:  dir,
		Writer:   &tools.FileWriter{BaseDir: dir},
	})
	require.NoError(t, err)
	table, err := persistence.OpenCSVSuccessTable(filepath.Join(dir, "successful_invocations.csv"))
	require.NoError(t, err)
	c := NewController(model, registry, table, opts, nil)
	c.NewRunID = func() string { return "run-1" }
	return c, dir, table
}

func TestControllerWritesFileAndRecordsSuccess(t *testing.T) {
	model := &scriptedModel{
		decisions: []string{
			"Thought: I should write the file\nAction: FileWriter hello.txt|hi",
			"Thought: the file exists\nAction: ANSWER; wrote hello.txt",
		},
		verdicts: []string{"Yes, the goal was accomplished."},
	}
	c, dir, table := newTestController(t, model, Options{})
	journal := &memoryJournal{}
	c.Journal = journal

	result, err := c.Run(context.Background(), "create a file named hello.txt containing hi")
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, result.State)
	assert.True(t, result.Succeeded())
	require.Len(t, result.Episodes, 1)

	episode := result.Episodes[0]
	assert.Equal(t, 1, episode.Steps)
	assert.Equal(t, "wrote hello.txt", episode.Answer)
	assert.Contains(t, episode.Transcript.String(), "File written to")
	assert.Empty(t, episode.Error)

	data, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	require.NotEmpty(t, model.prompts)
	assert.Contains(t, model.prompts[0], "pwd\nstub-out\nls\nstub-out")
	assert.Contains(t, model.prompts[0], "must be one of [Bash, FileWriter]")
	assert.Contains(t, model.prompts[1], "\nObservation: File written to")

	records, err := table.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, InitialConstraints, records[0].Constraints)
	assert.Equal(t, InitialTips, records[0].Tips)
	assert.Equal(t, DefaultOperatingPrompt, records[0].InstantiationPrompt)

	require.Len(t, journal.entries, 1)
	assert.True(t, journal.entries[0].Success)
	assert.Equal(t, "run-1", journal.entries[0].RunID)
	assert.Equal(t, episode.Snapshot, journal.entries[0].Context)

	var snap framework.ContextSnapshot
	require.NoError(t, json.Unmarshal([]byte(episode.Snapshot), &snap))
	assert.Equal(t, "RUNNING_EPISODE", snap.Phase)
	assert.Equal(t, "run-1", snap.State["task.id"])
	assert.Equal(t, true, snap.Variables[keyDone])
	require.Len(t, snap.History, 3)
	assert.Equal(t, "assistant", snap.History[0].Role)
	assert.Contains(t, snap.History[0].Content, "FileWriter hello.txt|hi")
	assert.Equal(t, "observation", snap.History[1].Role)
	assert.Contains(t, snap.History[1].Content, "File written to")
	assert.Equal(t, "assistant", snap.History[2].Role)
}

func TestControllerCarriesTipsForwardWhenRevisionOmitsThem(t *testing.T) {
	model := &scriptedModel{
		decisions: []string{"Action: ANSWER; gave up"},
		verdicts:  []string{"No.", "Yes"},
		worlds:    []string{"The file hello.txt does not exist yet."},
		revisions: []string{"Here is the prompt.\nConstraints: Always verify with ls.\n"},
	}
	c, _, table := newTestController(t, model, Options{})

	result, err := c.Run(context.Background(), "create hello.txt")
	require.NoError(t, err)
	require.Len(t, result.Episodes, 2)
	assert.Equal(t, StateSuccess, result.State)

	second := result.Episodes[1]
	assert.Equal(t, "Always verify with ls.", second.Constraints)
	assert.Equal(t, InitialTips, second.Tips)
	assert.Equal(t, "The file hello.txt does not exist yet.", result.WorldState)
	assert.Contains(t, model.prompts[1], "Current state of the world: The file hello.txt does not exist yet.")

	records, err := table.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Always verify with ls.", records[0].Constraints)
}

func TestControllerMissingActionIsAnObservation(t *testing.T) {
	model := &scriptedModel{
		decisions: []string{"I am still thinking about it", "Action: ANSWER; ok"},
		verdicts:  []string{"yes"},
	}
	c, _, _ := newTestController(t, model, Options{})

	result, err := c.Run(context.Background(), "think")
	require.NoError(t, err)
	require.Len(t, result.Episodes, 1)
	assert.Equal(t, 1, result.Episodes[0].Steps)
	assert.Contains(t, result.Episodes[0].Transcript.String(), InvalidFormat)
	assert.Equal(t, "ok", result.Episodes[0].Answer)
}

func TestControllerStopsAfterEpisodeBudget(t *testing.T) {
	model := &scriptedModel{
		decisions: []string{"Action: Bash echo again"},
		verdicts:  []string{"No, nothing happened."},
		revisions: []string{"no lines here"},
	}
	c, _, table := newTestController(t, model, Options{MaxEpisodes: 2, MaxSteps: 3})
	journal := &memoryJournal{}
	c.Journal = journal

	result, err := c.Run(context.Background(), "never done")
	require.NoError(t, err)
	assert.Equal(t, StateMaxIters, result.State)
	assert.False(t, result.Succeeded())
	require.Len(t, result.Episodes, 2)
	for _, episode := range result.Episodes {
		assert.Equal(t, 3, episode.Steps)
		assert.False(t, episode.Success)
	}
	assert.Equal(t, InitialConstraints, result.Constraints)
	assert.Equal(t, InitialWorldState, result.WorldState)
	assert.Len(t, journal.entries, 2)

	records, err := table.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestControllerKeepsPartialTranscriptOnModelError(t *testing.T) {
	model := &scriptedModel{
		decisions: []string{"Action: Bash ls"},
		decideErr: errors.New("throttled"),
		errAfter:  1,
		verdicts:  []string{"yes"},
	}
	c, _, _ := newTestController(t, model, Options{MaxEpisodes: 1})

	result, err := c.Run(context.Background(), "list files")
	require.NoError(t, err)
	require.Len(t, result.Episodes, 1)
	episode := result.Episodes[0]
	assert.Contains(t, episode.Error, "throttled")
	assert.Equal(t, 1, episode.Steps)
	assert.Contains(t, episode.Transcript.String(), "Action: Bash ls")
	assert.Contains(t, episode.Transcript.String(), "Observation: stub-out")
	assert.True(t, episode.Success)
}

func TestControllerRequiresGoal(t *testing.T) {
	c, _, _ := newTestController(t, &scriptedModel{}, Options{})
	_, err := c.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrGoalRequired)
}

func TestControllerEmitsStateChanges(t *testing.T) {
	model := &scriptedModel{decisions: []string{"Action: ANSWER; done"}, verdicts: []string{"Yes"}}
	c, _, _ := newTestController(t, model, Options{})
	sink := &recordingSink{}
	c.SetTelemetry(sink)

	_, err := c.Run(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []string{"RUNNING_EPISODE", "EVALUATING", "SUCCESS_TERMINAL"}, sink.states())
}

type recordingSink struct {
	mu     sync.Mutex
	events []framework.Event
}

func (s *recordingSink) Emit(event framework.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) states() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Type == framework.EventStateChange {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "MAX_ITERS_TERMINAL", StateMaxIters.String())
	assert.Equal(t, "State(42)", State(42).String())
}
