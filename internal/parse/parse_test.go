package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionTwoArgs(t *testing.T) {
	text := "Thought: the search box is label 3.\nI should type there.\nAction: Type [3]; [weather in Seattle]"
	action := ParseAction(text)
	require.NotNil(t, action)
	assert.Equal(t, "Type", action.Name)
	assert.Equal(t, []string{"3", "weather in Seattle"}, action.Args)
}

func TestParseActionIgnoresLeadingReasoning(t *testing.T) {
	text := "Thought: earlier I wrote Action: Click 1 but that failed.\nAction: Scroll WINDOW; down"
	action := ParseAction(text)
	require.NotNil(t, action)
	assert.Equal(t, "Scroll", action.Name)
	assert.Equal(t, []string{"WINDOW", "down"}, action.Args)
}

func TestParseActionAnswerStripsSemicolon(t *testing.T) {
	action := ParseAction("Thought: done\nAction: ANSWER; The repo has 42 files. ")
	require.NotNil(t, action)
	assert.True(t, action.IsAnswer())
	assert.Equal(t, []string{"The repo has 42 files."}, action.Args)
}

func TestParseActionAnswerForms(t *testing.T) {
	cases := map[string]string{
		"Action: ANSWER; x":                   "x",
		"Action: ANSWER;x":                    "x",
		"Action: ANSWER x":                    "x",
		"Action: ANSWER ; x":                  "x",
		"Thought: ok\nAction: ANSWER;  a; b ": "a; b",
	}
	for text, want := range cases {
		action := ParseAction(text)
		require.NotNil(t, action, text)
		assert.True(t, action.IsAnswer(), text)
		assert.Equal(t, AnswerAction, action.Name, text)
		assert.Equal(t, []string{want}, action.Args, text)
	}
}

func TestParseActionSemicolonAfterToolName(t *testing.T) {
	action := ParseAction("Action: Bash; ls -la")
	require.NotNil(t, action)
	assert.Equal(t, "Bash", action.Name)
	assert.Equal(t, "ls -la", action.Raw)
	assert.Equal(t, []string{"ls -la"}, action.Args)
}

func TestParseActionAnswerKeepsInnerSemicolons(t *testing.T) {
	action := ParseAction("Action: ANSWER a; b")
	require.NotNil(t, action)
	assert.Equal(t, []string{"a; b"}, action.Args)
}

func TestParseActionInputPrefix(t *testing.T) {
	action := ParseAction("Thought: list files\nAction: Bash\nAction Input: ls -la && echo a;b")
	require.NotNil(t, action)
	assert.Equal(t, "Bash", action.Name)
	assert.Equal(t, "ls -la && echo a;b", action.Raw)
	assert.Equal(t, []string{"ls -la && echo a", "b"}, action.Args)
}

func TestParseActionNoArgs(t *testing.T) {
	action := ParseAction("Thought: wait a bit\nAction: Wait")
	require.NotNil(t, action)
	assert.Equal(t, "Wait", action.Name)
	assert.Empty(t, action.Args)
	assert.Equal(t, "", action.Arg(0))
}

func TestParseActionMissing(t *testing.T) {
	assert.Nil(t, ParseAction("Thought: I am not sure what to do next."))
	assert.Nil(t, ParseAction("Action: "))
}

func TestExtractRevision(t *testing.T) {
	c, tip := ExtractRevision("Some analysis.\nConstraints: never run rm -rf\nTips: check pwd first\n")
	require.NotNil(t, c)
	require.NotNil(t, tip)
	assert.Equal(t, "never run rm -rf", *c)
	assert.Equal(t, "check pwd first", *tip)
}

func TestExtractRevisionMissingTip(t *testing.T) {
	c, tip := ExtractRevision("Constraints: stay inside the repo")
	require.NotNil(t, c)
	assert.Equal(t, "stay inside the repo", *c)
	assert.Nil(t, tip)
}

func TestExtractRevisionSameLine(t *testing.T) {
	c, tip := ExtractRevision("Constraints: a Tips: b")
	require.NotNil(t, c)
	require.NotNil(t, tip)
	assert.Equal(t, "a", *c)
	assert.Equal(t, "b", *tip)
}

func TestExtractResponse(t *testing.T) {
	assert.Equal(t, "the answer", ExtractResponse("preamble <response> the answer </response> trailing"))
	assert.Equal(t, "no tags", ExtractResponse("  no tags \n"))
}

func TestIsAffirmative(t *testing.T) {
	assert.True(t, IsAffirmative("Yes, the task was completed."))
	assert.False(t, IsAffirmative("No."))
	assert.False(t, IsAffirmative("Unclear"))
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("CREATE (a:File{name:'x'}) RETURN id(a) as id; ; CREATE (b:File{name:'y'}) RETURN id(b) as id;")
	assert.Equal(t, []string{
		"CREATE (a:File{name:'x'}) RETURN id(a) as id",
		"CREATE (b:File{name:'y'}) RETURN id(b) as id",
	}, got)
}
