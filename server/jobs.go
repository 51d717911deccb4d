package server

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// JobSpec is one requested agent run. Env is merged over the submitter's
// own environment.
type JobSpec struct {
	Goal string
	Env  map[string]string
}

// JobReceipt identifies a submitted job.
type JobReceipt struct {
	ID      string `json:"job_id"`
	Name    string `json:"job_name,omitempty"`
	Backend string `json:"backend"`
}

// JobSubmitter hands a job to whatever runs it.
type JobSubmitter interface {
	Submit(ctx context.Context, spec JobSpec) (JobReceipt, error)
}

// ErrGoalRequired rejects a job without a goal.
var ErrGoalRequired = errors.New("goal required")

// CommandLine is the container command for goal: the bootstrap, if any,
// followed by a run of the agent.
func CommandLine(bootstrap, goal string) []string {
	run := "codeanalysis run --goal " + shellQuote(goal)
	if bootstrap = strings.TrimSpace(bootstrap); bootstrap != "" {
		run = bootstrap + " && " + run
	}
	return []string{"sh", "-c", run}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func mergeEnv(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func sortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvList renders env as sorted KEY=VALUE pairs.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range sortedKeys(env) {
		out = append(out, k+"="+env[k])
	}
	return out
}
