// Package david runs the self-revising agent: repeated episodes of a
// think/act loop over the tool registry, each judged by an evaluator and
// followed, on failure, by a world-state synthesis and a prompt revision.
package david

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/persistence"
	"github.com/lexcodex/codeanalysis/tools"
)

var tracer = otel.Tracer("codeanalysis.david")

// ErrGoalRequired is returned by Run for an empty goal.
var ErrGoalRequired = errors.New("goal required")

const (
	DefaultMaxEpisodes = 5
	DefaultMaxSteps    = 15
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096

	keyWorldState = "david.world_state"
	keyDone       = "david.done"
)

// State is a phase of the run state machine.
type State int

const (
	StateInit State = iota
	StateRunningEpisode
	StateEvaluating
	StateRevising
	StateSuccess
	StateMaxIters
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunningEpisode:
		return "RUNNING_EPISODE"
	case StateEvaluating:
		return "EVALUATING"
	case StateRevising:
		return "REVISING"
	case StateSuccess:
		return "SUCCESS_TERMINAL"
	case StateMaxIters:
		return "MAX_ITERS_TERMINAL"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options bound and seed a run.
type Options struct {
	MaxEpisodes        int
	MaxSteps           int
	OperatingPrompt    string
	InitialConstraints string
	InitialTips        string
	InitialWorldState  string
	Temperature        float64
	MaxTokens          int
}

// DefaultOptions returns the stock prompt and limits.
func DefaultOptions() Options {
	return Options{
		MaxEpisodes:        DefaultMaxEpisodes,
		MaxSteps:           DefaultMaxSteps,
		OperatingPrompt:    DefaultOperatingPrompt,
		InitialConstraints: InitialConstraints,
		InitialTips:        InitialTips,
		InitialWorldState:  InitialWorldState,
		Temperature:        DefaultTemperature,
		MaxTokens:          DefaultMaxTokens,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxEpisodes <= 0 {
		o.MaxEpisodes = d.MaxEpisodes
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	if o.OperatingPrompt == "" {
		o.OperatingPrompt = d.OperatingPrompt
	}
	if o.InitialConstraints == "" {
		o.InitialConstraints = d.InitialConstraints
	}
	if o.InitialTips == "" {
		o.InitialTips = d.InitialTips
	}
	if o.InitialWorldState == "" {
		o.InitialWorldState = d.InitialWorldState
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = d.MaxTokens
	}
	return o
}

// Episode is the record of one think/act loop.
type Episode struct {
	Index           int
	OperatingPrompt string
	Constraints     string
	Tips            string
	Transcript      Transcript
	Steps           int
	Answer          string
	Verdict         string
	Success         bool
	// Error is set when the loop stopped on a model or runtime failure. The
	// transcript up to that point is kept and still evaluated.
	Error string
	// Snapshot is the run context as JSON when the episode loop ended.
	Snapshot   string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunResult is the outcome of Run.
type RunResult struct {
	RunID       string
	Goal        string
	State       State
	Episodes    []Episode
	WorldState  string
	Constraints string
	Tips        string
}

// Succeeded reports whether the run ended in SUCCESS_TERMINAL.
func (r *RunResult) Succeeded() bool { return r != nil && r.State == StateSuccess }

// Controller drives the episode state machine.
type Controller struct {
	Tools       *framework.ToolRegistry
	Dispatcher  *tools.Dispatcher
	Reasoner    *Reasoner
	Synthesizer *Synthesizer
	Evaluator   *Evaluator
	Reviser     *Reviser

	Successes persistence.SuccessTable
	Journal   persistence.EpisodeJournal
	Telemetry framework.Telemetry
	Metrics   *framework.Metrics
	Logger    *zap.Logger
	Options   Options

	NewRunID func() string
	Now      func() time.Time
}

// NewController wires every chain to model. successes may be nil, in which
// case successful runs are not recorded.
func NewController(model framework.LanguageModel, registry *framework.ToolRegistry, successes persistence.SuccessTable, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	return &Controller{
		Tools:       registry,
		Dispatcher:  &tools.Dispatcher{Registry: registry, Logger: logger},
		Reasoner:    &Reasoner{Model: model, Tools: registry, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens},
		Synthesizer: &Synthesizer{Model: model, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens},
		Evaluator:   &Evaluator{Model: model, MaxTokens: 256},
		Reviser:     &Reviser{Model: model, Temperature: opts.Temperature, MaxTokens: opts.MaxTokens},
		Successes:   successes,
		Logger:      logger.With(zap.String("component", "david")),
		Options:     opts,
		NewRunID:    uuid.NewString,
		Now:         time.Now,
	}
}

// SetTelemetry routes controller and dispatch events to sink.
func (c *Controller) SetTelemetry(sink framework.Telemetry) {
	c.Telemetry = sink
	if c.Dispatcher != nil {
		c.Dispatcher.Telemetry = sink
	}
}

// SetMetrics routes controller and dispatch counters to m.
func (c *Controller) SetMetrics(m *framework.Metrics) {
	c.Metrics = m
	if c.Dispatcher != nil {
		c.Dispatcher.Metrics = m
	}
}

func (c *Controller) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Controller) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// Run works towards goal until an episode is judged successful or the
// episode budget is spent. Reaching MAX_ITERS_TERMINAL is not an error.
func (c *Controller) Run(ctx context.Context, goal string) (*RunResult, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, ErrGoalRequired
	}
	opts := c.Options.withDefaults()
	runID := uuid.NewString()
	if c.NewRunID != nil {
		runID = c.NewRunID()
	}
	logger := c.logger().With(zap.String("run_id", runID))

	ctx, span := tracer.Start(ctx, "david.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.max_episodes", opts.MaxEpisodes),
	))
	defer span.End()

	state := framework.NewContext()
	state.Set("task.id", runID)
	state.Set(keyWorldState, opts.InitialWorldState)
	state.SetExecutionPhase(StateInit.String())
	result := &RunResult{
		RunID:       runID,
		Goal:        goal,
		State:       StateInit,
		WorldState:  opts.InitialWorldState,
		Constraints: opts.InitialConstraints,
		Tips:        opts.InitialTips,
	}
	framework.EmitTo(c.Telemetry, framework.Event{Type: framework.EventAgentStart, TaskID: runID, Message: goal})
	logger.Info("run started", zap.String("goal", goal))

	for {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "run cancelled")
			return result, err
		}
		var next State
		switch result.State {
		case StateInit:
			next = StateRunningEpisode
		case StateRunningEpisode:
			episode := c.runEpisode(ctx, state, opts, result, len(result.Episodes)+1)
			result.Episodes = append(result.Episodes, episode)
			next = StateEvaluating
		case StateEvaluating:
			episode := &result.Episodes[len(result.Episodes)-1]
			c.evaluate(ctx, result, episode)
			switch {
			case episode.Success:
				next = StateSuccess
			case len(result.Episodes) >= opts.MaxEpisodes:
				next = StateMaxIters
			default:
				next = StateRevising
			}
		case StateRevising:
			c.revise(ctx, state, opts, result)
			next = StateRunningEpisode
		case StateSuccess:
			err := c.recordSuccess(ctx, opts, result)
			c.finish(span, result, err)
			return result, err
		case StateMaxIters:
			logger.Info("episode budget spent", zap.Int("episodes", len(result.Episodes)))
			c.finish(span, result, nil)
			return result, nil
		}
		c.transition(state, result, next)
	}
}

func (c *Controller) transition(state *framework.Context, result *RunResult, next State) {
	prev := result.State
	result.State = next
	state.SetExecutionPhase(next.String())
	c.logger().Debug("state change", zap.String("run_id", result.RunID), zap.Stringer("from", prev), zap.Stringer("to", next))
	framework.EmitTo(c.Telemetry, framework.Event{
		Type:     framework.EventStateChange,
		TaskID:   result.RunID,
		Message:  next.String(),
		Metadata: map[string]interface{}{"from": prev.String(), "to": next.String()},
	})
}

func (c *Controller) finish(span trace.Span, result *RunResult, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, result.State.String())
	}
	framework.EmitTo(c.Telemetry, framework.Event{
		Type:    framework.EventAgentFinish,
		TaskID:  result.RunID,
		Message: result.State.String(),
		Metadata: map[string]interface{}{
			"episodes": len(result.Episodes),
			"success":  result.Succeeded(),
		},
	})
	c.logger().Info("run finished",
		zap.String("run_id", result.RunID),
		zap.Stringer("state", result.State),
		zap.Int("episodes", len(result.Episodes)))
}

// orient runs pwd and ls through the registry so the episode starts from
// where the previous one left the shell.
func (c *Controller) orient(ctx context.Context, state *framework.Context) (string, string) {
	if c.Tools == nil {
		return "", ""
	}
	if _, ok := c.Tools.Get(tools.ShellCall{}.ToolName()); !ok {
		return "", ""
	}
	d := c.Dispatcher
	if d == nil {
		d = &tools.Dispatcher{Registry: c.Tools}
	}
	pwd := d.Dispatch(ctx, state, tools.ShellCall{Command: "pwd"})
	ls := d.Dispatch(ctx, state, tools.ShellCall{Command: "ls"})
	return pwd, ls
}

func (c *Controller) runEpisode(ctx context.Context, state *framework.Context, opts Options, result *RunResult, index int) Episode {
	episode := Episode{
		Index:           index,
		OperatingPrompt: opts.OperatingPrompt,
		Constraints:     result.Constraints,
		Tips:            result.Tips,
		StartedAt:       c.now(),
	}
	ctx, span := tracer.Start(ctx, "david.episode", trace.WithAttributes(attribute.Int("episode.index", index)))
	defer span.End()
	c.Metrics.SetEpisode(index)
	framework.EmitTo(c.Telemetry, framework.Event{
		Type:     framework.EventEpisodeStart,
		TaskID:   result.RunID,
		Metadata: map[string]interface{}{"episode": index},
	})

	pwd, ls := c.orient(ctx, state)
	loop := &episodeLoop{
		controller: c,
		episode:    &episode,
		maxSteps:   opts.MaxSteps,
		input: Input{
			Goal:        result.Goal,
			Prompt:      opts.OperatingPrompt,
			Constraints: result.Constraints,
			Tips:        result.Tips,
			WorldState:  result.WorldState,
			PwdOutput:   pwd,
			LsOutput:    ls,
		},
	}
	graph, err := loop.build()
	if err == nil {
		graph.SetTelemetry(c.Telemetry)
		graph.SetMaxNodeVisits(opts.MaxSteps + 1)
		state.ResetVariables()
		_, err = graph.Execute(ctx, state)
	}
	if err != nil {
		episode.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "episode aborted")
		c.logger().Warn("episode aborted",
			zap.String("run_id", result.RunID),
			zap.Int("episode", index),
			zap.Int("steps", episode.Steps),
			zap.Error(err))
	}
	if snap, err := json.Marshal(state); err == nil {
		episode.Snapshot = string(snap)
	} else {
		c.logger().Warn("snapshot run context", zap.String("run_id", result.RunID), zap.Error(err))
	}
	episode.FinishedAt = c.now()
	return episode
}

func (c *Controller) evaluate(ctx context.Context, result *RunResult, episode *Episode) {
	ok, verdict, err := c.Evaluator.Evaluate(ctx, result.Goal, episode.Transcript)
	if err != nil {
		c.logger().Warn("evaluation failed", zap.String("run_id", result.RunID), zap.Error(err))
	}
	episode.Success = ok
	episode.Verdict = verdict
	c.Metrics.ObserveEpisode(ok)
	framework.EmitTo(c.Telemetry, framework.Event{
		Type:     framework.EventEpisodeEnd,
		TaskID:   result.RunID,
		Message:  verdict,
		Metadata: map[string]interface{}{"episode": episode.Index, "success": ok, "steps": episode.Steps},
	})
	c.logger().Info("episode finished",
		zap.String("run_id", result.RunID),
		zap.Int("episode", episode.Index),
		zap.Int("steps", episode.Steps),
		zap.Bool("success", ok))
	c.journal(ctx, result, episode)
}

func (c *Controller) journal(ctx context.Context, result *RunResult, episode *Episode) {
	if c.Journal == nil {
		return
	}
	err := c.Journal.RecordEpisode(ctx, persistence.EpisodeEntry{
		RunID:           result.RunID,
		Index:           episode.Index,
		Goal:            result.Goal,
		OperatingPrompt: episode.OperatingPrompt,
		Constraints:     episode.Constraints,
		Tips:            episode.Tips,
		Transcript:      episode.Transcript.String(),
		Context:         episode.Snapshot,
		WorldState:      result.WorldState,
		Success:         episode.Success,
		StartedAt:       episode.StartedAt,
		FinishedAt:      episode.FinishedAt,
	})
	if err != nil {
		c.logger().Warn("journal episode", zap.String("run_id", result.RunID), zap.Error(err))
	}
}

func (c *Controller) revise(ctx context.Context, state *framework.Context, opts Options, result *RunResult) {
	last := result.Episodes[len(result.Episodes)-1]
	logger := c.logger().With(zap.String("run_id", result.RunID))

	world, err := c.Synthesizer.Update(ctx, result.Goal, result.WorldState, last.Transcript)
	if err != nil {
		logger.Warn("keeping previous world state", zap.Error(err))
	}
	result.WorldState = world
	state.Set(keyWorldState, world)

	pwd, ls := c.orient(ctx, state)
	prior := c.Reasoner.Render(Input{
		Goal:        result.Goal,
		Prompt:      opts.OperatingPrompt,
		Constraints: result.Constraints,
		Tips:        result.Tips,
		WorldState:  world,
		PwdOutput:   pwd,
		LsOutput:    ls,
	})
	current := Revision{Constraints: result.Constraints, Tips: result.Tips}
	next, err := c.Reviser.Revise(ctx, result.Goal, world, prior, last.Transcript, current)
	if err != nil {
		logger.Warn("keeping previous constraints and tips", zap.Error(err))
	}
	result.Constraints = next.Constraints
	result.Tips = next.Tips
	logger.Debug("prompt revised", zap.String("constraints", next.Constraints), zap.String("tips", next.Tips))
}

func (c *Controller) recordSuccess(ctx context.Context, opts Options, result *RunResult) error {
	if c.Successes == nil {
		return nil
	}
	err := c.Successes.Append(ctx, persistence.SuccessRecord{
		Goal:                result.Goal,
		InstantiationPrompt: opts.OperatingPrompt,
		Constraints:         result.Constraints,
		Tips:                result.Tips,
	})
	if err != nil {
		return fmt.Errorf("record successful invocation: %w", err)
	}
	return nil
}
