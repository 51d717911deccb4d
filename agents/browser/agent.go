package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/internal/parse"
)

// DefaultMaxSteps bounds the decisions of one run.
const DefaultMaxSteps = 150

// ErrDecisionBudget marks the node result when no decisions remain.
var ErrDecisionBudget = errors.New("decision budget spent")

const (
	keyRoute = "browser.route"

	routeAct       = "act"
	routeRetry     = "retry"
	routeAnswer    = "answer"
	routeExhausted = "exhausted"
)

// Result is the outcome of a browsing run.
type Result struct {
	Answer    string
	// Steps counts executed browser actions.
	Steps     int
	Decisions int
	// Exhausted is set when the decision budget ran out before an answer.
	Exhausted bool
	URL       string
}

// Agent answers a question by browsing.
type Agent struct {
	Driver    Driver
	Model     framework.LanguageModel
	Tools     *framework.ToolRegistry
	MaxSteps  int
	StartURL  string
	Sleep     func(context.Context, time.Duration) error
	Telemetry framework.Telemetry
	Metrics   *framework.Metrics
	Logger    *zap.Logger
}

// NewAgent wires the six browser actions over driver.
func NewAgent(driver Driver, model framework.LanguageModel, logger *zap.Logger) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry, err := NewToolRegistry(driver, nil)
	if err != nil {
		return nil, err
	}
	return &Agent{
		Driver:   driver,
		Model:    model,
		Tools:    registry,
		MaxSteps: DefaultMaxSteps,
		StartURL: GoogleURL,
		Logger:   logger.With(zap.String("component", "browser")),
	}, nil
}

type runLoop struct {
	agent     *Agent
	question  string
	annotator *Annotator
	page      *Page
	pad       Scratchpad
	pending   *parse.Action
	result    *Result
	maxSteps  int
	logger    *zap.Logger
}

// Run opens the start page and loops until the model answers or the
// decision budget is spent. Exhaustion is reported in the result, not as an
// error.
func (a *Agent) Run(ctx context.Context, question string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("question required")
	}
	if a.Driver == nil || a.Model == nil {
		return nil, errors.New("browser agent needs a driver and a model")
	}
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxSteps := a.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	start := a.StartURL
	if start == "" {
		start = GoogleURL
	}
	if err := a.Driver.Navigate(ctx, start); err != nil {
		return nil, fmt.Errorf("open %s: %w", start, err)
	}

	loop := &runLoop{
		agent:     a,
		question:  question,
		annotator: &Annotator{Driver: a.Driver, Sleep: a.Sleep, Logger: logger},
		result:    &Result{},
		maxSteps:  maxSteps,
		logger:    logger,
	}
	graph, err := loop.build()
	if err != nil {
		return nil, err
	}
	graph.SetTelemetry(a.Telemetry)
	graph.SetMaxNodeVisits(maxSteps + 2)

	state := framework.NewContext()
	state.Set("task.id", uuid.NewString())
	if _, err := graph.Execute(ctx, state); err != nil {
		return loop.result, err
	}
	if url, err := a.Driver.URL(ctx); err == nil {
		loop.result.URL = url
	}
	logger.Info("browsing finished",
		zap.Int("steps", loop.result.Steps),
		zap.Bool("exhausted", loop.result.Exhausted))
	return loop.result, nil
}

func (l *runLoop) build() (*framework.Graph, error) {
	graph := framework.NewGraph()
	annotate := &framework.FuncNode{NodeID: "browser_annotate", NodeKind: framework.NodeTypeObservation, Fn: l.annotate}
	decide := &framework.FuncNode{NodeID: "browser_decide", NodeKind: framework.NodeTypeLLM, Fn: l.decide}
	act := &framework.FuncNode{NodeID: "browser_act", NodeKind: framework.NodeTypeTool, Fn: l.act}
	done := framework.NewTerminalNode("browser_done")
	for _, node := range []framework.Node{annotate, decide, act, done} {
		if err := graph.AddNode(node); err != nil {
			return nil, err
		}
	}
	if err := graph.SetStart(annotate.ID()); err != nil {
		return nil, err
	}
	routeIs := func(routes ...string) framework.ConditionFunc {
		return func(_ *framework.Result, state *framework.Context) bool {
			current := state.GetString(keyRoute)
			for _, r := range routes {
				if current == r {
					return true
				}
			}
			return false
		}
	}
	edges := []framework.Edge{
		{From: annotate.ID(), To: decide.ID()},
		{From: decide.ID(), To: act.ID(), Condition: routeIs(routeAct)},
		{From: decide.ID(), To: annotate.ID(), Condition: routeIs(routeRetry)},
		{From: decide.ID(), To: done.ID(), Condition: routeIs(routeAnswer, routeExhausted)},
		{From: act.ID(), To: annotate.ID()},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e.From, e.To, e.Condition); err != nil {
			return nil, err
		}
	}
	return graph, nil
}

func (l *runLoop) annotate(ctx context.Context, state *framework.Context) (*framework.Result, error) {
	page, err := l.annotator.Annotate(ctx)
	if err != nil {
		return nil, err
	}
	l.page = page
	state.Set(BBoxesKey, page.BBoxes)
	return &framework.Result{Success: true, Data: map[string]interface{}{"bboxes": len(page.BBoxes)}}, nil
}

func (l *runLoop) decide(ctx context.Context, state *framework.Context) (*framework.Result, error) {
	if l.result.Decisions >= l.maxSteps {
		l.result.Exhausted = true
		state.Set(keyRoute, routeExhausted)
		return &framework.Result{Success: false, Error: ErrDecisionBudget}, nil
	}
	l.result.Decisions++
	resp, err := l.agent.Model.Chat(ctx, buildMessages(l.question, l.page, &l.pad), &framework.LLMOptions{Temperature: 0})
	if err != nil {
		return nil, fmt.Errorf("decide browser action: %w", err)
	}
	action := parse.ParseAction(resp.Text)
	switch {
	case action.IsAnswer():
		l.result.Answer = action.Arg(0)
		state.Set(keyRoute, routeAnswer)
	case action == nil || action.Name == parse.RetryAction:
		l.logger.Debug("retrying decision", zap.String("response", resp.Text))
		state.Set(keyRoute, routeRetry)
	default:
		l.pending = action
		state.Set(keyRoute, routeAct)
	}
	return &framework.Result{Success: true, Data: map[string]interface{}{"response": resp.Text}}, nil
}

func (l *runLoop) act(ctx context.Context, state *framework.Context) (*framework.Result, error) {
	name := l.pending.Name
	observation := l.execute(ctx, state, l.pending)
	l.pad.Add(observation)
	l.result.Steps++
	l.agent.Metrics.ObserveTool(name, !strings.HasPrefix(observation, "Error:"))
	framework.EmitTo(l.agent.Telemetry, framework.Event{
		Type:     framework.EventToolResult,
		Message:  name,
		Metadata: map[string]interface{}{"tool": name, "observation": observation},
	})
	return &framework.Result{Success: true, Data: map[string]interface{}{"observation": observation}}, nil
}

func (l *runLoop) execute(ctx context.Context, state *framework.Context, action *parse.Action) string {
	tool, ok := l.agent.Tools.Get(action.Name)
	if !ok {
		return fmt.Sprintf("%s is not a valid action, try one of [%s].", action.Name, strings.Join(l.agent.Tools.Names(), ", "))
	}
	result, err := tool.Execute(ctx, state, map[string]interface{}{"args": action.Args})
	if err != nil {
		l.logger.Warn("browser action failed", zap.String("action", action.Name), zap.Error(err))
		return "Error: " + err.Error()
	}
	return result.Observation()
}
