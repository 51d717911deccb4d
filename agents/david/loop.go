package david

import (
	"context"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/internal/parse"
)

// episodeLoop is the think/act graph of a single episode.
type episodeLoop struct {
	controller *Controller
	episode    *Episode
	input      Input
	maxSteps   int
	pending    Decision
}

func (l *episodeLoop) build() (*framework.Graph, error) {
	graph := framework.NewGraph()
	think := &framework.FuncNode{NodeID: "david_think", NodeKind: framework.NodeTypeLLM, Fn: l.think}
	act := &framework.FuncNode{NodeID: "david_act", NodeKind: framework.NodeTypeTool, Fn: l.act}
	done := framework.NewTerminalNode("david_done")
	for _, node := range []framework.Node{think, act, done} {
		if err := graph.AddNode(node); err != nil {
			return nil, err
		}
	}
	if err := graph.SetStart(think.ID()); err != nil {
		return nil, err
	}
	finished := func(_ *framework.Result, state *framework.Context) bool {
		v, _ := state.GetVariable(keyDone)
		return v == true
	}
	running := func(result *framework.Result, state *framework.Context) bool {
		return !finished(result, state)
	}
	edges := []framework.Edge{
		{From: think.ID(), To: act.ID(), Condition: running},
		{From: think.ID(), To: done.ID(), Condition: finished},
		{From: act.ID(), To: think.ID(), Condition: running},
		{From: act.ID(), To: done.ID(), Condition: finished},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e.From, e.To, e.Condition); err != nil {
			return nil, err
		}
	}
	return graph, nil
}

func (l *episodeLoop) think(ctx context.Context, state *framework.Context) (*framework.Result, error) {
	decision, err := l.controller.Reasoner.Decide(ctx, l.input)
	if err != nil {
		return nil, err
	}
	l.episode.Transcript = append(l.episode.Transcript, decision.Raw)
	l.pending = decision
	meta := map[string]interface{}{"episode": l.episode.Index}
	if decision.Action != nil {
		meta["action"] = decision.Action.Name
	}
	state.AddInteraction("assistant", decision.Raw, meta)
	if decision.Action.IsAnswer() {
		l.episode.Answer = decision.Action.Arg(0)
		state.SetVariable(keyDone, true)
	}
	return &framework.Result{Success: true, Data: map[string]interface{}{"response": decision.Raw}}, nil
}

func (l *episodeLoop) act(ctx context.Context, state *framework.Context) (*framework.Result, error) {
	var observation string
	if l.pending.Action == nil {
		observation = InvalidFormat
	} else {
		observation = l.dispatch(ctx, state, l.pending.Action)
	}
	state.AddInteraction("observation", observation, map[string]interface{}{"episode": l.episode.Index})
	l.input.Steps = append(l.input.Steps, Step{Thought: l.pending.Raw, Action: l.pending.Action, Observation: observation})
	l.episode.Transcript = append(l.episode.Transcript, observationLine(observation))
	l.episode.Steps++
	if l.episode.Steps >= l.maxSteps {
		state.SetVariable(keyDone, true)
	}
	return &framework.Result{Success: true, Data: map[string]interface{}{"observation": observation}}, nil
}

func (l *episodeLoop) dispatch(ctx context.Context, state *framework.Context, action *parse.Action) string {
	d := l.controller.Dispatcher
	if d == nil {
		return "Error: no tools configured"
	}
	return d.DispatchAction(ctx, state, action)
}
