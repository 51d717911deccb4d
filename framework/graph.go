package framework

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// NodeType enumerates supported node categories.
type NodeType string

const (
	NodeTypeLLM         NodeType = "llm"
	NodeTypeTool        NodeType = "tool"
	NodeTypeTerminal    NodeType = "terminal"
	NodeTypeSystem      NodeType = "system"
	NodeTypeObservation NodeType = "observation"
)

// Node describes the unit of work executed inside a graph.
type Node interface {
	ID() string
	Type() NodeType
	Execute(ctx context.Context, state *Context) (*Result, error)
}

// ConditionFunc determines whether an edge should be followed.
type ConditionFunc func(result *Result, state *Context) bool

// Edge describes a transition between nodes.
type Edge struct {
	From      string
	To        string
	Condition ConditionFunc
}

// Graph orchestrates a workflow of nodes. It behaves like a small,
// deterministic state machine: nodes are registered ahead of time, edges
// describe transitions, and Execute walks the graph while recording telemetry
// and enforcing a per-node visit bound so a cycle cannot run forever.
type Graph struct {
	mu            sync.RWMutex
	nodes         map[string]Node
	edges         map[string][]Edge
	startNodeID   string
	maxNodeVisits int
	telemetry     Telemetry
	execMu        sync.Mutex
	visitCounts   map[string]int
	executionPath []string
}

// ErrVisitLimit is returned when a node exceeds the configured visit bound.
var ErrVisitLimit = errors.New("node visit limit reached")

// NewGraph creates a graph with sane defaults.
func NewGraph() *Graph {
	return &Graph{
		nodes:         make(map[string]Node),
		edges:         make(map[string][]Edge),
		maxNodeVisits: 1024,
		visitCounts:   make(map[string]int),
		executionPath: make([]string, 0),
	}
}

// SetMaxNodeVisits bounds how many times any single node may run.
func (g *Graph) SetMaxNodeVisits(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n > 0 {
		g.maxNodeVisits = n
	}
}

// SetTelemetry wires a telemetry sink for execution traces.
func (g *Graph) SetTelemetry(t Telemetry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.telemetry = t
}

func (g *Graph) emit(event Event) {
	if g.telemetry == nil {
		return
	}
	g.telemetry.Emit(event)
}

func (g *Graph) extractTaskID(state *Context) string {
	if state == nil {
		return ""
	}
	return state.GetString("task.id")
}

// SetStart marks the starting node.
func (g *Graph) SetStart(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("start node %s not found", id)
	}
	g.startNodeID = id
	return nil
}

// AddNode registers a node.
func (g *Graph) AddNode(node Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[node.ID()]; exists {
		return fmt.Errorf("node %s already exists", node.ID())
	}
	g.nodes[node.ID()] = node
	return nil
}

// AddEdge wires two nodes together.
func (g *Graph) AddEdge(from, to string, condition ConditionFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("node %s not defined", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("node %s not defined", to)
	}
	g.edges[from] = append(g.edges[from], Edge{From: from, To: to, Condition: condition})
	return nil
}

// ExecutionPath returns the node ids visited by the last Execute call.
func (g *Graph) ExecutionPath() []string {
	g.execMu.Lock()
	defer g.execMu.Unlock()
	return append([]string(nil), g.executionPath...)
}

// Execute runs the graph from its start node.
func (g *Graph) Execute(ctx context.Context, state *Context) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.execMu.Lock()
	defer g.execMu.Unlock()
	g.mu.RLock()
	defer g.mu.RUnlock()

	taskID := g.extractTaskID(state)
	g.emit(Event{Type: EventGraphStart, TaskID: taskID, Timestamp: time.Now().UTC()})
	g.visitCounts = make(map[string]int)
	g.executionPath = make([]string, 0)

	result, err := g.run(ctx, state, taskID)
	status := "success"
	if err != nil {
		status = "error"
	}
	g.emit(Event{
		Type:      EventGraphFinish,
		TaskID:    taskID,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]interface{}{"status": status},
	})
	return result, err
}

func (g *Graph) run(ctx context.Context, state *Context, taskID string) (*Result, error) {
	current := g.startNodeID
	var lastResult *Result
	for current != "" {
		select {
		case <-ctx.Done():
			return lastResult, ctx.Err()
		default:
		}
		node, ok := g.nodes[current]
		if !ok {
			return lastResult, fmt.Errorf("node %s missing", current)
		}
		g.visitCounts[current]++
		if g.visitCounts[current] > g.maxNodeVisits {
			return lastResult, fmt.Errorf("%w at node %s", ErrVisitLimit, current)
		}
		g.executionPath = append(g.executionPath, current)
		g.emit(Event{Type: EventNodeStart, NodeID: current, TaskID: taskID, Timestamp: time.Now().UTC()})
		result, err := node.Execute(ctx, state)
		if err != nil {
			err = fmt.Errorf("node %s execution failed: %w", current, err)
			g.emit(Event{
				Type:      EventNodeError,
				NodeID:    current,
				TaskID:    taskID,
				Timestamp: time.Now().UTC(),
				Message:   err.Error(),
			})
			return lastResult, err
		}
		if result == nil {
			result = &Result{Success: true, Data: map[string]interface{}{}}
		}
		result.NodeID = current
		lastResult = result
		g.emit(Event{
			Type:      EventNodeFinish,
			NodeID:    current,
			TaskID:    taskID,
			Timestamp: time.Now().UTC(),
			Metadata:  map[string]interface{}{"success": result.Success},
		})
		next, err := g.nextNode(state, node, result)
		if err != nil {
			return lastResult, err
		}
		current = next
	}
	return lastResult, nil
}

// nextNode evaluates the outgoing edges of a node. Exactly one edge may match;
// none ends the walk.
func (g *Graph) nextNode(state *Context, node Node, result *Result) (string, error) {
	outEdges := g.edges[node.ID()]
	if len(outEdges) == 0 || node.Type() == NodeTypeTerminal {
		return "", nil
	}
	var matched []Edge
	for _, edge := range outEdges {
		if edge.Condition != nil && !edge.Condition(result, state) {
			continue
		}
		matched = append(matched, edge)
	}
	if len(matched) == 0 {
		return "", nil
	}
	if len(matched) > 1 {
		return "", fmt.Errorf("ambiguous transitions from %s", node.ID())
	}
	return matched[0].To, nil
}

// Validate ensures all references exist and a start node is set.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.nodes) == 0 {
		return errors.New("graph has no nodes")
	}
	if g.startNodeID == "" {
		return errors.New("graph has no start node")
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edge references missing node %s", from)
		}
		for _, edge := range edges {
			if _, ok := g.nodes[edge.To]; !ok {
				return fmt.Errorf("edge references missing node %s", edge.To)
			}
		}
	}
	return nil
}

// LLMOptions configures language model calls. Keeping the options struct
// inside the framework avoids provider specific fields in agent code.
type LLMOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
	TopP        float64
}

// LLMResponse is the result of a language model invocation.
type LLMResponse struct {
	Text         string         `json:"text,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// Message is used for chat-like interactions. Images holds base64 encoded
// PNG data for vision capable models.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Name    string   `json:"name,omitempty"`
	Images  []string `json:"images,omitempty"`
}

// LanguageModel provides the required LLM capabilities. Actions are parsed
// from plain text, so providers expose completion and chat only.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, options *LLMOptions) (*LLMResponse, error)
	Chat(ctx context.Context, messages []Message, options *LLMOptions) (*LLMResponse, error)
}

// TerminalNode marks the end of the workflow.
type TerminalNode struct {
	id string
}

// NewTerminalNode creates a terminal node.
func NewTerminalNode(id string) *TerminalNode {
	return &TerminalNode{id: id}
}

// ID implements Node.
func (n *TerminalNode) ID() string { return n.id }

// Type implements Node.
func (n *TerminalNode) Type() NodeType { return NodeTypeTerminal }

// Execute completes immediately.
func (n *TerminalNode) Execute(ctx context.Context, state *Context) (*Result, error) {
	return &Result{NodeID: n.id, Success: true}, nil
}

// FuncNode adapts a plain function into a Node.
type FuncNode struct {
	NodeID   string
	NodeKind NodeType
	Fn       func(ctx context.Context, state *Context) (*Result, error)
}

// ID implements Node.
func (n *FuncNode) ID() string { return n.NodeID }

// Type implements Node.
func (n *FuncNode) Type() NodeType {
	if n.NodeKind == "" {
		return NodeTypeSystem
	}
	return n.NodeKind
}

// Execute calls the wrapped function.
func (n *FuncNode) Execute(ctx context.Context, state *Context) (*Result, error) {
	if n.Fn == nil {
		return &Result{NodeID: n.NodeID, Success: true}, nil
	}
	return n.Fn(ctx, state)
}
