package framework

import "context"

// Task encapsulates the information sent to an agent. The Context provides
// shared runtime state, while Task carries the immutable instruction plus any
// metadata from the caller (job id, source, etc).
type Task struct {
	ID          string
	Instruction string
	Metadata    map[string]string
}

// Result captures the result of a graph or agent execution. Nodes, tools and
// agents all report through the same NodeID/Success/Data triple.
type Result struct {
	NodeID  string
	Success bool
	Data    map[string]any
	Error   error
}

// Agent is the contract shared by the shell-driven and browser-driven loops.
type Agent interface {
	Execute(ctx context.Context, task *Task, state *Context) (*Result, error)
}
