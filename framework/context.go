// Package framework hosts the data structures shared by every agent, tool and
// orchestration primitive: the run blackboard (Context), the graph runtime,
// the tool registry, command execution, telemetry and operator dialogs.
package framework

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxHistory bounds the step history of one run.
const DefaultMaxHistory = 500

// Interaction is one recorded model response or tool observation.
type Interaction struct {
	ID        int                    `json:"id"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Context is the blackboard shared by the nodes of one run. State lives for
// the whole run (working directory, world state). Variables belong to the
// current episode and are dropped by ResetVariables. The phase mirrors the
// controller state and the history records every step taken.
//
// One Context is created per run, so concurrent runs never share the tracked
// working directory or the world-state string.
type Context struct {
	mu         sync.RWMutex
	state      map[string]interface{}
	variables  map[string]interface{}
	history    []Interaction
	nextID     int
	phase      string
	maxHistory int
}

// NewContext builds an empty run context.
func NewContext() *Context {
	return &Context{
		state:      make(map[string]interface{}),
		variables:  make(map[string]interface{}),
		phase:      "init",
		maxHistory: DefaultMaxHistory,
	}
}

// SetExecutionPhase stores the current controller state.
func (c *Context) SetExecutionPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
}

func (c *Context) ExecutionPhase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Get retrieves a value from the run state.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

// GetString retrieves a run state value as a string.
func (c *Context) GetString(key string) string {
	value, _ := c.Get(key)
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Set stores a value in the run state.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

func (c *Context) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, key)
}

// GetVariable returns an episode-scoped variable.
func (c *Context) GetVariable(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[key]
	return v, ok
}

// SetVariable stores an episode-scoped variable.
func (c *Context) SetVariable(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

// ResetVariables drops every episode-scoped variable. Run state and history
// are kept.
func (c *Context) ResetVariables() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables = make(map[string]interface{})
}

// AddInteraction appends a step to the history.
func (c *Context) AddInteraction(role, content string, metadata map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, Interaction{
		ID:        c.nextID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	})
	c.nextID++
	if c.maxHistory > 0 && len(c.history) > c.maxHistory {
		// the first entry is kept
		start := len(c.history) - c.maxHistory + 1
		c.history = append(c.history[:1], c.history[start:]...)
	}
}

// History returns a copy of the recorded steps.
func (c *Context) History() []Interaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Interaction(nil), c.history...)
}

// ContextSnapshot is the serialized form written to the episode journal.
type ContextSnapshot struct {
	Phase     string                 `json:"phase"`
	State     map[string]interface{} `json:"state"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	History   []Interaction          `json:"history,omitempty"`
}

// Snapshot copies the context. Map values are shared, not deep copied.
func (c *Context) Snapshot() *ContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := func(src map[string]interface{}) map[string]interface{} {
		dst := make(map[string]interface{}, len(src))
		for k, v := range src {
			dst[k] = v
		}
		return dst
	}
	return &ContextSnapshot{
		Phase:     c.phase,
		State:     cp(c.state),
		Variables: cp(c.variables),
		History:   append([]Interaction(nil), c.history...),
	}
}

func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}
