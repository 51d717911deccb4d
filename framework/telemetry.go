package framework

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventGraphStart   EventType = "graph_start"
	EventGraphFinish  EventType = "graph_finish"
	EventNodeStart    EventType = "node_start"
	EventNodeFinish   EventType = "node_finish"
	EventNodeError    EventType = "node_error"
	EventAgentStart   EventType = "agent_start"
	EventAgentFinish  EventType = "agent_finish"
	EventLLMPrompt    EventType = "llm_prompt"
	EventLLMResponse  EventType = "llm_response"
	EventToolCall     EventType = "tool_call"
	EventToolResult   EventType = "tool_result"
	EventStateChange  EventType = "state_change"
	EventEpisodeStart EventType = "episode_start"
	EventEpisodeEnd   EventType = "episode_end"
	EventDialog       EventType = "dialog"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	NodeID    string                 `json:"node_id,omitempty"`
	TaskID    string                 `json:"task_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry captures execution traces emitted by the graph runtime, the
// episode controller and tool dispatch.
type Telemetry interface {
	Emit(event Event)
}

// EmitTo sends the event when a sink is configured, stamping the time.
func EmitTo(t Telemetry, event Event) {
	if t == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	t.Emit(event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		if s != nil {
			s.Emit(event)
		}
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file so
// external tools can tail the stream.
type JSONFileTelemetry struct {
	path string
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the log file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{
		path: path,
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// ZapTelemetry emits events through a zap logger. Every node transition and
// tool call becomes a debug line without extra tooling.
type ZapTelemetry struct {
	Logger *zap.Logger
}

// Emit logs the event.
func (t ZapTelemetry) Emit(event Event) {
	logger := t.Logger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("node", event.NodeID),
		zap.String("task", event.TaskID),
	}
	if event.Message != "" {
		fields = append(fields, zap.String("msg", event.Message))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("meta", event.Metadata))
	}
	if event.Type == EventNodeError {
		logger.Warn("telemetry", fields...)
		return
	}
	logger.Debug("telemetry", fields...)
}
