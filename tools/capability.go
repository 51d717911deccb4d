package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/internal/parse"
)

var tracer = otel.Tracer("codeanalysis.tools")

// ErrUnknownTool is returned by Decode for a name outside the capability set.
var ErrUnknownTool = errors.New("unknown tool")

// Call is one decoded capability invocation. The set of variants is closed.
type Call interface {
	ToolName() string
	args() map[string]interface{}
}

// ShellCall runs a command chain through the Bash tool.
type ShellCall struct{ Command string }

// WriteFileCall writes a "path|content" spec.
type WriteFileCall struct{ Spec string }

// UploadDocumentCall adds free text to the knowledge index.
type UploadDocumentCall struct{ Body string }

// GraphQueryCall executes openCypher statements in order.
type GraphQueryCall struct{ Statements []string }

// GraphChatCall asks the knowledge graph a question.
type GraphChatCall struct{ Question string }

func (ShellCall) ToolName() string          { return "Bash" }
func (WriteFileCall) ToolName() string      { return "FileWriter" }
func (UploadDocumentCall) ToolName() string { return "AddKnowledge" }
func (GraphQueryCall) ToolName() string     { return "ReasoningGraph" }
func (GraphChatCall) ToolName() string      { return "ChatWithGraph" }

func (c ShellCall) args() map[string]interface{} { return map[string]interface{}{"command": c.Command} }
func (c WriteFileCall) args() map[string]interface{} {
	return map[string]interface{}{"spec": c.Spec}
}
func (c UploadDocumentCall) args() map[string]interface{} {
	return map[string]interface{}{"body": c.Body}
}
func (c GraphQueryCall) args() map[string]interface{} {
	return map[string]interface{}{"statements": c.Statements}
}
func (c GraphChatCall) args() map[string]interface{} {
	return map[string]interface{}{"question": c.Question}
}

// Decode maps a parsed action onto its capability variant. Single-string
// tools take the raw argument block so semicolons inside commands and file
// contents survive.
func Decode(action *parse.Action) (Call, error) {
	if action == nil {
		return nil, errors.New("no action")
	}
	raw := unwrap(action.Raw)
	switch action.Name {
	case "Bash":
		if raw == "" {
			return nil, errors.New("Bash requires a command")
		}
		return ShellCall{Command: raw}, nil
	case "FileWriter":
		return WriteFileCall{Spec: raw}, nil
	case "AddKnowledge":
		return UploadDocumentCall{Body: raw}, nil
	case "ReasoningGraph":
		return GraphQueryCall{Statements: parse.SplitStatements(raw)}, nil
	case "ChatWithGraph":
		return GraphChatCall{Question: raw}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, action.Name)
}

// unwrap drops one pair of enclosing brackets, which models often add
// around a single argument.
func unwrap(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		return strings.TrimSpace(raw[1 : len(raw)-1])
	}
	return raw
}

// Dispatcher executes calls against a registry and reports every outcome,
// including failures, as observation text.
type Dispatcher struct {
	Registry  *framework.ToolRegistry
	Metrics   *framework.Metrics
	Telemetry framework.Telemetry
	Logger    *zap.Logger
}

// Dispatch runs call with a bare dispatcher over registry.
func Dispatch(ctx context.Context, registry *framework.ToolRegistry, state *framework.Context, call Call) string {
	d := &Dispatcher{Registry: registry}
	return d.Dispatch(ctx, state, call)
}

// DispatchAction decodes action and dispatches it. Unknown names produce
// the list of valid tools.
func (d *Dispatcher) DispatchAction(ctx context.Context, state *framework.Context, action *parse.Action) string {
	call, err := Decode(action)
	if errors.Is(err, ErrUnknownTool) {
		d.Metrics.ObserveTool(action.Name, false)
		return d.invalidTool(action.Name)
	}
	if err != nil {
		return "Error: " + err.Error()
	}
	return d.Dispatch(ctx, state, call)
}

// Dispatch executes call and returns its observation.
func (d *Dispatcher) Dispatch(ctx context.Context, state *framework.Context, call Call) string {
	name := call.ToolName()
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if d.Registry == nil {
		return d.invalidTool(name)
	}
	tool, ok := d.Registry.Get(name)
	if !ok {
		d.Metrics.ObserveTool(name, false)
		return d.invalidTool(name)
	}
	if !tool.IsAvailable(ctx, state) {
		d.Metrics.ObserveTool(name, false)
		return fmt.Sprintf("%s is not available right now.", name)
	}

	ctx, span := tracer.Start(ctx, "tool.dispatch", trace.WithAttributes(attribute.String("tool", name)))
	defer span.End()
	framework.EmitTo(d.Telemetry, framework.Event{
		Type:     framework.EventToolCall,
		Message:  name,
		Metadata: map[string]interface{}{"tool": name},
	})

	result, err := tool.Execute(ctx, state, call.args())
	success := err == nil && result != nil && result.Success
	var observation string
	switch {
	case err != nil:
		observation = "Error: " + err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
	case result == nil:
		observation = ""
	default:
		observation = result.Observation()
		if !result.Success {
			span.SetStatus(codes.Error, result.Error)
		}
	}
	if success {
		span.SetStatus(codes.Ok, "")
	}
	d.Metrics.ObserveTool(name, success)
	framework.EmitTo(d.Telemetry, framework.Event{
		Type:     framework.EventToolResult,
		Message:  name,
		Metadata: map[string]interface{}{"tool": name, "success": success},
	})
	return observation
}

func (d *Dispatcher) invalidTool(name string) string {
	var names []string
	if d.Registry != nil {
		names = d.Registry.Names()
	}
	return fmt.Sprintf("%s is not a valid tool, try one of [%s].", name, strings.Join(names, ", "))
}
