package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/internal/parse"
	"github.com/lexcodex/codeanalysis/knowledge"
)

const addKnowledgeDescription = "Add detailed information about code and data flow to the knowledge index. " +
	"Use this XML format:<entry><file_name>application/component/data-flow.txt</file_name>" +
	"<content>Answer to 'How does data flow through X application?' Include key components, data transformations, " +
	"and relevant code snippets or architecture diagrams.</content></entry>" +
	"Example: <entry><file_name>e-commerce/order-processing/data-flow.txt</file_name><content>Data flow in the order " +
	"processing system: 1) User submits order via REST API. 2) OrderService validates and persists order in database. " +
	"3) KafkaProducer sends order to 'new-orders' topic. 4) InventoryService consumes message, updates stock. " +
	"5) ShippingService prepares shipment. Key components: API Gateway, OrderService, KafkaProducer, InventoryService, " +
	"ShippingService. Source: https://github.com/example/e-commerce-app</content></entry>"

const reasoningGraphDescription = `Input should be OpenCypher commands/queries divided by ;. You can query, update, or add data to this Neptune graph. For example you can add a new node, get a node's neighbors, or link nodes together.
Whenever you create a new node or nodes, make sure to also return their ids in the same command, i.e.
<example>
CREATE (Processor:File {name: 'MessageProcessor', path: 'lambda/MessageProcessor.py'}) RETURN id(Processor) as id;
CREATE (TSConfig:File {name: 'tsconfig.json', path: 'tsconfig.json'}) RETURN id(TSConfig) as id;
</example>
You must write ONE COMMAND per CREATE.`

const chatWithGraphDescription = "Chat with the information currently in the reasoning graph to get an answer. Input should be a question."

// AddKnowledgeTool uploads free text to the knowledge index.
type AddKnowledgeTool struct {
	Connector *knowledge.Connector
}

func (t *AddKnowledgeTool) Name() string        { return "AddKnowledge" }
func (t *AddKnowledgeTool) Description() string { return addKnowledgeDescription }
func (t *AddKnowledgeTool) Category() string    { return "knowledge" }
func (t *AddKnowledgeTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{{Name: "body", Type: "string", Required: true}}
}
func (t *AddKnowledgeTool) IsAvailable(ctx context.Context, state *framework.Context) bool {
	return t.Connector != nil && t.Connector.Index != nil
}
func (t *AddKnowledgeTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	body := stringArg(args, "body")
	if body == "" {
		return nil, errors.New("knowledge body required")
	}
	id, err := t.Connector.Upload(ctx, "", []byte(body), "")
	if err != nil {
		return nil, err
	}
	return &framework.ToolResult{
		Success: true,
		Data: map[string]interface{}{
			"observation": fmt.Sprintf("Knowledge added with id %s.", id),
			"id":          id,
		},
	}, nil
}

// ReasoningGraphTool executes a batch of openCypher statements.
type ReasoningGraphTool struct {
	Connector *knowledge.Connector
}

func (t *ReasoningGraphTool) Name() string        { return "ReasoningGraph" }
func (t *ReasoningGraphTool) Description() string { return reasoningGraphDescription }
func (t *ReasoningGraphTool) Category() string    { return "knowledge" }
func (t *ReasoningGraphTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{{Name: "statements", Type: "[]string", Required: true}}
}
func (t *ReasoningGraphTool) IsAvailable(ctx context.Context, state *framework.Context) bool {
	return t.Connector.GraphEnabled()
}

// Execute returns the batch outcome as the observation. A failed statement
// is not a tool error: its report tells the model where to resume.
func (t *ReasoningGraphTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	statements := statementsArg(args)
	out, err := t.Connector.QueryGraph(ctx, statements)
	var stmtErr *knowledge.StatementError
	if errors.As(err, &stmtErr) {
		return &framework.ToolResult{
			Success: false,
			Error:   stmtErr.Error(),
			Data:    map[string]interface{}{"observation": stmtErr.Error()},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &framework.ToolResult{Success: true, Data: map[string]interface{}{"observation": out}}, nil
}

func statementsArg(args map[string]interface{}) []string {
	switch v := args["statements"].(type) {
	case []string:
		return v
	case string:
		return parse.SplitStatements(v)
	}
	return nil
}

// ChatWithGraphTool answers a question from the nearest graph nodes.
type ChatWithGraphTool struct {
	Connector *knowledge.Connector
}

func (t *ChatWithGraphTool) Name() string        { return "ChatWithGraph" }
func (t *ChatWithGraphTool) Description() string { return chatWithGraphDescription }
func (t *ChatWithGraphTool) Category() string    { return "knowledge" }
func (t *ChatWithGraphTool) Parameters() []framework.ToolParameter {
	return []framework.ToolParameter{{Name: "question", Type: "string", Required: true}}
}
func (t *ChatWithGraphTool) IsAvailable(ctx context.Context, state *framework.Context) bool {
	return t.Connector.GraphEnabled() && t.Connector.Model != nil
}
func (t *ChatWithGraphTool) Execute(ctx context.Context, state *framework.Context, args map[string]interface{}) (*framework.ToolResult, error) {
	answer, err := t.Connector.ChatGraph(ctx, stringArg(args, "question"))
	if err != nil {
		return nil, err
	}
	return &framework.ToolResult{Success: true, Data: map[string]interface{}{"observation": answer}}, nil
}
