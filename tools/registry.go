package tools

import (
	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/knowledge"
)

// RegistryOptions selects the collaborators behind the advertised tools.
type RegistryOptions struct {
	Executor    *ShellExecutor
	Workdir     string
	Writer      *FileWriter
	Connector   *knowledge.Connector
	EnableGraph bool
}

// NewRegistry registers Bash, FileWriter and AddKnowledge, plus the graph
// tools when the graph is enabled and configured.
func NewRegistry(opts RegistryOptions) (*framework.ToolRegistry, error) {
	registry := framework.NewToolRegistry()
	toolset := []framework.Tool{
		&BashTool{Executor: opts.Executor, DefaultDir: opts.Workdir},
		&FileWriterTool{Writer: opts.Writer},
	}
	if opts.Connector != nil {
		toolset = append(toolset, &AddKnowledgeTool{Connector: opts.Connector})
		if opts.EnableGraph && opts.Connector.GraphEnabled() {
			toolset = append(toolset,
				&ChatWithGraphTool{Connector: opts.Connector},
				&ReasoningGraphTool{Connector: opts.Connector},
			)
		}
	}
	for _, tool := range toolset {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
