package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codeanalysis/framework"
	"github.com/lexcodex/codeanalysis/knowledge"
)

type fakeGraphStore struct {
	queries []string
	failOn  string
}

func (f *fakeGraphStore) ExecuteQuery(ctx context.Context, query string) ([]byte, error) {
	f.queries = append(f.queries, query)
	if query == f.failOn {
		return nil, errors.New("bad syntax")
	}
	return []byte(`{"results":[{"id":"n"}]}`), nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1}, nil
}

func TestReasoningGraphToolReportsFailedStatement(t *testing.T) {
	graph := &fakeGraphStore{failOn: "CREATE (b:File) RETURN id(b) as id"}
	conn := knowledge.NewConnector(nil, graph, fakeEmbedder{}, nil, nil)
	registry := framework.NewToolRegistry()
	require.NoError(t, registry.Register(&ReasoningGraphTool{Connector: conn}))

	out := Dispatch(context.Background(), registry, framework.NewContext(), GraphQueryCall{Statements: []string{
		"CREATE (a:File) RETURN id(a) as id",
		"CREATE (b:File) RETURN id(b) as id",
		"CREATE (c:File) RETURN id(c) as id",
	}})
	assert.Contains(t, out, "until this one: CREATE (b:File) RETURN id(b) as id")
	assert.Contains(t, out, "Already applied: CREATE (a:File) RETURN id(a) as id")
	assert.NotContains(t, graph.queries, "CREATE (c:File) RETURN id(c) as id")
}

func TestAddKnowledgeToolUploads(t *testing.T) {
	index := knowledge.NewMemoryIndex()
	conn := knowledge.NewConnector(index, nil, nil, nil, nil)
	tool := &AddKnowledgeTool{Connector: conn}

	res, err := tool.Execute(context.Background(), framework.NewContext(), map[string]interface{}{"body": "<entry>flow</entry>"})
	require.NoError(t, err)
	assert.Contains(t, res.Observation(), "Knowledge added with id")
	assert.Equal(t, 1, index.Store.Len())

	_, err = tool.Execute(context.Background(), framework.NewContext(), map[string]interface{}{})
	assert.Error(t, err)
}
